// Package session ties one broadcast to its effect scheduler, battle router,
// event bus and rate limiter. Each live broadcast owns exactly one Session;
// nothing is shared across broadcasts.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/roastlive/roastlive/internal/battle"
	"github.com/roastlive/roastlive/internal/catalog"
	"github.com/roastlive/roastlive/internal/effects"
	"github.com/roastlive/roastlive/internal/events"
)

// Result is the outcome of one gift submission.
type Result struct {
	Admitted    bool
	Behavior    catalog.Behavior // set when a battle behavior handled the gift
	RateLimited bool
}

// Session is the per-broadcast engine instance.
type Session struct {
	ID        string
	Scheduler *effects.Scheduler
	Router    *battle.Router
	Bus       *events.Bus
	Ducking   *effects.DuckingController

	catalog   *catalog.Catalog
	limiter   *GiftRateLimiter
	logger    *slog.Logger
	createdAt time.Time
}

// SubmitGift is the single entry point for a confirmed gift purchase:
// rate limit → battle route → tier classify → scheduler admission.
func (s *Session) SubmitGift(ctx context.Context, giftID, senderID, receiverTeam string, amountSEK int64) (Result, error) {
	if !s.limiter.Allow(senderID) {
		s.logger.Debug("gift rate limited", "session", s.ID, "sender", senderID, "gift", giftID)
		return Result{RateLimited: true}, nil
	}

	dec, err := s.Router.RouteGift(ctx, giftID, senderID, receiverTeam, amountSEK)
	if err != nil {
		return Result{}, err
	}
	if dec.Behavior != "" {
		return Result{Admitted: true, Behavior: dec.Behavior}, nil
	}

	gift, known := s.catalog.Lookup(giftID)
	if known && gift.BattleOnly && s.Router.Context() == nil {
		s.logger.Info("battle-only gift outside battle, dropped", "session", s.ID, "gift", giftID)
		return Result{}, nil
	}

	tier := s.catalog.Classify(giftID)
	admitted := s.Scheduler.Play(ctx, giftID, tier, gift.SoundProfile)
	return Result{Admitted: admitted}, nil
}

// SetBattleContext forwards to the router. Called by the battle lifecycle
// collaborator on match start and end.
func (s *Session) SetBattleContext(c *battle.Context) {
	s.Router.SetContext(c)
}

// CreatedAt returns when the session was opened.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Close tears the session down: behavior timers cancelled, effects stopped,
// ducking restored, subscribers detached.
func (s *Session) Close() {
	s.Router.Close()
	s.Scheduler.StopAll()
	s.Bus.Close()
	s.logger.Info("session closed", "session", s.ID)
}
