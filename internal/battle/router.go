// Package battle intercepts gift routing while a broadcast is part of a team
// battle. Specific gift ids map to override behaviors (silence, spotlight,
// final blow) that drive the effect scheduler and the overlay event bus
// instead of the default tiered flow.
package battle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roastlive/roastlive/internal/catalog"
	"github.com/roastlive/roastlive/internal/effects"
	"github.com/roastlive/roastlive/internal/events"
)

// Context describes the battle the broadcast currently participates in. Owned
// and replaced by the battle lifecycle collaborator; nil while no match runs.
type Context struct {
	MatchID      string
	SelfTeam     string
	OpponentTeam string
}

// Lifecycle is the external battle collaborator notified when a final blow
// ends the match.
type Lifecycle interface {
	NotifyBattleEnded(matchID string)
}

// GiftRecorder persists battle-scoped gift transactions. Best-effort: the
// router logs failures and moves on, the purchase was confirmed upstream.
type GiftRecorder interface {
	Record(ctx context.Context, matchID, senderID, receiverTeam, giftID string, amountSEK int64) error
}

// Decision is the routing outcome. Behavior is empty when the default tiered
// flow should handle the gift.
type Decision struct {
	Allowed  bool
	Behavior catalog.Behavior
}

// Router maps gifts to battle behaviors and drives them to completion. All
// context mutations and behavior timers serialize on one lock.
type Router struct {
	mu        sync.Mutex
	logger    *slog.Logger
	catalog   *catalog.Catalog
	scheduler *effects.Scheduler
	bus       *events.Bus
	recorder  GiftRecorder
	lifecycle Lifecycle
	tasks     effects.TaskScheduler

	ctx       *Context
	pending   map[int]effects.Task
	nextTask  int
	finalBlow bool
	closed    bool
}

func NewRouter(cat *catalog.Catalog, sched *effects.Scheduler, bus *events.Bus, recorder GiftRecorder, lifecycle Lifecycle, tasks effects.TaskScheduler, logger *slog.Logger) *Router {
	return &Router{
		logger:    logger,
		catalog:   cat,
		scheduler: sched,
		bus:       bus,
		recorder:  recorder,
		lifecycle: lifecycle,
		tasks:     tasks,
		pending:   make(map[int]effects.Task),
	}
}

// SetContext replaces the battle context. Pending behavior timers from the
// previous match are cancelled so they cannot fire against the new one.
func (r *Router) SetContext(c *Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelPendingLocked()
	r.ctx = c
	r.finalBlow = false
	if c != nil {
		r.logger.Info("battle context set",
			"match", c.MatchID, "self", c.SelfTeam, "opponent", c.OpponentTeam)
	} else {
		r.logger.Info("battle context cleared")
	}
}

// Context returns the current battle context, nil when no match is active.
func (r *Router) Context() *Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctx
}

// RouteGift decides whether a gift triggers a battle behavior. With no active
// context every gift passes through to the default flow. An unrecognized
// receiver team is a programming error and fails fast.
func (r *Router) RouteGift(ctx context.Context, giftID, senderID, receiverTeam string, amountSEK int64) (Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.ctx == nil {
		return Decision{Allowed: true}, nil
	}
	bc := *r.ctx

	if receiverTeam != bc.SelfTeam && receiverTeam != bc.OpponentTeam {
		return Decision{}, fmt.Errorf("unknown team %q in match %s", receiverTeam, bc.MatchID)
	}

	behavior, duration := r.catalog.BattleBehavior(giftID)
	if behavior == catalog.BehaviorNormal {
		return Decision{Allowed: true}, nil
	}

	gift, _ := r.catalog.Lookup(giftID)

	switch behavior {
	case catalog.BehaviorSilence:
		r.runSilenceLocked(ctx, bc, gift, giftID, receiverTeam, duration)
	case catalog.BehaviorSpotlight:
		r.runSpotlightLocked(ctx, bc, gift, giftID, receiverTeam, duration)
	case catalog.BehaviorFinalBlow:
		r.runFinalBlowLocked(ctx, bc, gift, giftID, duration)
	}

	r.recordGift(ctx, bc.MatchID, senderID, receiverTeam, giftID, amountSEK)

	return Decision{Allowed: true, Behavior: behavior}, nil
}

// runSilenceLocked mutes the opponent team for the behavior duration. Gifts
// aimed at the caller's own team never mute anyone.
func (r *Router) runSilenceLocked(ctx context.Context, bc Context, gift catalog.Gift, giftID, receiverTeam string, duration time.Duration) {
	if receiverTeam == bc.SelfTeam {
		r.logger.Info("silence aimed at own team, skipped", "match", bc.MatchID, "gift", giftID)
		return
	}
	r.bus.Publish(events.MuteOpponent, events.MutePayload{DurationMS: duration.Milliseconds()})
	r.scheduler.PlayPreempting(ctx, giftID, effects.TierUltra, gift.SoundProfile)
	r.bus.Publish(events.ShowCountdown, events.CountdownPayload{DurationMS: duration.Milliseconds()})
	r.scheduleLocked(duration, bc.MatchID, func() {
		r.bus.Publish(events.UnmuteOpponent, nil)
		r.bus.Publish(events.HideCountdown, nil)
	})
}

// runSpotlightLocked pins the opponent team's feed for a short window.
func (r *Router) runSpotlightLocked(ctx context.Context, bc Context, gift catalog.Gift, giftID, receiverTeam string, duration time.Duration) {
	if receiverTeam == bc.SelfTeam {
		r.logger.Info("spotlight aimed at own team, skipped", "match", bc.MatchID, "gift", giftID)
		return
	}
	r.bus.Publish(events.ShowSpotlight, events.SpotlightPayload{Team: receiverTeam})
	r.scheduler.Play(ctx, giftID, effects.TierHigh, gift.SoundProfile)
	r.scheduleLocked(duration, bc.MatchID, func() {
		r.bus.Publish(events.HideSpotlight, nil)
	})
}

// runFinalBlowLocked plays the match-ending sequence exactly once per match.
// A second final blow while one is in flight is a no-op.
func (r *Router) runFinalBlowLocked(ctx context.Context, bc Context, gift catalog.Gift, giftID string, duration time.Duration) {
	if r.finalBlow {
		r.logger.Info("final blow already in flight", "match", bc.MatchID)
		return
	}
	r.finalBlow = true

	r.bus.Publish(events.CinematicOutro, nil)
	r.bus.Publish(events.LockUI, events.LockPayload{Locked: true})
	r.scheduler.PlayPreempting(ctx, giftID, effects.TierUltra, gift.SoundProfile)

	r.scheduleLocked(duration, bc.MatchID, func() {
		r.bus.Publish(events.BattleEnded, events.BattleEndedPayload{MatchID: bc.MatchID})
		if r.lifecycle != nil {
			r.lifecycle.NotifyBattleEnded(bc.MatchID)
		}
		r.SetContext(nil)
	})
}

// scheduleLocked runs fn after d unless the router closed or the match
// changed in the meantime. The task is tracked so Close can cancel it.
func (r *Router) scheduleLocked(d time.Duration, matchID string, fn func()) {
	r.nextTask++
	id := r.nextTask
	r.pending[id] = r.tasks.AfterFunc(d, func() {
		r.mu.Lock()
		delete(r.pending, id)
		stale := r.closed || r.ctx == nil || r.ctx.MatchID != matchID
		r.mu.Unlock()
		if stale {
			return
		}
		fn()
	})
}

func (r *Router) recordGift(ctx context.Context, matchID, senderID, receiverTeam, giftID string, amountSEK int64) {
	if r.recorder == nil {
		return
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		wctx, cancel := context.WithTimeout(bg, 5*time.Second)
		defer cancel()
		if err := r.recorder.Record(wctx, matchID, senderID, receiverTeam, giftID, amountSEK); err != nil {
			r.logger.Warn("battle gift transaction not persisted",
				"match", matchID, "gift", giftID, "sender", senderID, "err", err)
		}
	}()
}

func (r *Router) cancelPendingLocked() {
	for id, t := range r.pending {
		t.Stop()
		delete(r.pending, id)
	}
}

// Close cancels every pending behavior timer and detaches the router. Events
// never fire after Close.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.cancelPendingLocked()
	r.ctx = nil
}
