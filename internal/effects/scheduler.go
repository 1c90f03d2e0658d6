package effects

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// handle tracks one admitted effect from admission to teardown.
type handle struct {
	id        string
	tier      Tier
	cfg       TierConfig
	profile   string
	startedAt time.Time
	expiry    Task
	resource  PlaybackResource // nil until acquisition completes
	stopped   bool
}

// Counters expose the scheduler's admission outcomes. Rejections and drops are
// policy results, not errors, so they surface here instead of as returns.
type Counters struct {
	Played           uint64
	Rejected         uint64 // blocked by an active ULTRA
	Dropped          uint64 // performance fallback active
	Interrupted      uint64 // removed by a higher-tier admission
	Expired          uint64
	ResourceFailures uint64
}

// Scheduler admits, interrupts and expires gift effects for one broadcast
// session. Every mutation of the active set and ducking state happens under a
// single lock; timer callbacks and async resource results serialize through
// the same lock.
type Scheduler struct {
	mu       sync.Mutex
	logger   *slog.Logger
	provider PlaybackProvider
	ducking  *DuckingController
	tasks    TaskScheduler

	active      map[string]*handle
	initialized bool
	fallback    bool
	counters    Counters
}

func NewScheduler(provider PlaybackProvider, ducking *DuckingController, tasks TaskScheduler, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger:   logger,
		provider: provider,
		ducking:  ducking,
		tasks:    tasks,
		active:   make(map[string]*handle),
	}
}

// Initialize claims the platform audio device. Idempotent. A failure is logged
// and retried lazily on the next Play call.
func (s *Scheduler) Initialize(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initLocked(ctx)
}

func (s *Scheduler) initLocked(ctx context.Context) bool {
	if s.initialized {
		return true
	}
	if err := s.provider.Open(ctx); err != nil {
		s.logger.Warn("audio device claim failed", "err", err)
		return false
	}
	s.initialized = true
	return true
}

// Play requests admission for an effect. Returns false when the effect is
// rejected or dropped by policy. Re-playing an id that is already active stops
// the old instance before the new one starts.
func (s *Scheduler) Play(ctx context.Context, effectID string, tier Tier, soundProfile string) bool {
	return s.play(ctx, effectID, tier, soundProfile, false)
}

// PlayPreempting admits like Play but may displace an active ULTRA effect.
// Battle climax behaviors use it so a match ending is never blocked by a
// regular ULTRA gift.
func (s *Scheduler) PlayPreempting(ctx context.Context, effectID string, tier Tier, soundProfile string) bool {
	return s.play(ctx, effectID, tier, soundProfile, true)
}

func (s *Scheduler) play(ctx context.Context, effectID string, tier Tier, soundProfile string, preempt bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fallback {
		s.counters.Dropped++
		s.logger.Debug("effect dropped, performance fallback active", "effect", effectID)
		return false
	}
	if !s.initLocked(ctx) {
		s.counters.ResourceFailures++
		return false
	}

	cfg := Config(tier)

	// An active ULTRA blocks everything that cannot preempt it. First-come-wins
	// for two competing ULTRA requests.
	if blocker := s.activeUltraLocked(); blocker != nil && blocker.id != effectID && !preempt {
		s.counters.Rejected++
		s.logger.Info("effect rejected, ultra active",
			"effect", effectID, "tier", tier.String(), "blocking", blocker.id)
		return false
	}

	// Replace-on-same-id is stop-then-start: release before re-acquiring.
	if old, ok := s.active[effectID]; ok {
		s.stopHandleLocked(old)
	}

	if cfg.CanBlockOthers {
		for _, h := range s.active {
			if h.cfg.Priority < cfg.Priority {
				s.stopHandleLocked(h)
				s.counters.Interrupted++
				s.logger.Info("effect interrupted",
					"effect", h.id, "by", effectID, "tier", h.tier.String())
			}
		}
	}
	if preempt {
		if blocker := s.activeUltraLocked(); blocker != nil {
			s.stopHandleLocked(blocker)
			s.counters.Interrupted++
			s.logger.Info("ultra effect preempted", "effect", blocker.id, "by", effectID)
		}
	}

	h := &handle{
		id:        effectID,
		tier:      tier,
		cfg:       cfg,
		profile:   soundProfile,
		startedAt: s.tasks.Now(),
	}
	s.active[effectID] = h
	s.refreshDuckingLocked()
	h.expiry = s.tasks.AfterFunc(cfg.MaxDuration, func() { s.expire(h) })
	s.counters.Played++

	// Acquisition may be slow; it never holds the admission lock. A failure
	// rolls back this effect only. Detached from the caller's context so a
	// finished ingest request cannot cancel decode mid-flight.
	go s.acquire(context.WithoutCancel(ctx), h)

	return true
}

func (s *Scheduler) acquire(ctx context.Context, h *handle) {
	res, err := s.provider.Acquire(ctx, h.profile)

	s.mu.Lock()
	defer s.mu.Unlock()

	if h.stopped {
		if res != nil {
			res.Stop()
		}
		return
	}
	if err != nil {
		s.counters.ResourceFailures++
		s.logger.Warn("playback acquisition failed, dropping effect",
			"effect", h.id, "profile", h.profile, "err", err)
		s.stopHandleLocked(h)
		s.refreshDuckingLocked()
		return
	}
	h.resource = res
}

// Stop tears down one effect. Idempotent; unknown ids are a no-op.
func (s *Scheduler) Stop(effectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.active[effectID]
	if !ok {
		return
	}
	s.stopHandleLocked(h)
	s.refreshDuckingLocked()
}

// StopAll tears down every active effect and restores the bus gain.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopAllLocked()
}

func (s *Scheduler) stopAllLocked() {
	for _, h := range s.active {
		s.stopHandleLocked(h)
	}
	s.refreshDuckingLocked()
}

// EnablePerformanceFallback stops everything and drops all new effects until
// disabled again. Used when the session is under load.
func (s *Scheduler) EnablePerformanceFallback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fallback {
		return
	}
	s.fallback = true
	s.stopAllLocked()
	s.logger.Info("performance fallback enabled")
}

func (s *Scheduler) DisablePerformanceFallback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fallback {
		return
	}
	s.fallback = false
	s.logger.Info("performance fallback disabled")
}

func (s *Scheduler) FallbackEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback
}

// IsActive reports whether the effect id is currently playing.
func (s *Scheduler) IsActive(effectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[effectID]
	return ok
}

// ActiveCount returns the size of the active set.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// ActiveIDs returns the ids of all active effects, unordered.
func (s *Scheduler) ActiveIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.active))
	for id := range s.active {
		out = append(out, id)
	}
	return out
}

// Counters returns a snapshot of the admission counters.
func (s *Scheduler) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

func (s *Scheduler) expire(h *handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.active[h.id]; !ok || cur != h {
		return
	}
	s.counters.Expired++
	s.stopHandleLocked(h)
	s.refreshDuckingLocked()
}

func (s *Scheduler) stopHandleLocked(h *handle) {
	if h.stopped {
		return
	}
	h.stopped = true
	if h.expiry != nil {
		h.expiry.Stop()
	}
	if h.resource != nil {
		h.resource.Stop()
		h.resource = nil
	}
	delete(s.active, h.id)
}

func (s *Scheduler) activeUltraLocked() *handle {
	for _, h := range s.active {
		if h.tier == TierUltra {
			return h
		}
	}
	return nil
}

func (s *Scheduler) refreshDuckingLocked() {
	tiers := make([]Tier, 0, len(s.active))
	for _, h := range s.active {
		tiers = append(tiers, h.tier)
	}
	s.ducking.OnActiveSetChanged(tiers)
}
