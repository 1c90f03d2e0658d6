package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/roastlive/roastlive/internal/battle"
	"github.com/roastlive/roastlive/internal/cache"
	"github.com/roastlive/roastlive/internal/catalog"
	"github.com/roastlive/roastlive/internal/effects"
	"github.com/roastlive/roastlive/internal/events"
	"github.com/roastlive/roastlive/internal/perf"
)

const (
	defaultGiftInterval = 500 * time.Millisecond
	presenceTTL         = 24 * time.Hour
)

// Deps bundles the collaborators a Manager injects into every new session.
// Provider and Bus are factories: each broadcast claims its own playback
// device and audio bus.
type Deps struct {
	Catalog   *catalog.Catalog
	Provider  func(sessionID string) effects.PlaybackProvider
	AudioBus  func(sessionID string) effects.AudioBus
	Recorder  battle.GiftRecorder
	Lifecycle battle.Lifecycle
	Tasks     effects.TaskScheduler
	Cache     *redis.Client // optional; presence registration skipped when nil
	Logger    *slog.Logger

	GiftInterval time.Duration // min interval between one sender's gifts
}

// Manager handles session lifecycle: creation, lookup, teardown, and the
// fan-out of the performance fallback toggle.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	deps     Deps
	logger   *slog.Logger
}

func NewManager(deps Deps) *Manager {
	if deps.GiftInterval <= 0 {
		deps.GiftInterval = defaultGiftInterval
	}
	if deps.Tasks == nil {
		deps.Tasks = effects.NewWallClock()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		deps:     deps,
		logger:   deps.Logger,
	}
}

// Create opens a new broadcast session and registers its presence.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	id := uuid.New().String()
	logger := m.logger.With("session", id)

	bus := events.NewBus(logger)
	ducking := effects.NewDuckingController(m.deps.AudioBus(id), logger)
	sched := effects.NewScheduler(m.deps.Provider(id), ducking, m.deps.Tasks, logger)
	router := battle.NewRouter(m.deps.Catalog, sched, bus, m.deps.Recorder, m.deps.Lifecycle, m.deps.Tasks, logger)

	s := &Session{
		ID:        id,
		Scheduler: sched,
		Router:    router,
		Bus:       bus,
		Ducking:   ducking,
		catalog:   m.deps.Catalog,
		limiter:   NewGiftRateLimiter(m.deps.GiftInterval, m.deps.Tasks.Now),
		logger:    logger,
		createdAt: m.deps.Tasks.Now(),
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.registerPresence(ctx, id)
	logger.Info("session created")
	return s, nil
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// End closes a session and removes it. Returns false for unknown ids.
func (m *Manager) End(ctx context.Context, id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.Close()
	m.dropPresence(ctx, id)
	return true
}

// List returns all live sessions, unordered.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SetPerformanceFallback toggles the drop-all-new flag on every live session.
func (m *Manager) SetPerformanceFallback(enabled bool) {
	for _, s := range m.List() {
		if enabled {
			s.Scheduler.EnablePerformanceFallback()
		} else {
			s.Scheduler.DisablePerformanceFallback()
		}
	}
}

// WatchLoad consumes a perf feed and toggles the fallback with hysteresis:
// enabled at high water, disabled again at low water. Blocks until the feed
// closes or stop closes.
func (m *Manager) WatchLoad(stop <-chan struct{}, feed perf.Feed, highWater, lowWater float64) {
	samples := feed.Start(stop)
	enabled := false
	for sample := range samples {
		switch {
		case !enabled && sample.Load >= highWater:
			enabled = true
			m.logger.Warn("load high, enabling performance fallback",
				"load", sample.Load, "heap_mb", sample.HeapMB, "goroutines", sample.Goroutines)
			m.SetPerformanceFallback(true)
		case enabled && sample.Load <= lowWater:
			enabled = false
			m.logger.Info("load recovered, disabling performance fallback", "load", sample.Load)
			m.SetPerformanceFallback(false)
		}
	}
}

// CloseAll tears down every session (process shutdown).
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for id, s := range sessions {
		s.Close()
		m.dropPresence(ctx, id)
	}
}

func (m *Manager) registerPresence(ctx context.Context, id string) {
	if m.deps.Cache == nil {
		return
	}
	pipe := m.deps.Cache.Pipeline()
	pipe.SAdd(ctx, cache.KeyActiveSessions, id)
	pipe.Set(ctx, fmt.Sprintf(cache.KeySessionState, id), "live", presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Warn("session presence not registered", "session", id, "err", err)
	}
}

func (m *Manager) dropPresence(ctx context.Context, id string) {
	if m.deps.Cache == nil {
		return
	}
	pipe := m.deps.Cache.Pipeline()
	pipe.SRem(ctx, cache.KeyActiveSessions, id)
	pipe.Del(ctx, fmt.Sprintf(cache.KeySessionState, id))
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Warn("session presence not dropped", "session", id, "err", err)
	}
}
