package session

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roastlive/roastlive/internal/battle"
	"github.com/roastlive/roastlive/internal/catalog"
	"github.com/roastlive/roastlive/internal/effects"
	"github.com/roastlive/roastlive/internal/perf"
)

func newTestManager(t *testing.T, clock *effects.ManualScheduler) *Manager {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	m := NewManager(Deps{
		Catalog:      catalog.Default(),
		Provider:     func(string) effects.PlaybackProvider { return effects.NewNopProvider(logger) },
		AudioBus:     func(string) effects.AudioBus { return effects.BusFunc(func(float64) {}) },
		Tasks:        clock,
		Logger:       logger,
		GiftInterval: 500 * time.Millisecond,
	})
	t.Cleanup(func() { m.CloseAll(context.Background()) })
	return m
}

func TestSubmitGiftDefaultFlow(t *testing.T) {
	clock := effects.NewManualScheduler(time.Unix(1700000000, 0))
	m := newTestManager(t, clock)
	s, err := m.Create(context.Background())
	require.NoError(t, err)

	res, err := s.SubmitGift(context.Background(), "bomb", "u1", "", 50)
	require.NoError(t, err)
	require.True(t, res.Admitted)
	require.Empty(t, res.Behavior)
	require.False(t, res.RateLimited)
	require.True(t, s.Scheduler.IsActive("bomb"))
}

func TestSubmitGiftRateLimited(t *testing.T) {
	clock := effects.NewManualScheduler(time.Unix(1700000000, 0))
	m := newTestManager(t, clock)
	s, err := m.Create(context.Background())
	require.NoError(t, err)

	res, err := s.SubmitGift(context.Background(), "boo", "u1", "", 5)
	require.NoError(t, err)
	require.True(t, res.Admitted)

	// Same sender inside the interval is throttled; another sender is not.
	res, err = s.SubmitGift(context.Background(), "clap", "u1", "", 5)
	require.NoError(t, err)
	require.True(t, res.RateLimited)
	require.False(t, res.Admitted)

	res, err = s.SubmitGift(context.Background(), "clap", "u2", "", 5)
	require.NoError(t, err)
	require.True(t, res.Admitted)

	clock.Advance(500 * time.Millisecond)
	res, err = s.SubmitGift(context.Background(), "confetti", "u1", "", 5)
	require.NoError(t, err)
	require.True(t, res.Admitted)
}

func TestBattleOnlyGiftOutsideBattleDropped(t *testing.T) {
	clock := effects.NewManualScheduler(time.Unix(1700000000, 0))
	m := newTestManager(t, clock)
	s, err := m.Create(context.Background())
	require.NoError(t, err)

	res, err := s.SubmitGift(context.Background(), "silencer", "u1", "", 900)
	require.NoError(t, err)
	require.False(t, res.Admitted)
	require.Empty(t, res.Behavior)
	require.False(t, s.Scheduler.IsActive("silencer"))
}

func TestSubmitGiftBattleBehavior(t *testing.T) {
	clock := effects.NewManualScheduler(time.Unix(1700000000, 0))
	m := newTestManager(t, clock)
	s, err := m.Create(context.Background())
	require.NoError(t, err)

	s.SetBattleContext(&battle.Context{MatchID: "m1", SelfTeam: "red", OpponentTeam: "blue"})
	res, err := s.SubmitGift(context.Background(), "silencer", "u1", "blue", 900)
	require.NoError(t, err)
	require.True(t, res.Admitted)
	require.Equal(t, catalog.BehaviorSilence, res.Behavior)
	require.True(t, s.Scheduler.IsActive("silencer"))
}

func TestManagerLifecycle(t *testing.T) {
	clock := effects.NewManualScheduler(time.Unix(1700000000, 0))
	m := newTestManager(t, clock)

	a, err := m.Create(context.Background())
	require.NoError(t, err)
	b, err := m.Create(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)
	require.Equal(t, 2, m.Count())

	got, ok := m.Get(a.ID)
	require.True(t, ok)
	require.Same(t, a, got)

	require.True(t, m.End(context.Background(), a.ID))
	require.False(t, m.End(context.Background(), a.ID))
	require.Equal(t, 1, m.Count())

	_, ok = m.Get(a.ID)
	require.False(t, ok)

	m.CloseAll(context.Background())
	require.Equal(t, 0, m.Count())
}

func TestSetPerformanceFallbackFansOut(t *testing.T) {
	clock := effects.NewManualScheduler(time.Unix(1700000000, 0))
	m := newTestManager(t, clock)
	a, _ := m.Create(context.Background())
	b, _ := m.Create(context.Background())

	m.SetPerformanceFallback(true)
	require.True(t, a.Scheduler.FallbackEnabled())
	require.True(t, b.Scheduler.FallbackEnabled())

	m.SetPerformanceFallback(false)
	require.False(t, a.Scheduler.FallbackEnabled())
	require.False(t, b.Scheduler.FallbackEnabled())
}

func TestWatchLoadHysteresis(t *testing.T) {
	clock := effects.NewManualScheduler(time.Unix(1700000000, 0))
	m := newTestManager(t, clock)
	s, _ := m.Create(context.Background())

	// Crosses high water, hovers in the dead band, then recovers below low.
	feed := perf.NewScriptedFeed([]float64{0.2, 0.95, 0.8, 0.75, 0.5})
	stop := make(chan struct{})
	defer close(stop)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.WatchLoad(stop, feed, 0.9, 0.6)
	}()
	wg.Wait()

	require.False(t, s.Scheduler.FallbackEnabled())
}

func TestWatchLoadEnablesAtHighWater(t *testing.T) {
	clock := effects.NewManualScheduler(time.Unix(1700000000, 0))
	m := newTestManager(t, clock)
	s, _ := m.Create(context.Background())

	feed := perf.NewScriptedFeed([]float64{0.3, 0.92})
	stop := make(chan struct{})
	defer close(stop)

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.WatchLoad(stop, feed, 0.9, 0.6)
	}()
	<-done

	require.True(t, s.Scheduler.FallbackEnabled())
}

func TestGiftRateLimiterReset(t *testing.T) {
	now := time.Unix(1700000000, 0)
	gl := NewGiftRateLimiter(time.Second, func() time.Time { return now })

	require.True(t, gl.Allow("u1"))
	require.False(t, gl.Allow("u1"))

	gl.Reset("u1")
	require.True(t, gl.Allow("u1"))

	require.True(t, gl.Allow("u2"))
	gl.ResetAll()
	require.True(t, gl.Allow("u1"))
	require.True(t, gl.Allow("u2"))
}
