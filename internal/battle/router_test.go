package battle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roastlive/roastlive/internal/catalog"
	"github.com/roastlive/roastlive/internal/effects"
	"github.com/roastlive/roastlive/internal/events"
)

type recordedGift struct {
	matchID, senderID, team, giftID string
	amountSEK                       int64
}

type fakeRecorder struct {
	mu    sync.Mutex
	err   error
	calls []recordedGift
}

func (f *fakeRecorder) Record(_ context.Context, matchID, senderID, team, giftID string, amountSEK int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedGift{matchID, senderID, team, giftID, amountSEK})
	return f.err
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeLifecycle struct {
	mu    sync.Mutex
	ended []string
}

func (f *fakeLifecycle) NotifyBattleEnded(matchID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, matchID)
}

func (f *fakeLifecycle) endedMatches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ended...)
}

type fixture struct {
	router    *Router
	scheduler *effects.Scheduler
	clock     *effects.ManualScheduler
	recorder  *fakeRecorder
	lifecycle *fakeLifecycle
	events    <-chan events.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	clock := effects.NewManualScheduler(time.Unix(1700000000, 0))
	duck := effects.NewDuckingController(effects.BusFunc(func(float64) {}), logger)
	sched := effects.NewScheduler(effects.NewNopProvider(logger), duck, clock, logger)
	bus := events.NewBus(logger)
	ch, cancel := bus.Subscribe(64)
	t.Cleanup(cancel)
	recorder := &fakeRecorder{}
	lifecycle := &fakeLifecycle{}
	router := NewRouter(catalog.Default(), sched, bus, recorder, lifecycle, clock, logger)
	t.Cleanup(router.Close)
	return &fixture{
		router:    router,
		scheduler: sched,
		clock:     clock,
		recorder:  recorder,
		lifecycle: lifecycle,
		events:    ch,
	}
}

// drain returns the event types currently buffered, in publish order.
func (f *fixture) drain() []events.Type {
	var got []events.Type
	for {
		select {
		case ev := <-f.events:
			got = append(got, ev.Type)
		default:
			return got
		}
	}
}

func TestNoBattleContextPassesThrough(t *testing.T) {
	f := newFixture(t)

	d, err := f.router.RouteGift(context.Background(), "silencer", "u1", "red", 500)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Empty(t, d.Behavior)
	require.Empty(t, f.drain())
	require.Zero(t, f.recorder.count())
}

func TestNormalGiftDuringBattlePassesThrough(t *testing.T) {
	f := newFixture(t)
	f.router.SetContext(&Context{MatchID: "m1", SelfTeam: "red", OpponentTeam: "blue"})

	d, err := f.router.RouteGift(context.Background(), "boo", "u1", "blue", 5)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Empty(t, d.Behavior)
	require.Empty(t, f.drain())
}

func TestUnknownTeamIsAnError(t *testing.T) {
	f := newFixture(t)
	f.router.SetContext(&Context{MatchID: "m1", SelfTeam: "red", OpponentTeam: "blue"})

	_, err := f.router.RouteGift(context.Background(), "boo", "u1", "green", 5)
	require.ErrorContains(t, err, "unknown team")
}

func TestSilenceMutesOpponentForDuration(t *testing.T) {
	f := newFixture(t)
	f.router.SetContext(&Context{MatchID: "m1", SelfTeam: "red", OpponentTeam: "blue"})

	d, err := f.router.RouteGift(context.Background(), "silencer", "u1", "blue", 900)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, catalog.BehaviorSilence, d.Behavior)
	require.Equal(t, []events.Type{events.MuteOpponent, events.ShowCountdown}, f.drain())
	require.True(t, f.scheduler.IsActive("silencer"))

	f.clock.Advance(9 * time.Second)
	require.Empty(t, f.drain())

	f.clock.Advance(time.Second)
	require.Equal(t, []events.Type{events.UnmuteOpponent, events.HideCountdown}, f.drain())
}

func TestSilenceOwnTeamDoesNothing(t *testing.T) {
	f := newFixture(t)
	f.router.SetContext(&Context{MatchID: "m1", SelfTeam: "red", OpponentTeam: "blue"})

	d, err := f.router.RouteGift(context.Background(), "silencer", "u1", "red", 900)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, catalog.BehaviorSilence, d.Behavior)
	require.Empty(t, f.drain())
	require.False(t, f.scheduler.IsActive("silencer"))

	f.clock.Advance(time.Minute)
	require.Empty(t, f.drain())
}

func TestSpotlightPinsOpponentFeed(t *testing.T) {
	f := newFixture(t)
	f.router.SetContext(&Context{MatchID: "m1", SelfTeam: "red", OpponentTeam: "blue"})

	_, err := f.router.RouteGift(context.Background(), "spotlight", "u1", "blue", 300)
	require.NoError(t, err)

	ev := <-f.events
	require.Equal(t, events.ShowSpotlight, ev.Type)
	var p events.SpotlightPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	require.Equal(t, "blue", p.Team)
	require.True(t, f.scheduler.IsActive("spotlight"))

	f.clock.Advance(6 * time.Second)
	require.Equal(t, []events.Type{events.HideSpotlight}, f.drain())
}

func TestFinalBlowEndsMatchOnce(t *testing.T) {
	f := newFixture(t)
	f.router.SetContext(&Context{MatchID: "m1", SelfTeam: "red", OpponentTeam: "blue"})

	_, err := f.router.RouteGift(context.Background(), "guillotine", "u1", "blue", 2000)
	require.NoError(t, err)
	require.Equal(t, []events.Type{events.CinematicOutro, events.LockUI}, f.drain())

	// A second final blow while the first plays out is ignored.
	_, err = f.router.RouteGift(context.Background(), "guillotine", "u2", "blue", 2000)
	require.NoError(t, err)
	require.Empty(t, f.drain())

	f.clock.Advance(5 * time.Second)

	ev := <-f.events
	require.Equal(t, events.BattleEnded, ev.Type)
	var p events.BattleEndedPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	require.Equal(t, "m1", p.MatchID)

	require.Equal(t, []string{"m1"}, f.lifecycle.endedMatches())
	require.Nil(t, f.router.Context())
}

func TestFinalBlowConcurrentTriggersEndOnce(t *testing.T) {
	f := newFixture(t)
	f.router.SetContext(&Context{MatchID: "m1", SelfTeam: "red", OpponentTeam: "blue"})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.router.RouteGift(context.Background(), "guillotine", "u", "blue", 2000)
		}()
	}
	wg.Wait()

	f.clock.Advance(5 * time.Second)
	require.Equal(t, []string{"m1"}, f.lifecycle.endedMatches())
}

func TestSetContextCancelsPendingTimers(t *testing.T) {
	f := newFixture(t)
	f.router.SetContext(&Context{MatchID: "m1", SelfTeam: "red", OpponentTeam: "blue"})

	_, err := f.router.RouteGift(context.Background(), "silencer", "u1", "blue", 900)
	require.NoError(t, err)
	f.drain()

	// New match replaces the old one before the unmute fires.
	f.router.SetContext(&Context{MatchID: "m2", SelfTeam: "red", OpponentTeam: "gold"})

	f.clock.Advance(time.Minute)
	require.NotContains(t, f.drain(), events.UnmuteOpponent)
}

func TestCloseCancelsPendingTimers(t *testing.T) {
	f := newFixture(t)
	f.router.SetContext(&Context{MatchID: "m1", SelfTeam: "red", OpponentTeam: "blue"})

	_, err := f.router.RouteGift(context.Background(), "silencer", "u1", "blue", 900)
	require.NoError(t, err)
	f.drain()

	f.router.Close()
	f.router.Close()

	f.clock.Advance(time.Minute)
	require.Empty(t, f.drain())
	require.Nil(t, f.router.Context())
}

func TestRecorderFailureDoesNotBlockBehavior(t *testing.T) {
	f := newFixture(t)
	f.recorder.err = errors.New("pg down")
	f.router.SetContext(&Context{MatchID: "m1", SelfTeam: "red", OpponentTeam: "blue"})

	d, err := f.router.RouteGift(context.Background(), "silencer", "u1", "blue", 900)
	require.NoError(t, err)
	require.Equal(t, catalog.BehaviorSilence, d.Behavior)

	require.Eventually(t, func() bool { return f.recorder.count() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestGiftTransactionRecorded(t *testing.T) {
	f := newFixture(t)
	f.router.SetContext(&Context{MatchID: "m7", SelfTeam: "red", OpponentTeam: "blue"})

	_, err := f.router.RouteGift(context.Background(), "spotlight", "whale", "blue", 1500)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.recorder.count() == 1 },
		time.Second, 5*time.Millisecond)
	f.recorder.mu.Lock()
	got := f.recorder.calls[0]
	f.recorder.mu.Unlock()
	require.Equal(t, recordedGift{"m7", "whale", "blue", "spotlight", 1500}, got)
}

func TestBattleUltraDisplacesRegularUltra(t *testing.T) {
	f := newFixture(t)
	f.router.SetContext(&Context{MatchID: "m1", SelfTeam: "red", OpponentTeam: "blue"})

	require.True(t, f.scheduler.Play(context.Background(), "roast_nuke", effects.TierUltra, "nuke_siren"))

	_, err := f.router.RouteGift(context.Background(), "silencer", "u1", "blue", 900)
	require.NoError(t, err)
	require.True(t, f.scheduler.IsActive("silencer"))
	require.False(t, f.scheduler.IsActive("roast_nuke"))
}
