// giftsim replays a scripted gift storm against a real scheduler and battle
// router on a fake clock. Deterministic for a fixed seed, useful for tuning
// tier configs and eyeballing rejection rates before touching a live session.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/roastlive/roastlive/internal/battle"
	"github.com/roastlive/roastlive/internal/catalog"
	"github.com/roastlive/roastlive/internal/effects"
	"github.com/roastlive/roastlive/internal/events"
	"github.com/roastlive/roastlive/internal/session"
)

// gifter archetypes: how often and how big they send
type archetype struct {
	name    string
	weight  int
	giftIDs []string
}

var archetypes = []archetype{
	{name: "casual", weight: 55, giftIDs: []string{"boo", "clap", "confetti"}},
	{name: "hyped", weight: 30, giftIDs: []string{"fire_whoosh", "bomb", "airhorn"}},
	{name: "whale", weight: 15, giftIDs: []string{"bomb", "roast_nuke", "golden_dragon"}},
}

var battleGifts = []string{"silencer", "spotlight", "guillotine"}

type lifecycleStub struct{}

func (lifecycleStub) NotifyBattleEnded(matchID string) {}

func main() {
	var (
		gifts    = flag.Int("gifts", 2000, "number of gifts to replay")
		senders  = flag.Int("senders", 50, "number of distinct senders")
		seed     = flag.Int64("seed", 1, "rng seed")
		doBattle = flag.Bool("battle", true, "inject a battle halfway through")
	)
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	clock := effects.NewManualScheduler(time.Unix(0, 0))
	sessions := session.NewManager(session.Deps{
		Catalog:      catalog.Default(),
		Provider:     func(string) effects.PlaybackProvider { return effects.NewNopProvider(nil) },
		AudioBus:     func(string) effects.AudioBus { return effects.BusFunc(func(float64) {}) },
		Lifecycle:    lifecycleStub{},
		Tasks:        clock,
		Logger:       logger,
		GiftInterval: 200 * time.Millisecond,
	})

	sess, err := sessions.Create(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "create session:", err)
		os.Exit(1)
	}

	eventCounts := make(map[events.Type]int)
	ch, _ := sess.Bus.Subscribe(4096)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			eventCounts[ev.Type]++
		}
	}()

	var admitted, rejected, limited, behaviors int
	battleAt := *gifts / 2

	start := time.Now()
	for i := 0; i < *gifts; i++ {
		if *doBattle && i == battleAt {
			sess.SetBattleContext(&battle.Context{
				MatchID:      "sim-match",
				SelfTeam:     "red",
				OpponentTeam: "blue",
			})
		}

		sender := fmt.Sprintf("sender-%d", rng.Intn(*senders))
		giftID := pickGift(rng, sess.Router.Context() != nil)
		team := "blue"
		if rng.Intn(4) == 0 {
			team = "red"
		}

		res, err := sess.SubmitGift(context.Background(), giftID, sender, team, int64(5+rng.Intn(500)))
		if err != nil {
			continue
		}
		switch {
		case res.RateLimited:
			limited++
		case res.Behavior != "":
			behaviors++
		case res.Admitted:
			admitted++
		default:
			rejected++
		}

		clock.Advance(time.Duration(50+rng.Intn(650)) * time.Millisecond)
	}
	// Drain remaining expiries and behavior timers.
	clock.Advance(time.Minute)
	elapsed := time.Since(start)

	counters := sess.Scheduler.Counters()
	gain := sess.Ducking.Gain()
	sessions.CloseAll(context.Background())
	<-done

	fmt.Printf("giftsim: %d gifts, %d senders, seed %d (%.1fms wall)\n",
		*gifts, *senders, *seed, float64(elapsed.Microseconds())/1000)
	fmt.Printf("  admitted     %6d\n", admitted)
	fmt.Printf("  behaviors    %6d\n", behaviors)
	fmt.Printf("  rejected     %6d\n", rejected)
	fmt.Printf("  rate limited %6d\n", limited)
	fmt.Println("scheduler counters:")
	fmt.Printf("  played %d  rejected %d  interrupted %d  expired %d  dropped %d  resource_failures %d\n",
		counters.Played, counters.Rejected, counters.Interrupted,
		counters.Expired, counters.Dropped, counters.ResourceFailures)
	fmt.Printf("final bus gain: %.4f\n", gain)

	if len(eventCounts) > 0 {
		fmt.Println("overlay events:")
		types := make([]string, 0, len(eventCounts))
		for t := range eventCounts {
			types = append(types, string(t))
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Printf("  %-16s %6d\n", t, eventCounts[events.Type(t)])
		}
	}
}

func pickGift(rng *rand.Rand, inBattle bool) string {
	// 5% of gifts during a battle are battle specials
	if inBattle && rng.Intn(20) == 0 {
		return battleGifts[rng.Intn(len(battleGifts))]
	}
	roll := rng.Intn(100)
	acc := 0
	for _, a := range archetypes {
		acc += a.weight
		if roll < acc {
			return a.giftIDs[rng.Intn(len(a.giftIDs))]
		}
	}
	return "boo"
}
