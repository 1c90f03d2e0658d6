// Package catalog holds the static gift configuration: which tier a gift
// belongs to, which sound it triggers, and which battle behavior (if any) it
// maps to. The catalog is external data: loaded once, validated at load time,
// immutable afterwards.
package catalog

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roastlive/roastlive/internal/effects"
)

// Behavior is the closed set of battle override behaviors.
type Behavior string

const (
	BehaviorNormal    Behavior = "normal"
	BehaviorSilence   Behavior = "silence"
	BehaviorSpotlight Behavior = "spotlight"
	BehaviorFinalBlow Behavior = "final_blow"
)

// Gift describes one catalog entry.
type Gift struct {
	Tier             effects.Tier
	SoundProfile     string
	BattleOnly       bool
	Behavior         Behavior
	BehaviorDuration time.Duration
}

// Catalog is an immutable gift lookup table.
type Catalog struct {
	gifts map[string]Gift
}

// Classify returns the gift's tier. Total: unknown ids fall back to LOW, the
// platform's generic jingle tier.
func (c *Catalog) Classify(giftID string) effects.Tier {
	if g, ok := c.gifts[giftID]; ok {
		return g.Tier
	}
	return effects.TierLow
}

// Lookup returns the full catalog entry for a gift id.
func (c *Catalog) Lookup(giftID string) (Gift, bool) {
	g, ok := c.gifts[giftID]
	return g, ok
}

// BattleBehavior returns the battle behavior for a gift id. Ids without a
// special mapping resolve to BehaviorNormal.
func (c *Catalog) BattleBehavior(giftID string) (Behavior, time.Duration) {
	g, ok := c.gifts[giftID]
	if !ok || g.Behavior == "" {
		return BehaviorNormal, 0
	}
	return g.Behavior, g.BehaviorDuration
}

// Size returns the number of gifts in the catalog.
func (c *Catalog) Size() int { return len(c.gifts) }

type giftYAML struct {
	Tier             string `yaml:"tier"`
	Sound            string `yaml:"sound"`
	BattleOnly       bool   `yaml:"battle_only"`
	Behavior         string `yaml:"behavior"`
	BehaviorDuration string `yaml:"behavior_duration"`
}

type fileYAML struct {
	Gifts map[string]giftYAML `yaml:"gifts"`
}

// Load reads and validates a catalog YAML file. Unknown tier or behavior
// strings fail the load; a bad catalog must never reach a live session.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var f fileYAML
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(f.Gifts) == 0 {
		return nil, fmt.Errorf("catalog %s: no gifts defined", path)
	}

	gifts := make(map[string]Gift, len(f.Gifts))
	for id, g := range f.Gifts {
		tier, err := parseTier(g.Tier)
		if err != nil {
			return nil, fmt.Errorf("gift %q: %w", id, err)
		}
		behavior, err := parseBehavior(g.Behavior)
		if err != nil {
			return nil, fmt.Errorf("gift %q: %w", id, err)
		}
		var dur time.Duration
		if g.BehaviorDuration != "" {
			dur, err = time.ParseDuration(g.BehaviorDuration)
			if err != nil {
				return nil, fmt.Errorf("gift %q: behavior_duration: %w", id, err)
			}
		}
		if behavior != BehaviorNormal && dur <= 0 {
			dur = defaultBehaviorDuration(behavior)
		}
		gifts[id] = Gift{
			Tier:             tier,
			SoundProfile:     g.Sound,
			BattleOnly:       g.BattleOnly,
			Behavior:         behavior,
			BehaviorDuration: dur,
		}
	}
	return &Catalog{gifts: gifts}, nil
}

func parseTier(s string) (effects.Tier, error) {
	switch s {
	case "low":
		return effects.TierLow, nil
	case "mid":
		return effects.TierMid, nil
	case "high":
		return effects.TierHigh, nil
	case "ultra":
		return effects.TierUltra, nil
	default:
		return 0, fmt.Errorf("unknown tier %q", s)
	}
}

func parseBehavior(s string) (Behavior, error) {
	switch Behavior(s) {
	case "", BehaviorNormal:
		return BehaviorNormal, nil
	case BehaviorSilence, BehaviorSpotlight, BehaviorFinalBlow:
		return Behavior(s), nil
	default:
		return "", fmt.Errorf("unknown behavior %q", s)
	}
}

func defaultBehaviorDuration(b Behavior) time.Duration {
	switch b {
	case BehaviorSilence:
		return 10 * time.Second
	case BehaviorSpotlight:
		return 6 * time.Second
	case BehaviorFinalBlow:
		return 5 * time.Second
	default:
		return 0
	}
}

// Default is the built-in catalog used when no file is configured.
func Default() *Catalog {
	return &Catalog{gifts: map[string]Gift{
		"boo":           {Tier: effects.TierLow, SoundProfile: "boo_short"},
		"clap":          {Tier: effects.TierLow, SoundProfile: "clap_loop"},
		"fire_whoosh":   {Tier: effects.TierMid, SoundProfile: "fire_whoosh"},
		"confetti":      {Tier: effects.TierMid, SoundProfile: "confetti_pop"},
		"bomb":          {Tier: effects.TierHigh, SoundProfile: "bomb_blast"},
		"airhorn":       {Tier: effects.TierHigh, SoundProfile: "airhorn_triple"},
		"roast_nuke":    {Tier: effects.TierUltra, SoundProfile: "nuke_siren"},
		"golden_dragon": {Tier: effects.TierUltra, SoundProfile: "dragon_roar"},
		"silencer": {
			Tier: effects.TierUltra, SoundProfile: "zipper_slam", BattleOnly: true,
			Behavior: BehaviorSilence, BehaviorDuration: 10 * time.Second,
		},
		"spotlight": {
			Tier: effects.TierHigh, SoundProfile: "spotlight_sting", BattleOnly: true,
			Behavior: BehaviorSpotlight, BehaviorDuration: 6 * time.Second,
		},
		"guillotine": {
			Tier: effects.TierUltra, SoundProfile: "guillotine_drop", BattleOnly: true,
			Behavior: BehaviorFinalBlow, BehaviorDuration: 5 * time.Second,
		},
	}}
}
