package effects

import "time"

// Tier classifies a gift effect by priority. Higher tiers duck the broadcast
// audio deeper, play longer, and may interrupt lower tiers.
type Tier int

const (
	TierLow Tier = iota
	TierMid
	TierHigh
	TierUltra
)

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMid:
		return "mid"
	case TierHigh:
		return "high"
	case TierUltra:
		return "ultra"
	default:
		return "unknown"
	}
}

// TierConfig holds the concurrency and playback rules for one tier.
type TierConfig struct {
	MaxDuration    time.Duration
	DuckingDB      float64 // attenuation applied to the broadcast bus, negative
	Priority       int
	CanBatch       bool // multiple effects of this tier may play at once
	CanBlockOthers bool // admission interrupts every lower-priority effect
}

var tierConfigs = map[Tier]TierConfig{
	TierLow: {
		MaxDuration:    3 * time.Second,
		DuckingDB:      -6,
		Priority:       1,
		CanBatch:       true,
		CanBlockOthers: false,
	},
	TierMid: {
		MaxDuration:    5 * time.Second,
		DuckingDB:      -10,
		Priority:       2,
		CanBatch:       true,
		CanBlockOthers: false,
	},
	TierHigh: {
		MaxDuration:    8 * time.Second,
		DuckingDB:      -14,
		Priority:       3,
		CanBatch:       false,
		CanBlockOthers: true,
	},
	TierUltra: {
		MaxDuration:    12 * time.Second,
		DuckingDB:      -20,
		Priority:       4,
		CanBatch:       false,
		CanBlockOthers: true,
	},
}

// Config returns the tier's playback rules. Total over all tiers: an
// out-of-range value falls back to the LOW config.
func Config(t Tier) TierConfig {
	cfg, ok := tierConfigs[t]
	if !ok {
		return tierConfigs[TierLow]
	}
	return cfg
}
