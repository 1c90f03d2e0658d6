package effects

import (
	"log/slog"
	"math"
	"sync"
)

// AudioBus applies a linear gain to the live broadcast's background audio.
type AudioBus interface {
	SetGain(gain float64)
}

// BusFunc adapts a plain function to the AudioBus interface.
type BusFunc func(gain float64)

func (f BusFunc) SetGain(gain float64) { f(gain) }

// DuckingController owns the single effective ducking level of the broadcast
// bus. The applied gain always follows the deepest attenuation among the
// currently active effects; levels are never stacked.
type DuckingController struct {
	mu     sync.Mutex
	bus    AudioBus
	logger *slog.Logger
	gain   float64
}

func NewDuckingController(bus AudioBus, logger *slog.Logger) *DuckingController {
	return &DuckingController{bus: bus, logger: logger, gain: 1.0}
}

// OnActiveSetChanged recomputes the bus gain from the active tiers. An empty
// set restores full gain. Must be called on every admission and removal.
func (d *DuckingController) OnActiveSetChanged(active []Tier) {
	gain := 1.0
	if len(active) > 0 {
		deepest := 0.0
		for _, t := range active {
			if db := Config(t).DuckingDB; db < deepest {
				deepest = db
			}
		}
		gain = GainFromDB(deepest)
	}

	d.mu.Lock()
	changed := gain != d.gain
	d.gain = gain
	d.mu.Unlock()

	if changed {
		d.bus.SetGain(gain)
		if d.logger != nil {
			d.logger.Debug("ducking updated", "gain", gain, "active", len(active))
		}
	}
}

// Gain returns the last applied gain.
func (d *DuckingController) Gain() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gain
}

// GainFromDB converts a decibel attenuation to a linear gain factor.
func GainFromDB(db float64) float64 {
	return math.Pow(10, db/20)
}
