package perf

import "time"

// ScriptedFeed replays a fixed sequence of load scores at a fixed tick rate.
// Deterministic: same script always produces the same output. Used to test
// the fallback toggle against the real manager watch loop.
type ScriptedFeed struct {
	Script   []float64     // load score per tick
	TickRate time.Duration // defaults to 10ms if zero
}

func NewScriptedFeed(script []float64) *ScriptedFeed {
	return &ScriptedFeed{Script: script, TickRate: 10 * time.Millisecond}
}

func (f *ScriptedFeed) Start(stop <-chan struct{}) <-chan Sample {
	ch := make(chan Sample, len(f.Script))
	rate := f.TickRate
	if rate == 0 {
		rate = 10 * time.Millisecond
	}
	go func() {
		defer close(ch)
		ticker := time.NewTicker(rate)
		defer ticker.Stop()
		for _, load := range f.Script {
			select {
			case <-stop:
				return
			case <-ticker.C:
				select {
				case ch <- Sample{Load: load}:
				default:
				}
			}
		}
	}()
	return ch
}
