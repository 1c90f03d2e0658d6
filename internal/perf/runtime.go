package perf

import (
	"runtime"
	"time"
)

// RuntimeFeed samples the Go runtime on a ticker and derives a 0..1 load
// score from heap usage and goroutine count, whichever is worse.
type RuntimeFeed struct {
	TickRate      time.Duration // defaults to 2s if zero
	HeapLimitMB   uint64        // heap size considered saturated
	MaxGoroutines int           // goroutine count considered saturated
}

func NewRuntimeFeed(heapLimitMB uint64, maxGoroutines int) *RuntimeFeed {
	return &RuntimeFeed{
		TickRate:      2 * time.Second,
		HeapLimitMB:   heapLimitMB,
		MaxGoroutines: maxGoroutines,
	}
}

func (f *RuntimeFeed) Start(stop <-chan struct{}) <-chan Sample {
	ch := make(chan Sample, 8)
	go f.run(stop, ch)
	return ch
}

func (f *RuntimeFeed) run(stop <-chan struct{}, ch chan<- Sample) {
	defer close(ch)

	rate := f.TickRate
	if rate == 0 {
		rate = 2 * time.Second
	}
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			heapMB := mem.HeapAlloc / 1024 / 1024
			goroutines := runtime.NumGoroutine()

			load := 0.0
			if f.HeapLimitMB > 0 {
				load = float64(heapMB) / float64(f.HeapLimitMB)
			}
			if f.MaxGoroutines > 0 {
				if g := float64(goroutines) / float64(f.MaxGoroutines); g > load {
					load = g
				}
			}
			if load > 1 {
				load = 1
			}

			select {
			case ch <- Sample{Load: load, HeapMB: heapMB, Goroutines: goroutines}:
			default:
			}
		}
	}
}
