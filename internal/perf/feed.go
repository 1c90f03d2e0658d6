// Package perf feeds load samples to the session manager so it can toggle the
// schedulers' performance fallback before effect playback degrades the
// broadcast itself.
package perf

// Feed provides load updates. Load goes from 0 (idle) to 1 (saturated).
type Feed interface {
	// Start begins the feed. It sends updates on the returned channel.
	// Close the stop channel to terminate.
	Start(stop <-chan struct{}) <-chan Sample
}

type Sample struct {
	Load       float64
	HeapMB     uint64
	Goroutines int
}
