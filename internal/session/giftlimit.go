package session

import (
	"sync"
	"time"
)

// GiftRateLimiter enforces a minimum interval between effect-triggering gifts
// from one sender. Server-authoritative timing; the purchase itself is not
// affected, only the effect admission.
type GiftRateLimiter struct {
	mu          sync.Mutex
	lastGift    map[string]time.Time
	minInterval time.Duration
	now         func() time.Time
}

func NewGiftRateLimiter(minInterval time.Duration, now func() time.Time) *GiftRateLimiter {
	if now == nil {
		now = time.Now
	}
	return &GiftRateLimiter{
		lastGift:    make(map[string]time.Time),
		minInterval: minInterval,
		now:         now,
	}
}

// Allow returns true if enough time has passed since the sender's last gift.
func (gl *GiftRateLimiter) Allow(senderID string) bool {
	gl.mu.Lock()
	defer gl.mu.Unlock()

	now := gl.now()
	last, ok := gl.lastGift[senderID]
	if ok && now.Sub(last) < gl.minInterval {
		return false
	}
	gl.lastGift[senderID] = now
	return true
}

// Reset clears tracking for a sender.
func (gl *GiftRateLimiter) Reset(senderID string) {
	gl.mu.Lock()
	defer gl.mu.Unlock()
	delete(gl.lastGift, senderID)
}

// ResetAll clears all tracking data.
func (gl *GiftRateLimiter) ResetAll() {
	gl.mu.Lock()
	defer gl.mu.Unlock()
	gl.lastGift = make(map[string]time.Time)
}
