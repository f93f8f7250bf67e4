package server

import (
	"sync"
	"time"
)

const (
	// maxTrackedSenders caps the number of tracked senders to prevent
	// memory exhaustion from rotating sender ids.
	maxTrackedSenders = 4096

	// senderWindow is the sliding window duration for rate counting.
	senderWindow = 60 * time.Second

	// senderMaxHits is the max messages per sender within a window.
	senderMaxHits = 30
)

type senderEntry struct {
	windowStart time.Time
	count       int
}

// SenderRateLimiter bounds how many messages a single sender can push
// through the webhook per window. Safe for concurrent use.
type SenderRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*senderEntry
	now     func() time.Time
}

// NewSenderRateLimiter creates a bounded per-sender rate limiter.
func NewSenderRateLimiter() *SenderRateLimiter {
	return &SenderRateLimiter{
		entries: make(map[string]*senderEntry),
		now:     time.Now,
	}
}

// Allow returns true if the sender is within rate limits.
// Automatically prunes stale entries and enforces a hard cap on tracked
// senders.
func (r *SenderRateLimiter) Allow(sender string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	// Prune stale entries when approaching the cap
	if len(r.entries) >= maxTrackedSenders {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= senderWindow {
				delete(r.entries, k)
			}
		}
		// Hard eviction if still at cap (FIFO-ish via map iteration)
		for len(r.entries) >= maxTrackedSenders {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[sender]
	if !ok || now.Sub(e.windowStart) >= senderWindow {
		r.entries[sender] = &senderEntry{windowStart: now, count: 1}
		return true
	}

	e.count++
	return e.count <= senderMaxHits
}
