package server

import (
	"fmt"
	"testing"
	"time"
)

// TestSenderRateLimiterWindow allows up to the cap, then blocks until
// the window rolls over.
func TestSenderRateLimiterWindow(t *testing.T) {
	r := NewSenderRateLimiter()
	now := time.Unix(1700000000, 0)
	r.now = func() time.Time { return now }

	for i := 0; i < senderMaxHits; i++ {
		if !r.Allow("555") {
			t.Fatalf("blocked at hit %d", i)
		}
	}
	if r.Allow("555") {
		t.Error("allowed past window cap")
	}
	if !r.Allow("666") {
		t.Error("unrelated sender blocked")
	}

	now = now.Add(senderWindow + time.Second)
	if !r.Allow("555") {
		t.Error("blocked after window rollover")
	}
}

// TestSenderRateLimiterEviction keeps the tracked-sender map bounded.
func TestSenderRateLimiterEviction(t *testing.T) {
	r := NewSenderRateLimiter()
	now := time.Unix(1700000000, 0)
	r.now = func() time.Time { return now }

	for i := 0; i < maxTrackedSenders+100; i++ {
		r.Allow(fmt.Sprintf("sender-%d", i))
	}
	if len(r.entries) > maxTrackedSenders {
		t.Errorf("tracked = %d, cap %d", len(r.entries), maxTrackedSenders)
	}
}
