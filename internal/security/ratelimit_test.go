package security

import (
	"fmt"
	"testing"

	"golang.org/x/time/rate"
)

func TestRateLimiterAllow(t *testing.T) {
	// 1 connection per second, burst of 2
	rl := NewRateLimiter(rate.Limit(1), 2)
	defer rl.Stop()

	ip := "203.0.113.7"

	// First two attempts ride the burst
	if !rl.Allow(ip) {
		t.Error("first attempt should be allowed")
	}
	if !rl.Allow(ip) {
		t.Error("second attempt (burst) should be allowed")
	}

	// Third is denied: burst exhausted, no time to replenish
	if rl.Allow(ip) {
		t.Error("third attempt should be denied (burst exhausted)")
	}
}

func TestRateLimiterPerIP(t *testing.T) {
	// Very low rate to test per-IP isolation
	rl := NewRateLimiter(rate.Limit(1), 1)
	defer rl.Stop()

	// IP A uses its burst
	if !rl.Allow("203.0.113.7") {
		t.Error("IP A first attempt should be allowed")
	}
	if rl.Allow("203.0.113.7") {
		t.Error("IP A second attempt should be denied")
	}

	// IP B should still have its own burst
	if !rl.Allow("203.0.113.8") {
		t.Error("IP B first attempt should be allowed")
	}
}

func TestRateLimiterUpdateRate(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1)
	defer rl.Stop()

	ip := "203.0.113.7"

	// Use up burst
	rl.Allow(ip)

	// Reload with a higher burst
	rl.UpdateRate(rate.Limit(1), 5)

	// The fresh bucket carries the new burst
	if !rl.Allow(ip) {
		t.Error("should be allowed after rate update")
	}
}

func TestRateLimiterMaxEntries(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 10)
	defer rl.Stop()

	// Override maxEntries to a small value for testing
	rl.mu.Lock()
	rl.maxEntries = 3
	rl.mu.Unlock()

	// First 3 IPs should be allowed
	for i := 0; i < 3; i++ {
		ip := fmt.Sprintf("203.0.113.%d", i+1)
		if !rl.Allow(ip) {
			t.Errorf("IP %s should be allowed (map not full)", ip)
		}
	}

	// 4th IP is rejected: the map is at capacity
	if rl.Allow("203.0.113.100") {
		t.Error("should reject new IP when map is at capacity")
	}

	// Existing IP should still be allowed
	if !rl.Allow("203.0.113.1") {
		t.Error("existing IP should still be allowed")
	}
}

func TestRateLimiterStop(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1)
	rl.Stop() // Should not panic or deadlock
}
