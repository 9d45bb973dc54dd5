package security

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter gates connection attempts per client IP with token
// buckets. Idle entries are evicted in the background so churning
// clients never grow the map without bound.
type RateLimiter struct {
	buckets    map[string]*ipBucket
	mu         sync.Mutex
	r          rate.Limit
	burst      int
	ttl        time.Duration // evict entries not seen within this window
	maxEntries int           // cap on number of tracked IPs
	cancel     context.CancelFunc
}

// NewRateLimiter creates a per-IP limiter admitting r connections per
// second with the given burst.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	ctx, cancel := context.WithCancel(context.Background())
	rl := &RateLimiter{
		buckets:    make(map[string]*ipBucket),
		r:          r,
		burst:      burst,
		ttl:        10 * time.Minute,
		maxEntries: 10000,
		cancel:     cancel,
	}
	go rl.cleanup(ctx)
	return rl
}

// Allow reports whether the IP may open another connection right now.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	entry, exists := rl.buckets[ip]
	if !exists {
		if len(rl.buckets) >= rl.maxEntries {
			rl.mu.Unlock()
			return false // reject to prevent unbounded map growth
		}
		entry = &ipBucket{limiter: rate.NewLimiter(rl.r, rl.burst)}
		rl.buckets[ip] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Stop shuts down the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.cancel()
}

// UpdateRate applies reloaded limit parameters. Existing buckets are
// dropped so every IP picks up the new rate on next attempt.
func (rl *RateLimiter) UpdateRate(r rate.Limit, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.r = r
	rl.burst = burst
	rl.buckets = make(map[string]*ipBucket)
}

func (rl *RateLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, entry := range rl.buckets {
				if time.Since(entry.lastSeen) > rl.ttl {
					delete(rl.buckets, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}
