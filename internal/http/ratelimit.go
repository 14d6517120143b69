package http

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces per-key (client IP) request rate limits using token bucket.
type RateLimiter struct {
	limiters sync.Map // key → *limiterEntry

	mu    sync.RWMutex
	r     rate.Limit // refill rate (requests per second)
	burst int

	stop     chan struct{}
	stopOnce sync.Once
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// NewRateLimiter creates a rate limiter.
// rpm is requests per minute, burst is the max burst allowed.
// If rpm <= 0, the rate limiter is effectively disabled (always allows).
func NewRateLimiter(rpm, burst int) *RateLimiter {
	rl := &RateLimiter{stop: make(chan struct{})}
	rl.SetLimits(rpm, burst)

	// Periodic cleanup of stale entries (every 5 minutes)
	go rl.cleanupLoop()

	return rl
}

// SetLimits replaces the limits. Existing buckets are dropped.
func (rl *RateLimiter) SetLimits(rpm, burst int) {
	if burst <= 0 {
		burst = 5
	}
	r := rate.Limit(0)
	if rpm > 0 {
		r = rate.Limit(float64(rpm) / 60.0)
	}

	rl.mu.Lock()
	rl.r, rl.burst = r, burst
	rl.mu.Unlock()
	rl.limiters.Clear()
}

// Allow checks if a request from the given key is allowed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.RLock()
	r, burst := rl.r, rl.burst
	rl.mu.RUnlock()
	if r == 0 {
		return true // disabled
	}

	entry := rl.getOrCreate(key, r, burst)
	entry.lastSeen.Store(time.Now().UnixNano())
	if !entry.limiter.Allow() {
		slog.Warn("security.rate_limited", "key", key)
		return false
	}
	return true
}

// Stop ends the cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) getOrCreate(key string, r rate.Limit, burst int) *limiterEntry {
	if v, ok := rl.limiters.Load(key); ok {
		return v.(*limiterEntry)
	}
	entry := &limiterEntry{limiter: rate.NewLimiter(r, burst)}
	actual, _ := rl.limiters.LoadOrStore(key, entry)
	return actual.(*limiterEntry)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now().Add(-10 * time.Minute))
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) cleanup(cutoff time.Time) {
	rl.limiters.Range(func(key, value any) bool {
		if value.(*limiterEntry).lastSeen.Load() < cutoff.UnixNano() {
			rl.limiters.Delete(key)
		}
		return true
	})
}
