package http

import (
	"sync"
	"testing"
	"time"
)

func TestRateLimiter_CleanupDropsIdleKeys(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	defer rl.Stop()

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")

	// Nothing is older than a cutoff in the past.
	rl.cleanup(time.Now().Add(-time.Minute))
	if _, ok := rl.limiters.Load("10.0.0.1"); !ok {
		t.Fatal("recent key dropped")
	}

	rl.cleanup(time.Now().Add(time.Second))
	for _, key := range []string{"10.0.0.1", "10.0.0.2"} {
		if _, ok := rl.limiters.Load(key); ok {
			t.Errorf("idle key %s kept", key)
		}
	}
	if !rl.Allow("10.0.0.1") {
		t.Error("dropped key should start with a fresh bucket")
	}
}

func TestRateLimiter_ConcurrentAllowOneKey(t *testing.T) {
	rl := NewRateLimiter(60, 5)
	defer rl.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("10.0.0.9") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 5 {
		t.Errorf("allowed = %d, want burst of 5", allowed)
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	defer rl.Stop()
	for i := 0; i < 50; i++ {
		if !rl.Allow("k") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
	if _, ok := rl.limiters.Load("k"); ok {
		t.Error("disabled limiter should not track keys")
	}
}
