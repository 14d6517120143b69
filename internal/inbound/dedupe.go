package inbound

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Dedupe defaults: redeliveries arrive within minutes of the original.
const (
	DefaultDedupeTTL  = 20 * time.Minute
	DefaultDedupeSize = 5000
)

// DedupeCache remembers recently seen message keys so connector
// redeliveries are not dispatched twice. Entries expire after the TTL and
// the oldest are evicted once the cache is full.
type DedupeCache struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, struct{}]
}

func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultDedupeSize
	}
	return &DedupeCache{lru: expirable.NewLRU[string, struct{}](maxSize, nil, ttl)}
}

// IsDuplicate reports whether key was seen within the TTL, recording it if not.
func (d *DedupeCache) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lru.Contains(key) {
		return true
	}
	d.lru.Add(key, struct{}{})
	return false
}
