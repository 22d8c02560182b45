package cache

import (
	"sync"
	"time"
)

// TTLCache is a small bounded in-process cache with per-entry expiry. It
// absorbs hot-path repeat lookups (external-id mappings, per-file row counts)
// without a network round trip.
type TTLCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[string]ttlEntry

	now func() time.Time
}

type ttlEntry struct {
	value     interface{}
	expiresAt time.Time
}

func NewTTLCache(ttl time.Duration, maxSize int) *TTLCache {
	return &TTLCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]ttlEntry),
		now:     time.Now,
	}
}

// Get returns the cached value when present and unexpired.
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.value, true
}

// Set stores a value. When the cache is full, expired entries are evicted
// first; if none are expired an arbitrary entry is dropped.
func (c *TTLCache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictLocked()
	}
	c.entries[key] = ttlEntry{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Delete removes a key.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *TTLCache) evictLocked() {
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) < c.maxSize {
		return
	}
	for k := range c.entries {
		delete(c.entries, k)
		return
	}
}
