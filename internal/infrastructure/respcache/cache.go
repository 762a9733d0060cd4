// Package respcache is a short-lived, in-process cache for upstream API
// responses. Expiry is evaluated lazily on read against a TTL supplied by
// the caller, so one cache can hold resource kinds with different lifetimes.
package respcache

import (
	"strings"
	"sync"
	"time"

	"bankfeed/internal/shared/clock"
)

type entry struct {
	value    any
	storedAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	clock   clock.Clock
}

// New creates an empty cache reading time from c.
func New(c clock.Clock) *Cache {
	if c == nil {
		c = clock.System{}
	}
	return &Cache{
		entries: make(map[string]entry),
		clock:   c,
	}
}

// Get returns the value stored under key if it is younger than ttl.
// An expired entry is evicted and reported as a miss.
func (c *Cache) Get(key string, ttl time.Duration) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.clock.Now().Sub(e.storedAt) >= ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Put stores value under key, stamped with the current time.
func (c *Cache) Put(key string, value any) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, storedAt: c.clock.Now()}
	c.mu.Unlock()
}

// Invalidate removes every entry whose key contains substr and returns how
// many were removed.
func (c *Cache) Invalidate(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.Contains(key, substr) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
