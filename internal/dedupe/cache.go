// ABOUTME: Seen-event cache for trigger deduplication
// ABOUTME: Sync replay can deliver the same reaction or message event twice

package dedupe

import (
	"sync"
	"time"
)

// Cache tracks recently seen event IDs so trigger handlers process each
// platform event exactly once within the TTL window. Entries expire after
// the TTL and the cache never holds more than maxSize keys.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	fifo    []string // insertion order, oldest first
	ttl     time.Duration
	maxSize int
}

// New creates a cache with the given TTL and maximum size.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Seen atomically checks whether key was already seen within the TTL and
// marks it. Returns true for duplicates. The check and mark are a single
// critical section so concurrent handlers for the same event cannot both
// pass.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if at, ok := c.seen[key]; ok && now.Sub(at) < c.ttl {
		return true
	}

	c.pruneLocked(now)
	if _, ok := c.seen[key]; !ok {
		c.fifo = append(c.fifo, key)
	}
	c.seen[key] = now
	return false
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// pruneLocked drops expired entries and, if still over capacity, the oldest
// ones. Must be called with mu held.
func (c *Cache) pruneLocked(now time.Time) {
	kept := c.fifo[:0]
	for _, key := range c.fifo {
		at, ok := c.seen[key]
		if !ok {
			continue
		}
		if now.Sub(at) >= c.ttl {
			delete(c.seen, key)
			continue
		}
		kept = append(kept, key)
	}
	c.fifo = kept

	for len(c.fifo) >= c.maxSize && len(c.fifo) > 0 {
		oldest := c.fifo[0]
		c.fifo = c.fifo[1:]
		delete(c.seen, oldest)
	}
}
