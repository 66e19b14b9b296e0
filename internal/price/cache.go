package price

import (
	"sync"
	"time"
)

// ttlCache holds the freshest known Result per mint for a bounded window
// (spec.md §4.3 source 1). It only ever serves queries close to "now" —
// historical price_at(mint, t) calls for a t far in the past are cheap to
// answer from the stores directly and never populate or read the cache.
type ttlCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	result    Result
	fetchedAt time.Time
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

// get returns a cache hit only when the entry is still within its TTL and
// the query time t falls within that same freshness window, so a cached
// "current" price is never handed back for a materially different instant.
func (c *ttlCache) get(mint string, t time.Time) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[mint]
	if !ok {
		return Result{}, false
	}
	now := time.Now()
	if now.Sub(e.fetchedAt) > c.ttl {
		return Result{}, false
	}
	if now.Sub(t) > c.ttl || t.Sub(now) > 0 {
		return Result{}, false
	}
	return e.result, true
}

func (c *ttlCache) put(mint string, res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[mint] = cacheEntry{result: res, fetchedAt: time.Now()}
}
