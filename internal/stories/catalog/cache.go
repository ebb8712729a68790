package catalog

import (
	"sync"
	"time"
)

type cacheKey struct {
	identity string
	scope    Scope
}

type cacheEntry struct {
	snapshot *Catalog
	storedAt time.Time
}

// cache holds resolved snapshots. A stored snapshot is never mutated, so
// readers either see the old pointer or the new one.
type cache struct {
	mu       sync.RWMutex
	entries  map[cacheKey]cacheEntry
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

func newCache(ttl time.Duration, capacity int, now func() time.Time) *cache {
	return &cache{
		entries:  make(map[cacheKey]cacheEntry),
		ttl:      ttl,
		capacity: capacity,
		now:      now,
	}
}

func (c *cache) get(k cacheKey) (*Catalog, bool) {
	if c.ttl <= 0 {
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.storedAt) >= c.ttl {
		return nil, false
	}
	return e.snapshot, true
}

// put stores snapshot unless the cached one was resolved later, and returns
// whichever snapshot is cached afterwards.
func (c *cache) put(k cacheKey, snapshot *Catalog) *Catalog {
	if c.ttl <= 0 {
		return snapshot
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, exists := c.entries[k]
	if exists && existing.snapshot.ResolvedAt().After(snapshot.ResolvedAt()) {
		return existing.snapshot
	}
	if !exists && c.capacity > 0 && len(c.entries) >= c.capacity {
		c.evictLocked()
	}
	c.entries[k] = cacheEntry{snapshot: snapshot, storedAt: c.now()}
	return snapshot
}

func (c *cache) invalidate(k cacheKey) {
	c.mu.Lock()
	delete(c.entries, k)
	c.mu.Unlock()
}

// evictLocked drops expired entries, or the oldest one if none expired.
func (c *cache) evictLocked() {
	now := c.now()
	var (
		oldest     cacheKey
		oldestAt   time.Time
		haveOldest bool
		expired    bool
	)
	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, k)
			expired = true
			continue
		}
		if !haveOldest || e.storedAt.Before(oldestAt) {
			oldest, oldestAt, haveOldest = k, e.storedAt, true
		}
	}
	if !expired && haveOldest {
		delete(c.entries, oldest)
	}
}

func (c *cache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
