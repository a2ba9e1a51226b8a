// Package idempotency memoizes finalized command responses by client-supplied
// key, so a retried request replays the original outcome byte-for-byte
// instead of executing twice.
package idempotency

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultTTL is how long a memoized response stays replayable.
	DefaultTTL = 5 * time.Minute

	// DefaultMaxEntries caps the cache; beyond it the oldest entries are
	// evicted.
	DefaultMaxEntries = 500
)

type entry struct {
	status    int
	body      []byte
	createdAt time.Time
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// Cache maps idempotency keys to finalized (status, body) outcomes. Safe for
// concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	max     int

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	now func() time.Time
}

// NewCache creates a cache with the default TTL and entry cap.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		ttl:     DefaultTTL,
		max:     DefaultMaxEntries,
		now:     time.Now,
	}
}

// SetClock replaces the time source for tests.
func (c *Cache) SetClock(fn func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = fn
}

// SetLimits adjusts TTL and entry cap; zero or negative values leave the
// current setting. Used by the config hot-reload path.
func (c *Cache) SetLimits(ttl time.Duration, max int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl > 0 {
		c.ttl = ttl
	}
	if max > 0 {
		c.max = max
	}
}

// Get returns the memoized status and a copy of the body for key. The second
// body copy keeps callers from mutating cached bytes. Expired entries read
// as misses and are dropped. An empty key never hits.
func (c *Cache) Get(key string) (int, []byte, bool) {
	if key == "" {
		return 0, nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return 0, nil, false
	}
	if c.expiredLocked(e) {
		delete(c.entries, key)
		c.evictions.Add(1)
		c.misses.Add(1)
		return 0, nil, false
	}
	c.hits.Add(1)
	body := make([]byte, len(e.body))
	copy(body, e.body)
	return e.status, body, true
}

// Put memoizes a finalized response under key. The body is copied in. Expired
// entries are evicted first, then oldest-by-createdAt until the cap holds.
// An empty key is a no-op: no key, no memoization.
func (c *Cache) Put(key string, status int, body []byte) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneExpiredLocked()
	for len(c.entries) >= c.max {
		if !c.evictOldestLocked() {
			break
		}
	}

	stored := make([]byte, len(body))
	copy(stored, body)
	c.entries[key] = &entry{status: status, body: stored, createdAt: c.now()}
}

// Len returns the current entry count, expired entries included until their
// next touch.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Snapshot returns the counter snapshot.
func (c *Cache) Snapshot() Stats {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()
	return Stats{
		Entries:   entries,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

func (c *Cache) expiredLocked(e *entry) bool {
	return !e.createdAt.Add(c.ttl).After(c.now())
}

func (c *Cache) pruneExpiredLocked() {
	for key, e := range c.entries {
		if c.expiredLocked(e) {
			delete(c.entries, key)
			c.evictions.Add(1)
		}
	}
}

func (c *Cache) evictOldestLocked() bool {
	var oldestKey string
	var oldestAt time.Time
	for key, e := range c.entries {
		if oldestKey == "" || e.createdAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.createdAt
		}
	}
	if oldestKey == "" {
		return false
	}
	delete(c.entries, oldestKey)
	c.evictions.Add(1)
	return true
}
