// Package cache implements the time-boxed store for normalized
// intelligence results, keeping repeat requests from re-spending provider
// budget.
//
// The cache is content-agnostic: key derivation belongs to the caller.
// Expiry is strict — an entry past its deadline behaves as a miss even if
// the background sweep has not evicted it yet.
package cache

import (
	"sync"
	"time"

	"github.com/hazyhaar/radar/intel/schema"
)

type entry struct {
	value     []schema.NormalizedIntel
	expiresAt time.Time
}

// Cache is a TTL key-value store for normalized intel. Concurrent Set
// calls for the same key race last-write-wins, which is acceptable since a
// given key corresponds to one in-flight request in practice.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time // injectable clock for testing
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(c *Cache) { c.now = fn }
}

// New creates an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the cached value for key and whether it was a hit.
// Expired entries are misses and evicted on the spot.
func (c *Cache) Get(key string) ([]schema.NormalizedIntel, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock: a Set may have raced in.
		if cur, ok := c.entries[key]; ok && c.now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl stores nothing.
func (c *Cache) Set(key string, value []schema.NormalizedIntel, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Len returns the number of entries, including not-yet-swept expired ones.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep evicts all expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// StartSweeper runs Sweep on a ticker until done is closed.
func (c *Cache) StartSweeper(done <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	tick := time.NewTicker(interval)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				c.Sweep()
			}
		}
	}()
}
