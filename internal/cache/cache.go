// SPDX-License-Identifier: MIT

// Package cache provides the TTL key/value store behind the upstream token
// and title-match caches. Three backends share one interface: in-memory for
// tests and single-process setups, badger for persistence across restarts,
// redis when several daemons share one upstream account.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a thread-safe key/value store with per-entry expiry.
type Cache interface {
	// Get retrieves a value. Reports false when absent or expired.
	Get(key string) (any, bool)
	// Set stores a value for the given TTL.
	Set(key string, value any, ttl time.Duration)
	// Delete removes a value.
	Delete(key string)
	// Clear removes all values.
	Clear()
	// Stats returns hit/miss counters and current size.
	Stats() CacheStats
}

// CacheStats holds cache performance counters.
type CacheStats struct {
	Hits        int64
	Misses      int64
	Sets        int64
	Evictions   int64 // expired entries swept by the janitor
	CurrentSize int
}

// memoryCache is the in-process backend. Expiry is checked lazily on
// Get; a janitor goroutine reclaims memory for keys nobody asks for
// again.
type memoryCache struct {
	mu    sync.RWMutex
	items map[string]memItem
	stop  chan struct{}

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64
}

type memItem struct {
	value    any
	deadline time.Time
}

func (it memItem) live(now time.Time) bool {
	return now.Before(it.deadline)
}

// NewMemoryCache creates an in-memory cache. cleanupInterval sets the
// janitor period; zero disables background cleanup.
func NewMemoryCache(cleanupInterval time.Duration) Cache {
	c := &memoryCache{items: make(map[string]memItem)}
	if cleanupInterval > 0 {
		c.stop = make(chan struct{})
		go c.janitor(cleanupInterval)
	}
	return c
}

func (c *memoryCache) Get(key string) (any, bool) {
	now := time.Now()
	c.mu.RLock()
	it, found := c.items[key]
	c.mu.RUnlock()

	if !found || !it.live(now) {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return it.value, true
}

func (c *memoryCache) Set(key string, value any, ttl time.Duration) {
	it := memItem{value: value, deadline: time.Now().Add(ttl)}
	c.mu.Lock()
	c.items[key] = it
	c.mu.Unlock()
	c.sets.Add(1)
}

func (c *memoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

func (c *memoryCache) Clear() {
	c.mu.Lock()
	c.items = make(map[string]memItem)
	c.mu.Unlock()
}

func (c *memoryCache) Stats() CacheStats {
	c.mu.RLock()
	size := len(c.items)
	c.mu.RUnlock()
	return CacheStats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Sets:        c.sets.Load(),
		Evictions:   c.evictions.Load(),
		CurrentSize: size,
	}
}

// Stop halts the janitor. Safe to call once on a cache built with a
// cleanup interval.
func (c *memoryCache) Stop() {
	if c.stop != nil {
		close(c.stop)
	}
}

func (c *memoryCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

// sweep drops every expired entry and counts them as evictions.
func (c *memoryCache) sweep() {
	now := time.Now()
	var swept int64
	c.mu.Lock()
	for key, it := range c.items {
		if !it.live(now) {
			delete(c.items, key)
			swept++
		}
	}
	c.mu.Unlock()
	c.evictions.Add(swept)
}

// noOpCache disables caching without branching at call sites.
type noOpCache struct{}

// NewNoOpCache returns a cache that stores nothing.
func NewNoOpCache() Cache {
	return noOpCache{}
}

func (noOpCache) Get(string) (any, bool)         { return nil, false }
func (noOpCache) Set(string, any, time.Duration) {}
func (noOpCache) Delete(string)                  {}
func (noOpCache) Clear()                         {}
func (noOpCache) Stats() CacheStats              { return CacheStats{} }
