// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// SPDX-License-Identifier: MIT

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_GetSet(t *testing.T) {
	cache := NewMemoryCache(0) // no janitor for this test

	cache.Set("token:user-1", "xyzzy", 5*time.Minute)

	val, ok := cache.Get("token:user-1")
	require.True(t, ok, "expected to find token:user-1")
	assert.Equal(t, "xyzzy", val)

	_, ok = cache.Get("token:missing")
	assert.False(t, ok, "expected not to find token:missing")
}

func TestMemoryCache_Expiration(t *testing.T) {
	cache := NewMemoryCache(0)

	cache.Set("shortlived", "value", 50*time.Millisecond)

	val, ok := cache.Get("shortlived")
	require.True(t, ok)
	assert.Equal(t, "value", val)

	time.Sleep(100 * time.Millisecond)

	_, ok = cache.Get("shortlived")
	assert.False(t, ok, "expected key to be expired")
}

func TestMemoryCache_Delete(t *testing.T) {
	cache := NewMemoryCache(0)

	cache.Set("match:heat|1995", "/library/metadata/42", 5*time.Minute)

	_, ok := cache.Get("match:heat|1995")
	require.True(t, ok)

	cache.Delete("match:heat|1995")

	_, ok = cache.Get("match:heat|1995")
	assert.False(t, ok)
}

func TestMemoryCache_Clear(t *testing.T) {
	cache := NewMemoryCache(0)

	cache.Set("key1", "value1", 5*time.Minute)
	cache.Set("key2", "value2", 5*time.Minute)
	cache.Set("key3", "value3", 5*time.Minute)

	stats := cache.Stats()
	assert.Equal(t, 3, stats.CurrentSize)

	cache.Clear()

	stats = cache.Stats()
	assert.Equal(t, 0, stats.CurrentSize)

	_, ok := cache.Get("key1")
	assert.False(t, ok)
}

func TestMemoryCache_Stats(t *testing.T) {
	cache := NewMemoryCache(0)

	cache.Set("key1", "value1", 5*time.Minute)
	cache.Set("key2", "value2", 5*time.Minute)

	cache.Get("key1")        // hit
	cache.Get("key1")        // hit
	cache.Get("nonexistent") // miss

	stats := cache.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.Sets)
	assert.Equal(t, 2, stats.CurrentSize)
}

func TestMemoryCache_Janitor(t *testing.T) {
	cache := NewMemoryCache(50 * time.Millisecond)
	defer cache.(*memoryCache).Stop()

	cache.Set("expiring1", "value1", 30*time.Millisecond)
	cache.Set("expiring2", "value2", 30*time.Millisecond)
	cache.Set("longLived", "value3", 10*time.Second)

	time.Sleep(150 * time.Millisecond)

	stats := cache.Stats()
	assert.Equal(t, 1, stats.CurrentSize, "janitor should have removed expired entries")
	assert.GreaterOrEqual(t, stats.Evictions, int64(2), "both expired entries should count as evictions")

	_, ok := cache.Get("longLived")
	assert.True(t, ok, "long-lived entry should still exist")
}

func TestMemoryCache_ConcurrentStats(t *testing.T) {
	cache := NewMemoryCache(0)
	cache.Set("shared", "value", 5*time.Minute)

	const workers = 8
	const lookups = 100

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < lookups; i++ {
				cache.Get("shared")
				cache.Get(fmt.Sprintf("missing-%d", id))
			}
		}(w)
	}
	wg.Wait()

	stats := cache.Stats()
	assert.Equal(t, int64(workers*lookups), stats.Hits)
	assert.Equal(t, int64(workers*lookups), stats.Misses)
}

func TestNoOpCache(t *testing.T) {
	cache := NewNoOpCache()

	cache.Set("key", "value", 5*time.Minute)

	_, ok := cache.Get("key")
	assert.False(t, ok, "NoOpCache should never return values")

	cache.Delete("key")
	cache.Clear()

	stats := cache.Stats()
	assert.Equal(t, CacheStats{}, stats, "NoOpCache stats should be empty")
}

func BenchmarkMemoryCache_Set(b *testing.B) {
	cache := NewMemoryCache(0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.Set("key", "value", 5*time.Minute)
	}
}

func BenchmarkMemoryCache_Get(b *testing.B) {
	cache := NewMemoryCache(0)
	cache.Set("key", "value", 5*time.Minute)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.Get("key")
	}
}
