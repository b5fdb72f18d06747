// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupMiniRedis starts an in-process redis server and a cache wired to it.
func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := &RedisCache{
		client: client,
		logger: zerolog.Nop(),
	}

	return mr, cache
}

func TestRedisCache_SetGet(t *testing.T) {
	_, cache := setupMiniRedis(t)

	cache.Set("token:user-1", "xyzzy", 5*time.Minute)

	val, found := cache.Get("token:user-1")
	if !found {
		t.Fatal("expected value to be found")
	}
	if val != "xyzzy" {
		t.Errorf("expected 'xyzzy', got %v", val)
	}

	stats := cache.Stats()
	if stats.Sets != 1 {
		t.Errorf("expected 1 set, got %d", stats.Sets)
	}
	if stats.Hits != 1 {
		t.Errorf("expected 1 hit, got %d", stats.Hits)
	}
}

func TestRedisCache_GetMissing(t *testing.T) {
	_, cache := setupMiniRedis(t)

	val, found := cache.Get("nonexistent")
	if found {
		t.Error("expected value to not be found")
	}
	if val != nil {
		t.Errorf("expected nil value, got %v", val)
	}

	stats := cache.Stats()
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
}

func TestRedisCache_TTL(t *testing.T) {
	mr, cache := setupMiniRedis(t)

	cache.Set("ttl-key", "ttl-value", 100*time.Millisecond)

	val, found := cache.Get("ttl-key")
	if !found {
		t.Fatal("expected value to be found immediately")
	}
	if val != "ttl-value" {
		t.Errorf("expected 'ttl-value', got %v", val)
	}

	mr.FastForward(200 * time.Millisecond)

	_, found = cache.Get("ttl-key")
	if found {
		t.Error("expected value to be expired")
	}
}

func TestRedisCache_Delete(t *testing.T) {
	_, cache := setupMiniRedis(t)

	cache.Set("delete-key", "delete-value", 5*time.Minute)

	_, found := cache.Get("delete-key")
	if !found {
		t.Fatal("expected value to exist before delete")
	}

	cache.Delete("delete-key")

	_, found = cache.Get("delete-key")
	if found {
		t.Error("expected value to be deleted")
	}

	stats := cache.Stats()
	if stats.Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", stats.Evictions)
	}
}

func TestRedisCache_Clear(t *testing.T) {
	_, cache := setupMiniRedis(t)

	cache.Set("key1", "value1", 5*time.Minute)
	cache.Set("key2", "value2", 5*time.Minute)
	cache.Set("key3", "value3", 5*time.Minute)

	stats := cache.Stats()
	if stats.CurrentSize != 3 {
		t.Fatalf("expected 3 items, got %d", stats.CurrentSize)
	}

	cache.Clear()

	stats = cache.Stats()
	if stats.CurrentSize != 0 {
		t.Errorf("expected 0 items after clear, got %d", stats.CurrentSize)
	}

	_, found := cache.Get("key1")
	if found {
		t.Error("expected key1 to be cleared")
	}
}

func TestRedisCache_Stats(t *testing.T) {
	_, cache := setupMiniRedis(t)

	cache.Set("k1", "v1", 5*time.Minute)
	cache.Set("k2", "v2", 5*time.Minute)
	cache.Get("k1")       // hit
	cache.Get("k1")       // hit
	cache.Get("nonexist") // miss
	cache.Get("nonexist") // miss

	stats := cache.Stats()
	if stats.Sets != 2 {
		t.Errorf("expected 2 sets, got %d", stats.Sets)
	}
	if stats.Hits != 2 {
		t.Errorf("expected 2 hits, got %d", stats.Hits)
	}
	if stats.Misses != 2 {
		t.Errorf("expected 2 misses, got %d", stats.Misses)
	}
	if stats.CurrentSize != 2 {
		t.Errorf("expected size=2, got %d", stats.CurrentSize)
	}
}

func TestRedisCache_HealthCheck(t *testing.T) {
	mr, cache := setupMiniRedis(t)

	ctx := context.Background()

	if err := cache.HealthCheck(ctx); err != nil {
		t.Errorf("expected healthy redis, got error: %v", err)
	}

	mr.Close()

	if err := cache.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail after redis shutdown")
	}
}

func TestRedisCache_ConcurrentAccess(t *testing.T) {
	_, cache := setupMiniRedis(t)

	const numGoroutines = 10
	const numOps = 50

	done := make(chan bool, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			for j := 0; j < numOps; j++ {
				cache.Set("concurrent-key", id, 5*time.Minute)
				cache.Get("concurrent-key")
			}
			done <- true
		}(i)
	}

	for i := 0; i < numGoroutines; i++ {
		<-done
	}

	stats := cache.Stats()
	expectedSets := int64(numGoroutines * numOps)
	if stats.Sets != expectedSets {
		t.Errorf("expected %d sets, got %d", expectedSets, stats.Sets)
	}
}

func BenchmarkRedisCache_Get(b *testing.B) {
	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		b.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := &RedisCache{client: client, logger: zerolog.Nop()}

	cache.Set("bench-key", "bench-value", 5*time.Minute)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.Get("bench-key")
	}
}
