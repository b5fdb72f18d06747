// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package relocate

import (
	"hash/fnv"
	"sync"
)

const lockShards = 64

// pathLocks serializes relocations per logical path. Paths map onto a
// fixed set of mutex shards by FNV hash; two distinct paths sharing a
// shard contend spuriously, which is harmless because operations are
// long-lived file copies anyway.
type pathLocks struct {
	shards [lockShards]sync.Mutex
}

func (l *pathLocks) shard(path string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(path))
	return &l.shards[h.Sum32()%lockShards]
}

// lock blocks until the path's shard is held and returns the unlock func.
func (l *pathLocks) lock(path string) func() {
	mu := l.shard(path)
	mu.Lock()
	return mu.Unlock
}

// tryLock claims the path's shard without blocking. ok is false when
// another operation holds it.
func (l *pathLocks) tryLock(path string) (func(), bool) {
	mu := l.shard(path)
	if !mu.TryLock() {
		return nil, false
	}
	return mu.Unlock, true
}
