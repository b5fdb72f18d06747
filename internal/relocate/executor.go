// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package relocate

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/ManuGH/stagecache/internal/log"
	"github.com/ManuGH/stagecache/internal/tracker"
)

// Executor runs planned relocations with bounded parallelism. One
// failed operation never stops its siblings; a cancelled context stops
// admitting new work while operations already running finish or roll
// back on their own.
type Executor struct {
	reloc  *Relocator
	sem    *semaphore.Weighted
	logger zerolog.Logger
}

// NewExecutor bounds the Relocator to maxConcurrent simultaneous
// operations. Values below one are raised to one.
func NewExecutor(r *Relocator, maxConcurrent int) *Executor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Executor{
		reloc:  r,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		logger: log.WithComponent("executor"),
	}
}

// CacheRequest is one admission for CacheAll.
type CacheRequest struct {
	LogicalPath string
	Attr        tracker.Attribution
}

// Results counts one batch's outcomes. Skipped operations were never
// started because the batch was cancelled first.
type Results struct {
	Completed int
	Failed    int
	Skipped   int
}

// RestoreAll moves the given entries back to the slow tier.
func (e *Executor) RestoreAll(ctx context.Context, entries []tracker.Entry, reason string) Results {
	var wg sync.WaitGroup
	var completed, failed atomic.Int64
	skipped := 0
	for i := range entries {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			skipped = len(entries) - i
			break
		}
		entry := entries[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer e.sem.Release(1)
			if err := e.reloc.RestoreFrom(ctx, &entry, reason); err != nil {
				failed.Add(1)
				e.logger.Error().
					Str("event", "executor.restore_failed").
					Str("logical_path", entry.LogicalPath).
					Err(err).
					Msg("restore failed")
				return
			}
			completed.Add(1)
		}()
	}
	wg.Wait()
	return Results{
		Completed: int(completed.Load()),
		Failed:    int(failed.Load()),
		Skipped:   skipped,
	}
}

// CacheAll admits the given paths onto the fast tier.
func (e *Executor) CacheAll(ctx context.Context, reqs []CacheRequest) Results {
	var wg sync.WaitGroup
	var completed, failed atomic.Int64
	skipped := 0
	for i := range reqs {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			skipped = len(reqs) - i
			break
		}
		req := reqs[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer e.sem.Release(1)
			if _, err := e.reloc.CacheTo(ctx, req.LogicalPath, req.Attr); err != nil {
				failed.Add(1)
				e.logger.Error().
					Str("event", "executor.cache_failed").
					Str("logical_path", req.LogicalPath).
					Err(err).
					Msg("cache failed")
				return
			}
			completed.Add(1)
		}()
	}
	wg.Wait()
	return Results{
		Completed: int(completed.Load()),
		Failed:    int(failed.Load()),
		Skipped:   skipped,
	}
}
