// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package cycle

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ManuGH/stagecache/internal/metrics"
	"github.com/ManuGH/stagecache/internal/relocate"
)

// reconcile squares the tracker against the filesystem: every active
// entry's symlink chain is verified, stray fast-tier files are adopted
// or deleted, removed rows past their retention are pruned, and
// interrupted relocations are driven to a terminal state.
func (r *Runner) reconcile(ctx context.Context, run *cycleRun) {
	var totals PhaseTotals
	defer func() {
		run.res.record(PhaseReconcile, totals)
		r.progress(run, PhaseReconcile)
	}()

	entries, err := r.store.ActiveEntries(ctx)
	if err != nil {
		if ctx.Err() == nil {
			totals.Errors++
			metrics.IncCycleStageFailure("reconcile")
			r.logger.Error().
				Str("event", "cycle.reconcile.failed").
				Err(err).
				Msg("active entries unavailable, reconcile skipped")
		}
		return
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		totals.Scanned++
		verr := relocate.VerifyActive(&e)
		if verr == nil {
			continue
		}
		if err := r.store.MarkOrphaned(ctx, e.ID); err != nil {
			totals.Errors++
			r.logger.Error().
				Str("event", "cycle.reconcile.mark_failed").
				Str("entry_id", e.ID).
				Err(err).
				Msg("orphan not recorded")
			continue
		}
		metrics.IncOrphan("flagged")
		totals.Orphaned++
		r.logger.Warn().
			Str("event", "cycle.reconcile.orphan").
			Str("entry_id", e.ID).
			Str("logical_path", e.LogicalPath).
			Err(verr).
			Msg("active entry failed verification")
	}
	if ctx.Err() != nil {
		return
	}

	r.sweepStrays(ctx, run, &totals)
	if ctx.Err() != nil {
		return
	}

	if window := run.snap.App.Retention.Removed; window > 0 {
		pruned, err := r.store.PruneRemoved(ctx, window)
		if err != nil {
			totals.Errors++
			r.logger.Error().
				Str("event", "cycle.reconcile.prune_failed").
				Err(err).
				Msg("removed rows not pruned")
		} else if pruned > 0 {
			r.logger.Debug().
				Str("event", "cycle.reconcile.pruned").
				Int64("rows", pruned).
				Msg("removed rows pruned")
		}
	}
	if ctx.Err() != nil {
		return
	}

	if err := r.reloc.Recover(ctx); err != nil && ctx.Err() == nil {
		totals.Errors++
		metrics.IncCycleStageFailure("reconcile")
		r.logger.Error().
			Str("event", "cycle.sweep.failed").
			Err(err).
			Msg("lifecycle sweep failed")
	}
}

// sweepStrays walks the fast tier for regular files no live row claims.
// Depending on configuration a stray is adopted as an orphaned entry
// for cleanup to manage, or deleted on sight.
func (r *Runner) sweepStrays(ctx context.Context, run *cycleRun, totals *PhaseTotals) {
	inUse, err := r.store.FastPathsInUse(ctx)
	if err != nil {
		if ctx.Err() == nil {
			totals.Errors++
			metrics.IncCycleStageFailure("reconcile")
			r.logger.Error().
				Str("event", "cycle.reconcile.stray_scan_failed").
				Err(err).
				Msg("fast paths unavailable, stray sweep skipped")
		}
		return
	}

	adopt := run.snap.App.Cache.AdoptStrays
	root := run.snap.App.Cache.FastRoot
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if _, claimed := inUse[path]; claimed {
			return nil
		}
		totals.Scanned++

		if !adopt {
			if err := os.Remove(path); err != nil {
				totals.Errors++
				r.logger.Error().
					Str("event", "cycle.reconcile.stray_delete_failed").
					Str("path", path).
					Err(err).
					Msg("stray not deleted")
				return nil
			}
			metrics.IncOrphan("removed")
			r.logger.Warn().
				Str("event", "cycle.reconcile.stray_deleted").
				Str("path", path).
				Msg("unclaimed fast-tier file deleted")
			return nil
		}

		var size int64
		if info, ierr := d.Info(); ierr == nil {
			size = info.Size()
		}
		if _, aerr := r.store.AdoptStray(ctx, path, size); aerr != nil {
			totals.Errors++
			r.logger.Error().
				Str("event", "cycle.reconcile.adopt_failed").
				Str("path", path).
				Err(aerr).
				Msg("stray not adopted")
			return nil
		}
		metrics.IncOrphan("flagged")
		totals.Orphaned++
		r.logger.Warn().
			Str("event", "cycle.reconcile.stray_adopted").
			Str("path", path).
			Msg("unclaimed fast-tier file adopted for cleanup")
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) && ctx.Err() == nil {
		totals.Errors++
		r.logger.Error().
			Str("event", "cycle.reconcile.walk_failed").
			Str("root", root).
			Err(err).
			Msg("fast tier walk failed")
	}
}
