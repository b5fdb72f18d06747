// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package relocate

import (
	"context"
	"fmt"
	"os"

	"github.com/ManuGH/stagecache/internal/tracker"
)

// Recover repairs relocations interrupted by a crash. The tracker rows
// were written before any filesystem change, so together with an Lstat
// of the logical path they identify exactly how far each operation got.
// Idempotent: a crash during recovery is handled by the next run.
func (r *Relocator) Recover(ctx context.Context) error {
	entries, err := r.store.EntriesInStatus(ctx, tracker.StatusStaging, tracker.StatusPendingRemoval)
	if err != nil {
		return err
	}
	var failed int
	for i := range entries {
		e := &entries[i]
		unlock := r.locks.lock(e.LogicalPath)
		var rerr error
		switch e.Status {
		case tracker.StatusStaging:
			rerr = r.recoverStaging(ctx, e)
		case tracker.StatusPendingRemoval:
			rerr = r.recoverPendingRemoval(ctx, e)
		}
		unlock()
		if rerr != nil {
			failed++
			r.logger.Error().
				Str("event", "relocate.recover.failed").
				Str("id", e.ID).
				Str("logical_path", e.LogicalPath).
				Err(rerr).
				Msg("entry left for the next recovery pass")
		}
	}
	if len(entries) > 0 {
		r.logger.Info().
			Str("event", "relocate.recover.done").
			Int("entries", len(entries)).
			Int("failed", failed).
			Msg("interrupted relocations reconciled")
	}
	return nil
}

// recoverStaging finishes or unwinds an interrupted cache. If the link
// swap already committed the fast copy is complete (the swap happens
// only after fsync), so the entry rolls forward to active. Otherwise
// the partial copy and the row are scrapped.
func (r *Relocator) recoverStaging(ctx context.Context, e *tracker.Entry) error {
	if r.symlinkIntact(e.LogicalPath, e.FastPath) {
		info, err := os.Stat(e.FastPath)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRead, err)
		}
		if err := r.store.MarkActive(ctx, e.ID, info.Size(), e.Checksum); err != nil {
			return err
		}
		r.logger.Info().
			Str("event", "relocate.recover.rolled_forward").
			Str("id", e.ID).
			Str("logical_path", e.LogicalPath).
			Msg("link swap had committed, entry activated")
		return nil
	}

	_ = os.Remove(tempLinkPath(e))
	if err := os.Remove(e.FastPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := r.store.DeleteStaging(ctx, e.ID); err != nil {
		return err
	}
	r.logger.Info().
		Str("event", "relocate.recover.staging_dropped").
		Str("id", e.ID).
		Str("logical_path", e.LogicalPath).
		Msg("partial cache operation unwound")
	return nil
}

// recoverPendingRemoval resumes an interrupted restore. The branch is
// chosen by what the logical path is now: still our symlink means the
// copy-back never finished, a regular file means only the cleanup is
// missing, anything else is operator interference.
func (r *Relocator) recoverPendingRemoval(ctx context.Context, e *tracker.Entry) error {
	info, err := os.Lstat(e.LogicalPath)
	switch {
	case err == nil && info.Mode()&os.ModeSymlink != 0:
		if !r.symlinkIntact(e.LogicalPath, e.FastPath) {
			if err := r.store.MarkOrphaned(ctx, e.ID); err != nil {
				return err
			}
			return fmt.Errorf("logical path %s links elsewhere, entry orphaned", e.LogicalPath)
		}
		if _, err := os.Stat(e.FastPath); err != nil {
			// Both the original and the fast copy are gone. Nothing left
			// to restore from; flag it for the operator.
			_ = r.store.MarkOrphaned(ctx, e.ID)
			return fmt.Errorf("fast copy missing for pending entry %s: %v", e.ID, err)
		}
		if err := r.restoreFiles(ctx, e); err != nil {
			return err
		}
		if err := r.store.MarkRemoved(ctx, e.ID); err != nil {
			return err
		}
		r.logger.Info().
			Str("event", "relocate.recover.restore_resumed").
			Str("id", e.ID).
			Str("logical_path", e.LogicalPath).
			Msg("interrupted restore completed")
		return nil

	case err == nil && info.Mode().IsRegular():
		// The copy-back committed before the crash; only the fast copy
		// and the row are left to clean.
		if err := os.Remove(e.FastPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: %v", ErrWrite, err)
		}
		_ = os.Remove(tempRestorePath(e))
		if err := r.store.MarkRemoved(ctx, e.ID); err != nil {
			return err
		}
		r.logger.Info().
			Str("event", "relocate.recover.restore_finished").
			Str("id", e.ID).
			Str("logical_path", e.LogicalPath).
			Msg("restore cleanup completed")
		return nil

	default:
		_ = r.store.MarkOrphaned(ctx, e.ID)
		return fmt.Errorf("logical path %s unreadable during recovery: %v", e.LogicalPath, err)
	}
}
