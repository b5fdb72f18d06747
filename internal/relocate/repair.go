// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package relocate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ManuGH/stagecache/internal/tracker"
)

// RepairAction says how RepairOrphan disposed of an entry.
type RepairAction string

const (
	// RepairRestored means the fast copy held the only data and was
	// copied back to the original location.
	RepairRestored RepairAction = "restored"
	// RepairReleased means the slow tier was authoritative, or nothing
	// was left on disk; the fast copy was dropped.
	RepairReleased RepairAction = "released"
	// RepairUnlinked means the fast copy was gone and the logical path
	// still dangled at it; the dead link was removed.
	RepairUnlinked RepairAction = "unlinked"
)

// VerifyActive checks what an active entry promises: the logical path
// is a symlink pointing at the entry's fast file, and that file exists.
func VerifyActive(e *tracker.Entry) error {
	fi, err := os.Lstat(e.LogicalPath)
	if err != nil {
		return fmt.Errorf("logical path: %w", err)
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		return errors.New("logical path is not a symlink")
	}
	target, err := os.Readlink(e.LogicalPath)
	if err != nil {
		return fmt.Errorf("readlink: %w", err)
	}
	if target != e.FastPath {
		return fmt.Errorf("symlink points at %q, want %q", target, e.FastPath)
	}
	if _, err := os.Stat(e.FastPath); err != nil {
		return fmt.Errorf("fast file: %w", err)
	}
	return nil
}

// RepairOrphan disposes of an orphaned entry based on what survives on
// disk. Data is never discarded while the fast copy is its last home: a
// logical path that vanished, or that still links at an existing fast
// copy, gets the data copied back before anything is removed. Every
// successful branch ends with the row marked removed.
func (r *Relocator) RepairOrphan(ctx context.Context, entry *tracker.Entry) (RepairAction, error) {
	unlock := r.locks.lock(entry.LogicalPath)
	defer unlock()

	info, lerr := os.Lstat(entry.LogicalPath)
	switch {
	case lerr == nil && info.Mode().IsRegular():
		// The slow tier holds real data again, the fast copy is stale.
		// Adopted strays land here too: their logical path is the fast
		// copy itself, so dropping it disposes of the stray.
		return r.release(ctx, entry)

	case lerr == nil && info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(entry.LogicalPath)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrRead, err)
		}
		if target != entry.FastPath {
			// Re-pointed by an operator; whatever it links at now is not
			// ours to manage.
			return r.release(ctx, entry)
		}
		if _, err := os.Stat(entry.FastPath); err != nil {
			if !os.IsNotExist(err) {
				return "", fmt.Errorf("%w: %v", ErrRead, err)
			}
			// Only the link survives. Removing it lets upstream tooling
			// re-acquire the title instead of choking on a dead path.
			if err := os.Remove(entry.LogicalPath); err != nil && !os.IsNotExist(err) {
				return "", fmt.Errorf("%w: %v", ErrWrite, err)
			}
			if err := r.store.MarkRemoved(ctx, entry.ID); err != nil {
				return "", err
			}
			r.logRepair(entry, RepairUnlinked)
			return RepairUnlinked, nil
		}
		return r.salvage(ctx, entry)

	case os.IsNotExist(lerr):
		if _, err := os.Stat(entry.FastPath); err != nil {
			if !os.IsNotExist(err) {
				return "", fmt.Errorf("%w: %v", ErrRead, err)
			}
			// Nothing left on either tier; just retire the row.
			if err := r.store.MarkRemoved(ctx, entry.ID); err != nil {
				return "", err
			}
			r.logRepair(entry, RepairReleased)
			return RepairReleased, nil
		}
		return r.salvage(ctx, entry)

	default:
		return "", fmt.Errorf("%w: %v", ErrRead, lerr)
	}
}

// release drops the fast copy and any temp leftovers, keeping whatever
// the logical path holds.
func (r *Relocator) release(ctx context.Context, entry *tracker.Entry) (RepairAction, error) {
	if err := os.Remove(entry.FastPath); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}
	_ = os.Remove(tempLinkPath(entry))
	_ = os.Remove(tempRestorePath(entry))
	if err := r.store.MarkRemoved(ctx, entry.ID); err != nil {
		return "", err
	}
	r.logRepair(entry, RepairReleased)
	return RepairReleased, nil
}

// salvage copies the fast data back to the original location and drops
// the fast copy. Rides the restore machinery, so it emits restore
// progress and completion events.
func (r *Relocator) salvage(ctx context.Context, entry *tracker.Entry) (RepairAction, error) {
	start := time.Now()
	if err := r.restoreFiles(ctx, entry); err != nil {
		r.completeOp(entry.ID, opRestore, entry.LogicalPath, start, 0, err)
		return "", err
	}
	if err := r.store.MarkRemoved(ctx, entry.ID); err != nil {
		return "", err
	}
	r.completeOp(entry.ID, opRestore, entry.LogicalPath, start, entry.SizeBytes, nil)
	r.logRepair(entry, RepairRestored)
	return RepairRestored, nil
}

func (r *Relocator) logRepair(entry *tracker.Entry, action RepairAction) {
	r.logger.Info().
		Str("event", "relocate.repair").
		Str("id", entry.ID).
		Str("logical_path", entry.LogicalPath).
		Str("action", string(action)).
		Msg("orphaned entry repaired")
}
