// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package relocate moves media files between the slow and fast storage
// tiers. A cache operation copies the file onto the fast tier, fsyncs
// it, and atomically swaps a symlink over the logical path; after the
// swap the data lives on the fast tier only. A restore is the inverse.
// Interrupted operations are repaired by Recover at startup using the
// tracker as the journal of record.
package relocate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/stagecache/internal/events"
	"github.com/ManuGH/stagecache/internal/log"
	"github.com/ManuGH/stagecache/internal/platform/fs"
	"github.com/ManuGH/stagecache/internal/tracker"
)

const (
	opCache   = "cache"
	opRestore = "restore"
)

// Options configures a Relocator.
type Options struct {
	// FastRoot is the fast-tier directory all cached copies live under.
	FastRoot string
	// SlowRoots are the library roots eligible for caching. Paths outside
	// every root are refused.
	SlowRoots []string
	// ChunkSize overrides the copy buffer size. Zero means the default.
	ChunkSize int64
}

// Relocator performs atomic cache and restore operations. Concurrent
// operations on distinct paths run in parallel; the same path is
// serialized by an internal lock table.
type Relocator struct {
	store     *tracker.Store
	sink      events.Sink
	logger    zerolog.Logger
	locks     pathLocks
	fastRoot  string
	slowRoots []string
	chunkSize int64
}

// New wires a Relocator to its tracker and event sink. A nil sink
// discards events.
func New(store *tracker.Store, sink events.Sink, opts Options) *Relocator {
	if sink == nil {
		sink = events.NopSink{}
	}
	roots := make([]string, 0, len(opts.SlowRoots))
	for _, r := range opts.SlowRoots {
		roots = append(roots, filepath.Clean(r))
	}
	return &Relocator{
		store:     store,
		sink:      sink,
		logger:    log.WithComponent("relocate"),
		fastRoot:  filepath.Clean(opts.FastRoot),
		slowRoots: roots,
		chunkSize: opts.ChunkSize,
	}
}

// CacheTo places logicalPath on the fast tier, blocking until any other
// operation on the same path finishes. On success the logical path is a
// symlink to the fast copy and the returned entry is active. Calling it
// for a path that is already cached returns the existing entry.
func (r *Relocator) CacheTo(ctx context.Context, logicalPath string, attr tracker.Attribution) (*tracker.Entry, error) {
	unlock := r.locks.lock(logicalPath)
	defer unlock()
	return r.cacheLocked(ctx, filepath.Clean(logicalPath), attr)
}

// TryCacheTo is CacheTo with a non-blocking lock. It returns
// ErrContended when another operation holds the path.
func (r *Relocator) TryCacheTo(ctx context.Context, logicalPath string, attr tracker.Attribution) (*tracker.Entry, error) {
	unlock, ok := r.locks.tryLock(logicalPath)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContended, logicalPath)
	}
	defer unlock()
	return r.cacheLocked(ctx, filepath.Clean(logicalPath), attr)
}

// RestoreFrom moves the entry's data back to its original slow-tier
// location and releases the fast copy. reason is recorded on the entry.
func (r *Relocator) RestoreFrom(ctx context.Context, entry *tracker.Entry, reason string) error {
	unlock := r.locks.lock(entry.LogicalPath)
	defer unlock()
	return r.restoreLocked(ctx, entry, reason)
}

// TryRestoreFrom is RestoreFrom with a non-blocking lock.
func (r *Relocator) TryRestoreFrom(ctx context.Context, entry *tracker.Entry, reason string) error {
	unlock, ok := r.locks.tryLock(entry.LogicalPath)
	if !ok {
		return fmt.Errorf("%w: %s", ErrContended, entry.LogicalPath)
	}
	defer unlock()
	return r.restoreLocked(ctx, entry, reason)
}

func (r *Relocator) cacheLocked(ctx context.Context, logicalPath string, attr tracker.Attribution) (*tracker.Entry, error) {
	start := time.Now()

	info, err := os.Lstat(logicalPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		entry, err := r.store.EntryByLogicalPath(ctx, logicalPath)
		if err == nil && entry.Status == tracker.StatusActive && r.symlinkIntact(logicalPath, entry.FastPath) {
			return entry, nil
		}
		return nil, fmt.Errorf("%w: %s is a symlink not owned by the cache", ErrRead, logicalPath)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file: %s", ErrRead, logicalPath)
	}
	if _, err := fs.RootFor(logicalPath, r.slowRoots); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	size := info.Size()

	fastPath := r.newFastPath(logicalPath)
	entry, err := r.store.UpsertStaging(ctx, logicalPath, logicalPath, fastPath, attr)
	if err != nil {
		return nil, err
	}
	if entry.Status == tracker.StatusActive {
		if r.symlinkIntact(logicalPath, entry.FastPath) {
			return entry, nil
		}
		// An active row but the logical path is a plain file again:
		// something outside the daemon rewrote it. Reconcile owns the
		// repair; refuse to stack a second copy on top.
		_ = r.store.MarkOrphaned(ctx, entry.ID)
		return nil, fmt.Errorf("entry %s is active but %s no longer links to it", entry.ID, logicalPath)
	}
	if entry.FastPath != fastPath {
		// Leftover staging row from an interrupted run. Scrap the partial
		// copy and start over on a fresh fast path.
		r.scrapStaging(ctx, entry)
		entry, err = r.store.UpsertStaging(ctx, logicalPath, logicalPath, fastPath, attr)
		if err != nil {
			return nil, err
		}
	}

	if err := r.stage(ctx, entry, info); err != nil {
		r.completeOp(entry.ID, opCache, logicalPath, start, 0, err)
		return nil, err
	}
	if err := r.commitLink(entry); err != nil {
		r.scrapStaging(ctx, entry)
		r.completeOp(entry.ID, opCache, logicalPath, start, 0, err)
		return nil, err
	}
	if err := r.store.MarkActive(ctx, entry.ID, size, ""); err != nil {
		// The swap is already on disk. Put the file back on the slow tier
		// rather than leave an active symlink the tracker has no record
		// of; if the rollback fails too, startup recovery rolls forward.
		r.logger.Error().
			Str("event", "relocate.activate_failed").
			Str("id", entry.ID).
			Str("logical_path", logicalPath).
			Err(err).
			Msg("tracker write failed after link swap, rolling filesystem back")
		if rbErr := r.rollbackSwap(ctx, entry); rbErr != nil {
			r.logger.Error().
				Str("event", "relocate.rollback_failed").
				Str("id", entry.ID).
				Err(rbErr).
				Msg("rollback failed, recovery will finish the operation")
		}
		r.completeOp(entry.ID, opCache, logicalPath, start, 0, err)
		return nil, err
	}

	entry, err = r.store.EntryByID(ctx, entry.ID)
	if err != nil {
		return nil, err
	}
	r.completeOp(entry.ID, opCache, logicalPath, start, size, nil)
	r.logger.Info().
		Str("event", "relocate.cached").
		Str("id", entry.ID).
		Str("logical_path", logicalPath).
		Str("fast_path", entry.FastPath).
		Int64("size_bytes", size).
		Dur("elapsed", time.Since(start)).
		Msg("file cached to fast tier")
	return entry, nil
}

// stage copies the source file into the fast tier and fsyncs it. On
// failure the partial copy and the staging row are both discarded.
func (r *Relocator) stage(ctx context.Context, entry *tracker.Entry, srcInfo os.FileInfo) error {
	if err := os.MkdirAll(filepath.Dir(entry.FastPath), 0o750); err != nil {
		return classifyFastWrite(err)
	}
	src, err := os.Open(entry.LogicalPath) // #nosec G304 -- confined to the slow roots above
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRead, err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(entry.FastPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, srcInfo.Mode().Perm()) // #nosec G304 -- path is a fresh uuid under the fast root
	if err != nil {
		return classifyFastWrite(err)
	}

	report := r.progressReporter(entry.ID, opCache, filepath.Base(entry.LogicalPath), srcInfo.Size(), time.Now())
	if _, err := copyChunks(ctx, dst, src, r.chunkSize, report); err != nil {
		_ = dst.Close()
		r.scrapStaging(ctx, entry)
		return err
	}
	if err := dst.Sync(); err != nil {
		_ = dst.Close()
		r.scrapStaging(ctx, entry)
		return classifyFastWrite(err)
	}
	if err := dst.Close(); err != nil {
		r.scrapStaging(ctx, entry)
		return classifyFastWrite(err)
	}
	preserveOwner(entry.FastPath, srcInfo)
	return nil
}

// commitLink swaps a symlink over the logical path. The temp link name
// is derived from the entry ID so a crashed attempt leaves nothing an
// onlooker cannot trace back and recovery cannot clean up.
func (r *Relocator) commitLink(entry *tracker.Entry) error {
	tmp := tempLinkPath(entry)
	_ = os.Remove(tmp)
	if err := os.Symlink(entry.FastPath, tmp); err != nil {
		return classifySymlink(err)
	}
	if err := os.Rename(tmp, entry.LogicalPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := fs.SyncDir(filepath.Dir(entry.LogicalPath)); err != nil {
		r.logger.Warn().
			Str("event", "relocate.dir_sync_failed").
			Str("dir", filepath.Dir(entry.LogicalPath)).
			Err(err).
			Msg("link swap committed but directory not yet durable")
	}
	return nil
}

func (r *Relocator) restoreLocked(ctx context.Context, entry *tracker.Entry, reason string) error {
	start := time.Now()

	if !r.symlinkIntact(entry.LogicalPath, entry.FastPath) {
		_ = r.store.MarkOrphaned(ctx, entry.ID)
		err := fmt.Errorf("logical path %s no longer links to %s, entry orphaned", entry.LogicalPath, entry.FastPath)
		r.completeOp(entry.ID, opRestore, entry.LogicalPath, start, 0, err)
		return err
	}
	if err := r.store.MarkPendingRemoval(ctx, entry.ID, reason); err != nil {
		return err
	}
	if err := r.restoreFiles(ctx, entry); err != nil {
		r.completeOp(entry.ID, opRestore, entry.LogicalPath, start, 0, err)
		return err
	}
	if err := r.store.MarkRemoved(ctx, entry.ID); err != nil {
		return err
	}
	r.completeOp(entry.ID, opRestore, entry.LogicalPath, start, entry.SizeBytes, nil)
	r.logger.Info().
		Str("event", "relocate.restored").
		Str("id", entry.ID).
		Str("logical_path", entry.LogicalPath).
		Str("reason", reason).
		Dur("elapsed", time.Since(start)).
		Msg("file restored to slow tier")
	return nil
}

// restoreFiles copies the fast copy back over the logical symlink and
// deletes the fast file. Shared with crash recovery, so it tolerates a
// partial temp file from an earlier attempt.
func (r *Relocator) restoreFiles(ctx context.Context, entry *tracker.Entry) error {
	src, err := os.Open(entry.FastPath) // #nosec G304 -- tracker-recorded fast path
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRead, err)
	}
	defer func() { _ = src.Close() }()
	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRead, err)
	}

	tmp := tempRestorePath(entry)
	_ = os.Remove(tmp)
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm()) // #nosec G304 -- sibling of the tracked original path
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	report := r.progressReporter(entry.ID, opRestore, filepath.Base(entry.LogicalPath), info.Size(), time.Now())
	if _, err := copyChunks(ctx, dst, src, r.chunkSize, report); err != nil {
		_ = dst.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := dst.Sync(); err != nil {
		_ = dst.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	preserveOwner(tmp, info)

	if err := os.Rename(tmp, entry.OriginalPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := fs.SyncDir(filepath.Dir(entry.OriginalPath)); err != nil {
		r.logger.Warn().
			Str("event", "relocate.dir_sync_failed").
			Str("dir", filepath.Dir(entry.OriginalPath)).
			Err(err).
			Msg("restore committed but directory not yet durable")
	}
	if err := os.Remove(entry.FastPath); err != nil && !os.IsNotExist(err) {
		// The data is safe on the slow tier; the stray scan collects the
		// leftover fast copy later.
		r.logger.Warn().
			Str("event", "relocate.fast_remove_failed").
			Str("fast_path", entry.FastPath).
			Err(err).
			Msg("fast copy left behind after restore")
	}
	return nil
}

// rollbackSwap undoes a committed link swap whose activation could not
// be recorded. Cleanup uses a detached context so a cancelled caller
// does not strand the row.
func (r *Relocator) rollbackSwap(ctx context.Context, entry *tracker.Entry) error {
	cleanupCtx := context.WithoutCancel(ctx)
	if err := r.restoreFiles(cleanupCtx, entry); err != nil {
		return err
	}
	return r.store.DeleteStaging(cleanupCtx, entry.ID)
}

// scrapStaging removes a partial fast copy and its staging row. Failures
// are logged, not returned: recovery handles whatever survives.
func (r *Relocator) scrapStaging(ctx context.Context, entry *tracker.Entry) {
	if err := os.Remove(entry.FastPath); err != nil && !os.IsNotExist(err) {
		r.logger.Warn().
			Str("event", "relocate.scrap_failed").
			Str("fast_path", entry.FastPath).
			Err(err).
			Msg("partial fast copy left behind")
	}
	if err := r.store.DeleteStaging(context.WithoutCancel(ctx), entry.ID); err != nil && !errors.Is(err, tracker.ErrNotFound) {
		r.logger.Warn().
			Str("event", "relocate.scrap_failed").
			Str("id", entry.ID).
			Err(err).
			Msg("staging row survives until recovery")
	}
}

// newFastPath computes a never-reused fast-tier location: a two-hex
// shard directory plus a fresh uuid carrying the source extension.
func (r *Relocator) newFastPath(logicalPath string) string {
	id := uuid.NewString()
	return filepath.Join(r.fastRoot, id[:2], id+strings.ToLower(filepath.Ext(logicalPath)))
}

// symlinkIntact reports whether logicalPath is a symlink pointing
// exactly at fastPath.
func (r *Relocator) symlinkIntact(logicalPath, fastPath string) bool {
	info, err := os.Lstat(logicalPath)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return false
	}
	target, err := os.Readlink(logicalPath)
	return err == nil && target == fastPath
}

func (r *Relocator) completeOp(id, opType, path string, start time.Time, bytes int64, opErr error) {
	done := events.OperationComplete{
		OperationID:      id,
		OperationType:    opType,
		FilePath:         path,
		Success:          opErr == nil,
		DurationSeconds:  time.Since(start).Seconds(),
		BytesTransferred: bytes,
	}
	if opErr != nil {
		done.Error = opErr.Error()
	}
	r.sink.Publish(events.New(events.TypeOperationComplete, done))
}

// tempLinkPath is where the replacement symlink is built before the
// rename. Deterministic per entry so recovery can remove leftovers.
func tempLinkPath(e *tracker.Entry) string {
	dir := filepath.Dir(e.LogicalPath)
	return filepath.Join(dir, fmt.Sprintf(".%s.stc-%s", filepath.Base(e.LogicalPath), e.ID))
}

// tempRestorePath is the staging name for a restore copy, a sibling of
// the original location so the final rename stays on one filesystem.
func tempRestorePath(e *tracker.Entry) string {
	dir := filepath.Dir(e.OriginalPath)
	return filepath.Join(dir, fmt.Sprintf(".%s.stc-restore-%s", filepath.Base(e.OriginalPath), e.ID))
}
