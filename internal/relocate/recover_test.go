// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package relocate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/stagecache/internal/tracker"
)

func TestRecover_ScrapsStagingWithoutSwap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path, data := f.writeMovie(t, "crashmid.mkv", 8*1024)

	// Crash mid-copy: staging row, partial fast file, stale temp link.
	fastPath := f.reloc.newFastPath(path)
	entry, err := f.store.UpsertStaging(ctx, path, path, fastPath, tracker.Attribution{Cause: tracker.CauseOnDeck})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(fastPath), 0o750))
	require.NoError(t, os.WriteFile(fastPath, data[:1024], 0o640))
	require.NoError(t, os.Symlink(fastPath, tempLinkPath(entry)))

	require.NoError(t, f.reloc.Recover(ctx))

	// Original untouched, partial copy and temp link gone, row dropped.
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
	_, err = os.Stat(fastPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Lstat(tempLinkPath(entry))
	assert.True(t, os.IsNotExist(err))
	_, err = f.store.EntryByID(ctx, entry.ID)
	assert.ErrorIs(t, err, tracker.ErrNotFound)
}

func TestRecover_RollsForwardCommittedSwap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path, data := f.writeMovie(t, "crashlate.mkv", 8*1024)

	// Crash between the link swap and activation: the fast copy is
	// complete and the logical path already links to it, but the row is
	// still staging.
	fastPath := f.reloc.newFastPath(path)
	entry, err := f.store.UpsertStaging(ctx, path, path, fastPath, tracker.Attribution{Cause: tracker.CauseOnDeck})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(fastPath), 0o750))
	require.NoError(t, os.WriteFile(fastPath, data, 0o640))
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Symlink(fastPath, path))

	require.NoError(t, f.reloc.Recover(ctx))

	after, err := f.store.EntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, tracker.StatusActive, after.Status)
	assert.Equal(t, int64(8*1024), after.SizeBytes)

	target, err := os.Readlink(path)
	require.NoError(t, err)
	assert.Equal(t, fastPath, target)
}

func TestRecover_ResumesInterruptedRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path, data := f.writeMovie(t, "halfway.mkv", 8*1024)

	entry, err := f.reloc.CacheTo(ctx, path, tracker.Attribution{Cause: tracker.CauseOnDeck})
	require.NoError(t, err)
	// Crash after the intent was journaled but before the copy-back.
	require.NoError(t, f.store.MarkPendingRemoval(ctx, entry.ID, "eviction"))

	require.NoError(t, f.reloc.Recover(ctx))

	info, err := os.Lstat(path)
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular())
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
	_, err = os.Stat(entry.FastPath)
	assert.True(t, os.IsNotExist(err))

	after, err := f.store.EntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, tracker.StatusRemoved, after.Status)
}

func TestRecover_FinishesRestoredCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path, data := f.writeMovie(t, "almostdone.mkv", 8*1024)

	entry, err := f.reloc.CacheTo(ctx, path, tracker.Attribution{Cause: tracker.CauseOnDeck})
	require.NoError(t, err)
	require.NoError(t, f.store.MarkPendingRemoval(ctx, entry.ID, "eviction"))
	// Crash after the copy-back rename: the logical path is a regular
	// file again but the fast copy was never released.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.WriteFile(path, data, 0o640))

	require.NoError(t, f.reloc.Recover(ctx))

	_, err = os.Stat(entry.FastPath)
	assert.True(t, os.IsNotExist(err))
	after, err := f.store.EntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, tracker.StatusRemoved, after.Status)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestRecover_OrphansRetargetedPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path, _ := f.writeMovie(t, "moved.mkv", 2*1024)

	entry, err := f.reloc.CacheTo(ctx, path, tracker.Attribution{Cause: tracker.CauseOnDeck})
	require.NoError(t, err)
	require.NoError(t, f.store.MarkPendingRemoval(ctx, entry.ID, "eviction"))

	decoy, _ := f.writeMovie(t, "elsewhere.mkv", 1024)
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Symlink(decoy, path))

	require.NoError(t, f.reloc.Recover(ctx))

	after, err := f.store.EntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, tracker.StatusOrphaned, after.Status)
}

func TestRecover_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path, data := f.writeMovie(t, "twice.mkv", 8*1024)

	entry, err := f.reloc.CacheTo(ctx, path, tracker.Attribution{Cause: tracker.CauseOnDeck})
	require.NoError(t, err)
	require.NoError(t, f.store.MarkPendingRemoval(ctx, entry.ID, "eviction"))

	require.NoError(t, f.reloc.Recover(ctx))
	require.NoError(t, f.reloc.Recover(ctx))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
	after, err := f.store.EntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, tracker.StatusRemoved, after.Status)
}
