// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package relocate

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/stagecache/internal/events"
	"github.com/ManuGH/stagecache/internal/tracker"
)

// sinkFunc adapts a function to events.Sink.
type sinkFunc func(events.Event)

func (f sinkFunc) Publish(ev events.Event) { f(ev) }

// recordingSink captures every published event for assertions.
type recordingSink struct {
	mu  sync.Mutex
	evs []events.Event
}

func (s *recordingSink) Publish(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evs = append(s.evs, ev)
}

func (s *recordingSink) byType(t events.Type) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, ev := range s.evs {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	store *tracker.Store
	sink  *recordingSink
	reloc *Relocator
	slow  string
	fast  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	slow := filepath.Join(dir, "slow")
	fast := filepath.Join(dir, "fast")
	require.NoError(t, os.MkdirAll(filepath.Join(slow, "movies"), 0o750))
	require.NoError(t, os.MkdirAll(fast, 0o750))

	store, err := tracker.Open(filepath.Join(dir, "tracker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sink := &recordingSink{}
	reloc := New(store, sink, Options{
		FastRoot:  fast,
		SlowRoots: []string{slow},
		ChunkSize: 4 * 1024,
	})
	return &fixture{store: store, sink: sink, reloc: reloc, slow: slow, fast: fast}
}

// writeMovie drops size bytes of random content under slow/movies and
// returns the path and the content.
func (f *fixture) writeMovie(t *testing.T, name string, size int) (string, []byte) {
	t.Helper()

	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	path := filepath.Join(f.slow, "movies", name)
	require.NoError(t, os.WriteFile(path, data, 0o640))
	return path, data
}

func TestCacheTo_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path, data := f.writeMovie(t, "heat.mkv", 10*1024)

	entry, err := f.reloc.CacheTo(ctx, path, tracker.Attribution{Cause: tracker.CauseOnDeck, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, tracker.StatusActive, entry.Status)
	assert.Equal(t, int64(10*1024), entry.SizeBytes)

	// Logical path is now a symlink into the fast tier.
	info, err := os.Lstat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)
	target, err := os.Readlink(path)
	require.NoError(t, err)
	assert.Equal(t, entry.FastPath, target)

	// The data moved, byte for byte, with the original mode.
	got, err := os.ReadFile(entry.FastPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
	fastInfo, err := os.Stat(entry.FastPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), fastInfo.Mode().Perm())

	require.NoError(t, f.reloc.RestoreFrom(ctx, entry, "retention_expired"))

	// Back to a plain file with identical content; fast copy released.
	info, err = os.Lstat(path)
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular())
	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
	_, err = os.Stat(entry.FastPath)
	assert.True(t, os.IsNotExist(err))

	final, err := f.store.EntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, tracker.StatusRemoved, final.Status)
	assert.Equal(t, "retention_expired", final.RemovalReason)
}

func TestCacheTo_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path, data := f.writeMovie(t, "dune.mkv", 6*1024)

	first, err := f.reloc.CacheTo(ctx, path, tracker.Attribution{Cause: tracker.CauseOnDeck, UserID: "u1"})
	require.NoError(t, err)
	second, err := f.reloc.CacheTo(ctx, path, tracker.Attribution{Cause: tracker.CauseWatchlist, UserID: "u2"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.FastPath, second.FastPath)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))

	// Exactly one fast-tier file exists for the entry.
	inUse, err := f.store.FastPathsInUse(ctx)
	require.NoError(t, err)
	assert.Len(t, inUse, 1)
}

func TestCacheTo_RejectsPathOutsideRoots(t *testing.T) {
	f := newFixture(t)
	outside := filepath.Join(t.TempDir(), "rogue.mkv")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o640))

	_, err := f.reloc.CacheTo(context.Background(), outside, tracker.Attribution{Cause: tracker.CauseManual})
	assert.ErrorIs(t, err, ErrRead)
}

func TestCacheTo_RejectsForeignSymlink(t *testing.T) {
	f := newFixture(t)
	target, _ := f.writeMovie(t, "real.mkv", 1024)
	link := filepath.Join(f.slow, "movies", "link.mkv")
	require.NoError(t, os.Symlink(target, link))

	_, err := f.reloc.CacheTo(context.Background(), link, tracker.Attribution{Cause: tracker.CauseManual})
	assert.ErrorIs(t, err, ErrRead)
	assert.ErrorContains(t, err, "not owned by the cache")
}

func TestCacheTo_RejectsMissingFile(t *testing.T) {
	f := newFixture(t)

	_, err := f.reloc.CacheTo(context.Background(), filepath.Join(f.slow, "movies", "ghost.mkv"), tracker.Attribution{Cause: tracker.CauseManual})
	assert.ErrorIs(t, err, ErrRead)
}

func TestTryCacheTo_Contended(t *testing.T) {
	f := newFixture(t)
	path, _ := f.writeMovie(t, "busy.mkv", 1024)

	unlock := f.reloc.locks.lock(path)
	defer unlock()

	_, err := f.reloc.TryCacheTo(context.Background(), path, tracker.Attribution{Cause: tracker.CauseManual})
	assert.ErrorIs(t, err, ErrContended)
}

func TestCacheTo_CancelledMidCopyRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel as soon as the first chunk reports progress; the copy stops
	// at the next chunk boundary.
	f.reloc.sink = sinkFunc(func(ev events.Event) {
		if ev.Type == events.TypeOperationProgress {
			cancel()
		}
	})
	path, data := f.writeMovie(t, "large.mkv", 64*1024)

	_, err := f.reloc.CacheTo(ctx, path, tracker.Attribution{Cause: tracker.CauseOnDeck})
	require.ErrorIs(t, err, ErrCancelled)

	// Original untouched, no partial fast file, no staging row.
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))

	matches, err := filepath.Glob(filepath.Join(f.fast, "*", "*"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = f.store.EntryByLogicalPath(context.Background(), path)
	assert.ErrorIs(t, err, tracker.ErrNotFound)
}

func TestRestoreFrom_RetargetedSymlinkOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path, _ := f.writeMovie(t, "hijack.mkv", 2*1024)

	entry, err := f.reloc.CacheTo(ctx, path, tracker.Attribution{Cause: tracker.CauseOnDeck})
	require.NoError(t, err)

	// Someone re-pointed the logical path behind the daemon's back.
	decoy, _ := f.writeMovie(t, "decoy.mkv", 1024)
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Symlink(decoy, path))

	err = f.reloc.RestoreFrom(ctx, entry, "eviction")
	require.Error(t, err)
	assert.ErrorContains(t, err, "orphaned")

	after, err := f.store.EntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, tracker.StatusOrphaned, after.Status)

	// The foreign symlink is left alone.
	target, err := os.Readlink(path)
	require.NoError(t, err)
	assert.Equal(t, decoy, target)
}

func TestRelocator_PublishesOperationEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path, _ := f.writeMovie(t, "events.mkv", 20*1024)

	entry, err := f.reloc.CacheTo(ctx, path, tracker.Attribution{Cause: tracker.CauseOnDeck})
	require.NoError(t, err)
	require.NoError(t, f.reloc.RestoreFrom(ctx, entry, "eviction"))

	progress := f.sink.byType(events.TypeOperationProgress)
	require.NotEmpty(t, progress)
	first, ok := progress[0].Data.(events.OperationProgress)
	require.True(t, ok)
	assert.Equal(t, entry.ID, first.OperationID)
	assert.Equal(t, "cache", first.OperationType)
	assert.Equal(t, "events.mkv", first.FileName)
	assert.Equal(t, int64(20*1024), first.BytesTotal)

	complete := f.sink.byType(events.TypeOperationComplete)
	require.Len(t, complete, 2)
	cacheDone, ok := complete[0].Data.(events.OperationComplete)
	require.True(t, ok)
	assert.True(t, cacheDone.Success)
	assert.Equal(t, "cache", cacheDone.OperationType)
	assert.Equal(t, int64(20*1024), cacheDone.BytesTransferred)
	restoreDone, ok := complete[1].Data.(events.OperationComplete)
	require.True(t, ok)
	assert.True(t, restoreDone.Success)
	assert.Equal(t, "restore", restoreDone.OperationType)
	assert.Equal(t, path, restoreDone.FilePath)
}

func TestNewFastPath_ShardsAndKeepsExtension(t *testing.T) {
	f := newFixture(t)

	p := f.reloc.newFastPath("/library/movies/Heat (1995).MKV")
	rel, err := filepath.Rel(f.fast, p)
	require.NoError(t, err)

	shard := filepath.Dir(rel)
	name := filepath.Base(rel)
	assert.Len(t, shard, 2)
	assert.Equal(t, shard, name[:2])
	assert.Equal(t, ".mkv", filepath.Ext(name))
}

func TestRestoreFrom_SurvivesStaleTempFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path, data := f.writeMovie(t, "stale.mkv", 4*1024)

	entry, err := f.reloc.CacheTo(ctx, path, tracker.Attribution{Cause: tracker.CauseOnDeck})
	require.NoError(t, err)

	// A crashed earlier restore attempt left a partial temp file behind.
	tmp := tempRestorePath(entry)
	require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0o640))

	require.NoError(t, f.reloc.RestoreFrom(ctx, entry, "eviction"))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
	_, err = os.Stat(tmp)
	assert.True(t, os.IsNotExist(err))
}

func TestErrors_Unwrap(t *testing.T) {
	err := classifyFastWrite(errors.New("boom"))
	assert.ErrorIs(t, err, ErrWrite)
	assert.NotErrorIs(t, err, ErrFastFull)
}
