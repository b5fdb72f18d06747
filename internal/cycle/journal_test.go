// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package cycle

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeResults(t *testing.T, j *Journal, n int) {
	t.Helper()

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		res := Result{
			ID:        fmt.Sprintf("cycle-%d", i),
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			EndedAt:   base.Add(time.Duration(i)*time.Minute + 30*time.Second),
		}
		res.record(PhaseRetention, PhaseTotals{Scanned: i, Restored: i})
		require.NoError(t, j.Write(res))
	}
}

func TestJournal_RoundTrip(t *testing.T) {
	j := NewJournal(t.TempDir(), 10)
	writeResults(t, j, 3)

	got, err := j.Recent(2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "cycle-2", got[0].ID, "newest first")
	assert.Equal(t, "cycle-1", got[1].ID)
	assert.Equal(t, 2, got[0].Restored)
	assert.Equal(t, 2, got[0].Phases[PhaseRetention].Restored)
	assert.Equal(t, 30*time.Second, got[0].Duration())
}

func TestJournal_PrunesBeyondKeep(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir, 2)
	writeResults(t, j, 5)

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	got, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "cycle-4", got[0].ID)
	assert.Equal(t, "cycle-3", got[1].ID)
}

func TestJournal_SkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir, 10)
	writeResults(t, j, 1)

	// A truncated write from a crash must not hide the healthy records.
	corrupt := filepath.Join(dir, "99990101T000000.000000000Z-broken.json")
	require.NoError(t, os.WriteFile(corrupt, []byte(`{"id": "bro`), 0o640))

	got, err := j.Recent(5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cycle-0", got[0].ID)
}

func TestJournal_RecentOnMissingDir(t *testing.T) {
	j := NewJournal(filepath.Join(t.TempDir(), "never-created"), 5)

	got, err := j.Recent(3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestJournal_KeepFallback(t *testing.T) {
	j := NewJournal(t.TempDir(), 0)
	assert.Equal(t, defaultResultsKeep, j.keep)
}
