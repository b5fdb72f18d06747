// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package command

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/stagecache/internal/tracker"
)

func TestExport_JSON(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cache(t, f.writeMovie(t, "one.mkv", 1024))
	f.cache(t, f.writeMovie(t, "two.mkv", 2048))

	data, err := f.cmds.Export(ctx, FormatJSON, tracker.Filter{}, "owner")
	require.NoError(t, err)

	var entries []tracker.Entry
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, 2)
	assert.NotEmpty(t, entries[0].ID)
	assert.Equal(t, tracker.StatusActive, entries[0].Status)
}

func TestExport_CSV(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.writeMovie(t, "csv.mkv", 1024)
	f.cache(t, path)

	data, err := f.cmds.Export(ctx, FormatCSV, tracker.Filter{}, "owner")
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, exportHeader, records[0])
	assert.Equal(t, path, records[1][1])
	assert.Equal(t, string(tracker.StatusActive), records[1][2])
	assert.Equal(t, "1024", records[1][5])
}

func TestExport_Text(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.writeMovie(t, "text.mkv", 1024)
	f.cache(t, path)

	data, err := f.cmds.Export(ctx, FormatText, tracker.Filter{}, "owner")
	require.NoError(t, err)

	out := string(data)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, path)
}

func TestExport_UnknownFormat(t *testing.T) {
	f := newFixture(t)

	_, err := f.cmds.Export(context.Background(), "xml", tracker.Filter{}, "owner")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown export format")
}

func TestExportToFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cache(t, f.writeMovie(t, "file.mkv", 1024))

	target := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, f.cmds.ExportToFile(ctx, FormatJSON, tracker.Filter{}, target, "owner"))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	var entries []tracker.Entry
	require.NoError(t, json.Unmarshal(data, &entries))
	assert.Len(t, entries, 1)
}

func TestExport_PagesThroughLargeSets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// More rows than one query page holds. Rows alone are enough, the
	// export never touches the filesystem.
	total := exportPageSize + 20
	for i := 0; i < total; i++ {
		logical := filepath.Join(f.slow, "movies", fmt.Sprintf("bulk-%04d.mkv", i))
		_, err := f.store.UpsertStaging(ctx, logical, logical,
			filepath.Join(f.fast, "aa", fmt.Sprintf("bulk-%04d.mkv", i)),
			tracker.Attribution{Cause: tracker.CauseOnDeck})
		require.NoError(t, err)
	}

	data, err := f.cmds.Export(ctx, FormatJSON, tracker.Filter{}, "owner")
	require.NoError(t, err)

	var entries []tracker.Entry
	require.NoError(t, json.Unmarshal(data, &entries))
	assert.Len(t, entries, total)
}
