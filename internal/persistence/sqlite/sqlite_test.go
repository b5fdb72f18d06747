// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sqlite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_AppliesPragmas(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tracker.db")

	db, err := Open(dbPath, DefaultConfig())
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys;").Scan(&fk))
	assert.Equal(t, 1, fk)

	var busy int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout;").Scan(&busy))
	assert.Equal(t, 5000, busy)
}

func TestOpen_CreatesFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "new.db")

	db, err := Open(dbPath, DefaultConfig())
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.Exec("CREATE TABLE probe (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	assert.FileExists(t, dbPath)
}

func TestVerifyIntegrity_Healthy(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "healthy.db")

	db, err := Open(dbPath, DefaultConfig())
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO t (v) VALUES ('a'), ('b')")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	problems, err := VerifyIntegrity(dbPath, "quick")
	require.NoError(t, err)
	assert.Nil(t, problems)

	problems, err = VerifyIntegrity(dbPath, "full")
	require.NoError(t, err)
	assert.Nil(t, problems)
}

func TestVerifyIntegrity_Corrupted(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "corrupt.db")

	db, err := Open(dbPath, DefaultConfig())
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		_, err = db.Exec("INSERT INTO t (v) VALUES (?)", "some payload to fill a page or two")
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	// Stomp bytes in the middle of the file to break a page.
	raw, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	require.Greater(t, len(raw), 2048)
	for i := 1200; i < 1600 && i < len(raw); i++ {
		raw[i] = 0xFF
	}
	require.NoError(t, os.WriteFile(dbPath, raw, 0o600))

	problems, err := VerifyIntegrity(dbPath, "full")
	if err != nil {
		// Some corruption patterns fail at open or query instead of
		// returning diagnostic rows. Either signal is acceptable.
		return
	}
	assert.NotEmpty(t, problems)
}
