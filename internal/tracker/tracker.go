// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package tracker is the durable record of tier placement. Every cache
// entry, discovered user and import list lives in one SQLite file; all
// state transitions happen inside single transactions so readers never
// observe an intermediate state.
package tracker

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ManuGH/stagecache/internal/persistence/sqlite"
)

// Store provides SQLite persistence for cache entries, users and lists.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the tracker database and applies pending
// schema migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("open tracker: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate tracker: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for health probes.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrations are applied in order; PRAGMA user_version records progress.
var migrations = []string{schemaV1}

const schemaV1 = `
CREATE TABLE entries (
	id TEXT PRIMARY KEY,
	logical_path TEXT NOT NULL,
	original_location_path TEXT NOT NULL,
	fast_tier_path TEXT NOT NULL,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	cached_at TEXT NOT NULL,
	last_accessed_at TEXT NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0,
	cause_operation TEXT NOT NULL,
	cause_user_id TEXT NOT NULL DEFAULT '',
	attributions TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL CHECK(status IN ('staging','active','orphaned','pending_removal','removed')),
	method TEXT NOT NULL DEFAULT 'atomic_copy',
	checksum TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	removal_reason TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);

CREATE UNIQUE INDEX idx_entries_live_path ON entries(logical_path) WHERE status != 'removed';
CREATE INDEX idx_entries_status ON entries(status);
CREATE INDEX idx_entries_cause ON entries(cause_operation);
CREATE INDEX idx_entries_fast_path ON entries(fast_tier_path) WHERE status != 'removed';

CREATE TABLE users (
	id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	kind TEXT NOT NULL CHECK(kind IN ('owner','household','guest')),
	token_opaque TEXT NOT NULL DEFAULT '',
	last_seen TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	priority_bias INTEGER NOT NULL DEFAULT 0,
	settings TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE import_lists (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	provider_kind TEXT NOT NULL,
	provider_config TEXT NOT NULL DEFAULT '{}',
	priority_bias INTEGER NOT NULL DEFAULT 0,
	refresh_period_s INTEGER NOT NULL DEFAULT 0,
	last_refreshed TEXT NOT NULL DEFAULT '',
	mode TEXT NOT NULL DEFAULT 'strict' CHECK(mode IN ('strict','fill')),
	count_cap INTEGER NOT NULL DEFAULT 0
);
`

func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this build supports (%d)", version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		// PRAGMA does not take placeholders; the value is a loop index.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("bump schema version to %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}
	return nil
}
