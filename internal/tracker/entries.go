// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const entryColumns = `id, logical_path, original_location_path, fast_tier_path, size_bytes,
	cached_at, last_accessed_at, access_count, cause_operation, cause_user_id,
	attributions, status, method, checksum, metadata, removal_reason, updated_at`

// timeLayout pins a fixed-width UTC form so timestamp strings compare
// correctly inside SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func encodeStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func encodeStringMap(m map[string]string) string {
	if m == nil {
		m = map[string]string{}
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func mergeAttribution(existing []string, userID string) []string {
	if userID == "" {
		return existing
	}
	for _, id := range existing {
		if id == userID {
			return existing
		}
	}
	out := append(append([]string(nil), existing...), userID)
	sort.Strings(out)
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc rowScanner) (Entry, error) {
	var (
		e            Entry
		cachedAt     string
		lastAccessed string
		updatedAt    string
		attributions string
		metadata     string
	)
	err := sc.Scan(&e.ID, &e.LogicalPath, &e.OriginalPath, &e.FastPath, &e.SizeBytes,
		&cachedAt, &lastAccessed, &e.AccessCount, &e.CauseOperation, &e.CauseUserID,
		&attributions, &e.Status, &e.Method, &e.Checksum, &metadata, &e.RemovalReason, &updatedAt)
	if err != nil {
		return Entry{}, err
	}

	e.CachedAt = parseTime(cachedAt)
	e.LastAccessedAt = parseTime(lastAccessed)
	e.UpdatedAt = parseTime(updatedAt)
	if err := json.Unmarshal([]byte(attributions), &e.Attributions); err != nil {
		return Entry{}, fmt.Errorf("decode attributions for %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
		return Entry{}, fmt.Errorf("decode metadata for %s: %w", e.ID, err)
	}
	return e, nil
}

func entryByID(ctx context.Context, q querier, id string) (*Entry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: entry %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func entryByLivePath(ctx context.Context, q querier, logicalPath string) (*Entry, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE logical_path = ? AND status != ?`,
		logicalPath, StatusRemoved)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no live entry for %s", ErrNotFound, logicalPath)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// UpsertStaging creates a staging row for a relocation about to start.
// A path that is already staging or active returns the existing entry
// with the attribution merged in; orphaned and pending_removal rows are
// a conflict the caller has to resolve first.
func (s *Store) UpsertStaging(ctx context.Context, logicalPath, originalPath, fastPath string, attr Attribution) (*Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := entryByLivePath(ctx, tx, logicalPath)
	switch {
	case err == nil:
		switch existing.Status {
		case StatusStaging, StatusActive:
			merged := mergeAttribution(existing.Attributions, attr.UserID)
			if len(merged) != len(existing.Attributions) {
				now := fmtTime(time.Now())
				if _, err := tx.ExecContext(ctx,
					`UPDATE entries SET attributions = ?, updated_at = ? WHERE id = ?`,
					encodeStrings(merged), now, existing.ID); err != nil {
					return nil, err
				}
				existing.Attributions = merged
			}
			if err := tx.Commit(); err != nil {
				return nil, err
			}
			return existing, nil
		default:
			return nil, fmt.Errorf("%w: logical path %s is %s", ErrConflict, logicalPath, existing.Status)
		}
	case errors.Is(err, ErrNotFound):
		// fall through to insert
	default:
		return nil, err
	}

	now := time.Now().UTC()
	e := Entry{
		ID:             uuid.NewString(),
		LogicalPath:    logicalPath,
		OriginalPath:   originalPath,
		FastPath:       fastPath,
		CachedAt:       now,
		LastAccessedAt: now,
		CauseOperation: attr.Cause,
		CauseUserID:    attr.UserID,
		Attributions:   mergeAttribution(nil, attr.UserID),
		Status:         StatusStaging,
		Method:         MethodAtomicCopy,
		Metadata:       map[string]string{},
		UpdatedAt:      now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.LogicalPath, e.OriginalPath, e.FastPath, e.SizeBytes,
		fmtTime(e.CachedAt), fmtTime(e.LastAccessedAt), e.AccessCount, e.CauseOperation, e.CauseUserID,
		encodeStrings(e.Attributions), e.Status, e.Method, e.Checksum, encodeStringMap(e.Metadata),
		e.RemovalReason, fmtTime(e.UpdatedAt))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &e, nil
}

// MarkActive commits a staged entry after the symlink swap succeeded.
// The cached_at clock restarts at activation.
func (s *Store) MarkActive(ctx context.Context, id string, sizeBytes int64, checksum string) error {
	now := fmtTime(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE entries
		SET status = ?, size_bytes = ?, checksum = ?, cached_at = ?, last_accessed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		StatusActive, sizeBytes, checksum, now, now, now, id, StatusStaging)
	if err != nil {
		return err
	}
	return s.requireTransition(ctx, res, id, StatusActive)
}

// MarkPendingRemoval selects an active entry for restore. Calling it on
// an entry already pending is a no-op so removals are safe to retry.
func (s *Store) MarkPendingRemoval(ctx context.Context, id, reason string) error {
	now := fmtTime(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE entries
		SET status = ?, removal_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		StatusPendingRemoval, reason, now, id, StatusActive)
	if err != nil {
		return err
	}
	return s.requireTransition(ctx, res, id, StatusPendingRemoval)
}

// MarkRemoved finishes the lifecycle once the fast file is gone and the
// original location is restored.
func (s *Store) MarkRemoved(ctx context.Context, id string) error {
	now := fmtTime(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE entries
		SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		StatusRemoved, now, id, StatusPendingRemoval, StatusOrphaned)
	if err != nil {
		return err
	}
	return s.requireTransition(ctx, res, id, StatusRemoved)
}

// MarkOrphaned flags an entry whose symlink or fast file no longer
// matches the tracker's record. Orphans are repairable via cleanup.
func (s *Store) MarkOrphaned(ctx context.Context, id string) error {
	now := fmtTime(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE entries
		SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		StatusOrphaned, now, id, StatusActive, StatusPendingRemoval)
	if err != nil {
		return err
	}
	return s.requireTransition(ctx, res, id, StatusOrphaned)
}

// requireTransition resolves a zero-row UPDATE into the precise error:
// missing row, already in the target state (idempotent success), or a
// transition the lifecycle forbids.
func (s *Store) requireTransition(ctx context.Context, res sql.Result, id string, want Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	current, err := entryByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if current.Status == want {
		return nil
	}
	return fmt.Errorf("%w: entry %s is %s, cannot become %s", ErrConflict, id, current.Status, want)
}

// Touch bumps last_accessed_at and access_count and records the accessing
// user in the attributions set.
func (s *Store) Touch(ctx context.Context, id, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	e, err := entryByID(ctx, tx, id)
	if err != nil {
		return err
	}
	if e.Status == StatusRemoved {
		return fmt.Errorf("%w: entry %s is removed", ErrConflict, id)
	}

	now := fmtTime(time.Now())
	_, err = tx.ExecContext(ctx, `
		UPDATE entries
		SET last_accessed_at = ?, access_count = access_count + 1, attributions = ?, updated_at = ?
		WHERE id = ?`,
		now, encodeStrings(mergeAttribution(e.Attributions, userID)), now, id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteStaging drops an abandoned staging row during crash recovery.
// Rows in any other state are left alone.
func (s *Store) DeleteStaging(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ? AND status = ?`, id, StatusStaging)
	return err
}

// AdoptStray registers a fast-tier file no row claims as an orphaned
// entry so cleanup can manage it. The file has no known origin, so its
// own path doubles as the logical path. Adopting a path that already
// has a live row returns that row, so repeated reconcile passes are
// safe.
func (s *Store) AdoptStray(ctx context.Context, fastPath string, sizeBytes int64) (*Entry, error) {
	existing, err := entryByLivePath(ctx, s.db, fastPath)
	switch {
	case err == nil:
		return existing, nil
	case errors.Is(err, ErrNotFound):
		// fall through to insert
	default:
		return nil, err
	}

	now := time.Now().UTC()
	e := Entry{
		ID:             uuid.NewString(),
		LogicalPath:    fastPath,
		FastPath:       fastPath,
		SizeBytes:      sizeBytes,
		CachedAt:       now,
		LastAccessedAt: now,
		CauseOperation: CauseManual,
		Attributions:   []string{},
		Status:         StatusOrphaned,
		Method:         MethodAdopted,
		Metadata:       map[string]string{},
		UpdatedAt:      now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.LogicalPath, e.OriginalPath, e.FastPath, e.SizeBytes,
		fmtTime(e.CachedAt), fmtTime(e.LastAccessedAt), e.AccessCount, e.CauseOperation, e.CauseUserID,
		encodeStrings(e.Attributions), e.Status, e.Method, e.Checksum, encodeStringMap(e.Metadata),
		e.RemovalReason, fmtTime(e.UpdatedAt))
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// EntryByID returns one entry regardless of status.
func (s *Store) EntryByID(ctx context.Context, id string) (*Entry, error) {
	return entryByID(ctx, s.db, id)
}

// EntryByLogicalPath returns the live (non-removed) entry for a path.
func (s *Store) EntryByLogicalPath(ctx context.Context, logicalPath string) (*Entry, error) {
	return entryByLivePath(ctx, s.db, logicalPath)
}

// ActiveEntries returns all active entries ordered oldest first.
func (s *Store) ActiveEntries(ctx context.Context) ([]Entry, error) {
	return s.EntriesInStatus(ctx, StatusActive)
}

// EntriesInStatus returns entries in any of the given statuses ordered
// by cached_at then id.
func (s *Store) EntriesInStatus(ctx context.Context, statuses ...Status) ([]Entry, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE status IN (`+placeholders(len(statuses))+`) ORDER BY cached_at, id`,
		args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// FastPathsInUse returns every fast-tier path a non-removed entry claims.
// The reconciler uses it to spot stray files under the fast root.
func (s *Store) FastPathsInUse(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fast_tier_path FROM entries WHERE status != ?`, StatusRemoved)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	paths := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths[p] = struct{}{}
	}
	return paths, rows.Err()
}

// PruneRemoved deletes removed rows whose last transition is older than
// the retention window. Returns the number of rows pruned.
func (s *Store) PruneRemoved(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := fmtTime(time.Now().Add(-olderThan))
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE status = ? AND updated_at < ?`, StatusRemoved, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
