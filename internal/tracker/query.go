// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package tracker

import (
	"context"
	"fmt"
	"strings"
)

const defaultPageLimit = 100

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func buildWhere(f Filter) (string, []any) {
	var conds []string
	var args []any

	if len(f.Statuses) > 0 {
		conds = append(conds, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	} else {
		conds = append(conds, "status != ?")
		args = append(args, StatusRemoved)
	}
	if f.Cause != "" {
		conds = append(conds, "cause_operation = ?")
		args = append(args, f.Cause)
	}
	if f.UserID != "" {
		// Attributions are a JSON array of quoted ids.
		conds = append(conds, `(cause_user_id = ? OR attributions LIKE ? ESCAPE '\')`)
		args = append(args, f.UserID, `%"`+escapeLike(f.UserID)+`"%`)
	}
	if f.PathContains != "" {
		conds = append(conds, `logical_path LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(f.PathContains)+"%")
	}

	return "WHERE " + strings.Join(conds, " AND "), args
}

// Query returns one page of entries matching the filter, newest first,
// plus the unwindowed total.
func (s *Store) Query(ctx context.Context, f Filter) (Page, error) {
	where, args := buildWhere(f)

	limit := f.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries `+where, args...).Scan(&total); err != nil {
		return Page{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries `+where+` ORDER BY cached_at DESC, id LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return Page{}, err
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return Page{}, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return Page{}, err
	}

	return Page{Entries: entries, Total: total, Limit: limit, Offset: offset}, nil
}

// Search matches q as a substring within the given scope: "path", "user",
// "cause", or "all" (the default).
func (s *Store) Search(ctx context.Context, q, scope string, limit int, includeRemoved bool) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(q) + "%"

	var match string
	var args []any
	switch scope {
	case "path":
		match = `logical_path LIKE ? ESCAPE '\'`
		args = append(args, pattern)
	case "user":
		match = `(cause_user_id LIKE ? ESCAPE '\' OR attributions LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern)
	case "cause":
		match = `cause_operation LIKE ? ESCAPE '\'`
		args = append(args, pattern)
	case "", "all":
		match = `(logical_path LIKE ? ESCAPE '\' OR cause_user_id LIKE ? ESCAPE '\' OR attributions LIKE ? ESCAPE '\' OR cause_operation LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern, pattern, pattern)
	default:
		return nil, fmt.Errorf("unknown search scope %q", scope)
	}

	query := `SELECT ` + entryColumns + ` FROM entries WHERE ` + match
	if !includeRemoved {
		query += ` AND status != ?`
		args = append(args, StatusRemoved)
	}
	query += ` ORDER BY cached_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
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

// Stats aggregates entry counts and sizes. Size and file count cover the
// states that occupy the fast tier (active, pending_removal).
func (s *Store) Stats(ctx context.Context) (CacheStatistics, error) {
	stats := CacheStatistics{
		ByStatus: make(map[Status]int64),
		ByCause:  make(map[string]int64),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(size_bytes), 0), COALESCE(SUM(access_count), 0)
		FROM entries GROUP BY status`)
	if err != nil {
		return CacheStatistics{}, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var st Status
		var count, size, accesses int64
		if err := rows.Scan(&st, &count, &size, &accesses); err != nil {
			return CacheStatistics{}, err
		}
		stats.ByStatus[st] = count
		if st == StatusActive || st == StatusPendingRemoval {
			stats.TotalSizeBytes += size
			stats.FileCount += count
		}
		if st != StatusRemoved {
			stats.TotalAccesses += accesses
		}
	}
	if err := rows.Err(); err != nil {
		return CacheStatistics{}, err
	}

	causeRows, err := s.db.QueryContext(ctx, `
		SELECT cause_operation, COUNT(*)
		FROM entries WHERE status != ? GROUP BY cause_operation`, StatusRemoved)
	if err != nil {
		return CacheStatistics{}, err
	}
	defer func() { _ = causeRows.Close() }()

	for causeRows.Next() {
		var cause string
		var count int64
		if err := causeRows.Scan(&cause, &count); err != nil {
			return CacheStatistics{}, err
		}
		stats.ByCause[cause] = count
	}
	return stats, causeRows.Err()
}
