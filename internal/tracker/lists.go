// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const listColumns = `id, name, provider_kind, provider_config, priority_bias, refresh_period_s, last_refreshed, mode, count_cap`

func scanList(sc rowScanner) (ImportList, error) {
	var (
		l             ImportList
		providerCfg   string
		refreshSec    int64
		lastRefreshed string
	)
	if err := sc.Scan(&l.ID, &l.Name, &l.ProviderKind, &providerCfg, &l.PriorityBias, &refreshSec, &lastRefreshed, &l.Mode, &l.CountCap); err != nil {
		return ImportList{}, err
	}
	l.RefreshPeriod = time.Duration(refreshSec) * time.Second
	l.LastRefreshed = parseTime(lastRefreshed)
	if err := json.Unmarshal([]byte(providerCfg), &l.ProviderConfig); err != nil {
		return ImportList{}, fmt.Errorf("decode provider config for list %s: %w", l.ID, err)
	}
	return l, nil
}

// AddList stores a new import list. Names are unique; a duplicate name
// returns ErrConflict.
func (s *Store) AddList(ctx context.Context, l ImportList) (*ImportList, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Mode == "" {
		l.Mode = ListModeStrict
	}

	lastRefreshed := ""
	if !l.LastRefreshed.IsZero() {
		lastRefreshed = fmtTime(l.LastRefreshed)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_lists (`+listColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Name, l.ProviderKind, encodeStringMap(l.ProviderConfig),
		l.PriorityBias, int64(l.RefreshPeriod/time.Second), lastRefreshed, l.Mode, l.CountCap)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, fmt.Errorf("%w: list name %q already exists", ErrConflict, l.Name)
		}
		return nil, err
	}
	return &l, nil
}

// ListByID returns one import list.
func (s *Store) ListByID(ctx context.Context, id string) (*ImportList, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listColumns+` FROM import_lists WHERE id = ?`, id)
	l, err := scanList(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: list %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Lists returns all import lists ordered by name.
func (s *Store) Lists(ctx context.Context) ([]ImportList, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+listColumns+` FROM import_lists ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var lists []ImportList
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, err
		}
		lists = append(lists, l)
	}
	return lists, rows.Err()
}

// RemoveList deletes an import list.
func (s *Store) RemoveList(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM import_lists WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: list %s", ErrNotFound, id)
	}
	return nil
}

// MarkListRefreshed records a successful provider refresh.
func (s *Store) MarkListRefreshed(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE import_lists SET last_refreshed = ? WHERE id = ?`, fmtTime(at), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: list %s", ErrNotFound, id)
	}
	return nil
}
