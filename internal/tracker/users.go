// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const userColumns = `id, display_name, kind, token_opaque, last_seen, enabled, priority_bias, settings`

func scanUser(sc rowScanner) (User, error) {
	var (
		u        User
		lastSeen string
		enabled  int
		settings string
	)
	if err := sc.Scan(&u.ID, &u.DisplayName, &u.Kind, &u.TokenOpaque, &lastSeen, &enabled, &u.PriorityBias, &settings); err != nil {
		return User{}, err
	}
	u.LastSeen = parseTime(lastSeen)
	u.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(settings), &u.Settings); err != nil {
		return User{}, fmt.Errorf("decode settings for user %s: %w", u.ID, err)
	}
	return u, nil
}

func encodeSettings(s UserSettings) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// UpsertUser records a user seen during discovery. Upstream-sourced
// identity fields (name, kind, token) are refreshed; on first sight the
// user is stored with the provided Enabled/PriorityBias/Settings, which
// from then on belong to the operator and survive rediscovery. last_seen
// measures observed playback activity, so rediscovery leaves it alone;
// TouchUserSeen advances it.
func (s *Store) UpsertUser(ctx context.Context, u User) (*User, error) {
	if u.Kind == "" {
		u.Kind = UserKindHousehold
	}
	if u.LastSeen.IsZero() {
		u.LastSeen = time.Now().UTC()
	}

	enabled := 0
	if u.Enabled {
		enabled = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			kind = excluded.kind,
			token_opaque = excluded.token_opaque`,
		u.ID, u.DisplayName, u.Kind, u.TokenOpaque, fmtTime(u.LastSeen),
		enabled, u.PriorityBias, encodeSettings(u.Settings))
	if err != nil {
		return nil, err
	}

	return s.UserByID(ctx, u.ID)
}

// TouchUserSeen advances a user's last_seen to now. Called when the user
// shows up in an active session; the timestamp only moves forward.
func (s *Store) TouchUserSeen(ctx context.Context, id string) error {
	now := fmtTime(time.Now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_seen = MAX(last_seen, ?) WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return nil
}

// UserByID returns one user.
func (s *Store) UserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Users returns all known users ordered by id.
func (s *Store) Users(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUser applies a patch to the operator-owned fields and returns the
// updated user.
func (s *Store) UpdateUser(ctx context.Context, id string, patch UserPatch) (*User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if patch.Enabled != nil {
		u.Enabled = *patch.Enabled
	}
	if patch.PriorityBias != nil {
		u.PriorityBias = *patch.PriorityBias
	}
	if patch.Settings != nil {
		u.Settings = *patch.Settings
	}

	enabled := 0
	if u.Enabled {
		enabled = 1
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE users SET enabled = ?, priority_bias = ?, settings = ? WHERE id = ?`,
		enabled, u.PriorityBias, encodeSettings(u.Settings), id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &u, nil
}
