// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package planner enumerates cache candidates per cycle phase. Each
// phase asks the upstream client what users are about to play and turns
// the answers into prioritized candidates; the policy engine decides
// what actually moves.
package planner

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/stagecache/internal/config"
	"github.com/ManuGH/stagecache/internal/log"
	"github.com/ManuGH/stagecache/internal/plex"
	"github.com/ManuGH/stagecache/internal/tracker"
)

// Base priorities per candidate class. Active sessions outrank
// everything; sessions of accounts the daemon does not manage still get
// cached, one class lower.
const (
	PriorityActive      = 1000
	PriorityOnDeck      = 800
	PriorityActiveOther = 700
	PriorityWatchlist   = 500
	PriorityList        = 400
)

// stalenessCap bounds how far staleness can depress a priority, keeping
// class ordering between active and watchlist intact for any bias in
// the allowed [-50, 50] range.
const stalenessCap = 99

// Candidate is one potential cache target, priced and attributed.
// Priority is the adjusted value: class base + user bias - staleness.
type Candidate struct {
	LogicalPath  string
	Priority     int
	SizeHint     int64
	Cause        string
	CauseUserID  string
	Attributions []string
}

// PhaseResult carries one phase's candidates plus enumeration counters.
// A failed upstream call skips the affected user and counts a failure;
// the rest of the phase proceeds.
type PhaseResult struct {
	Candidates []Candidate
	Scanned    int
	Failures   int
}

// Planner turns upstream state into candidates.
type Planner struct {
	client  plex.Client
	store   *tracker.Store
	windows config.ActivityWindows
	logger  zerolog.Logger
}

// New wires a Planner to the upstream client and the user table.
func New(client plex.Client, store *tracker.Store, windows config.ActivityWindows) *Planner {
	return &Planner{
		client:  client,
		store:   store,
		windows: windows,
		logger:  log.WithComponent("planner"),
	}
}

// DiscoverUsers refreshes the user table from upstream and returns all
// known users. New users start enabled with default settings; existing
// users keep their operator-owned fields and last_seen.
func (p *Planner) DiscoverUsers(ctx context.Context) ([]tracker.User, error) {
	upstream, err := p.client.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for _, pu := range upstream {
		if _, err := p.store.UpsertUser(ctx, tracker.User{
			ID:          pu.ID,
			DisplayName: pu.Name,
			Kind:        tracker.UserKind(pu.Kind),
			TokenOpaque: pu.Token,
			Enabled:     true,
			Settings:    tracker.DefaultUserSettings(),
		}); err != nil {
			return nil, err
		}
	}
	return p.store.Users(ctx)
}

// Eligible filters users down to the ones this cycle enumerates:
// enabled, and seen within their kind's activity window.
func (p *Planner) Eligible(users []tracker.User) []tracker.User {
	now := time.Now()
	var out []tracker.User
	for _, u := range users {
		if !u.Enabled {
			continue
		}
		window := p.windows.ForKind(string(u.Kind))
		if window > 0 && now.Sub(u.LastSeen) > time.Duration(window)*24*time.Hour {
			p.logger.Debug().
				Str("event", "planner.user.inactive").
				Str("user_id", u.ID).
				Str("kind", string(u.Kind)).
				Int("window_days", window).
				Msg("user outside activity window, skipped")
			continue
		}
		out = append(out, u)
	}
	return out
}

// Active emits one candidate per in-flight session and counts the
// session as user activity. Sessions of managed users rank at the top
// class with their bias; sessions of unmanaged accounts rank one class
// lower; sessions of users the operator disabled are ignored.
func (p *Planner) Active(ctx context.Context, users []tracker.User) (PhaseResult, error) {
	var res PhaseResult
	sessions, err := p.client.ActiveSessions(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Failures++
		p.logger.Warn().Str("event", "planner.active.failed").Err(err).Msg("session enumeration failed")
		return res, nil
	}

	byID := make(map[string]tracker.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	for _, s := range sessions {
		res.Scanned++
		if s.LogicalPath == "" {
			continue
		}
		if err := p.store.TouchUserSeen(ctx, s.UserID); err != nil && !errors.Is(err, tracker.ErrNotFound) {
			p.logger.Warn().Str("event", "planner.touch_failed").Str("user_id", s.UserID).Err(err).Msg("could not record user activity")
		}

		priority := PriorityActiveOther
		if u, known := byID[s.UserID]; known {
			if !u.Enabled || !u.Settings.Active.Enabled {
				continue
			}
			priority = PriorityActive + u.PriorityBias
		}
		res.Candidates = append(res.Candidates, Candidate{
			LogicalPath:  s.LogicalPath,
			Priority:     priority,
			Cause:        tracker.CauseActive,
			CauseUserID:  s.UserID,
			Attributions: []string{s.UserID},
		})
	}
	return res, nil
}

// OnDeck enumerates each user's up-next queue. Items the user has not
// touched for a while rank lower; the client already dropped anything
// beyond the user's max_stale_days bound.
func (p *Planner) OnDeck(ctx context.Context, users []tracker.User) (PhaseResult, error) {
	var res PhaseResult
	now := time.Now()
	for _, u := range users {
		if !u.Settings.OnDeck.Enabled {
			continue
		}
		n := u.Settings.OnDeck.EpisodesAhead
		if n < 1 {
			n = 1
		}
		maxStale := time.Duration(u.Settings.OnDeck.MaxStaleDays) * 24 * time.Hour

		refs, err := p.client.OnDeck(ctx, toPlexUser(u), n, maxStale)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failures++
			p.logger.Warn().
				Str("event", "planner.ondeck.failed").
				Str("user_id", u.ID).
				Err(err).
				Msg("ondeck enumeration failed, user skipped")
			continue
		}
		for _, ref := range refs {
			res.Scanned++
			if ref.LogicalPath == "" {
				continue
			}
			res.Candidates = append(res.Candidates, Candidate{
				LogicalPath:  ref.LogicalPath,
				Priority:     PriorityOnDeck + u.PriorityBias - stalenessScore(ref.LastWatchedAt, now),
				SizeHint:     ref.SizeHint,
				Cause:        tracker.CauseOnDeck,
				CauseUserID:  u.ID,
				Attributions: []string{u.ID},
			})
		}
	}
	return res, nil
}

// Watchlist enumerates each user's watchlist. The client already capped
// episodes per show and dropped items available longer than the user's
// max_available_days bound.
func (p *Planner) Watchlist(ctx context.Context, users []tracker.User) (PhaseResult, error) {
	var res PhaseResult
	now := time.Now()
	for _, u := range users {
		if !u.Settings.Watchlist.Enabled {
			continue
		}
		perShow := u.Settings.Watchlist.EpisodesPerShow
		if perShow < 1 {
			perShow = 1
		}
		maxAvail := time.Duration(u.Settings.Watchlist.MaxAvailableDays) * 24 * time.Hour

		refs, err := p.client.Watchlist(ctx, toPlexUser(u), perShow, maxAvail)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failures++
			p.logger.Warn().
				Str("event", "planner.watchlist.failed").
				Str("user_id", u.ID).
				Err(err).
				Msg("watchlist enumeration failed, user skipped")
			continue
		}
		for _, ref := range refs {
			res.Scanned++
			if ref.LogicalPath == "" {
				continue
			}
			res.Candidates = append(res.Candidates, Candidate{
				LogicalPath:  ref.LogicalPath,
				Priority:     PriorityWatchlist + u.PriorityBias - stalenessScore(ref.LastWatchedAt, now),
				SizeHint:     ref.SizeHint,
				Cause:        tracker.CauseWatchlist,
				CauseUserID:  u.ID,
				Attributions: []string{u.ID},
			})
		}
	}
	return res, nil
}

// Merge folds phase outputs into one candidate list keyed by logical
// path, keeping the highest priority (and its cause) and unioning
// attributions. Output order is descending priority, then path, so the
// admission loop downstream is deterministic.
func Merge(phases ...[]Candidate) []Candidate {
	byPath := make(map[string]*Candidate)
	for _, phase := range phases {
		for _, c := range phase {
			cur, ok := byPath[c.LogicalPath]
			if !ok {
				cp := c
				cp.Attributions = unionAttributions(nil, c.Attributions)
				byPath[c.LogicalPath] = &cp
				continue
			}
			if c.Priority > cur.Priority {
				cur.Priority = c.Priority
				cur.Cause = c.Cause
				cur.CauseUserID = c.CauseUserID
			}
			if c.SizeHint > cur.SizeHint {
				cur.SizeHint = c.SizeHint
			}
			cur.Attributions = unionAttributions(cur.Attributions, c.Attributions)
		}
	}

	out := make([]Candidate, 0, len(byPath))
	for _, c := range byPath {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].LogicalPath < out[j].LogicalPath
	})
	return out
}

// stalenessScore depresses a priority by whole days since the upstream
// last-watched signal, capped at stalenessCap. No signal means no
// depression.
func stalenessScore(lastWatched, now time.Time) int {
	if lastWatched.IsZero() || !lastWatched.Before(now) {
		return 0
	}
	days := int(now.Sub(lastWatched).Hours() / 24)
	if days > stalenessCap {
		return stalenessCap
	}
	return days
}

func unionAttributions(base, add []string) []string {
	seen := make(map[string]struct{}, len(base)+len(add))
	out := make([]string, 0, len(base)+len(add))
	for _, s := range base {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; !dup {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range add {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; !dup {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func toPlexUser(u tracker.User) plex.User {
	return plex.User{
		ID:    u.ID,
		Name:  u.DisplayName,
		Kind:  string(u.Kind),
		Token: u.TokenOpaque,
	}
}
