// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package plex is the rate-limited upstream client. All calls funnel
// through a single process-wide handle that serializes requests and
// enforces both a minimum inter-request gap and a per-minute quota, so
// concurrent planner and list work can never burst the media server.
package plex

import (
	"context"
	"time"
)

// Kind classifies a media item.
const (
	KindMovie   = "movie"
	KindEpisode = "episode"
)

// Session playback states as reported by the upstream player.
const (
	StatePlaying   = "playing"
	StatePaused    = "paused"
	StateBuffering = "buffering"
)

// User kinds mirror the tracker's user taxonomy.
const (
	KindOwner     = "owner"
	KindHousehold = "household"
	KindGuest     = "guest"
)

// User is one upstream account.
type User struct {
	ID   string
	Name string
	Kind string // owner|household|guest

	// Token is the per-user access token when discovery returned one.
	// Empty means the client resolves it lazily through the token cache.
	Token string `json:"-"`
}

// MediaRef points at one playable item on the upstream server.
type MediaRef struct {
	LogicalPath    string    `json:"logical_path"`
	SizeHint       int64     `json:"size_hint"`
	UpstreamID     string    `json:"upstream_id"`
	Kind           string    `json:"kind"`
	LastWatchedAt  time.Time `json:"last_watched_at,omitempty"`
	AvailableSince time.Time `json:"available_since,omitempty"`
}

// Session is one active playback session.
type Session struct {
	ID          string
	UserID      string
	LogicalPath string
	State       string // playing|paused|buffering
}

// MatchQuery identifies a library item either by external IDs
// (e.g. "imdb://tt0113277") or by title and optional year.
type MatchQuery struct {
	Title       string
	Year        int
	ExternalIDs []string
}

// Client is the upstream capability surface consumed by the planner and
// list resolvers. The HTTP implementation lives in this package; tests
// substitute fakes.
type Client interface {
	ListUsers(ctx context.Context) ([]User, error)
	OnDeck(ctx context.Context, user User, n int, maxStale time.Duration) ([]MediaRef, error)
	Watchlist(ctx context.Context, user User, perShow int, maxAvail time.Duration) ([]MediaRef, error)
	ActiveSessions(ctx context.Context) ([]Session, error)
	MatchLibrary(ctx context.Context, q MatchQuery) (MediaRef, bool, error)
}
