// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package plex

import (
	"context"
	"fmt"
	"time"
)

// Unavailable is the client a daemon runs with before an upstream server
// is configured. Every call fails with ErrUpstreamUnavailable, which the
// cycle absorbs the same way it absorbs a server outage.
type Unavailable struct{}

// NewUnavailable returns the not-configured upstream client.
func NewUnavailable() *Unavailable { return &Unavailable{} }

func (*Unavailable) ListUsers(context.Context) ([]User, error) {
	return nil, errNotConfigured()
}

func (*Unavailable) OnDeck(context.Context, User, int, time.Duration) ([]MediaRef, error) {
	return nil, errNotConfigured()
}

func (*Unavailable) Watchlist(context.Context, User, int, time.Duration) ([]MediaRef, error) {
	return nil, errNotConfigured()
}

func (*Unavailable) ActiveSessions(context.Context) ([]Session, error) {
	return nil, errNotConfigured()
}

func (*Unavailable) MatchLibrary(context.Context, MatchQuery) (MediaRef, bool, error) {
	return MediaRef{}, false, errNotConfigured()
}

func (*Unavailable) Discover(context.Context, string, int) ([]DiscoverItem, error) {
	return nil, errNotConfigured()
}

func (*Unavailable) Playlist(context.Context, User, string, int) ([]DiscoverItem, error) {
	return nil, errNotConfigured()
}

func errNotConfigured() error {
	return fmt.Errorf("%w: no upstream configured", ErrUpstreamUnavailable)
}
