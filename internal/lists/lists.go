// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package lists turns external feeds (server discovery, user playlists,
// operator-supplied URLs) into cache candidates. Providers fetch raw
// items; the Resolver matches them against the library and scores them.
// Every list fails independently: a dead feed goes stale, the cycle
// keeps moving.
package lists

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	netpolicy "github.com/ManuGH/stagecache/internal/platform/net"
	"github.com/ManuGH/stagecache/internal/plex"
)

// ErrProvider marks a provider refresh failure. The owning list keeps
// serving its last snapshot until a refresh succeeds.
var ErrProvider = errors.New("lists: provider failure")

// Built-in provider kinds.
const (
	KindTrending  = "trending"
	KindPopular   = "popular"
	KindPersonal  = "personal"
	KindTopN      = "topn"
	KindCustomURL = "custom_url"
)

// Item is one raw entry from a provider feed, before library matching.
type Item struct {
	Title       string            `json:"title"`
	Year        int               `json:"year,omitempty"`
	ExternalIDs map[string]string `json:"ids,omitempty"` // scheme -> id, e.g. "imdb" -> "tt0137523"
	Kind        string            `json:"kind,omitempty"`
}

// Provider produces the raw items of one list kind. Config is the
// per-list provider_config map; unknown keys are ignored.
type Provider interface {
	Kind() string
	Refresh(ctx context.Context, cfg map[string]string) ([]Item, error)
}

// Discoverer is the slice of the upstream client the built-in providers
// consume.
type Discoverer interface {
	Discover(ctx context.Context, feed string, limit int) ([]plex.DiscoverItem, error)
	Playlist(ctx context.Context, user plex.User, name string, limit int) ([]plex.DiscoverItem, error)
}

// Registry resolves provider kinds to implementations.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a registry with all built-in providers wired to the
// upstream client and the outbound URL policy.
func NewRegistry(upstream Discoverer, outbound netpolicy.Policy) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	r.Register(&feedProvider{kind: KindTrending, feed: plex.FeedTrending, upstream: upstream})
	r.Register(&feedProvider{kind: KindPopular, feed: plex.FeedPopular, upstream: upstream})
	r.Register(&personalProvider{upstream: upstream})
	r.Register(&customURLProvider{
		policy: outbound,
		client: &http.Client{Timeout: feedTimeout},
	})
	r.Register(&topNProvider{registry: r})
	return r
}

// Register adds or replaces a provider under its kind.
func (r *Registry) Register(p Provider) {
	r.providers[p.Kind()] = p
}

// Provider returns the implementation for a kind.
func (r *Registry) Provider(kind string) (Provider, error) {
	p, ok := r.providers[strings.TrimSpace(kind)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider kind %q", ErrProvider, kind)
	}
	return p, nil
}

// fromDiscoverItems converts upstream feed entries, splitting canonical
// "imdb://tt0137523" guids into the scheme map.
func fromDiscoverItems(found []plex.DiscoverItem) []Item {
	items := make([]Item, 0, len(found))
	for _, d := range found {
		item := Item{Title: d.Title, Year: d.Year, Kind: d.Kind}
		for _, id := range d.ExternalIDs {
			scheme, rest, ok := strings.Cut(id, "://")
			if !ok || scheme == "" || rest == "" {
				continue
			}
			if item.ExternalIDs == nil {
				item.ExternalIDs = make(map[string]string)
			}
			item.ExternalIDs[scheme] = rest
		}
		items = append(items, item)
	}
	return items
}

// cfgInt reads an optional integer config key.
func cfgInt(cfg map[string]string, key string, def int) (int, error) {
	raw, ok := cfg[key]
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("config key %q: %w", key, err)
	}
	return n, nil
}
