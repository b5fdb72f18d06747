// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package plex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// DiscoverItem is one entry from an upstream discovery feed or playlist.
// Items carry metadata only; whether the library holds the title is a
// separate MatchLibrary question.
type DiscoverItem struct {
	Title       string
	Year        int
	ExternalIDs []string // canonical "imdb://tt0137523" form
	Kind        string
}

// Discovery feeds the server exposes.
const (
	FeedTrending = "trending"
	FeedPopular  = "popular"
)

// Discover fetches a server discovery feed. limit caps the returned
// items; zero means the server's own feed size.
func (c *HTTPClient) Discover(ctx context.Context, feed string, limit int) ([]DiscoverItem, error) {
	if feed != FeedTrending && feed != FeedPopular {
		return nil, fmt.Errorf("unknown discovery feed %q", feed)
	}
	params := url.Values{}
	if limit > 0 {
		params.Set("count", strconv.Itoa(limit))
	}
	var wire wireContainer
	if err := c.do(ctx, "discover."+feed, "/library/"+feed, params, c.token, &wire); err != nil {
		return nil, err
	}
	items := make([]DiscoverItem, 0, len(wire.MediaContainer.Metadata))
	for _, m := range wire.MediaContainer.Metadata {
		item, ok := m.discoverItem()
		if !ok {
			continue
		}
		items = append(items, item)
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}

// Playlist returns the items of a user's named playlist. The lookup is
// two calls: resolve the playlist key by title, then fetch its items
// with the user's token.
func (c *HTTPClient) Playlist(ctx context.Context, user User, name string, limit int) ([]DiscoverItem, error) {
	token, err := c.userToken(ctx, user)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("title", name)
	var index wireContainer
	if err := c.do(ctx, "playlists", "/playlists/all", params, token, &index); err != nil {
		return nil, c.invalidateOnAuth(err, user)
	}
	var key string
	for _, m := range index.MediaContainer.Metadata {
		if m.Title == name {
			key = string(m.RatingKey)
			break
		}
	}
	if key == "" {
		return nil, upstreamErr(ErrUpstreamMalformed, "playlists", 0,
			fmt.Errorf("no playlist named %q for user %s", name, user.ID))
	}

	var wire wireContainer
	if err := c.do(ctx, "playlist_items", "/playlists/"+url.PathEscape(key)+"/items", nil, token, &wire); err != nil {
		return nil, c.invalidateOnAuth(err, user)
	}
	items := make([]DiscoverItem, 0, len(wire.MediaContainer.Metadata))
	for _, m := range wire.MediaContainer.Metadata {
		item, ok := m.discoverItem()
		if !ok {
			continue
		}
		items = append(items, item)
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}
