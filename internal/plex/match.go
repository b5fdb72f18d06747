// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package plex

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/ManuGH/stagecache/internal/normalize"
)

// cacheKey builds the deterministic match-cache key. External IDs win
// over title+year because they are already canonical.
func (q MatchQuery) cacheKey() string {
	if len(q.ExternalIDs) > 0 {
		ids := append([]string(nil), q.ExternalIDs...)
		sort.Strings(ids)
		return "match:guid:" + strings.Join(ids, ",")
	}
	return "match:" + normalize.MatchKey(q.Title, q.Year)
}

// MatchLibrary resolves a query to a library item. Hits and misses are
// both cached for the configured TTL so repeated list refreshes do not
// re-ask the upstream. found=false with a nil error is a definitive miss.
func (c *HTTPClient) MatchLibrary(ctx context.Context, q MatchQuery) (MediaRef, bool, error) {
	if len(q.ExternalIDs) == 0 && strings.TrimSpace(q.Title) == "" {
		return MediaRef{}, false, nil
	}

	key := q.cacheKey()
	if v, ok := c.matches.Get(key); ok {
		if s, ok := v.(string); ok {
			if s == "" {
				return MediaRef{}, false, nil
			}
			var ref MediaRef
			if err := json.Unmarshal([]byte(s), &ref); err == nil {
				return ref, true, nil
			}
			// Corrupt payload: fall through and re-resolve.
		}
	}

	ref, found, err := c.resolveMatch(ctx, q)
	if err != nil {
		return MediaRef{}, false, err
	}
	if !found {
		c.matches.Set(key, "", c.matchTTL)
		return MediaRef{}, false, nil
	}
	if b, err := json.Marshal(ref); err == nil {
		c.matches.Set(key, string(b), c.matchTTL)
	}
	return ref, true, nil
}

func (c *HTTPClient) resolveMatch(ctx context.Context, q MatchQuery) (MediaRef, bool, error) {
	for _, id := range q.ExternalIDs {
		params := url.Values{}
		params.Set("guid", id)
		ref, found, err := c.queryLibrary(ctx, params)
		if err != nil || found {
			return ref, found, err
		}
	}
	if strings.TrimSpace(q.Title) == "" {
		return MediaRef{}, false, nil
	}
	params := url.Values{}
	params.Set("title", q.Title)
	if q.Year > 0 {
		params.Set("year", strconv.Itoa(q.Year))
	}
	return c.queryLibrary(ctx, params)
}

func (c *HTTPClient) queryLibrary(ctx context.Context, params url.Values) (MediaRef, bool, error) {
	var wire wireContainer
	if err := c.do(ctx, "match", "/library/all", params, c.token, &wire); err != nil {
		return MediaRef{}, false, err
	}
	for _, m := range wire.MediaContainer.Metadata {
		if ref, ok := m.mediaRef(); ok {
			return ref, true, nil
		}
	}
	return MediaRef{}, false, nil
}
