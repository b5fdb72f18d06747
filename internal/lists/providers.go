// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lists

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ManuGH/stagecache/internal/plex"
)

// feedProvider serves the server's trending and popular feeds. Config:
// optional "limit".
type feedProvider struct {
	kind     string
	feed     string
	upstream Discoverer
}

func (p *feedProvider) Kind() string { return p.kind }

func (p *feedProvider) Refresh(ctx context.Context, cfg map[string]string) ([]Item, error) {
	limit, err := cfgInt(cfg, "limit", 0)
	if err != nil {
		return nil, err
	}
	found, err := p.upstream.Discover(ctx, p.feed, limit)
	if err != nil {
		return nil, err
	}
	return fromDiscoverItems(found), nil
}

// personalProvider serves one user's named playlist. Config: "user_id"
// and "playlist" required, "user_kind" and "limit" optional.
type personalProvider struct {
	upstream Discoverer
}

func (p *personalProvider) Kind() string { return KindPersonal }

func (p *personalProvider) Refresh(ctx context.Context, cfg map[string]string) ([]Item, error) {
	userID := strings.TrimSpace(cfg["user_id"])
	playlist := strings.TrimSpace(cfg["playlist"])
	if userID == "" || playlist == "" {
		return nil, errors.New("personal list needs user_id and playlist")
	}
	limit, err := cfgInt(cfg, "limit", 0)
	if err != nil {
		return nil, err
	}
	user := plex.User{ID: userID, Kind: strings.TrimSpace(cfg["user_kind"])}
	found, err := p.upstream.Playlist(ctx, user, playlist, limit)
	if err != nil {
		return nil, err
	}
	return fromDiscoverItems(found), nil
}

// topNProvider caps another provider's feed. Config: "source" names the
// wrapped provider kind, "count" the cap; remaining keys pass through.
type topNProvider struct {
	registry *Registry
}

func (p *topNProvider) Kind() string { return KindTopN }

func (p *topNProvider) Refresh(ctx context.Context, cfg map[string]string) ([]Item, error) {
	source := strings.TrimSpace(cfg["source"])
	if source == "" {
		return nil, errors.New("topn list needs a source provider")
	}
	if source == KindTopN {
		return nil, errors.New("topn cannot wrap itself")
	}
	n, err := cfgInt(cfg, "count", 0)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("topn needs count > 0, got %d", n)
	}

	inner, err := p.registry.Provider(source)
	if err != nil {
		return nil, err
	}
	innerCfg := make(map[string]string, len(cfg))
	for k, v := range cfg {
		if k == "source" || k == "count" {
			continue
		}
		innerCfg[k] = v
	}
	items, err := inner.Refresh(ctx, innerCfg)
	if err != nil {
		return nil, err
	}
	if len(items) > n {
		items = items[:n]
	}
	return items, nil
}
