// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lists

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	netpolicy "github.com/ManuGH/stagecache/internal/platform/net"
	"github.com/ManuGH/stagecache/internal/plex"
)

type discoverCall struct {
	feed  string
	limit int
}

type fakeDiscoverer struct {
	feeds     map[string][]plex.DiscoverItem
	playlists map[string][]plex.DiscoverItem // keyed "userID/name"
	err       error

	discoverCalls []discoverCall
	playlistUsers []plex.User
}

func (f *fakeDiscoverer) Discover(_ context.Context, feed string, limit int) ([]plex.DiscoverItem, error) {
	f.discoverCalls = append(f.discoverCalls, discoverCall{feed: feed, limit: limit})
	if f.err != nil {
		return nil, f.err
	}
	return f.feeds[feed], nil
}

func (f *fakeDiscoverer) Playlist(_ context.Context, user plex.User, name string, _ int) ([]plex.DiscoverItem, error) {
	f.playlistUsers = append(f.playlistUsers, user)
	if f.err != nil {
		return nil, f.err
	}
	return f.playlists[user.ID+"/"+name], nil
}

func TestFeedProvider(t *testing.T) {
	up := &fakeDiscoverer{feeds: map[string][]plex.DiscoverItem{
		plex.FeedTrending: {
			{Title: "Heat", Year: 1995, ExternalIDs: []string{"imdb://tt0113277", "tmdb://949"}, Kind: plex.KindMovie},
			{Title: "No IDs", Year: 2001},
		},
	}}
	p := &feedProvider{kind: KindTrending, feed: plex.FeedTrending, upstream: up}

	items, err := p.Refresh(context.Background(), map[string]string{"limit": "25"})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, []discoverCall{{feed: plex.FeedTrending, limit: 25}}, up.discoverCalls)
	assert.Equal(t, Item{
		Title:       "Heat",
		Year:        1995,
		ExternalIDs: map[string]string{"imdb": "tt0113277", "tmdb": "949"},
		Kind:        plex.KindMovie,
	}, items[0])
	assert.Nil(t, items[1].ExternalIDs)
}

func TestFeedProvider_BadLimit(t *testing.T) {
	p := &feedProvider{kind: KindPopular, feed: plex.FeedPopular, upstream: &fakeDiscoverer{}}
	_, err := p.Refresh(context.Background(), map[string]string{"limit": "lots"})
	require.Error(t, err)
}

func TestPersonalProvider(t *testing.T) {
	up := &fakeDiscoverer{playlists: map[string][]plex.DiscoverItem{
		"42/favorites": {{Title: "Alien", Year: 1979}},
	}}
	p := &personalProvider{upstream: up}

	items, err := p.Refresh(context.Background(), map[string]string{
		"user_id":   "42",
		"playlist":  "favorites",
		"user_kind": "household",
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Alien", items[0].Title)

	require.Len(t, up.playlistUsers, 1)
	assert.Equal(t, plex.User{ID: "42", Kind: "household"}, up.playlistUsers[0])
}

func TestPersonalProvider_RequiresUserAndPlaylist(t *testing.T) {
	p := &personalProvider{upstream: &fakeDiscoverer{}}
	_, err := p.Refresh(context.Background(), map[string]string{"playlist": "favorites"})
	require.Error(t, err)
	_, err = p.Refresh(context.Background(), map[string]string{"user_id": "42"})
	require.Error(t, err)
}

func TestTopNProvider(t *testing.T) {
	up := &fakeDiscoverer{feeds: map[string][]plex.DiscoverItem{
		plex.FeedPopular: {
			{Title: "A"}, {Title: "B"}, {Title: "C"}, {Title: "D"},
		},
	}}
	reg := NewRegistry(up, netpolicy.Policy{})

	p, err := reg.Provider(KindTopN)
	require.NoError(t, err)

	items, err := p.Refresh(context.Background(), map[string]string{
		"source": KindPopular,
		"count":  "2",
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "A", items[0].Title)
	assert.Equal(t, "B", items[1].Title)
}

func TestTopNProvider_Validation(t *testing.T) {
	reg := NewRegistry(&fakeDiscoverer{}, netpolicy.Policy{})
	p, err := reg.Provider(KindTopN)
	require.NoError(t, err)

	_, err = p.Refresh(context.Background(), map[string]string{"count": "5"})
	assert.Error(t, err, "missing source")

	_, err = p.Refresh(context.Background(), map[string]string{"source": KindTopN, "count": "5"})
	assert.Error(t, err, "self wrap")

	_, err = p.Refresh(context.Background(), map[string]string{"source": KindPopular})
	assert.Error(t, err, "missing count")

	_, err = p.Refresh(context.Background(), map[string]string{"source": "nope", "count": "5"})
	require.ErrorIs(t, err, ErrProvider)
}

func TestRegistry_UnknownKind(t *testing.T) {
	reg := NewRegistry(&fakeDiscoverer{}, netpolicy.Policy{})
	_, err := reg.Provider("imaginary")
	require.ErrorIs(t, err, ErrProvider)
}

// loopbackPolicy builds an outbound policy that admits the test server.
func loopbackPolicy(t *testing.T, srvURL string) netpolicy.Policy {
	t.Helper()
	u, err := url.Parse(srvURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return netpolicy.Policy{
		Enabled: true,
		Allow: netpolicy.Allowlist{
			CIDRs:   []string{"127.0.0.0/8"},
			Ports:   []int{port},
			Schemes: []string{"http"},
		},
	}
}

func TestCustomURLProvider_JSONFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"title":"Heat","year":1995,"ids":{"imdb":"tt0113277"},"kind":"movie"},
			{"title":"","ids":{}},
			{"title":"Ronin","year":1998}
		]`))
	}))
	defer srv.Close()

	p := &customURLProvider{policy: loopbackPolicy(t, srv.URL), client: srv.Client()}
	items, err := p.Refresh(context.Background(), map[string]string{"url": srv.URL + "/feed.json"})
	require.NoError(t, err)

	require.Len(t, items, 2)
	assert.Equal(t, Item{Title: "Heat", Year: 1995, ExternalIDs: map[string]string{"imdb": "tt0113277"}, Kind: "movie"}, items[0])
	assert.Equal(t, "Ronin", items[1].Title)
}

func TestCustomURLProvider_LineFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "# favorites\nHeat (1995)\n\nThe Conversation [1974]\nStalker\n")
	}))
	defer srv.Close()

	p := &customURLProvider{policy: loopbackPolicy(t, srv.URL), client: srv.Client()}
	items, err := p.Refresh(context.Background(), map[string]string{"url": srv.URL})
	require.NoError(t, err)

	require.Len(t, items, 3)
	assert.Equal(t, Item{Title: "Heat", Year: 1995}, items[0])
	assert.Equal(t, Item{Title: "The Conversation", Year: 1974}, items[1])
	assert.Equal(t, Item{Title: "Stalker"}, items[2])
}

func TestCustomURLProvider_PolicyRejects(t *testing.T) {
	p := &customURLProvider{policy: netpolicy.Policy{}, client: http.DefaultClient}
	_, err := p.Refresh(context.Background(), map[string]string{"url": "http://example.com/feed"})
	require.ErrorIs(t, err, netpolicy.ErrOutboundDisabled)

	p.policy = netpolicy.Policy{
		Enabled: true,
		Allow: netpolicy.Allowlist{
			Hosts:   []string{"feeds.example.com"},
			Ports:   []int{443},
			Schemes: []string{"https"},
		},
	}
	_, err = p.Refresh(context.Background(), map[string]string{"url": "http://example.com/feed"})
	require.Error(t, err)
}

func TestCustomURLProvider_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("Heat (1995)\n"))
	}))
	defer srv.Close()

	p := &customURLProvider{policy: loopbackPolicy(t, srv.URL), client: srv.Client()}
	items, err := p.Refresh(context.Background(), map[string]string{"url": srv.URL})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCustomURLProvider_NotFoundIsTerminal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := &customURLProvider{policy: loopbackPolicy(t, srv.URL), client: srv.Client()}
	_, err := p.Refresh(context.Background(), map[string]string{"url": srv.URL})
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestParseFeed_Empty(t *testing.T) {
	items, err := parseFeed([]byte("   \n  "))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestParseFeed_BadJSON(t *testing.T) {
	_, err := parseFeed([]byte(`[{"title": "Heat"`))
	require.Error(t, err)
}

func TestSplitTitleYear(t *testing.T) {
	tests := []struct {
		line      string
		wantTitle string
		wantYear  int
	}{
		{"Heat (1995)", "Heat", 1995},
		{"Blade Runner [1982]", "Blade Runner", 1982},
		{"Stalker", "Stalker", 0},
		{"(1995)", "(1995)", 0},
		{"2001: A Space Odyssey (1968)", "2001: A Space Odyssey", 1968},
	}
	for _, tc := range tests {
		title, year := splitTitleYear(tc.line)
		assert.Equal(t, tc.wantTitle, title, "line %q", tc.line)
		assert.Equal(t, tc.wantYear, year, "line %q", tc.line)
	}
}

func TestCfgInt(t *testing.T) {
	n, err := cfgInt(map[string]string{"limit": " 25 "}, "limit", 0)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	n, err = cfgInt(map[string]string{}, "limit", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = cfgInt(map[string]string{"limit": "x"}, "limit", 0)
	require.Error(t, err)
}
