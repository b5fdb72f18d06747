// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package tracker

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedQueryFixtures(t *testing.T, s *Store) (removedID string) {
	t.Helper()
	ctx := context.Background()

	stageAndActivate(t, s, "/media/movies/heat.mkv", CauseOnDeck, "user-1", 1000)
	stageAndActivate(t, s, "/media/movies/alien.mkv", CauseWatchlist, "user-2", 2000)
	stageAndActivate(t, s, "/media/shows/wire-s01e01.mkv", CauseActive, "user-1", 3000)

	gone := stageAndActivate(t, s, "/media/movies/old.mkv", CauseManual, "user-3", 4000)
	require.NoError(t, s.MarkPendingRemoval(ctx, gone.ID, "eviction"))
	require.NoError(t, s.MarkRemoved(ctx, gone.ID))
	return gone.ID
}

func TestQuery_DefaultExcludesRemoved(t *testing.T) {
	s := newTestStore(t)
	seedQueryFixtures(t, s)

	page, err := s.Query(context.Background(), Filter{})
	require.NoError(t, err)

	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Entries, 3)
	for _, e := range page.Entries {
		assert.NotEqual(t, StatusRemoved, e.Status)
	}
}

func TestQuery_FilterByStatus(t *testing.T) {
	s := newTestStore(t)
	removedID := seedQueryFixtures(t, s)

	page, err := s.Query(context.Background(), Filter{Statuses: []Status{StatusRemoved}})
	require.NoError(t, err)

	require.Len(t, page.Entries, 1)
	assert.Equal(t, removedID, page.Entries[0].ID)
}

func TestQuery_FilterByCause(t *testing.T) {
	s := newTestStore(t)
	seedQueryFixtures(t, s)

	page, err := s.Query(context.Background(), Filter{Cause: CauseWatchlist})
	require.NoError(t, err)

	require.Len(t, page.Entries, 1)
	assert.Equal(t, "/media/movies/alien.mkv", page.Entries[0].LogicalPath)
}

func TestQuery_FilterByUser(t *testing.T) {
	s := newTestStore(t)
	seedQueryFixtures(t, s)
	ctx := context.Background()

	// user-2 also touches the on-deck entry, so the user filter must see
	// attributions, not just the causing user.
	heat, err := s.EntryByLogicalPath(ctx, "/media/movies/heat.mkv")
	require.NoError(t, err)
	require.NoError(t, s.Touch(ctx, heat.ID, "user-2"))

	page, err := s.Query(ctx, Filter{UserID: "user-2"})
	require.NoError(t, err)

	paths := make([]string, 0, len(page.Entries))
	for _, e := range page.Entries {
		paths = append(paths, e.LogicalPath)
	}
	assert.ElementsMatch(t, []string{"/media/movies/heat.mkv", "/media/movies/alien.mkv"}, paths)
}

func TestQuery_FilterByPathContains(t *testing.T) {
	s := newTestStore(t)
	seedQueryFixtures(t, s)

	page, err := s.Query(context.Background(), Filter{PathContains: "shows/"})
	require.NoError(t, err)

	require.Len(t, page.Entries, 1)
	assert.Equal(t, "/media/shows/wire-s01e01.mkv", page.Entries[0].LogicalPath)
}

func TestQuery_LikeWildcardsAreLiteral(t *testing.T) {
	s := newTestStore(t)
	stageAndActivate(t, s, "/media/100%_legit.mkv", CauseManual, "", 10)
	stageAndActivate(t, s, "/media/100x_legit.mkv", CauseManual, "", 10)

	page, err := s.Query(context.Background(), Filter{PathContains: "100%"})
	require.NoError(t, err)

	require.Len(t, page.Entries, 1)
	assert.Equal(t, "/media/100%_legit.mkv", page.Entries[0].LogicalPath)
}

func TestQuery_Pagination(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		stageAndActivate(t, s, fmt.Sprintf("/media/e%d.mkv", i), CauseOnDeck, "", 10)
	}

	first, err := s.Query(context.Background(), Filter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, first.Total)
	assert.Len(t, first.Entries, 2)
	assert.Equal(t, 2, first.Limit)

	second, err := s.Query(context.Background(), Filter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, second.Entries, 2)
	assert.NotEqual(t, first.Entries[0].ID, second.Entries[0].ID)

	last, err := s.Query(context.Background(), Filter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, last.Entries, 1)
}

func TestSearch_Scopes(t *testing.T) {
	s := newTestStore(t)
	seedQueryFixtures(t, s)
	ctx := context.Background()

	byPath, err := s.Search(ctx, "heat", "path", 10, false)
	require.NoError(t, err)
	require.Len(t, byPath, 1)
	assert.Equal(t, "/media/movies/heat.mkv", byPath[0].LogicalPath)

	byUser, err := s.Search(ctx, "user-1", "user", 10, false)
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	byCause, err := s.Search(ctx, "watch", "cause", 10, false)
	require.NoError(t, err)
	require.Len(t, byCause, 1)
	assert.Equal(t, CauseWatchlist, byCause[0].CauseOperation)

	all, err := s.Search(ctx, "movies", "all", 10, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.Search(ctx, "x", "bogus", 10, false)
	require.Error(t, err)
}

func TestSearch_IncludeRemoved(t *testing.T) {
	s := newTestStore(t)
	seedQueryFixtures(t, s)
	ctx := context.Background()

	hidden, err := s.Search(ctx, "old", "path", 10, false)
	require.NoError(t, err)
	assert.Empty(t, hidden)

	shown, err := s.Search(ctx, "old", "path", 10, true)
	require.NoError(t, err)
	assert.Len(t, shown, 1)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := stageAndActivate(t, s, "/media/a.mkv", CauseOnDeck, "user-1", 1000)
	stageAndActivate(t, s, "/media/b.mkv", CauseOnDeck, "user-1", 2000)
	c := stageAndActivate(t, s, "/media/c.mkv", CauseWatchlist, "user-2", 4000)
	require.NoError(t, s.MarkPendingRemoval(ctx, c.ID, "eviction"))

	d := stageAndActivate(t, s, "/media/d.mkv", CauseManual, "", 8000)
	require.NoError(t, s.MarkOrphaned(ctx, d.ID))

	gone := stageAndActivate(t, s, "/media/e.mkv", CauseManual, "", 16000)
	require.NoError(t, s.MarkPendingRemoval(ctx, gone.ID, "eviction"))
	require.NoError(t, s.MarkRemoved(ctx, gone.ID))

	require.NoError(t, s.Touch(ctx, a.ID, "user-1"))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)

	// active a+b, pending_removal c occupy the tier; orphaned d does not.
	assert.Equal(t, int64(7000), stats.TotalSizeBytes)
	assert.Equal(t, int64(3), stats.FileCount)
	assert.Equal(t, int64(2), stats.ByStatus[StatusActive])
	assert.Equal(t, int64(1), stats.ByStatus[StatusPendingRemoval])
	assert.Equal(t, int64(1), stats.ByStatus[StatusOrphaned])
	assert.Equal(t, int64(1), stats.ByStatus[StatusRemoved])
	assert.Equal(t, int64(2), stats.ByCause[CauseOnDeck])
	assert.Equal(t, int64(1), stats.ByCause[CauseWatchlist])
	assert.Equal(t, int64(1), stats.ByCause[CauseManual], "removed entries drop out of cause counts")
	assert.Equal(t, int64(1), stats.TotalAccesses)
}
