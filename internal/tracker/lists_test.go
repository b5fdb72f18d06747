// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddList(t *testing.T) {
	s := newTestStore(t)

	l, err := s.AddList(context.Background(), ImportList{
		Name:           "weekly-trending",
		ProviderKind:   "trending",
		ProviderConfig: map[string]string{"region": "de"},
		PriorityBias:   10,
		RefreshPeriod:  90 * time.Minute,
		Mode:           ListModeFill,
		CountCap:       25,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, l.ID, "ids are assigned on insert")

	got, err := s.ListByID(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, "weekly-trending", got.Name)
	assert.Equal(t, "trending", got.ProviderKind)
	assert.Equal(t, map[string]string{"region": "de"}, got.ProviderConfig)
	assert.Equal(t, 10, got.PriorityBias)
	assert.Equal(t, 90*time.Minute, got.RefreshPeriod)
	assert.Equal(t, ListModeFill, got.Mode)
	assert.Equal(t, 25, got.CountCap)
	assert.True(t, got.LastRefreshed.IsZero(), "new lists have never refreshed")
}

func TestAddList_DefaultsToStrict(t *testing.T) {
	s := newTestStore(t)

	l, err := s.AddList(context.Background(), ImportList{Name: "plain", ProviderKind: "popular"})
	require.NoError(t, err)
	assert.Equal(t, ListModeStrict, l.Mode)
}

func TestAddList_DuplicateName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddList(ctx, ImportList{Name: "dupe", ProviderKind: "trending"})
	require.NoError(t, err)

	_, err = s.AddList(ctx, ImportList{Name: "dupe", ProviderKind: "popular"})
	require.ErrorIs(t, err, ErrConflict)
}

func TestLists_Ordering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := s.AddList(ctx, ImportList{Name: name, ProviderKind: "trending"})
		require.NoError(t, err)
	}

	lists, err := s.Lists(ctx)
	require.NoError(t, err)
	require.Len(t, lists, 3)
	assert.Equal(t, "alpha", lists[0].Name)
	assert.Equal(t, "mid", lists[1].Name)
	assert.Equal(t, "zeta", lists[2].Name)
}

func TestRemoveList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l, err := s.AddList(ctx, ImportList{Name: "gone", ProviderKind: "trending"})
	require.NoError(t, err)

	require.NoError(t, s.RemoveList(ctx, l.ID))

	_, err = s.ListByID(ctx, l.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.RemoveList(ctx, l.ID), ErrNotFound)
}

func TestMarkListRefreshed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l, err := s.AddList(ctx, ImportList{Name: "refresh-me", ProviderKind: "trending"})
	require.NoError(t, err)

	at := time.Now()
	require.NoError(t, s.MarkListRefreshed(ctx, l.ID, at))

	got, err := s.ListByID(ctx, l.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, at, got.LastRefreshed, time.Second)

	assert.ErrorIs(t, s.MarkListRefreshed(ctx, "missing", at), ErrNotFound)
}

func TestListByID_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ListByID(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
