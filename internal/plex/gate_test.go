// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package plex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestGate_MinGapSpacing(t *testing.T) {
	g := &gate{
		limiter: rate.NewLimiter(rate.Every(20*time.Millisecond), 1),
		max:     perMinuteCeil,
		window:  time.Minute,
	}

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, g.Wait(context.Background()))
	}
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, 180*time.Millisecond,
		"10 calls with a 20ms gap must spread over at least 9 gaps")
}

func TestGate_QuotaWindow(t *testing.T) {
	g := &gate{
		limiter: rate.NewLimiter(rate.Inf, 1),
		max:     5,
		window:  300 * time.Millisecond,
	}

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, g.Wait(context.Background()))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond,
		"calls inside the quota must not block")

	require.NoError(t, g.Wait(context.Background()))
	require.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond,
		"the call over quota waits for the oldest stamp to age out")
}

func TestGate_WaitHonorsCancel(t *testing.T) {
	g := &gate{
		limiter: rate.NewLimiter(rate.Inf, 1),
		max:     5,
		window:  time.Minute,
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, g.Wait(context.Background()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := g.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewGate_ClampsBounds(t *testing.T) {
	g := newGate(time.Millisecond, 1)
	require.Equal(t, rate.Every(minGapFloor), g.limiter.Limit())
	require.Equal(t, perMinuteFloor, g.max)

	g = newGate(time.Hour, 100000)
	require.Equal(t, rate.Every(minGapCeil), g.limiter.Limit())
	require.Equal(t, perMinuteCeil, g.max)

	g = newGate(time.Second, 30)
	require.Equal(t, rate.Every(time.Second), g.limiter.Limit())
	require.Equal(t, 30, g.max)
	require.Equal(t, time.Minute, g.window)
}
