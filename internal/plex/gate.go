// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package plex

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Operator-supplied limits are clamped to these bounds so a typo in the
// config cannot hammer the upstream or stall the daemon.
const (
	minGapFloor    = 100 * time.Millisecond
	minGapCeil     = 10 * time.Second
	perMinuteFloor = 5
	perMinuteCeil  = 120
)

// gate couples the two request limiters: a minimum inter-request gap and
// a sliding per-minute quota. A request proceeds only when both admit it.
type gate struct {
	limiter *rate.Limiter
	max     int
	window  time.Duration

	mu     sync.Mutex
	stamps []time.Time
}

func newGate(minGap time.Duration, maxPerMinute int) *gate {
	if minGap < minGapFloor {
		minGap = minGapFloor
	}
	if minGap > minGapCeil {
		minGap = minGapCeil
	}
	if maxPerMinute < perMinuteFloor {
		maxPerMinute = perMinuteFloor
	}
	if maxPerMinute > perMinuteCeil {
		maxPerMinute = perMinuteCeil
	}
	return &gate{
		limiter: rate.NewLimiter(rate.Every(minGap), 1),
		max:     maxPerMinute,
		window:  time.Minute,
	}
}

// Wait blocks until both limiters admit one request or ctx is done. The
// gap limiter is satisfied first; the quota slot is claimed under the
// mutex so concurrent callers cannot overshoot the window.
func (g *gate) Wait(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	for {
		g.mu.Lock()
		now := time.Now()
		g.prune(now)
		if len(g.stamps) < g.max {
			g.stamps = append(g.stamps, now)
			g.mu.Unlock()
			return nil
		}
		wait := g.stamps[0].Add(g.window).Sub(now)
		g.mu.Unlock()

		if err := sleepWithContext(ctx, wait); err != nil {
			return err
		}
	}
}

// prune drops stamps that have aged out of the window. Callers hold g.mu.
func (g *gate) prune(now time.Time) {
	cutoff := now.Add(-g.window)
	i := 0
	for i < len(g.stamps) && !g.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		g.stamps = append(g.stamps[:0], g.stamps[i:]...)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
