// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package cycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/stagecache/internal/log"
)

// DefaultPeriod is the cycle interval when the configuration leaves it
// unset.
const DefaultPeriod = 5 * time.Minute

// CycleRunner executes one full cycle under the given ID. Implemented
// by Runner; tests substitute fakes.
type CycleRunner interface {
	Run(ctx context.Context, id string) Result
}

// Scheduler serializes cycles: one runs at a time, started by the
// periodic ticker or an operator trigger. A trigger that lands while a
// cycle is queued joins it; one that lands while a cycle is running
// schedules exactly one follow-up run. Ticks that fire mid-run are
// dropped by the ticker's one-slot buffer.
type Scheduler struct {
	runner CycleRunner
	period time.Duration
	logger zerolog.Logger

	mu       sync.Mutex
	pending  string
	wake     chan struct{}
	lastRun  time.Time
	lastNote string
}

// NewScheduler wraps runner in a periodic loop. A non-positive period
// falls back to DefaultPeriod.
func NewScheduler(runner CycleRunner, period time.Duration) *Scheduler {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Scheduler{
		runner: runner,
		period: period,
		logger: log.WithComponent("cycle"),
		wake:   make(chan struct{}, 1),
	}
}

// Trigger requests a cycle and returns its ID. While a request is still
// queued, further triggers return the same ID instead of stacking runs.
func (s *Scheduler) Trigger() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == "" {
		s.pending = uuid.NewString()
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return s.pending
}

// Run executes cycles until ctx is cancelled. The first cycle starts
// immediately rather than waiting out a full period.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().
		Str("event", "cycle.scheduler.start").
		Dur("period", s.period).
		Msg("cycle scheduler running")

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	// Initial run directly, then on the ticker.
	s.runPending(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Str("event", "cycle.scheduler.stop").Msg("cycle scheduler stopped")
			return nil
		case <-ticker.C:
			s.runPending(ctx)
		case <-s.wake:
			s.runPending(ctx)
		}
	}
}

// runPending runs one cycle, then keeps going while triggers arrived
// mid-run. Requests that landed during a run were not observed by it,
// so they get their own.
func (s *Scheduler) runPending(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		id := s.takePending()
		if id == "" {
			id = uuid.NewString()
		}
		res := s.runner.Run(ctx, id)

		s.mu.Lock()
		s.lastRun = res.EndedAt
		s.lastNote = outcomeNote(res)
		more := s.pending != ""
		s.mu.Unlock()
		if !more {
			return
		}
	}
}

// LastOutcome reports when the most recent cycle finished and, for runs
// that did not complete cleanly, a short description. Zero time means no
// cycle has run yet.
func (s *Scheduler) LastOutcome() (time.Time, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastNote
}

func outcomeNote(res Result) string {
	switch {
	case res.Aborted:
		return "aborted: " + res.AbortReason
	case res.Errors > 0:
		return fmt.Sprintf("%d operations failed", res.Errors)
	default:
		return ""
	}
}

// takePending claims the queued request, consuming its wake token so a
// rerun picked up here does not echo as a second run through the select
// loop.
func (s *Scheduler) takePending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.pending
	s.pending = ""
	if id != "" {
		select {
		case <-s.wake:
		default:
		}
	}
	return id
}
