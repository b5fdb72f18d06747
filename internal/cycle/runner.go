// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package cycle

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/stagecache/internal/config"
	"github.com/ManuGH/stagecache/internal/events"
	"github.com/ManuGH/stagecache/internal/lists"
	"github.com/ManuGH/stagecache/internal/log"
	"github.com/ManuGH/stagecache/internal/metrics"
	"github.com/ManuGH/stagecache/internal/planner"
	"github.com/ManuGH/stagecache/internal/plex"
	"github.com/ManuGH/stagecache/internal/policy"
	"github.com/ManuGH/stagecache/internal/relocate"
	"github.com/ManuGH/stagecache/internal/tracker"
)

// Phase names, in execution order. Discovery phases collect candidates;
// retention and eviction move bytes; reconcile squares the tracker with
// the filesystem.
const (
	PhaseDiscoverUsers = "discover_users"
	PhaseActive        = "active"
	PhaseOnDeck        = "ondeck"
	PhaseWatchlist     = "watchlist"
	PhaseLists         = "lists"
	PhaseRetention     = "retention"
	PhaseEviction      = "eviction"
	PhaseReconcile     = "reconcile"
)

// errorBudget aborts the cycle once this share of its scheduled
// relocations has failed. Enumeration failures do not count; a flaky
// upstream degrades a cycle, a failing disk stops it.
const errorBudget = 0.25

// Abort reasons recorded in the journal.
const (
	abortCancelled = "cancelled"
	abortBudget    = "error_budget_exceeded"
	abortTracker   = "tracker_unavailable"
)

// ConfigSource hands out the configuration snapshot a cycle runs under.
// Implemented by config.Holder.
type ConfigSource interface {
	Snapshot() config.Snapshot
}

// Options wires a Runner. Lists may be nil when no import lists are
// configured; Sink may be nil to discard events.
type Options struct {
	Config    ConfigSource
	Store     *tracker.Store
	Client    plex.Client
	Planner   *planner.Planner
	Lists     *lists.Resolver
	Executor  *relocate.Executor
	Relocator *relocate.Relocator
	Sink      events.Sink
	Journal   *Journal
}

// Runner executes one cycle at a time. It owns no goroutines and no
// state between runs; everything a run needs rides in its cycleRun.
type Runner struct {
	cfg     ConfigSource
	store   *tracker.Store
	client  plex.Client
	planner *planner.Planner
	lists   *lists.Resolver
	exec    *relocate.Executor
	reloc   *relocate.Relocator
	sink    events.Sink
	journal *Journal
	logger  zerolog.Logger
}

// NewRunner assembles the cycle pipeline from its parts.
func NewRunner(opts Options) *Runner {
	sink := opts.Sink
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Runner{
		cfg:     opts.Config,
		store:   opts.Store,
		client:  opts.Client,
		planner: opts.Planner,
		lists:   opts.Lists,
		exec:    opts.Executor,
		reloc:   opts.Relocator,
		sink:    sink,
		journal: opts.Journal,
		logger:  log.WithComponent("cycle"),
	}
}

// cycleRun is one run's working state. The configuration snapshot is
// taken once at the start; a reload mid-cycle applies to the next run.
type cycleRun struct {
	id   string
	snap config.Snapshot
	res  Result

	scheduled int // relocations the plan called for
	attempted int // relocations started (completed or failed)
	failed    int
	overflow  bool
	fatal     bool
}

// Run executes one full cycle and returns its journal record. The
// returned result is always complete: an aborted or cancelled run still
// carries the totals of the phases that ran.
func (r *Runner) Run(ctx context.Context, id string) Result {
	run := &cycleRun{
		id:   id,
		snap: r.cfg.Snapshot(),
		res:  Result{ID: id, StartedAt: time.Now().UTC()},
	}

	r.logger.Info().Str("event", "cycle.start").Str("cycle_id", id).Msg("cycle started")
	r.sink.Publish(events.New(events.TypeCycleStart, events.Cycle{CycleID: id}))

	r.runPhases(ctx, run)

	run.res.EndedAt = time.Now().UTC()
	r.finish(ctx, run)
	return run.res
}

// runPhases walks the phase sequence. Cancellation is honored between
// phases and between relocations; work already in flight completes or
// rolls back on its own.
func (r *Runner) runPhases(ctx context.Context, run *cycleRun) {
	users := r.discoverUsers(ctx, run)
	if r.abortIfCancelled(ctx, run) {
		return
	}
	eligible := r.planner.Eligible(users)

	active := r.candidatePhase(ctx, run, PhaseActive, func(ctx context.Context) (planner.PhaseResult, error) {
		return r.planner.Active(ctx, users)
	})
	if r.abortIfCancelled(ctx, run) {
		return
	}
	ondeck := r.candidatePhase(ctx, run, PhaseOnDeck, func(ctx context.Context) (planner.PhaseResult, error) {
		return r.planner.OnDeck(ctx, eligible)
	})
	if r.abortIfCancelled(ctx, run) {
		return
	}
	watchlist := r.candidatePhase(ctx, run, PhaseWatchlist, func(ctx context.Context) (planner.PhaseResult, error) {
		return r.planner.Watchlist(ctx, eligible)
	})
	if r.abortIfCancelled(ctx, run) {
		return
	}

	var listed planner.PhaseResult
	if r.lists != nil {
		listed = r.candidatePhase(ctx, run, PhaseLists, func(ctx context.Context) (planner.PhaseResult, error) {
			return r.lists.Candidates(ctx)
		})
		if r.abortIfCancelled(ctx, run) {
			return
		}
	}

	merged := planner.Merge(active.Candidates, ondeck.Candidates, watchlist.Candidates, listed.Candidates)

	plan, ok := r.buildPlan(ctx, run, merged)
	if !ok || r.abortIfCancelled(ctx, run) {
		return
	}

	r.applyPlan(ctx, run, plan)
	if run.res.Aborted && run.res.AbortReason == abortBudget && ctx.Err() == nil {
		// An aborted run must still leave no entry stuck mid-relocation.
		r.sweepLifecycle(ctx)
		return
	}
	if r.abortIfCancelled(ctx, run) {
		return
	}

	r.reconcile(ctx, run)
	r.abortIfCancelled(ctx, run)
}

// abortIfCancelled reports whether the run is over: already aborted,
// fatally failed, or freshly cancelled.
func (r *Runner) abortIfCancelled(ctx context.Context, run *cycleRun) bool {
	if run.res.Aborted || run.fatal {
		return true
	}
	if ctx.Err() != nil {
		run.res.Aborted = true
		run.res.AbortReason = abortCancelled
		r.logger.Info().Str("event", "cycle.cancelled").Str("cycle_id", run.id).Msg("cycle cancelled")
		return true
	}
	return false
}

// discoverUsers refreshes the user table from upstream. When upstream
// is down the cycle carries on with the users it already knows; stale
// knowledge still lets retention and reconcile do their work.
func (r *Runner) discoverUsers(ctx context.Context, run *cycleRun) []tracker.User {
	var totals PhaseTotals
	users, err := r.planner.DiscoverUsers(ctx)
	if err != nil && ctx.Err() == nil {
		totals.Errors++
		metrics.IncCycleStageFailure("discover")
		r.logger.Warn().
			Str("event", "cycle.discover.failed").
			Str("cycle_id", run.id).
			Err(err).
			Msg("user discovery failed, falling back to known users")
		known, kerr := r.store.Users(ctx)
		if kerr != nil {
			totals.Errors++
			r.logger.Error().
				Str("event", "cycle.discover.fallback_failed").
				Err(kerr).
				Msg("stored users unavailable")
		}
		users = known
	}
	totals.Scanned = len(users)
	run.res.record(PhaseDiscoverUsers, totals)
	r.progress(run, PhaseDiscoverUsers)
	return users
}

// candidatePhase runs one discovery phase and folds its outcome into
// the journal. Per-user and per-list failures already arrive counted in
// the phase result; only a phase-level error (a tracker read, never
// cancellation) adds on top.
func (r *Runner) candidatePhase(ctx context.Context, run *cycleRun, name string, fn func(context.Context) (planner.PhaseResult, error)) planner.PhaseResult {
	res, err := fn(ctx)
	totals := PhaseTotals{Scanned: res.Scanned, Errors: res.Failures}
	if err != nil && ctx.Err() == nil {
		totals.Errors++
		metrics.IncCycleStageFailure("discover")
		r.logger.Warn().
			Str("event", "cycle.phase.failed").
			Str("cycle_id", run.id).
			Str("phase", name).
			Err(err).
			Msg("discovery phase failed")
	}
	run.res.record(name, totals)
	r.progress(run, name)
	return res
}

// buildPlan reads the tracker's view of the fast tier and asks the
// policy for marching orders. Losing the tracker here is fatal: without
// its state any plan would be a guess.
func (r *Runner) buildPlan(ctx context.Context, run *cycleRun, merged []planner.Candidate) (policy.Plan, bool) {
	occupied, err := r.store.EntriesInStatus(ctx, tracker.StatusActive, tracker.StatusStaging, tracker.StatusPendingRemoval)
	if err != nil {
		if ctx.Err() == nil {
			run.fatal = true
			run.res.Aborted = true
			run.res.AbortReason = abortTracker
			metrics.IncCycleStageFailure("plan")
			r.logger.Error().
				Str("event", "cycle.plan.failed").
				Str("cycle_id", run.id).
				Err(err).
				Msg("tracker unavailable, aborting cycle")
		}
		return policy.Plan{}, false
	}
	var used int64
	var active []tracker.Entry
	for _, e := range occupied {
		used += e.SizeBytes
		if e.Status == tracker.StatusActive {
			active = append(active, e)
		}
	}

	// Refetch sessions just before planning so eviction protection sees
	// playback that started during discovery. If the refetch fails, the
	// active candidates gathered earlier stand in.
	sessions, err := r.client.ActiveSessions(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return policy.Plan{}, false
		}
		sessions = sessions[:0]
		for _, c := range merged {
			if c.Cause == tracker.CauseActive {
				sessions = append(sessions, plex.Session{UserID: c.CauseUserID, LogicalPath: c.LogicalPath})
			}
		}
		r.logger.Warn().
			Str("event", "cycle.sessions.failed").
			Str("cycle_id", run.id).
			Err(err).
			Msg("session refetch failed, protecting discovered candidates only")
	}

	plan := policy.BuildPlan(policy.Inputs{
		Candidates: merged,
		Active:     active,
		LimitBytes: run.snap.App.Cache.FastLimitBytes,
		UsedBytes:  used,
		Retention:  run.snap.App.Retention,
		Sessions:   sessions,
		Now:        time.Now(),
	})
	run.scheduled = len(plan.Restores) + len(plan.Admissions)
	run.overflow = plan.Overflow

	r.logger.Info().
		Str("event", "cycle.plan").
		Str("cycle_id", run.id).
		Int("candidates", len(merged)).
		Int("restores", len(plan.Restores)).
		Int("admissions", len(plan.Admissions)).
		Int("refreshes", len(plan.Refreshes)).
		Int("rejected", len(plan.Rejected)).
		Int64("projected_used_bytes", plan.ProjectedUsedBytes).
		Msg("cycle plan built")
	return plan, true
}

// applyPlan executes the plan: retention restores first, then the
// eviction phase (displacements, admissions, refreshes). The error
// budget is checked after every batch.
func (r *Runner) applyPlan(ctx context.Context, run *cycleRun, plan policy.Plan) {
	var expired, displaced []tracker.Entry
	for _, restore := range plan.Restores {
		if restore.Reason == policy.ReasonRetention {
			expired = append(expired, restore.Entry)
		} else {
			displaced = append(displaced, restore.Entry)
		}
	}

	if !r.retentionPhase(ctx, run, expired) {
		return
	}
	if ctx.Err() != nil {
		return
	}
	r.evictionPhase(ctx, run, displaced, plan)
}

// retentionPhase sends entries whose retention window ran out back to
// the slow tier. Returns false when the error budget tripped.
func (r *Runner) retentionPhase(ctx context.Context, run *cycleRun, expired []tracker.Entry) bool {
	totals := PhaseTotals{Scanned: len(expired)}
	res := r.exec.RestoreAll(ctx, expired, policy.ReasonRetention)
	totals.Restored = res.Completed
	totals.Errors = res.Failed
	for i := 0; i < res.Completed; i++ {
		metrics.IncEviction("expired")
	}
	if res.Failed > 0 {
		metrics.IncCycleStageFailure("restore")
	}
	run.attempted += res.Completed + res.Failed
	run.failed += res.Failed
	run.res.record(PhaseRetention, totals)
	r.progress(run, PhaseRetention)

	if r.budgetExceeded(run) {
		r.abortOnBudget(run)
		return false
	}
	return true
}

// evictionPhase makes room and fills it: displaced entries leave,
// admissions land, already-cached candidates get their renewed interest
// recorded.
func (r *Runner) evictionPhase(ctx context.Context, run *cycleRun, displaced []tracker.Entry, plan policy.Plan) {
	totals := PhaseTotals{Scanned: len(displaced) + len(plan.Admissions) + len(plan.Refreshes)}
	defer func() {
		run.res.record(PhaseEviction, totals)
		r.progress(run, PhaseEviction)
	}()

	res := r.exec.RestoreAll(ctx, displaced, policy.ReasonEvicted)
	totals.Evicted = res.Completed
	totals.Errors += res.Failed
	for i := 0; i < res.Completed; i++ {
		metrics.IncEviction("displaced")
	}
	if res.Failed > 0 {
		metrics.IncCycleStageFailure("evict")
	}
	run.attempted += res.Completed + res.Failed
	run.failed += res.Failed
	if r.budgetExceeded(run) {
		r.abortOnBudget(run)
		return
	}
	if ctx.Err() != nil {
		return
	}

	admissions := plan.Admissions
	if run.failed > 0 {
		// Failed restores left their bytes on the fast tier, so the
		// plan's arithmetic no longer holds. Re-admit against what is
		// actually there.
		admissions = r.recheckAdmissions(ctx, run, admissions)
	}
	reqs := make([]relocate.CacheRequest, 0, len(admissions))
	for _, c := range admissions {
		reqs = append(reqs, relocate.CacheRequest{
			LogicalPath: c.LogicalPath,
			Attr:        tracker.Attribution{Cause: c.Cause, UserID: c.CauseUserID},
		})
	}
	ares := r.exec.CacheAll(ctx, reqs)
	totals.Cached = ares.Completed
	totals.Errors += ares.Failed
	if ares.Failed > 0 {
		metrics.IncCycleStageFailure("admit")
	}
	run.attempted += ares.Completed + ares.Failed
	run.failed += ares.Failed
	if r.budgetExceeded(run) {
		r.abortOnBudget(run)
		return
	}
	if ctx.Err() != nil {
		return
	}

	for _, ref := range plan.Refreshes {
		if ctx.Err() != nil {
			return
		}
		if err := r.store.Touch(ctx, ref.Entry.ID, ref.Candidate.CauseUserID); err != nil {
			totals.Errors++
			r.logger.Warn().
				Str("event", "cycle.refresh.failed").
				Str("entry_id", ref.Entry.ID).
				Str("logical_path", ref.Entry.LogicalPath).
				Err(err).
				Msg("refresh not recorded")
		}
	}
}

// recheckAdmissions requeries actual fast-tier usage and keeps planned
// admissions only while they fit. Active-class candidates stay admitted
// regardless; live playback outranks the limit.
func (r *Runner) recheckAdmissions(ctx context.Context, run *cycleRun, admissions []planner.Candidate) []planner.Candidate {
	occupied, err := r.store.EntriesInStatus(ctx, tracker.StatusActive, tracker.StatusStaging, tracker.StatusPendingRemoval)
	if err != nil {
		r.logger.Warn().
			Str("event", "cycle.recheck.failed").
			Err(err).
			Msg("admission recheck failed, keeping planned admissions")
		return admissions
	}
	var used int64
	for _, e := range occupied {
		used += e.SizeBytes
	}

	limit := run.snap.App.Cache.FastLimitBytes
	kept := make([]planner.Candidate, 0, len(admissions))
	dropped := 0
	for _, c := range admissions {
		if c.Cause == tracker.CauseActive {
			kept = append(kept, c)
			used += c.SizeHint
			if limit > 0 && used > limit {
				run.overflow = true
			}
			continue
		}
		if limit <= 0 || used+c.SizeHint <= limit {
			kept = append(kept, c)
			used += c.SizeHint
			continue
		}
		dropped++
		r.logger.Info().
			Str("event", "cycle.admission.deferred").
			Str("logical_path", c.LogicalPath).
			Int64("size_hint", c.SizeHint).
			Msg("admission deferred, space not freed")
	}
	// Deferred admissions were never started; they leave the budget's
	// denominator with their batch.
	run.scheduled -= dropped
	return kept
}

// budgetExceeded reports whether failed relocations crossed the budget.
func (r *Runner) budgetExceeded(run *cycleRun) bool {
	return run.scheduled > 0 && float64(run.failed) >= errorBudget*float64(run.scheduled)
}

func (r *Runner) abortOnBudget(run *cycleRun) {
	run.res.Aborted = true
	run.res.AbortReason = abortBudget
	r.logger.Error().
		Str("event", "cycle.abort").
		Str("cycle_id", run.id).
		Int("scheduled", run.scheduled).
		Int("failed", run.failed).
		Msg("error budget exceeded, aborting cycle")
}

// sweepLifecycle drives interrupted relocations to a terminal state.
// Safe to call whenever no relocation is in flight.
func (r *Runner) sweepLifecycle(ctx context.Context) {
	if err := r.reloc.Recover(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error().
			Str("event", "cycle.sweep.failed").
			Err(err).
			Msg("lifecycle sweep failed")
	}
}

// progress publishes one cycle_progress event with the run's cumulative
// counters. Subscribers see a monotone stream, one event per phase.
func (r *Runner) progress(run *cycleRun, phase string) {
	r.sink.Publish(events.New(events.TypeCycleProgress, events.Cycle{
		CycleID:        run.id,
		Phase:          phase,
		ItemsProcessed: run.attempted,
		ItemsTotal:     run.scheduled,
		FilesCached:    run.res.Cached,
		FilesRestored:  run.res.Restored + run.res.Evicted,
	}))
}

// finish closes the run out: metrics, the cycle_complete event, the
// journal record, and a stats snapshot for subscribers.
func (r *Runner) finish(ctx context.Context, run *cycleRun) {
	res := &run.res

	switch {
	case run.fatal:
		metrics.IncCycle("failed")
	case res.Aborted:
		metrics.IncCycle("aborted")
	default:
		metrics.IncCycle("completed")
	}
	metrics.ObserveCycleDuration(res.Duration().Seconds())

	r.sink.Publish(events.New(events.TypeCycleComplete, events.Cycle{
		CycleID:        run.id,
		ItemsProcessed: run.attempted,
		ItemsTotal:     run.scheduled,
		FilesCached:    res.Cached,
		FilesRestored:  res.Restored + res.Evicted,
		Aborted:        res.Aborted,
	}))

	evt := r.logger.Info()
	if res.Aborted {
		evt = r.logger.Warn()
	}
	evt.Str("event", "cycle.complete").
		Str("cycle_id", run.id).
		Dur("duration", res.Duration()).
		Int("scanned", res.Scanned).
		Int("cached", res.Cached).
		Int("restored", res.Restored).
		Int("evicted", res.Evicted).
		Int("orphaned", res.Orphaned).
		Int("errors", res.Errors).
		Bool("aborted", res.Aborted).
		Str("abort_reason", res.AbortReason).
		Msg("cycle finished")

	if r.journal != nil {
		if err := r.journal.Write(*res); err != nil {
			r.logger.Error().
				Str("event", "cycle.journal.failed").
				Str("cycle_id", run.id).
				Err(err).
				Msg("cycle result not journaled")
		}
	}

	if ctx.Err() != nil {
		return
	}
	r.publishStats(ctx, run)
}

// publishStats emits the post-cycle stats event and refreshes the
// tracker gauges.
func (r *Runner) publishStats(ctx context.Context, run *cycleRun) {
	stats, err := r.store.Stats(ctx)
	if err != nil {
		r.logger.Warn().
			Str("event", "cycle.stats.failed").
			Err(err).
			Msg("stats snapshot failed")
		return
	}
	limit := run.snap.App.Cache.FastLimitBytes
	usedPct := 0.0
	if limit > 0 {
		usedPct = float64(stats.TotalSizeBytes) / float64(limit) * 100
	}
	health := "healthy"
	switch {
	case stats.ByStatus[tracker.StatusOrphaned] > 0:
		health = "critical"
	case run.overflow || usedPct >= 90:
		health = "warning"
	}

	r.sink.Publish(events.New(events.TypeStats, events.Stats{
		TotalSizeBytes: stats.TotalSizeBytes,
		LimitBytes:     limit,
		UsedPercent:    usedPct,
		FileCount:      stats.FileCount,
		Health:         health,
	}))

	metrics.RecordEntryCounts(
		int(stats.ByStatus[tracker.StatusStaging]),
		int(stats.ByStatus[tracker.StatusActive]),
		int(stats.ByStatus[tracker.StatusPendingRemoval]),
		int(stats.ByStatus[tracker.StatusOrphaned]),
	)
	metrics.RecordFastTierUsage(stats.TotalSizeBytes, limit)
}
