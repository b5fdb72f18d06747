// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package policy decides what moves between tiers. BuildPlan is a pure
// function from the cycle's observations (merged candidates, tracker
// state, tier usage) to an ordered action plan; executing the plan is
// the cycle's job.
package policy

import (
	"sort"
	"strings"
	"time"

	"github.com/ManuGH/stagecache/internal/config"
	"github.com/ManuGH/stagecache/internal/planner"
	"github.com/ManuGH/stagecache/internal/plex"
	"github.com/ManuGH/stagecache/internal/tracker"
)

// Removal reasons recorded on restored entries.
const (
	ReasonRetention = "retention_expired"
	ReasonEvicted   = "evicted"
)

// manualPriority ranks operator-pinned entries between automation and
// live playback: a cycle never evicts them for ondeck or watchlist
// candidates, but an active session still wins.
const manualPriority = 900

// RejectReason says why a candidate stayed on the slow tier.
type RejectReason string

const (
	RejectTooLarge RejectReason = "exceeds_limit"
	RejectNoSpace  RejectReason = "no_evictable_space"
)

// Inputs is everything BuildPlan looks at. Candidates must be the
// merged planner output (unique by path, descending priority).
// UsedBytes counts every byte currently occupying the fast tier.
type Inputs struct {
	Candidates []planner.Candidate
	Active     []tracker.Entry
	LimitBytes int64
	UsedBytes  int64
	Retention  config.RetentionSettings
	Sessions   []plex.Session
	Now        time.Time
}

// Restore is one scheduled eviction back to the slow tier.
type Restore struct {
	Entry  tracker.Entry
	Reason string
}

// Refresh marks a candidate that is already cached; the cycle records
// the renewed interest on the entry instead of moving bytes.
type Refresh struct {
	Entry     tracker.Entry
	Candidate planner.Candidate
}

// Rejection is a candidate the plan could not place.
type Rejection struct {
	Candidate planner.Candidate
	Reason    RejectReason
}

// Plan is the cycle's marching orders. Restores are ordered first
// because admissions may depend on the space they free.
type Plan struct {
	Restores   []Restore
	Admissions []planner.Candidate
	Refreshes  []Refresh
	Rejected   []Rejection

	// Overflow is true when an active-class admission pushed projected
	// usage past the limit (the documented soft-ceiling case).
	Overflow bool
	// ProjectedUsedBytes is the expected fast-tier usage after every
	// restore and admission lands.
	ProjectedUsedBytes int64
}

// evictee is an active entry ranked for eviction. Lower sorts first:
// ascending priority, then ascending access count, then older cached_at
// (keep the busier and fresher of equals).
type evictee struct {
	entry    tracker.Entry
	priority int
	taken    bool
}

// BuildPlan computes the action plan for one cycle. It never schedules
// an eviction of an entry whose path has a live session, never admits
// past the limit except for active-class candidates, and orders all
// space-freeing restores ahead of the admissions that need them.
func BuildPlan(in Inputs) Plan {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	wantedByPath := make(map[string]planner.Candidate, len(in.Candidates))
	for _, c := range in.Candidates {
		wantedByPath[c.LogicalPath] = c
	}
	livePaths := make(map[string]struct{}, len(in.Sessions))
	for _, s := range in.Sessions {
		if s.LogicalPath != "" {
			livePaths[s.LogicalPath] = struct{}{}
		}
	}

	var plan Plan
	used := in.UsedBytes
	activeByPath := make(map[string]tracker.Entry, len(in.Active))
	var pool []*evictee

	// Retention pass: unwanted entries whose clock ran out go home now;
	// everything else enters the eviction pool at its rank. Entries with
	// a live session are untouchable either way.
	for _, e := range in.Active {
		activeByPath[e.LogicalPath] = e
		if _, live := livePaths[e.LogicalPath]; live {
			continue
		}
		c, wanted := wantedByPath[e.LogicalPath]
		if wanted {
			pool = append(pool, &evictee{entry: e, priority: c.Priority})
			continue
		}
		window := in.Retention.ForCause(e.CauseOperation)
		if window > 0 && now.Sub(retentionClock(e)) > window {
			plan.Restores = append(plan.Restores, Restore{Entry: e, Reason: ReasonRetention})
			used -= e.SizeBytes
			continue
		}
		pool = append(pool, &evictee{entry: e, priority: classPriority(e.CauseOperation)})
	}

	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		if a.entry.AccessCount != b.entry.AccessCount {
			return a.entry.AccessCount < b.entry.AccessCount
		}
		return a.entry.CachedAt.Before(b.entry.CachedAt)
	})

	// Admission pass, best candidate first.
	for _, c := range in.Candidates {
		if e, cached := activeByPath[c.LogicalPath]; cached {
			plan.Refreshes = append(plan.Refreshes, Refresh{Entry: e, Candidate: c})
			continue
		}
		size := c.SizeHint
		if in.LimitBytes > 0 && size > in.LimitBytes {
			plan.Rejected = append(plan.Rejected, Rejection{Candidate: c, Reason: RejectTooLarge})
			continue
		}
		if in.LimitBytes <= 0 || used+size <= in.LimitBytes {
			plan.Admissions = append(plan.Admissions, c)
			used += size
			continue
		}

		needed := used + size - in.LimitBytes
		tail, freed := takeTail(pool, needed, func(ev *evictee) bool {
			return ev.priority < c.Priority
		})
		if freed >= needed {
			for _, ev := range tail {
				ev.taken = true
				plan.Restores = append(plan.Restores, Restore{Entry: ev.entry, Reason: ReasonEvicted})
				used -= ev.entry.SizeBytes
			}
			plan.Admissions = append(plan.Admissions, c)
			used += size
			continue
		}

		if c.Cause == tracker.CauseActive {
			// Live playback may not be rejected. Free what the non-active
			// pool has and admit anyway; the limit is a soft ceiling here.
			tail, _ := takeTail(pool, needed, func(ev *evictee) bool {
				return ev.entry.CauseOperation != tracker.CauseActive
			})
			for _, ev := range tail {
				ev.taken = true
				plan.Restores = append(plan.Restores, Restore{Entry: ev.entry, Reason: ReasonEvicted})
				used -= ev.entry.SizeBytes
			}
			plan.Admissions = append(plan.Admissions, c)
			used += size
			if used > in.LimitBytes {
				plan.Overflow = true
			}
			continue
		}

		plan.Rejected = append(plan.Rejected, Rejection{Candidate: c, Reason: RejectNoSpace})
	}

	plan.ProjectedUsedBytes = used
	return plan
}

// takeTail collects untaken pool members passing keep, in pool order
// (worst first), until their combined size covers needed or the pool is
// exhausted. The members are not marked taken; the caller commits.
func takeTail(pool []*evictee, needed int64, eligible func(*evictee) bool) ([]*evictee, int64) {
	var tail []*evictee
	var freed int64
	for _, ev := range pool {
		if freed >= needed {
			break
		}
		if ev.taken || !eligible(ev) {
			continue
		}
		tail = append(tail, ev)
		freed += ev.entry.SizeBytes
	}
	return tail, freed
}

// retentionClock is the moment an entry's retention window starts
// counting: its last recorded access, which MarkActive initializes to
// the activation time.
func retentionClock(e tracker.Entry) time.Time {
	if e.LastAccessedAt.After(e.CachedAt) {
		return e.LastAccessedAt
	}
	return e.CachedAt
}

// classPriority ranks an entry that no current candidate wants by the
// class that caused it.
func classPriority(cause string) int {
	switch {
	case cause == tracker.CauseActive:
		return planner.PriorityActive
	case cause == tracker.CauseManual:
		return manualPriority
	case cause == tracker.CauseOnDeck:
		return planner.PriorityOnDeck
	case cause == tracker.CauseWatchlist:
		return planner.PriorityWatchlist
	case strings.HasPrefix(cause, tracker.CauseListPrefix):
		return planner.PriorityList
	default:
		return planner.PriorityList
	}
}
