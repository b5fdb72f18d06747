// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lists

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/stagecache/internal/log"
	"github.com/ManuGH/stagecache/internal/planner"
	"github.com/ManuGH/stagecache/internal/plex"
	"github.com/ManuGH/stagecache/internal/tracker"
)

// refreshParallelism bounds concurrent list refreshes. The upstream
// client serializes its own traffic anyway; this only keeps custom URL
// feeds from piling up.
const refreshParallelism = 4

// Matcher is the library-resolution slice of the upstream client.
type Matcher interface {
	MatchLibrary(ctx context.Context, q plex.MatchQuery) (plex.MediaRef, bool, error)
}

// Resolver turns import lists into cache candidates. Feeds refresh on
// their own period; between refreshes the last resolved snapshot keeps
// contributing candidates so list-caused entries do not look abandoned
// to retention.
type Resolver struct {
	registry *Registry
	matcher  Matcher
	store    *tracker.Store
	logger   zerolog.Logger

	mu        sync.Mutex
	snapshots map[string]snapshot
}

type snapshot struct {
	candidates []planner.Candidate
	scanned    int
}

// NewResolver wires the registry to the library matcher and the tracker.
func NewResolver(registry *Registry, matcher Matcher, store *tracker.Store) *Resolver {
	return &Resolver{
		registry:  registry,
		matcher:   matcher,
		store:     store,
		logger:    log.WithComponent("lists"),
		snapshots: make(map[string]snapshot),
	}
}

// Candidates refreshes every due list and returns the candidates of all
// configured lists, stale snapshots included. A provider failure marks
// its list stale and counts one failure; only a tracker read error fails
// the phase itself.
func (r *Resolver) Candidates(ctx context.Context) (planner.PhaseResult, error) {
	all, err := r.store.Lists(ctx)
	if err != nil {
		return planner.PhaseResult{}, err
	}
	now := time.Now()

	var mu sync.Mutex
	var res planner.PhaseResult
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshParallelism)
	for _, l := range all {
		g.Go(func() error {
			snap, refreshed, err := r.refresh(gctx, l, now, false)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failures++
				r.logger.Warn().
					Str("event", "lists.refresh.failed").
					Str("list", l.Name).
					Str("provider", l.ProviderKind).
					Err(err).
					Msg("list refresh failed, serving last snapshot")
			}
			res.Candidates = append(res.Candidates, snap.candidates...)
			if refreshed {
				res.Scanned += snap.scanned
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(res.Candidates, func(i, j int) bool {
		a, b := res.Candidates[i], res.Candidates[j]
		if a.Cause != b.Cause {
			return a.Cause < b.Cause
		}
		return a.LogicalPath < b.LogicalPath
	})
	return res, nil
}

// RefreshList forces one list to refresh now, regardless of its period.
func (r *Resolver) RefreshList(ctx context.Context, id string) error {
	l, err := r.store.ListByID(ctx, id)
	if err != nil {
		return err
	}
	_, _, err = r.refresh(ctx, *l, time.Now(), true)
	return err
}

// Forget drops the cached snapshot of a removed list.
func (r *Resolver) Forget(id string) {
	r.mu.Lock()
	delete(r.snapshots, id)
	r.mu.Unlock()
}

// refresh fetches and resolves one list when due or forced, falling back
// to the cached snapshot otherwise. A snapshot is only replaced by a
// fully resolved successor; partial results never overwrite it.
func (r *Resolver) refresh(ctx context.Context, l tracker.ImportList, now time.Time, force bool) (snapshot, bool, error) {
	r.mu.Lock()
	snap, cached := r.snapshots[l.ID]
	r.mu.Unlock()

	due := force || !cached || l.LastRefreshed.IsZero() ||
		now.Sub(l.LastRefreshed) >= l.RefreshPeriod
	if !due {
		return snap, false, nil
	}

	provider, err := r.registry.Provider(l.ProviderKind)
	if err != nil {
		return snap, false, err
	}
	items, err := provider.Refresh(ctx, l.ProviderConfig)
	if err != nil {
		return snap, false, fmt.Errorf("%w: list %q: %v", ErrProvider, l.Name, err)
	}
	candidates, scanned, err := r.resolve(ctx, l, items)
	if err != nil {
		return snap, false, fmt.Errorf("%w: list %q: resolve: %v", ErrProvider, l.Name, err)
	}

	fresh := snapshot{candidates: candidates, scanned: scanned}
	r.mu.Lock()
	r.snapshots[l.ID] = fresh
	r.mu.Unlock()

	if err := r.store.MarkListRefreshed(ctx, l.ID, now); err != nil {
		r.logger.Warn().
			Str("event", "lists.mark_refreshed.failed").
			Str("list", l.Name).
			Err(err).
			Msg("refresh succeeded but timestamp not recorded")
	}
	r.logger.Info().
		Str("event", "lists.refreshed").
		Str("list", l.Name).
		Str("provider", l.ProviderKind).
		Int("items", scanned).
		Int("matched", len(candidates)).
		Msg("list refreshed")
	return fresh, true, nil
}

// resolve matches feed items against the library. strict mode considers
// only the first CountCap items and drops what it cannot match; fill
// mode keeps scanning the feed until CountCap items matched or the feed
// ran out.
func (r *Resolver) resolve(ctx context.Context, l tracker.ImportList, items []Item) ([]planner.Candidate, int, error) {
	cause := tracker.CauseListPrefix + l.Name
	priority := planner.PriorityList + l.PriorityBias

	var out []planner.Candidate
	scanned := 0
	for _, item := range items {
		if l.CountCap > 0 {
			if l.Mode == tracker.ListModeStrict && scanned >= l.CountCap {
				break
			}
			if len(out) >= l.CountCap {
				break
			}
		}
		scanned++

		ref, found, err := r.matcher.MatchLibrary(ctx, matchQuery(item))
		if err != nil {
			return nil, scanned, err
		}
		if !found || ref.LogicalPath == "" {
			continue
		}
		out = append(out, planner.Candidate{
			LogicalPath: ref.LogicalPath,
			Priority:    priority,
			SizeHint:    ref.SizeHint,
			Cause:       cause,
		})
	}
	return out, scanned, nil
}

// matchQuery folds one feed item into the upstream's query shape.
// External IDs go back to canonical "scheme://id" form, sorted so the
// match cache key is stable.
func matchQuery(item Item) plex.MatchQuery {
	q := plex.MatchQuery{Title: item.Title, Year: item.Year}
	for scheme, id := range item.ExternalIDs {
		if scheme == "" || id == "" {
			continue
		}
		q.ExternalIDs = append(q.ExternalIDs, scheme+"://"+id)
	}
	sort.Strings(q.ExternalIDs)
	return q
}
