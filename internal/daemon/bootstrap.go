// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/stagecache/internal/audit"
	"github.com/ManuGH/stagecache/internal/cache"
	"github.com/ManuGH/stagecache/internal/command"
	"github.com/ManuGH/stagecache/internal/config"
	"github.com/ManuGH/stagecache/internal/cycle"
	"github.com/ManuGH/stagecache/internal/events"
	"github.com/ManuGH/stagecache/internal/health"
	"github.com/ManuGH/stagecache/internal/lists"
	"github.com/ManuGH/stagecache/internal/lock"
	"github.com/ManuGH/stagecache/internal/log"
	netpolicy "github.com/ManuGH/stagecache/internal/platform/net"
	"github.com/ManuGH/stagecache/internal/planner"
	"github.com/ManuGH/stagecache/internal/plex"
	"github.com/ManuGH/stagecache/internal/relocate"
	"github.com/ManuGH/stagecache/internal/telemetry"
	"github.com/ManuGH/stagecache/internal/tracker"
	"github.com/ManuGH/stagecache/internal/validation"
)

// ErrStorage marks persistent-store failures the daemon cannot start
// over: an unopenable tracker, a failed relocation recovery, an
// unusable data directory. main maps it to its own exit code.
var ErrStorage = errors.New("unrecoverable storage")

// memoryCacheCleanup is the janitor interval for in-memory fallback
// caches when the persistent KV backend cannot be opened.
const memoryCacheCleanup = 10 * time.Minute

// staleCycleFactor grades readiness: a last cycle older than this many
// periods counts as stale.
const staleCycleFactor = 3

// Bootstrap builds the full component graph from a validated snapshot
// and returns an App ready to Run. Construction order matches the
// startup sequence: upstream client, pre-flight checks, instance lock,
// tracker, then everything that hangs off them. On error every resource
// acquired so far is released.
func Bootstrap(ctx context.Context, snap config.Snapshot, holder *config.Holder, version string) (*App, error) {
	logger := log.WithComponent("bootstrap")

	var cleanups []func()
	ok := false
	defer func() {
		if ok {
			return
		}
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	tokenCache, matchCache := buildKVCaches(snap, logger, &cleanups)

	// Without a configured upstream the daemon still runs: the stand-in
	// client fails every discovery call the way an outage would, and the
	// startup probe is skipped instead of warning about unreachability.
	var (
		client     plex.Client
		discoverer lists.Discoverer
		probe      plex.Client
	)
	if snap.App.Plex.BaseURL != "" {
		httpClient, err := plex.NewHTTPClient(snap.App.Plex.BaseURL, plex.Options{
			Token:        snap.App.Plex.Token,
			Timeout:      snap.App.Plex.Timeout,
			MaxRetries:   snap.App.Plex.MaxRetries,
			RetryDelay:   snap.App.Plex.RetryDelay,
			MinGap:       snap.App.Plex.MinGap,
			MaxPerMinute: snap.App.Plex.MaxPerMinute,
			TokenTTL:     snap.App.Plex.TokenCacheTTL,
			MatchTTL:     snap.App.Plex.MatchCacheTTL,
			TokenCache:   tokenCache,
			MatchCache:   matchCache,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: upstream client: %w", config.ErrInvalid, err)
		}
		client, discoverer, probe = httpClient, httpClient, httpClient
	} else {
		stub := plex.NewUnavailable()
		client, discoverer = stub, stub
		logger.Warn().
			Str("event", "bootstrap.no_upstream").
			Msg("plex.base_url not set; discovery disabled until an upstream is configured")
	}

	if err := validation.PerformStartupChecks(ctx, snap.App, probe); err != nil {
		if errors.Is(err, relocate.ErrSymlinkUnsupported) {
			return nil, fmt.Errorf("startup checks: %w", err)
		}
		return nil, fmt.Errorf("%w: startup checks: %w", ErrStorage, err)
	}

	lockHandle, err := lock.Acquire(snap.Paths.LockFile)
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	cleanups = append(cleanups, func() { _ = lockHandle.Release() })

	store, err := tracker.Open(snap.Paths.TrackerDB)
	if err != nil {
		return nil, fmt.Errorf("%w: open tracker at %s: %w", ErrStorage, snap.Paths.TrackerDB, err)
	}
	cleanups = append(cleanups, func() { _ = store.Close() })

	bus := events.NewBus(snap.App.Cycle.SubscriberQueueDepth)
	cleanups = append(cleanups, bus.Close)

	reloc := relocate.New(store, bus, relocate.Options{
		FastRoot:  snap.App.Cache.FastRoot,
		SlowRoots: snap.App.Cache.SlowRoots,
	})
	if err := reloc.Recover(ctx); err != nil {
		return nil, fmt.Errorf("%w: relocation recovery: %w", ErrStorage, err)
	}
	executor := relocate.NewExecutor(reloc, snap.App.Cache.MaxConcurrentRelocations)

	registry := lists.NewRegistry(discoverer, netpolicy.Policy{
		Enabled: snap.App.Network.Outbound.Enabled,
		Allow: netpolicy.Allowlist{
			Hosts:   snap.App.Network.Outbound.AllowHosts,
			CIDRs:   snap.App.Network.Outbound.AllowCIDRs,
			Ports:   snap.App.Network.Outbound.AllowPorts,
			Schemes: snap.App.Network.Outbound.AllowSchemes,
		},
	})
	resolver := lists.NewResolver(registry, client, store)
	if err := seedLists(ctx, store, snap.App.Lists, logger); err != nil {
		return nil, fmt.Errorf("%w: seed import lists: %w", ErrStorage, err)
	}

	journal := cycle.NewJournal(snap.Paths.CyclesDir, snap.App.Cycle.ResultsKeep)
	runner := cycle.NewRunner(cycle.Options{
		Config:    holder,
		Store:     store,
		Client:    client,
		Planner:   planner.New(client, store, snap.App.Activity),
		Lists:     resolver,
		Executor:  executor,
		Relocator: reloc,
		Sink:      bus,
		Journal:   journal,
	})
	sched := cycle.NewScheduler(runner, snap.App.Cycle.Period)

	auditLog := audit.NewLogger()
	commands := command.New(command.Options{
		Store:     store,
		Relocator: reloc,
		Cycles:    sched,
		Registry:  registry,
		Resolver:  resolver,
		Sink:      bus,
		Audit:     auditLog,
	})

	healthMgr := buildHealth(snap, version, store, client, sched)

	var provider *telemetry.Provider
	if snap.App.Telemetry.Enabled {
		provider, err = telemetry.NewProvider(ctx, telemetry.Config{
			Enabled:        true,
			ServiceName:    snap.App.LogService,
			ServiceVersion: version,
			Environment:    snap.App.Telemetry.Environment,
			ExporterType:   snap.App.Telemetry.Exporter,
			Endpoint:       snap.App.Telemetry.Endpoint,
			SamplingRate:   snap.App.Telemetry.SamplingRate,
		})
		if err != nil {
			return nil, fmt.Errorf("telemetry provider: %w", err)
		}
		cleanups = append(cleanups, func() {
			_ = provider.Shutdown(context.WithoutCancel(ctx))
		})
	}

	manager, err := NewManager(Deps{
		Snapshot:  snap,
		Scheduler: sched,
		Commands:  commands,
		Health:    healthMgr,
	})
	if err != nil {
		return nil, err
	}

	// Hooks run LIFO at shutdown: the bus closes first so nothing
	// publishes into closed stores, the lock releases last.
	manager.RegisterShutdownHook("instance_lock", func(context.Context) error {
		return lockHandle.Release()
	})
	manager.RegisterShutdownHook("tracker", func(context.Context) error {
		return store.Close()
	})
	registerCacheHook(manager, "token_cache", tokenCache)
	registerCacheHook(manager, "match_cache", matchCache)
	if provider != nil {
		manager.RegisterShutdownHook("telemetry", provider.Shutdown)
	}
	manager.RegisterShutdownHook("event_bus", func(context.Context) error {
		bus.Close()
		return nil
	})

	ok = true
	return NewApp(manager, holder, auditLog, version), nil
}

// buildKVCaches opens the persistent token and match caches. A badger
// directory that will not open degrades to an in-memory cache instead of
// failing startup; when redis is configured the match cache lives there
// so several daemons can share library match results.
func buildKVCaches(snap config.Snapshot, logger zerolog.Logger, cleanups *[]func()) (cache.Cache, cache.Cache) {
	tokenCache := openBadger(filepath.Join(snap.Paths.KVDir, "tokens"), "token_cache", logger, cleanups)

	if snap.App.Redis.Enabled {
		matchCache, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:     snap.App.Redis.Addr,
			Password: snap.App.Redis.Password,
			DB:       snap.App.Redis.DB,
		}, logger)
		if err == nil {
			*cleanups = append(*cleanups, func() { _ = matchCache.Close() })
			return tokenCache, matchCache
		}
		logger.Warn().
			Err(err).
			Str("addr", snap.App.Redis.Addr).
			Str("event", "bootstrap.redis_unavailable").
			Msg("redis match cache unavailable, using local cache")
	}

	return tokenCache, openBadger(filepath.Join(snap.Paths.KVDir, "match"), "match_cache", logger, cleanups)
}

func openBadger(dir, name string, logger zerolog.Logger, cleanups *[]func()) cache.Cache {
	c, err := cache.NewBadgerCache(dir, logger)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("dir", dir).
			Str("cache", name).
			Str("event", "bootstrap.kv_open_failed").
			Msg("persistent cache unavailable, falling back to memory")
		return cache.NewMemoryCache(memoryCacheCleanup)
	}
	*cleanups = append(*cleanups, func() { _ = c.Close() })
	return c
}

// seedLists inserts configured import lists that the tracker does not
// know yet. Lists already present keep their stored settings; changing a
// live list is a command, not a config edit.
func seedLists(ctx context.Context, store *tracker.Store, defs []config.ListDefinition, logger zerolog.Logger) error {
	for _, def := range defs {
		_, err := store.AddList(ctx, tracker.ImportList{
			Name:           def.Name,
			ProviderKind:   def.Provider,
			ProviderConfig: def.Config,
			PriorityBias:   def.PriorityBias,
			RefreshPeriod:  def.RefreshPeriod,
			Mode:           tracker.ListMode(def.Mode),
			CountCap:       def.CountCap,
		})
		if err != nil {
			if errors.Is(err, tracker.ErrConflict) {
				logger.Debug().
					Str("list", def.Name).
					Str("event", "bootstrap.list_exists").
					Msg("configured list already tracked")
				continue
			}
			return fmt.Errorf("list %q: %w", def.Name, err)
		}
		logger.Info().
			Str("list", def.Name).
			Str("provider", def.Provider).
			Str("event", "bootstrap.list_seeded").
			Msg("seeded configured import list")
	}
	return nil
}

// buildHealth assembles the checker roster. The tracker ping and the
// fast tier gate readiness; the upstream probe is informational because
// already cached files outlive an upstream outage. An unconfigured fast
// tier registers no checker, readiness would otherwise never come up in
// setup mode.
func buildHealth(snap config.Snapshot, version string, store *tracker.Store, client plex.Client, sched *cycle.Scheduler) *health.Manager {
	m := health.NewManager(version)

	m.RegisterChecker(health.NewProbeChecker("tracker", 0, func(ctx context.Context) error {
		return store.DB().PingContext(ctx)
	}))
	if snap.App.Cache.FastRoot != "" {
		m.RegisterChecker(health.NewWritableDirChecker("fast_tier", snap.App.Cache.FastRoot))
	}
	m.RegisterChecker(health.Informational(health.NewProbeChecker("upstream", 0, func(ctx context.Context) error {
		_, err := client.ActiveSessions(ctx)
		return err
	})))
	m.RegisterChecker(health.NewLastCycleChecker(sched.LastOutcome, staleCycleFactor*snap.App.Cycle.Period))

	return m
}

// registerCacheHook closes a KV cache at shutdown when its backend holds
// real resources. Memory fallbacks expose no closer and need none.
func registerCacheHook(m *Manager, name string, c cache.Cache) {
	closer, okc := c.(interface{ Close() error })
	if !okc {
		return
	}
	m.RegisterShutdownHook(name, func(context.Context) error {
		return closer.Close()
	})
}
