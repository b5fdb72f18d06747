// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package validation runs the pre-flight checks the daemon performs
// before acquiring the instance lock and opening stores.
package validation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/stagecache/internal/config"
	"github.com/ManuGH/stagecache/internal/log"
	"github.com/ManuGH/stagecache/internal/plex"
	"github.com/ManuGH/stagecache/internal/relocate"
)

const upstreamProbeTimeout = 5 * time.Second

// PerformStartupChecks validates the environment before the daemon
// starts. Tier layout problems are fatal; an unreachable upstream only
// warns, since the cache keeps serving what it already holds.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig, upstream plex.Client) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Str("event", "startup.checks").Msg("running pre-flight checks")

	if err := checkWritableDir(logger, "data directory", cfg.DataDir); err != nil {
		return err
	}
	if cfg.Cache.FastRoot == "" {
		logger.Warn().
			Str("event", "startup.tiers_unconfigured").
			Msg("no tier layout configured; cycles will not cache until cache.fast_root is set")
	} else {
		if err := checkWritableDir(logger, "fast root", cfg.Cache.FastRoot); err != nil {
			return err
		}
		if err := checkTiers(logger, cfg.Cache); err != nil {
			return err
		}
	}
	checkUpstream(ctx, logger, upstream)

	logger.Info().Str("event", "startup.checks_passed").Msg("all startup checks passed")
	return nil
}

func checkWritableDir(logger zerolog.Logger, label, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s does not exist: %s", label, path)
		}
		return fmt.Errorf("%s: %w", label, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory: %s", label, path)
	}

	probe := filepath.Join(path, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("%s is not writable: %s (%v)", label, path, err)
	}
	_ = os.Remove(probe)

	logger.Info().Str("event", "startup.dir_writable").Str("path", path).Msg(label + " is writable")
	return nil
}

// checkTiers probes every slow root for the symlink operations a
// relocation performs. The logical paths live there; a filesystem that
// refuses symlinks can never hold a cached entry's redirect.
func checkTiers(logger zerolog.Logger, cache config.CacheSettings) error {
	for _, root := range cache.SlowRoots {
		info, err := os.Stat(root)
		if err != nil {
			return fmt.Errorf("slow root %s: %w", root, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("slow root is not a directory: %s", root)
		}
		if err := relocate.ProbeSymlinkSupport(root); err != nil {
			return fmt.Errorf("slow root %s: %w", root, err)
		}
		logger.Info().Str("event", "startup.symlink_probe").Str("root", root).Msg("slow root supports symlinks")
	}

	// The fast tier holds plain files, but restores rename across its
	// directories too.
	if err := relocate.ProbeSymlinkSupport(cache.FastRoot); err != nil {
		return fmt.Errorf("fast root %s: %w", cache.FastRoot, err)
	}
	logger.Info().Str("event", "startup.symlink_probe").Str("root", cache.FastRoot).Msg("fast root supports symlinks")
	return nil
}

// checkUpstream probes the media server. Warn only: discovery degrades
// without it, playback of cached files does not.
func checkUpstream(ctx context.Context, logger zerolog.Logger, upstream plex.Client) {
	if upstream == nil {
		logger.Warn().Str("event", "startup.upstream_skipped").Msg("no upstream client configured")
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, upstreamProbeTimeout)
	defer cancel()

	if _, err := upstream.ActiveSessions(probeCtx); err != nil {
		logger.Warn().
			Err(err).
			Str("event", "startup.upstream_unreachable").
			Msg("media server unreachable; discovery will retry during cycles")
		return
	}
	logger.Info().Str("event", "startup.upstream_ok").Msg("media server is reachable")
}
