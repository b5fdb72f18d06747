// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/ManuGH/stagecache/internal/config"
	"github.com/ManuGH/stagecache/internal/daemon"
	"github.com/ManuGH/stagecache/internal/lock"
	stclog "github.com/ManuGH/stagecache/internal/log"
	"github.com/ManuGH/stagecache/internal/relocate"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

// Exit codes are part of the contract with process supervisors: restart
// policies key off them, so startup failures must be distinguishable.
const (
	exitOK      = 0
	exitFailure = 1
	exitLocked  = 2
	exitStorage = 3
	exitConfig  = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("stagecache", flag.ContinueOnError)
	showVersion := fs.Bool("version", false, "print version and exit")
	configPath := fs.String("config", "", "path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		return exitOK
	}

	// Safe defaults until the configuration is loaded.
	stclog.Configure(stclog.Config{
		Level:   "info",
		Service: "stagecache",
		Version: version,
	})
	logger := stclog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*configPath, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Error().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
		return exitCode(err)
	}

	snap := config.BuildSnapshot(cfg)

	stclog.Configure(stclog.Config{
		Level:   cfg.LogLevel,
		Output:  logOutput(snap.Paths.LogFile, logger),
		Service: cfg.LogService,
		Version: cfg.Version,
	})
	logger = stclog.WithComponent("main")

	source := "env+defaults"
	if *configPath != "" {
		source = "file"
	}
	logger.Info().
		Str("event", "config.loaded").
		Str("source", source).
		Str("path", *configPath).
		Msg("configuration loaded")

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("fast_root", cfg.Cache.FastRoot).
		Int("slow_roots", len(cfg.Cache.SlowRoots)).
		Dur("cycle_period", cfg.Cycle.Period).
		Str("data_dir", cfg.DataDir).
		Msg("starting stagecache")

	holder := config.NewHolder(snap, config.NewLoader(*configPath, version), *configPath)

	app, err := daemon.Bootstrap(ctx, snap, holder, version)
	if err != nil {
		logger.Error().
			Err(err).
			Str("event", "startup.failed").
			Msg("daemon failed to start")
		return exitCode(err)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon exited with error")
		return exitCode(err)
	}

	logger.Info().Str("event", "daemon.exit").Msg("stagecache stopped")
	return exitOK
}

// exitCode maps an error chain onto the supervisor contract. Anything
// unclassified is a plain failure.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, lock.ErrHeld):
		return exitLocked
	case errors.Is(err, config.ErrInvalid):
		return exitConfig
	case errors.Is(err, relocate.ErrSymlinkUnsupported):
		return exitStorage
	case errors.Is(err, daemon.ErrStorage):
		return exitStorage
	default:
		return exitFailure
	}
}

// logOutput opens the configured log file for appending. An unopenable
// file falls back to stdout rather than blocking startup.
func logOutput(path string, logger zerolog.Logger) io.Writer {
	if path == "" {
		return os.Stdout
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("cannot open log file, logging to stdout")
		return os.Stdout
	}
	return f
}
