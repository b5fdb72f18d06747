// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/stagecache/internal/audit"
	"github.com/ManuGH/stagecache/internal/config"
	"github.com/ManuGH/stagecache/internal/log"
)

// App owns the long-lived runtime wiring around the manager: the config
// watcher, the SIGHUP reload trigger and the audit bookends.
type App struct {
	logger       zerolog.Logger
	manager      *Manager
	holder       *config.Holder
	audit        *audit.Logger
	version      string
	reloadSignal os.Signal
}

// NewApp assembles the runtime orchestrator. holder may be nil when
// reload is not wanted (tests); a nil audit logger gets a default one.
func NewApp(manager *Manager, holder *config.Holder, auditLog *audit.Logger, version string) *App {
	if auditLog == nil {
		auditLog = audit.NewLogger()
	}
	return &App{
		logger:       log.WithComponent("daemon"),
		manager:      manager,
		holder:       holder,
		audit:        auditLog,
		version:      version,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts the reload wiring and the manager and blocks until ctx is
// cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	a.audit.DaemonStarted(a.version)

	g, ctx := errgroup.WithContext(ctx)

	// The watcher is best-effort: a daemon that cannot watch its config
	// file still runs, it just needs SIGHUP for changes.
	if a.holder != nil {
		if err := a.holder.StartWatcher(ctx); err != nil {
			a.logger.Warn().
				Err(err).
				Str("event", "config.watcher_start_failed").
				Msg("failed to start config watcher")
		}

		applyCh := make(chan config.Snapshot, 1)
		a.holder.RegisterListener(applyCh)

		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case snap := <-applyCh:
					a.applySnapshot(snap)
				}
			}
		})

		g.Go(func() error {
			return a.reloadOnSignal(ctx)
		})
	}

	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	err := g.Wait()
	if err != nil {
		a.audit.DaemonStopped("error: " + err.Error())
	} else {
		a.audit.DaemonStopped("signal")
	}
	return err
}

// applySnapshot applies the runtime-adjustable parts of a fresh config
// snapshot. Cycles read the holder directly, so only the log level needs
// pushing here.
func (a *App) applySnapshot(snap config.Snapshot) {
	if snap.App.LogLevel == "" {
		return
	}
	if err := log.SetLevel(snap.App.LogLevel); err != nil {
		a.logger.Warn().
			Err(err).
			Str("level", snap.App.LogLevel).
			Str("event", "config.log_level_invalid").
			Msg("ignoring invalid log level from reload")
	}
}

// reloadOnSignal reloads the configuration whenever the reload signal
// arrives. Failed reloads keep the previous snapshot and are audited.
func (a *App) reloadOnSignal(ctx context.Context) error {
	hupChan := make(chan os.Signal, 1)
	signal.Notify(hupChan, a.reloadSignal)
	defer signal.Stop(hupChan)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hupChan:
			a.logger.Info().
				Str("event", "config.reload_signal").
				Str("signal", a.reloadSignal.String()).
				Msg("received reload signal, reloading config")

			if err := a.holder.Reload(ctx); err != nil {
				a.audit.ConfigReloadError(a.reloadSignal.String(), err.Error())
				a.logger.Warn().
					Err(err).
					Str("event", "config.reload_failed").
					Msg("config reload failed, keeping previous configuration")
				continue
			}
			a.audit.ConfigReload(a.reloadSignal.String(), "success", nil)
		}
	}
}
