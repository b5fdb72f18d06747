// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package daemon composes the constructed components into a running
// process: the cycle scheduler, the ops listener and the shutdown
// sequence. Construction lives in Bootstrap, lifecycle in Manager, and
// signal handling in App.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/stagecache/internal/command"
	"github.com/ManuGH/stagecache/internal/log"
)

const (
	// shutdownTimeout bounds the whole stop sequence: draining the ops
	// listener, waiting out the scheduler and running the hooks.
	shutdownTimeout = 30 * time.Second

	opsReadHeaderTimeout = 5 * time.Second
	opsIdleTimeout       = 60 * time.Second
)

// ShutdownHook performs one piece of cleanup during shutdown. Hooks run
// in reverse registration order (LIFO), after the scheduler has stopped.
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// Manager owns the daemon lifecycle. Start blocks until the context is
// cancelled or a component fails, then Shutdown drains the ops listener,
// waits for the in-flight cycle to settle and runs the hooks.
type Manager struct {
	deps   Deps
	logger zerolog.Logger

	opsServer *http.Server

	hooks []namedHook

	cancelRun context.CancelFunc
	schedDone chan struct{}

	started  bool
	stopping bool
	mu       sync.Mutex
}

// NewManager validates the dependency set and returns a manager ready to
// Start.
func NewManager(deps Deps) (*Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}

	return &Manager{
		deps:   deps,
		logger: log.WithComponent("daemon"),
		hooks:  make([]namedHook, 0),
	}, nil
}

// Commands exposes the typed command surface of the composed daemon.
func (m *Manager) Commands() *command.Commands {
	return m.deps.Commands
}

// Start runs the scheduler and the ops listener and blocks until ctx is
// cancelled or a component fails. Either way it finishes with a bounded
// Shutdown.
func (m *Manager) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("start context is nil")
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("manager already started")
	}
	m.started = true

	runCtx, cancel := context.WithCancel(ctx)
	m.cancelRun = cancel
	m.schedDone = make(chan struct{})
	m.mu.Unlock()

	snap := m.deps.Snapshot
	m.logger.Info().
		Str("event", "daemon.starting").
		Str("listen", snap.App.Ops.ListenAddr).
		Dur("cycle_period", snap.App.Cycle.Period).
		Msg("starting daemon manager")

	errChan := make(chan error, 2)

	go func() {
		defer close(m.schedDone)
		if err := m.deps.Scheduler.Run(runCtx); err != nil {
			m.logger.Error().
				Err(err).
				Str("event", "daemon.scheduler_failed").
				Msg("cycle scheduler failed")
			errChan <- fmt.Errorf("cycle scheduler: %w", err)
		}
	}()

	if snap.App.Ops.ListenAddr != "" {
		m.startOpsServer(errChan)
	}

	select {
	case err := <-errChan:
		m.logger.Error().
			Err(err).
			Str("event", "daemon.component_failed").
			Msg("component failed, initiating shutdown")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancelShutdown()
		if shutdownErr := m.Shutdown(shutdownCtx); shutdownErr != nil {
			return fmt.Errorf("component failure and shutdown failure: %w", errors.Join(err, shutdownErr))
		}
		return err
	case <-ctx.Done():
		m.logger.Info().
			Str("event", "daemon.stop_requested").
			Msg("shutdown signal received")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancelShutdown()
		return m.Shutdown(shutdownCtx)
	}
}

// startOpsServer serves health probes and metrics on the configured
// address. Listener failures land on errChan.
func (m *Manager) startOpsServer(errChan chan<- error) {
	snap := m.deps.Snapshot
	m.opsServer = &http.Server{
		Addr:              snap.App.Ops.ListenAddr,
		Handler:           newOpsRouter(m.deps.Health, snap.App.Ops.MetricsEnabled),
		ReadHeaderTimeout: opsReadHeaderTimeout,
		IdleTimeout:       opsIdleTimeout,
	}

	go func() {
		m.logger.Info().
			Str("event", "daemon.ops_listening").
			Str("addr", snap.App.Ops.ListenAddr).
			Bool("metrics", snap.App.Ops.MetricsEnabled).
			Msg("ops listener up")

		if err := m.opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error().
				Err(err).
				Str("event", "daemon.ops_failed").
				Msg("ops listener failed")
			errChan <- fmt.Errorf("ops listener: %w", err)
		}
	}()
}

// Shutdown stops the ops listener, waits for the scheduler goroutine to
// settle and runs the registered hooks in LIFO order. It is idempotent;
// calling it before Start returns ErrManagerNotStarted.
func (m *Manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("shutdown context is nil")
	}

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	cancelRun := m.cancelRun
	m.mu.Unlock()

	m.logger.Info().Str("event", "daemon.stopping").Msg("shutting down daemon manager")

	if cancelRun != nil {
		cancelRun()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var errs []error

	if m.opsServer != nil {
		m.logger.Debug().Str("event", "daemon.ops_draining").Msg("draining ops listener")
		if err := m.opsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("ops listener shutdown: %w", err))
		}
	}

	// The in-flight cycle must settle before the hooks close the tracker
	// and the bus underneath it. Relocations check cancellation between
	// chunks, so this wait is bounded in practice as well as by ctx.
	if m.schedDone != nil {
		select {
		case <-m.schedDone:
		case <-shutdownCtx.Done():
			errs = append(errs, fmt.Errorf("cycle scheduler did not stop: %w", shutdownCtx.Err()))
		}
	}

	m.logger.Debug().
		Int("hooks", len(m.hooks)).
		Str("event", "daemon.hooks_running").
		Msg("executing shutdown hooks")
	for i := len(m.hooks) - 1; i >= 0; i-- {
		hook := m.hooks[i]
		hookStart := time.Now()
		if err := hook.hook(shutdownCtx); err != nil {
			m.logger.Error().
				Err(err).
				Str("hook", hook.name).
				Dur("duration", time.Since(hookStart)).
				Str("event", "daemon.hook_failed").
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", hook.name, err))
			continue
		}
		m.logger.Debug().
			Str("hook", hook.name).
			Dur("duration", time.Since(hookStart)).
			Str("event", "daemon.hook_done").
			Msg("shutdown hook completed")
	}

	if len(errs) > 0 {
		m.logger.Error().
			Int("error_count", len(errs)).
			Str("event", "daemon.stopped_dirty").
			Msg("shutdown completed with errors")
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	m.logger.Info().Str("event", "daemon.stopped").Msg("daemon manager stopped cleanly")
	return nil
}

// RegisterShutdownHook queues a cleanup step. Hooks run in reverse
// registration order, so register resources in the order they were
// acquired.
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
	m.logger.Debug().
		Str("hook", name).
		Str("event", "daemon.hook_registered").
		Msg("registered shutdown hook")
}
