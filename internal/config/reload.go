// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	stclog "github.com/ManuGH/stagecache/internal/log"
	"github.com/ManuGH/stagecache/internal/metrics"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Holder holds configuration with atomic reloading capability.
// It provides thread-safe access to the current snapshot and supports hot
// reloading from file changes or a manual trigger.
type Holder struct {
	mu         sync.RWMutex
	current    Snapshot
	loader     *Loader
	configPath string
	watcher    *fsnotify.Watcher
	logger     zerolog.Logger

	// Reload notifications
	reloadMu        sync.RWMutex
	reloadListeners []chan<- Snapshot
}

// NewHolder creates a new configuration holder with initial config.
func NewHolder(initial Snapshot, loader *Loader, configPath string) *Holder {
	return &Holder{
		current:         initial,
		loader:          loader,
		configPath:      configPath,
		logger:          stclog.WithComponent("config"),
		reloadListeners: make([]chan<- Snapshot, 0),
	}
}

// Snapshot returns the current configuration snapshot (thread-safe read).
func (h *Holder) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload reloads configuration from file and validates it.
// If validation fails, the old configuration is kept and an error is
// returned, so either the full config is valid and applied or nothing
// changes.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str("event", "config.reload_start").Msg("reloading configuration")

	newCfg, err := h.loader.Load()
	if err != nil {
		metrics.IncConfigReload("failure")
		h.logger.Error().
			Err(err).
			Str("event", "config.reload_failed").
			Msg("failed to load new configuration")
		return fmt.Errorf("load config: %w", err)
	}

	snap := BuildSnapshot(newCfg)

	// Atomically swap configuration
	h.mu.Lock()
	oldSnap := h.current
	h.current = snap
	h.mu.Unlock()

	h.notifyListeners(snap)
	h.logChanges(oldSnap.App, snap.App)

	metrics.IncConfigReload("success")
	h.logger.Info().
		Str("event", "config.reload_success").
		Msg("configuration reloaded successfully")

	return nil
}

// StartWatcher starts watching the config file for changes.
// If configPath is empty, this is a no-op (config comes from ENV only).
func (h *Holder) StartWatcher(ctx context.Context) error {
	if h.configPath == "" {
		h.logger.Info().
			Str("event", "config.watcher_disabled").
			Msg("config file watcher disabled (using ENV-only configuration)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	h.watcher = watcher

	if err := watcher.Add(h.configPath); err != nil {
		_ = watcher.Close() // Ignore close error in error path
		return fmt.Errorf("watch config file: %w", err)
	}

	h.logger.Info().
		Str("event", "config.watcher_started").
		Str("path", h.configPath).
		Msg("watching config file for changes")

	go h.watchLoop(ctx)

	return nil
}

// watchLoop is the main file watcher loop.
func (h *Holder) watchLoop(ctx context.Context) {
	// Debounce timer to avoid multiple reloads for rapid file changes
	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			if h.watcher != nil {
				_ = h.watcher.Close()
			}
			return

		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}

			// Watch for Write and Create events (covers vim, nano, echo)
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				h.logger.Debug().
					Str("event", "config.file_changed").
					Str("op", event.Op.String()).
					Msg("config file changed")

				// Debounce: reset timer on each event
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					if err := h.Reload(ctx); err != nil {
						h.logger.Error().
							Err(err).
							Str("event", "config.auto_reload_failed").
							Msg("automatic config reload failed")
					}
				})
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().
				Err(err).
				Str("event", "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

// Stop stops the config watcher (if running).
func (h *Holder) Stop() {
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
}

// RegisterListener registers a channel to receive config reload notifications.
// The channel receives the new snapshot whenever a reload succeeds.
// The caller is responsible for closing the channel.
func (h *Holder) RegisterListener(ch chan<- Snapshot) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	h.reloadListeners = append(h.reloadListeners, ch)
}

// notifyListeners sends the new snapshot to all registered listeners (non-blocking).
func (h *Holder) notifyListeners(snap Snapshot) {
	h.reloadMu.RLock()
	defer h.reloadMu.RUnlock()

	for _, ch := range h.reloadListeners {
		select {
		case ch <- snap:
		default:
			// Skip if channel is full (non-blocking send)
			h.logger.Warn().
				Str("event", "config.listener_skip").
				Msg("skipped notifying listener (channel full)")
		}
	}
}

// logChanges logs the differences between old and new configuration.
func (h *Holder) logChanges(old, newCfg AppConfig) {
	if old.Cache.FastLimitBytes != newCfg.Cache.FastLimitBytes {
		h.logger.Info().
			Int64("old", old.Cache.FastLimitBytes).
			Int64("new", newCfg.Cache.FastLimitBytes).
			Msg("config changed: cache.fast_limit_bytes")
	}
	if old.Cycle.Period != newCfg.Cycle.Period {
		h.logger.Info().
			Dur("old", old.Cycle.Period).
			Dur("new", newCfg.Cycle.Period).
			Msg("config changed: cycle.period")
	}
	if old.Plex.MinGap != newCfg.Plex.MinGap {
		h.logger.Info().
			Dur("old", old.Plex.MinGap).
			Dur("new", newCfg.Plex.MinGap).
			Msg("config changed: plex.min_gap_ms")
	}
	if old.Plex.MaxPerMinute != newCfg.Plex.MaxPerMinute {
		h.logger.Info().
			Int("old", old.Plex.MaxPerMinute).
			Int("new", newCfg.Plex.MaxPerMinute).
			Msg("config changed: plex.max_per_minute")
	}
	if old.Plex.BaseURL != newCfg.Plex.BaseURL {
		h.logger.Info().
			Str("old", maskURL(old.Plex.BaseURL)).
			Str("new", maskURL(newCfg.Plex.BaseURL)).
			Msg("config changed: plex.base_url")
	}
	if old.LogLevel != newCfg.LogLevel {
		h.logger.Info().
			Str("old", old.LogLevel).
			Str("new", newCfg.LogLevel).
			Msg("config changed: log_level")
	}
}

// maskURL is a helper to mask sensitive URLs for logging.
func maskURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	// Simple redaction: show only that a value was set
	return "***redacted***"
}
