// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"fmt"
	"strings"

	"github.com/ManuGH/stagecache/internal/validate"
)

// Validate validates an AppConfig using the centralized validation package.
// Failures wrap ErrInvalid so the daemon can map them to its config exit code.
func Validate(cfg AppConfig) error {
	v := validate.New()

	// Upstream URL (optional for setup mode; cycles refuse to run without it)
	if strings.TrimSpace(cfg.Plex.BaseURL) != "" {
		v.URL("plex.base_url", cfg.Plex.BaseURL, []string{"http", "https"})
	}

	// Data directory
	v.Directory("data_dir", cfg.DataDir, false)

	// Tier layout (optional until first cycle, but never half-configured)
	if cfg.Cache.FastRoot != "" || len(cfg.Cache.SlowRoots) > 0 {
		v.NotEmpty("cache.fast_root", cfg.Cache.FastRoot)
		if len(cfg.Cache.SlowRoots) == 0 {
			v.AddError("cache.slow_roots", "at least one slow root is required when fast_root is set", "")
		}
	}
	if cfg.Cache.FastLimitBytes <= 0 {
		v.AddError("cache.fast_limit_bytes", "must be positive", cfg.Cache.FastLimitBytes)
	}
	v.Range("cache.max_concurrent_relocations", cfg.Cache.MaxConcurrentRelocations, 1, 64)

	// Upstream gate bounds
	v.Range("plex.min_gap_ms", int(cfg.Plex.MinGap.Milliseconds()), 100, 10000)
	v.Range("plex.max_per_minute", cfg.Plex.MaxPerMinute, 5, 120)
	v.Range("plex.max_retries", cfg.Plex.MaxRetries, 0, 10)
	if cfg.Plex.Timeout <= 0 {
		v.AddError("plex.timeout", "must be positive", cfg.Plex.Timeout.String())
	}
	if cfg.Plex.RetryDelay < 0 {
		v.AddError("plex.retry_delay", "must not be negative", cfg.Plex.RetryDelay.String())
	}

	// Cycle bounds
	if cfg.Cycle.Period <= 0 {
		v.AddError("cycle.period", "must be positive", cfg.Cycle.Period.String())
	}
	v.Range("cycle.subscriber_queue_depth", cfg.Cycle.SubscriberQueueDepth, 1, 65536)
	v.Range("cycle.results_keep", cfg.Cycle.ResultsKeep, 1, 1000)

	// Activity windows
	v.NonNegative("activity.owner_days", cfg.Activity.OwnerDays)
	v.NonNegative("activity.household_days", cfg.Activity.HouseholdDays)
	v.NonNegative("activity.guest_days", cfg.Activity.GuestDays)

	// Log level
	if _, err := validate.ParseLogLevel(cfg.LogLevel); err != nil {
		v.AddError("log_level", "must be one of debug, info, warn, error", cfg.LogLevel)
	}

	// Redis backend needs an address once enabled
	if cfg.Redis.Enabled {
		v.NotEmpty("redis.addr", cfg.Redis.Addr)
	}

	// Telemetry
	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			v.AddError("telemetry.sampling_rate", "must be within [0,1]", cfg.Telemetry.SamplingRate)
		}
	}

	// Import lists
	seen := map[string]struct{}{}
	for _, def := range cfg.Lists {
		field := "lists." + def.Name
		v.NotEmpty(field+".name", def.Name)
		if _, dup := seen[def.Name]; dup {
			v.AddError(field, "duplicate list name", def.Name)
		}
		seen[def.Name] = struct{}{}
		v.OneOf(field+".provider", def.Provider, []string{"trending", "popular", "personal", "topn", "custom_url"})
		v.OneOf(field+".mode", def.Mode, []string{"strict", "fill"})
		if def.Mode == "fill" && def.CountCap <= 0 {
			v.AddError(field+".count_cap", "fill mode requires a positive count_cap", def.CountCap)
		}
		v.Range(field+".priority_bias", def.PriorityBias, -400, 400)
		if def.RefreshPeriod <= 0 {
			v.AddError(field+".refresh_period", "must be positive", def.RefreshPeriod.String())
		}
		if def.Provider == "custom_url" {
			url := def.Config["url"]
			v.URL(field+".config.url", url, []string{"http", "https"})
		}
	}

	if !v.IsValid() {
		return fmt.Errorf("%w: %w", ErrInvalid, v.Err())
	}

	return nil
}
