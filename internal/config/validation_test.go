// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// validConfig returns a config that passes Validate, rooted in a temp dir.
func validConfig(t *testing.T) AppConfig {
	t.Helper()
	cfg := defaults()
	cfg.DataDir = t.TempDir()
	cfg.Plex.BaseURL = "http://plex.local:32400"
	cfg.Cache.FastRoot = "/mnt/nvme/media"
	cfg.Cache.SlowRoots = []string{"/mnt/hdd1/media"}
	return cfg
}

func TestValidate_AcceptsValidConfig(t *testing.T) {
	cfg := validConfig(t)
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() failed for valid config: %v", err)
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantMsg string
	}{
		{
			name:    "bad base url scheme",
			mutate:  func(c *AppConfig) { c.Plex.BaseURL = "ftp://plex.local" },
			wantMsg: "plex.base_url",
		},
		{
			name: "fast root without slow roots",
			mutate: func(c *AppConfig) {
				c.Cache.SlowRoots = nil
			},
			wantMsg: "cache.slow_roots",
		},
		{
			name: "slow roots without fast root",
			mutate: func(c *AppConfig) {
				c.Cache.FastRoot = ""
			},
			wantMsg: "cache.fast_root",
		},
		{
			name:    "zero fast limit",
			mutate:  func(c *AppConfig) { c.Cache.FastLimitBytes = 0 },
			wantMsg: "cache.fast_limit_bytes",
		},
		{
			name:    "relocation concurrency too high",
			mutate:  func(c *AppConfig) { c.Cache.MaxConcurrentRelocations = 128 },
			wantMsg: "cache.max_concurrent_relocations",
		},
		{
			name:    "min gap below floor",
			mutate:  func(c *AppConfig) { c.Plex.MinGap = 50 * time.Millisecond },
			wantMsg: "plex.min_gap_ms",
		},
		{
			name:    "min gap above ceiling",
			mutate:  func(c *AppConfig) { c.Plex.MinGap = 20 * time.Second },
			wantMsg: "plex.min_gap_ms",
		},
		{
			name:    "max per minute below floor",
			mutate:  func(c *AppConfig) { c.Plex.MaxPerMinute = 2 },
			wantMsg: "plex.max_per_minute",
		},
		{
			name:    "too many retries",
			mutate:  func(c *AppConfig) { c.Plex.MaxRetries = 50 },
			wantMsg: "plex.max_retries",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *AppConfig) { c.Plex.Timeout = 0 },
			wantMsg: "plex.timeout",
		},
		{
			name:    "zero cycle period",
			mutate:  func(c *AppConfig) { c.Cycle.Period = 0 },
			wantMsg: "cycle.period",
		},
		{
			name:    "queue depth zero",
			mutate:  func(c *AppConfig) { c.Cycle.SubscriberQueueDepth = 0 },
			wantMsg: "cycle.subscriber_queue_depth",
		},
		{
			name:    "results keep zero",
			mutate:  func(c *AppConfig) { c.Cycle.ResultsKeep = 0 },
			wantMsg: "cycle.results_keep",
		},
		{
			name:    "negative activity window",
			mutate:  func(c *AppConfig) { c.Activity.GuestDays = -1 },
			wantMsg: "activity.guest_days",
		},
		{
			name:    "bad log level",
			mutate:  func(c *AppConfig) { c.LogLevel = "verbose" },
			wantMsg: "log_level",
		},
		{
			name: "redis enabled without addr",
			mutate: func(c *AppConfig) {
				c.Redis.Enabled = true
				c.Redis.Addr = ""
			},
			wantMsg: "redis.addr",
		},
		{
			name: "telemetry bad exporter",
			mutate: func(c *AppConfig) {
				c.Telemetry.Enabled = true
				c.Telemetry.Exporter = "udp"
			},
			wantMsg: "telemetry.exporter",
		},
		{
			name: "telemetry sampling out of range",
			mutate: func(c *AppConfig) {
				c.Telemetry.Enabled = true
				c.Telemetry.SamplingRate = 1.5
			},
			wantMsg: "telemetry.sampling_rate",
		},
		{
			name: "duplicate list names",
			mutate: func(c *AppConfig) {
				c.Lists = []ListDefinition{
					{Name: "a", Provider: "trending", Mode: "strict", RefreshPeriod: time.Hour},
					{Name: "a", Provider: "popular", Mode: "strict", RefreshPeriod: time.Hour},
				}
			},
			wantMsg: "duplicate list name",
		},
		{
			name: "unknown provider",
			mutate: func(c *AppConfig) {
				c.Lists = []ListDefinition{
					{Name: "a", Provider: "imdb", Mode: "strict", RefreshPeriod: time.Hour},
				}
			},
			wantMsg: "provider",
		},
		{
			name: "fill mode without count cap",
			mutate: func(c *AppConfig) {
				c.Lists = []ListDefinition{
					{Name: "a", Provider: "trending", Mode: "fill", RefreshPeriod: time.Hour},
				}
			},
			wantMsg: "count_cap",
		},
		{
			name: "priority bias out of range",
			mutate: func(c *AppConfig) {
				c.Lists = []ListDefinition{
					{Name: "a", Provider: "trending", Mode: "strict", PriorityBias: 900, RefreshPeriod: time.Hour},
				}
			},
			wantMsg: "priority_bias",
		},
		{
			name: "custom_url without url",
			mutate: func(c *AppConfig) {
				c.Lists = []ListDefinition{
					{Name: "a", Provider: "custom_url", Mode: "strict", RefreshPeriod: time.Hour},
				}
			},
			wantMsg: "config.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got: %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected error to contain %q, got: %v", tt.wantMsg, err)
			}
		})
	}
}

func TestValidate_EmptyBaseURLAllowed(t *testing.T) {
	cfg := validConfig(t)
	cfg.Plex.BaseURL = ""
	if err := Validate(cfg); err != nil {
		t.Fatalf("empty base url should pass setup-mode validation, got: %v", err)
	}
}

func TestValidate_NoTiersConfiguredAllowed(t *testing.T) {
	cfg := validConfig(t)
	cfg.Cache.FastRoot = ""
	cfg.Cache.SlowRoots = nil
	if err := Validate(cfg); err != nil {
		t.Fatalf("unset tier layout should pass validation, got: %v", err)
	}
}
