// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"fmt"
	"time"
)

// FileConfig represents the YAML configuration structure. Optional scalars
// use pointers so "not set" and "explicitly zero" stay distinguishable
// during the merge.
type FileConfig struct {
	Version  string `yaml:"version,omitempty"`
	DataDir  string `yaml:"data_dir,omitempty"`
	LogLevel string `yaml:"log_level,omitempty"`
	LogFile  string `yaml:"log_file,omitempty"`

	Plex      PlexFileConfig      `yaml:"plex,omitempty"`
	Cache     CacheFileConfig     `yaml:"cache,omitempty"`
	Cycle     CycleFileConfig     `yaml:"cycle,omitempty"`
	Activity  ActivityFileConfig  `yaml:"activity,omitempty"`
	Retention RetentionFileConfig `yaml:"retention,omitempty"`
	Ops       OpsFileConfig       `yaml:"ops,omitempty"`
	Redis     RedisFileConfig     `yaml:"redis,omitempty"`
	Telemetry TelemetryFileConfig `yaml:"telemetry,omitempty"`
	Network   NetworkFileConfig   `yaml:"network,omitempty"`
	Lists     []ListFileConfig    `yaml:"lists,omitempty"`
}

// PlexFileConfig holds upstream client configuration.
type PlexFileConfig struct {
	BaseURL         string `yaml:"base_url,omitempty"`
	Token           string `yaml:"token,omitempty"`
	Timeout         string `yaml:"timeout,omitempty"` // e.g. "30s"
	MaxRetries      *int   `yaml:"max_retries,omitempty"`
	RetryDelay      string `yaml:"retry_delay,omitempty"` // e.g. "2s"
	MinGapMS        *int   `yaml:"min_gap_ms,omitempty"`
	MaxPerMinute    *int   `yaml:"max_per_minute,omitempty"`
	TokenCacheHours *int   `yaml:"token_cache_hours,omitempty"`
	MatchCacheTTL   string `yaml:"match_cache_ttl,omitempty"` // e.g. "6h"
}

// CacheFileConfig holds tier layout and relocation bounds.
type CacheFileConfig struct {
	FastRoot                 string   `yaml:"fast_root,omitempty"`
	SlowRoots                []string `yaml:"slow_roots,omitempty"`
	FastLimitBytes           *int64   `yaml:"fast_limit_bytes,omitempty"`
	MaxConcurrentRelocations *int     `yaml:"max_concurrent_relocations,omitempty"`
	AdoptStrays              *bool    `yaml:"adopt_strays,omitempty"`
}

// CycleFileConfig holds orchestrator settings.
type CycleFileConfig struct {
	Period               string `yaml:"period,omitempty"` // e.g. "5m"
	SubscriberQueueDepth *int   `yaml:"subscriber_queue_depth,omitempty"`
	ResultsKeep          *int   `yaml:"results_keep,omitempty"`
}

// ActivityFileConfig holds per-user-kind activity windows in days.
// Zero means no filter.
type ActivityFileConfig struct {
	OwnerDays     *int `yaml:"owner_days,omitempty"`
	HouseholdDays *int `yaml:"household_days,omitempty"`
	GuestDays     *int `yaml:"guest_days,omitempty"`
}

// RetentionFileConfig holds per-source retention windows as duration strings.
// Zero means the source never expires by clock.
type RetentionFileConfig struct {
	OnDeck    string `yaml:"ondeck,omitempty"`
	Watchlist string `yaml:"watchlist,omitempty"`
	Active    string `yaml:"active,omitempty"`
	List      string `yaml:"list,omitempty"`
	Manual    string `yaml:"manual,omitempty"`
	Removed   string `yaml:"removed,omitempty"` // audit window for removed rows
}

// OpsFileConfig holds the operational HTTP listener settings.
type OpsFileConfig struct {
	ListenAddr     string `yaml:"listen_addr,omitempty"`
	MetricsEnabled *bool  `yaml:"metrics_enabled,omitempty"`
}

// RedisFileConfig holds the optional shared match-cache backend.
type RedisFileConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       *int   `yaml:"db,omitempty"`
}

// TelemetryFileConfig holds OpenTelemetry exporter settings.
type TelemetryFileConfig struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	Exporter     string   `yaml:"exporter,omitempty"` // grpc|http
	SamplingRate *float64 `yaml:"sampling_rate,omitempty"`
	Environment  string   `yaml:"environment,omitempty"`
}

// NetworkFileConfig holds outbound network policy.
type NetworkFileConfig struct {
	Outbound OutboundFileConfig `yaml:"outbound,omitempty"`
}

// OutboundFileConfig controls the outbound HTTP(S) allowlist used by custom
// list feeds.
type OutboundFileConfig struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	AllowHosts   []string `yaml:"allow_hosts,omitempty"`
	AllowCIDRs   []string `yaml:"allow_cidrs,omitempty"`
	AllowPorts   []int    `yaml:"allow_ports,omitempty"`
	AllowSchemes []string `yaml:"allow_schemes,omitempty"`
}

// ListFileConfig defines one import list.
type ListFileConfig struct {
	Name          string            `yaml:"name"`
	Provider      string            `yaml:"provider"`
	Mode          string            `yaml:"mode,omitempty"` // strict|fill
	CountCap      *int              `yaml:"count_cap,omitempty"`
	PriorityBias  *int              `yaml:"priority_bias,omitempty"`
	RefreshPeriod string            `yaml:"refresh_period,omitempty"`
	Config        map[string]string `yaml:"config,omitempty"`
}

// AppConfig holds the validated runtime configuration for the daemon.
type AppConfig struct {
	Version    string
	DataDir    string
	LogLevel   string
	LogService string
	LogFile    string

	Plex      PlexSettings
	Cache     CacheSettings
	Cycle     CycleSettings
	Activity  ActivityWindows
	Retention RetentionSettings
	Ops       OpsSettings
	Redis     RedisSettings
	Telemetry TelemetrySettings
	Network   NetworkSettings
	Lists     []ListDefinition
}

// PlexSettings holds the upstream client runtime settings.
type PlexSettings struct {
	BaseURL       string
	Token         string
	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	MinGap        time.Duration
	MaxPerMinute  int
	TokenCacheTTL time.Duration
	MatchCacheTTL time.Duration
}

// CacheSettings holds tier layout and relocation bounds.
type CacheSettings struct {
	FastRoot                 string
	SlowRoots                []string
	FastLimitBytes           int64
	MaxConcurrentRelocations int
	AdoptStrays              bool
}

// CycleSettings holds orchestrator runtime settings.
type CycleSettings struct {
	Period               time.Duration
	SubscriberQueueDepth int
	ResultsKeep          int
}

// ActivityWindows holds per-user-kind activity filters in days; 0 disables
// the filter for that kind.
type ActivityWindows struct {
	OwnerDays     int
	HouseholdDays int
	GuestDays     int
}

// ForKind returns the window for a user kind (owner|household|guest).
func (w ActivityWindows) ForKind(kind string) int {
	switch kind {
	case "owner":
		return w.OwnerDays
	case "guest":
		return w.GuestDays
	default:
		return w.HouseholdDays
	}
}

// RetentionSettings holds per-source retention clocks; 0 means no clock.
type RetentionSettings struct {
	OnDeck    time.Duration
	Watchlist time.Duration
	Active    time.Duration
	List      time.Duration
	Manual    time.Duration
	Removed   time.Duration
}

// ForCause returns the retention window for a cause operation. List causes
// carry a "list:<name>" prefix.
func (r RetentionSettings) ForCause(cause string) time.Duration {
	switch {
	case cause == "ondeck":
		return r.OnDeck
	case cause == "watchlist":
		return r.Watchlist
	case cause == "active":
		return r.Active
	case cause == "manual" || cause == "restore":
		return r.Manual
	case len(cause) > 5 && cause[:5] == "list:":
		return r.List
	default:
		return r.List
	}
}

// OpsSettings holds the ops listener runtime settings.
type OpsSettings struct {
	ListenAddr     string
	MetricsEnabled bool
}

// RedisSettings holds the optional redis match-cache backend.
type RedisSettings struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// TelemetrySettings holds tracing runtime settings.
type TelemetrySettings struct {
	Enabled      bool
	Endpoint     string
	Exporter     string
	Environment  string
	SamplingRate float64
}

// NetworkSettings holds outbound network policy.
type NetworkSettings struct {
	Outbound OutboundSettings
}

// OutboundSettings is the parsed outbound allowlist.
type OutboundSettings struct {
	Enabled      bool
	AllowHosts   []string
	AllowCIDRs   []string
	AllowPorts   []int
	AllowSchemes []string
}

// ListDefinition is one validated import list.
type ListDefinition struct {
	Name          string
	Provider      string
	Mode          string
	CountCap      int
	PriorityBias  int
	RefreshPeriod time.Duration
	Config        map[string]string
}

// String implements fmt.Stringer with secrets redacted so the config can be
// logged safely.
func (c AppConfig) String() string {
	masked := c.Clone()
	if masked.Plex.Token != "" {
		masked.Plex.Token = "***redacted***"
	}
	if masked.Redis.Password != "" {
		masked.Redis.Password = "***redacted***"
	}
	return fmt.Sprintf("%+v", struct {
		Version    string
		DataDir    string
		LogLevel   string
		Plex       PlexSettings
		Cache      CacheSettings
		Cycle      CycleSettings
		Activity   ActivityWindows
		Retention  RetentionSettings
		Ops        OpsSettings
		Redis      RedisSettings
		Telemetry  TelemetrySettings
		ListsCount int
	}{
		Version:    masked.Version,
		DataDir:    masked.DataDir,
		LogLevel:   masked.LogLevel,
		Plex:       masked.Plex,
		Cache:      masked.Cache,
		Cycle:      masked.Cycle,
		Activity:   masked.Activity,
		Retention:  masked.Retention,
		Ops:        masked.Ops,
		Redis:      masked.Redis,
		Telemetry:  masked.Telemetry,
		ListsCount: len(masked.Lists),
	})
}

// Clone returns a deep copy; slices and maps are duplicated so snapshots
// stay immutable when the holder reloads.
func (c AppConfig) Clone() AppConfig {
	out := c
	out.Cache.SlowRoots = append([]string(nil), c.Cache.SlowRoots...)
	out.Network.Outbound.AllowHosts = append([]string(nil), c.Network.Outbound.AllowHosts...)
	out.Network.Outbound.AllowCIDRs = append([]string(nil), c.Network.Outbound.AllowCIDRs...)
	out.Network.Outbound.AllowPorts = append([]int(nil), c.Network.Outbound.AllowPorts...)
	out.Network.Outbound.AllowSchemes = append([]string(nil), c.Network.Outbound.AllowSchemes...)
	if c.Lists != nil {
		out.Lists = make([]ListDefinition, len(c.Lists))
		for i, l := range c.Lists {
			cl := l
			if l.Config != nil {
				cl.Config = make(map[string]string, len(l.Config))
				for k, v := range l.Config {
					cl.Config[k] = v
				}
			}
			out.Lists[i] = cl
		}
	}
	return out
}
