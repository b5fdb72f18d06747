// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// mergeFileConfig folds the YAML file values into cfg. Only keys the file
// actually set are applied; duration strings are parsed here so a bad value
// fails the load instead of silently keeping the default.
func mergeFileConfig(cfg *AppConfig, file *FileConfig) error {
	if file.DataDir != "" {
		cfg.DataDir = file.DataDir
	}
	if file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
	if file.LogFile != "" {
		cfg.LogFile = file.LogFile
	}

	// Plex
	if file.Plex.BaseURL != "" {
		cfg.Plex.BaseURL = file.Plex.BaseURL
	}
	if file.Plex.Token != "" {
		cfg.Plex.Token = file.Plex.Token
	}
	if err := mergeDuration(&cfg.Plex.Timeout, "plex.timeout", file.Plex.Timeout); err != nil {
		return err
	}
	if file.Plex.MaxRetries != nil {
		cfg.Plex.MaxRetries = *file.Plex.MaxRetries
	}
	if err := mergeDuration(&cfg.Plex.RetryDelay, "plex.retry_delay", file.Plex.RetryDelay); err != nil {
		return err
	}
	if file.Plex.MinGapMS != nil {
		cfg.Plex.MinGap = time.Duration(*file.Plex.MinGapMS) * time.Millisecond
	}
	if file.Plex.MaxPerMinute != nil {
		cfg.Plex.MaxPerMinute = *file.Plex.MaxPerMinute
	}
	if file.Plex.TokenCacheHours != nil {
		cfg.Plex.TokenCacheTTL = time.Duration(*file.Plex.TokenCacheHours) * time.Hour
	}
	if err := mergeDuration(&cfg.Plex.MatchCacheTTL, "plex.match_cache_ttl", file.Plex.MatchCacheTTL); err != nil {
		return err
	}

	// Cache tiers
	if file.Cache.FastRoot != "" {
		cfg.Cache.FastRoot = file.Cache.FastRoot
	}
	if len(file.Cache.SlowRoots) > 0 {
		cfg.Cache.SlowRoots = append([]string(nil), file.Cache.SlowRoots...)
	}
	if file.Cache.FastLimitBytes != nil {
		cfg.Cache.FastLimitBytes = *file.Cache.FastLimitBytes
	}
	if file.Cache.MaxConcurrentRelocations != nil {
		cfg.Cache.MaxConcurrentRelocations = *file.Cache.MaxConcurrentRelocations
	}
	if file.Cache.AdoptStrays != nil {
		cfg.Cache.AdoptStrays = *file.Cache.AdoptStrays
	}

	// Cycle
	if err := mergeDuration(&cfg.Cycle.Period, "cycle.period", file.Cycle.Period); err != nil {
		return err
	}
	if file.Cycle.SubscriberQueueDepth != nil {
		cfg.Cycle.SubscriberQueueDepth = *file.Cycle.SubscriberQueueDepth
	}
	if file.Cycle.ResultsKeep != nil {
		cfg.Cycle.ResultsKeep = *file.Cycle.ResultsKeep
	}

	// Activity windows
	if file.Activity.OwnerDays != nil {
		cfg.Activity.OwnerDays = *file.Activity.OwnerDays
	}
	if file.Activity.HouseholdDays != nil {
		cfg.Activity.HouseholdDays = *file.Activity.HouseholdDays
	}
	if file.Activity.GuestDays != nil {
		cfg.Activity.GuestDays = *file.Activity.GuestDays
	}

	// Retention
	if err := mergeDuration(&cfg.Retention.OnDeck, "retention.ondeck", file.Retention.OnDeck); err != nil {
		return err
	}
	if err := mergeDuration(&cfg.Retention.Watchlist, "retention.watchlist", file.Retention.Watchlist); err != nil {
		return err
	}
	if err := mergeDuration(&cfg.Retention.Active, "retention.active", file.Retention.Active); err != nil {
		return err
	}
	if err := mergeDuration(&cfg.Retention.List, "retention.list", file.Retention.List); err != nil {
		return err
	}
	if err := mergeDuration(&cfg.Retention.Manual, "retention.manual", file.Retention.Manual); err != nil {
		return err
	}
	if err := mergeDuration(&cfg.Retention.Removed, "retention.removed", file.Retention.Removed); err != nil {
		return err
	}

	// Ops listener
	if file.Ops.ListenAddr != "" {
		cfg.Ops.ListenAddr = file.Ops.ListenAddr
	}
	if file.Ops.MetricsEnabled != nil {
		cfg.Ops.MetricsEnabled = *file.Ops.MetricsEnabled
	}

	// Redis
	if file.Redis.Enabled != nil {
		cfg.Redis.Enabled = *file.Redis.Enabled
	}
	if file.Redis.Addr != "" {
		cfg.Redis.Addr = file.Redis.Addr
	}
	if file.Redis.Password != "" {
		cfg.Redis.Password = file.Redis.Password
	}
	if file.Redis.DB != nil {
		cfg.Redis.DB = *file.Redis.DB
	}

	// Telemetry
	if file.Telemetry.Enabled != nil {
		cfg.Telemetry.Enabled = *file.Telemetry.Enabled
	}
	if file.Telemetry.Endpoint != "" {
		cfg.Telemetry.Endpoint = file.Telemetry.Endpoint
	}
	if file.Telemetry.Exporter != "" {
		cfg.Telemetry.Exporter = file.Telemetry.Exporter
	}
	if file.Telemetry.SamplingRate != nil {
		cfg.Telemetry.SamplingRate = *file.Telemetry.SamplingRate
	}
	if file.Telemetry.Environment != "" {
		cfg.Telemetry.Environment = file.Telemetry.Environment
	}

	// Outbound network policy
	if file.Network.Outbound.Enabled != nil {
		cfg.Network.Outbound.Enabled = *file.Network.Outbound.Enabled
	}
	if len(file.Network.Outbound.AllowHosts) > 0 {
		cfg.Network.Outbound.AllowHosts = append([]string(nil), file.Network.Outbound.AllowHosts...)
	}
	if len(file.Network.Outbound.AllowCIDRs) > 0 {
		cfg.Network.Outbound.AllowCIDRs = append([]string(nil), file.Network.Outbound.AllowCIDRs...)
	}
	if len(file.Network.Outbound.AllowPorts) > 0 {
		cfg.Network.Outbound.AllowPorts = append([]int(nil), file.Network.Outbound.AllowPorts...)
	}
	if len(file.Network.Outbound.AllowSchemes) > 0 {
		cfg.Network.Outbound.AllowSchemes = append([]string(nil), file.Network.Outbound.AllowSchemes...)
	}

	// Import lists are file-only; ENV cannot express nested provider config.
	if len(file.Lists) > 0 {
		cfg.Lists = make([]ListDefinition, 0, len(file.Lists))
		for _, fl := range file.Lists {
			def := ListDefinition{
				Name:          fl.Name,
				Provider:      fl.Provider,
				Mode:          fl.Mode,
				RefreshPeriod: 12 * time.Hour,
			}
			if def.Mode == "" {
				def.Mode = "strict"
			}
			if fl.CountCap != nil {
				def.CountCap = *fl.CountCap
			}
			if fl.PriorityBias != nil {
				def.PriorityBias = *fl.PriorityBias
			}
			if err := mergeDuration(&def.RefreshPeriod, "lists."+fl.Name+".refresh_period", fl.RefreshPeriod); err != nil {
				return err
			}
			if fl.Config != nil {
				def.Config = make(map[string]string, len(fl.Config))
				for k, v := range fl.Config {
					def.Config[k] = v
				}
			}
			cfg.Lists = append(cfg.Lists, def)
		}
	}

	return nil
}

func mergeDuration(dst *time.Duration, key, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", key, raw, err)
	}
	if d < 0 {
		return fmt.Errorf("%s: duration must not be negative, got %s", key, d)
	}
	*dst = d
	return nil
}

// mergeEnvConfig applies STC_* environment overrides on top of the file
// values. Invalid values fall back (with a warning) inside the Parse helpers.
func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.DataDir = l.envString("STC_DATA_DIR", cfg.DataDir)
	cfg.LogLevel = l.envString("STC_LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = l.envString("STC_LOG_SERVICE", cfg.LogService)
	cfg.LogFile = l.envString("STC_LOG_FILE", cfg.LogFile)

	cfg.Plex.BaseURL = l.envString("STC_PLEX_URL", cfg.Plex.BaseURL)
	cfg.Plex.Token = l.envString("STC_PLEX_TOKEN", cfg.Plex.Token)
	cfg.Plex.Timeout = l.envDuration("STC_PLEX_TIMEOUT", cfg.Plex.Timeout)
	cfg.Plex.MaxRetries = l.envInt("STC_PLEX_MAX_RETRIES", cfg.Plex.MaxRetries)
	cfg.Plex.RetryDelay = l.envDuration("STC_PLEX_RETRY_DELAY", cfg.Plex.RetryDelay)
	cfg.Plex.MinGap = time.Duration(l.envInt("STC_MIN_GAP_MS", int(cfg.Plex.MinGap/time.Millisecond))) * time.Millisecond
	cfg.Plex.MaxPerMinute = l.envInt("STC_MAX_PER_MINUTE", cfg.Plex.MaxPerMinute)
	cfg.Plex.TokenCacheTTL = time.Duration(l.envInt("STC_TOKEN_CACHE_HOURS", int(cfg.Plex.TokenCacheTTL/time.Hour))) * time.Hour
	cfg.Plex.MatchCacheTTL = l.envDuration("STC_MATCH_CACHE_TTL", cfg.Plex.MatchCacheTTL)

	cfg.Cache.FastRoot = l.envString("STC_FAST_ROOT", cfg.Cache.FastRoot)
	if roots := l.envString("STC_SLOW_ROOTS", ""); roots != "" {
		cfg.Cache.SlowRoots = splitAndTrim(roots)
	}
	cfg.Cache.FastLimitBytes = l.envInt64("STC_FAST_LIMIT_BYTES", cfg.Cache.FastLimitBytes)
	cfg.Cache.MaxConcurrentRelocations = l.envInt("STC_MAX_CONCURRENT_RELOCATIONS", cfg.Cache.MaxConcurrentRelocations)
	cfg.Cache.AdoptStrays = l.envBool("STC_ADOPT_STRAYS", cfg.Cache.AdoptStrays)

	cfg.Cycle.Period = l.envDuration("STC_CYCLE_PERIOD", cfg.Cycle.Period)
	cfg.Cycle.SubscriberQueueDepth = l.envInt("STC_SUBSCRIBER_QUEUE_DEPTH", cfg.Cycle.SubscriberQueueDepth)
	cfg.Cycle.ResultsKeep = l.envInt("STC_RESULTS_KEEP", cfg.Cycle.ResultsKeep)

	cfg.Activity.OwnerDays = l.envInt("STC_ACTIVITY_OWNER_DAYS", cfg.Activity.OwnerDays)
	cfg.Activity.HouseholdDays = l.envInt("STC_ACTIVITY_HOUSEHOLD_DAYS", cfg.Activity.HouseholdDays)
	cfg.Activity.GuestDays = l.envInt("STC_ACTIVITY_GUEST_DAYS", cfg.Activity.GuestDays)

	cfg.Retention.OnDeck = l.envDuration("STC_RETENTION_ONDECK", cfg.Retention.OnDeck)
	cfg.Retention.Watchlist = l.envDuration("STC_RETENTION_WATCHLIST", cfg.Retention.Watchlist)
	cfg.Retention.Active = l.envDuration("STC_RETENTION_ACTIVE", cfg.Retention.Active)
	cfg.Retention.List = l.envDuration("STC_RETENTION_LIST", cfg.Retention.List)
	cfg.Retention.Manual = l.envDuration("STC_RETENTION_MANUAL", cfg.Retention.Manual)
	cfg.Retention.Removed = l.envDuration("STC_REMOVED_RETENTION", cfg.Retention.Removed)

	cfg.Ops.ListenAddr = l.envString("STC_OPS_LISTEN", cfg.Ops.ListenAddr)
	cfg.Ops.MetricsEnabled = l.envBool("STC_METRICS_ENABLED", cfg.Ops.MetricsEnabled)

	cfg.Redis.Enabled = l.envBool("STC_REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Addr = l.envString("STC_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = l.envString("STC_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = l.envInt("STC_REDIS_DB", cfg.Redis.DB)

	cfg.Telemetry.Enabled = l.envBool("STC_OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = l.envString("STC_OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.Exporter = l.envString("STC_OTEL_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.SamplingRate = l.envFloat("STC_OTEL_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
	cfg.Telemetry.Environment = l.envString("STC_OTEL_ENVIRONMENT", cfg.Telemetry.Environment)

	cfg.Network.Outbound.Enabled = l.envBool("STC_OUTBOUND_ENABLED", cfg.Network.Outbound.Enabled)
	if hosts := l.envString("STC_OUTBOUND_ALLOW_HOSTS", ""); hosts != "" {
		cfg.Network.Outbound.AllowHosts = splitAndTrim(hosts)
	}
	if cidrs := l.envString("STC_OUTBOUND_ALLOW_CIDRS", ""); cidrs != "" {
		cfg.Network.Outbound.AllowCIDRs = splitAndTrim(cidrs)
	}
	if ports := l.envString("STC_OUTBOUND_ALLOW_PORTS", ""); ports != "" {
		cfg.Network.Outbound.AllowPorts = parsePortList(ports)
	}
	if schemes := l.envString("STC_OUTBOUND_ALLOW_SCHEMES", ""); schemes != "" {
		cfg.Network.Outbound.AllowSchemes = splitAndTrim(schemes)
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parsePortList(s string) []int {
	out := make([]int, 0, 4)
	for _, p := range splitAndTrim(s) {
		if n, err := strconv.Atoi(p); err == nil {
			out = append(out, n)
		}
	}
	return out
}
