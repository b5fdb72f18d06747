// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{} // Mechanical tracking of consumed keys
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Wrapper methods for mechanical connection tracking

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envInt64(key string, defaultVal int64) int64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt64(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults.
// It enforces Strict Validated Order: Parse File (Strict) -> Apply Env -> Validate
func (l *Loader) Load() (AppConfig, error) {
	cfg := defaults()

	// 1. Load from file (if provided)
	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w: %w", ErrInvalid, err)
		}
		if err := mergeFileConfig(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge file config: %w: %w", ErrInvalid, err)
		}
	}

	// 2. Override with environment variables (highest priority)
	l.mergeEnvConfig(&cfg)

	// SAFETY: Ensure roots are absolute to prevent path traversal/platform errors
	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.Cache.FastRoot != "" {
		if abs, err := filepath.Abs(cfg.Cache.FastRoot); err == nil {
			cfg.Cache.FastRoot = abs
		}
	}
	for i, root := range cfg.Cache.SlowRoots {
		if abs, err := filepath.Abs(root); err == nil {
			cfg.Cache.SlowRoots[i] = abs
		}
	}

	// 3. Version from binary
	cfg.Version = l.version

	// 4. Validate final configuration
	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile loads configuration from a YAML file with STRICT parsing.
// Unknown fields cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	// Check file extension
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// Read file
	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	// Parse YAML with strict mode (unknown fields cause errors)
	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // Reject unknown fields

	if err := dec.Decode(&fileCfg); err != nil {
		if err == io.EOF {
			return &FileConfig{}, nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("%w: %w", ErrUnknownField, err)
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	// Strict: Ensure no multiple documents or trailing content
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}

	return &fileCfg, nil
}

func defaults() AppConfig {
	return AppConfig{
		DataDir:    "/var/lib/stagecache",
		LogLevel:   "info",
		LogService: "stagecache",
		Plex: PlexSettings{
			Timeout:       30 * time.Second,
			MaxRetries:    3,
			RetryDelay:    2 * time.Second,
			MinGap:        1000 * time.Millisecond,
			MaxPerMinute:  30,
			TokenCacheTTL: 12 * time.Hour,
			MatchCacheTTL: 6 * time.Hour,
		},
		Cache: CacheSettings{
			FastLimitBytes:           100 << 30,
			MaxConcurrentRelocations: 4,
		},
		Cycle: CycleSettings{
			Period:               5 * time.Minute,
			SubscriberQueueDepth: 256,
			ResultsKeep:          50,
		},
		Activity: ActivityWindows{
			OwnerDays:     0,
			HouseholdDays: 30,
			GuestDays:     14,
		},
		Retention: RetentionSettings{
			OnDeck:    72 * time.Hour,
			Watchlist: 168 * time.Hour,
			Active:    24 * time.Hour,
			List:      336 * time.Hour,
			Manual:    0,
			Removed:   720 * time.Hour,
		},
		Ops: OpsSettings{
			ListenAddr:     ":9632",
			MetricsEnabled: true,
		},
		Telemetry: TelemetrySettings{
			Exporter:     "grpc",
			Environment:  "production",
			SamplingRate: 1.0,
		},
	}
}
