// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config provides configuration management for stagecache.
//
// Precedence is ENV > file > defaults. The YAML file is parsed strictly:
// unknown keys fail the load so misspelled options never silently fall back
// to defaults.
package config
