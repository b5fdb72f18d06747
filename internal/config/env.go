// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/stagecache/internal/log"
)

// The Parse* helpers read one STC_* variable each, falling back to the
// given default when the variable is unset, empty, or malformed. Every
// choice is logged at debug level so a misbehaving deployment can be
// diagnosed from the startup log alone.

// parseEnv is the shared lookup-convert-log skeleton behind the typed
// helpers. conv turns the raw value into T; a conv error keeps the
// default and warns.
func parseEnv[T any](key string, def T, conv func(string) (T, error)) T {
	logger := log.WithComponent("config")
	raw, ok := os.LookupEnv(key)
	if !ok {
		logDefault(logger, key, def, "")
		return def
	}
	if raw == "" {
		logDefault(logger, key, def, "environment variable is empty")
		return def
	}
	v, err := conv(raw)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", raw).
			Str("default", fmt.Sprint(def)).
			Msg("invalid value in environment variable, using default")
		return def
	}
	logger.Debug().
		Str("key", key).
		Str("value", fmt.Sprint(v)).
		Str("source", "environment").
		Msg("using environment variable")
	return v
}

func logDefault[T any](logger zerolog.Logger, key string, def T, why string) {
	msg := "using default value"
	if why != "" {
		msg += " (" + why + ")"
	}
	logger.Debug().
		Str("key", key).
		Str("default", fmt.Sprint(def)).
		Str("source", "default").
		Msg(msg)
}

// sensitiveKey reports variables whose values must never reach the log.
func sensitiveKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "token") || strings.Contains(k, "password")
}

// ParseString reads a string variable. Sensitive values (tokens,
// passwords) are acknowledged but never logged.
func ParseString(key, defaultValue string) string {
	if sensitiveKey(key) {
		raw, ok := os.LookupEnv(key)
		logger := log.WithComponent("config")
		if !ok || raw == "" {
			logDefault(logger, key, "(redacted)", "")
			return defaultValue
		}
		logger.Debug().
			Str("key", key).
			Str("source", "environment").
			Bool("sensitive", true).
			Msg("using environment variable")
		return raw
	}
	return parseEnv(key, defaultValue, func(s string) (string, error) { return s, nil })
}

// ParseInt reads an integer variable.
func ParseInt(key string, defaultValue int) int {
	return parseEnv(key, defaultValue, strconv.Atoi)
}

// ParseInt64 reads a 64-bit integer variable (byte sizes).
func ParseInt64(key string, defaultValue int64) int64 {
	return parseEnv(key, defaultValue, func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	})
}

// ParseDuration reads a duration variable in Go duration syntax ("5s",
// "10m").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(key, defaultValue, time.ParseDuration)
}

// ParseBool reads a boolean variable; accepts true/false, 1/0, yes/no,
// case-insensitive.
func ParseBool(key string, defaultValue bool) bool {
	return parseEnv(key, defaultValue, func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", s)
	})
}

// ParseFloat reads a float64 variable.
func ParseFloat(key string, defaultValue float64) float64 {
	return parseEnv(key, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}
