// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"testing"
	"time"
)

func TestParseString(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		set      bool
		fallback string
		want     string
	}{
		{"set", "hello", true, "default", "hello"},
		{"unset", "", false, "default", "default"},
		{"empty", "", true, "default", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const key = "STC_TEST_STRING"
			if tt.set {
				t.Setenv(key, tt.value)
			}
			if got := ParseString(key, tt.fallback); got != tt.want {
				t.Errorf("ParseString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		set      bool
		fallback int
		want     int
	}{
		{"set", "42", true, 7, 42},
		{"negative", "-3", true, 7, -3},
		{"unset", "", false, 7, 7},
		{"empty", "", true, 7, 7},
		{"garbage", "forty-two", true, 7, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const key = "STC_TEST_INT"
			if tt.set {
				t.Setenv(key, tt.value)
			}
			if got := ParseInt(key, tt.fallback); got != tt.want {
				t.Errorf("ParseInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseInt64(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		set      bool
		fallback int64
		want     int64
	}{
		{"byte size", "107374182400", true, 1, 107374182400},
		{"unset", "", false, 1 << 40, 1 << 40},
		{"garbage", "100GB", true, 5, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const key = "STC_TEST_INT64"
			if tt.set {
				t.Setenv(key, tt.value)
			}
			if got := ParseInt64(key, tt.fallback); got != tt.want {
				t.Errorf("ParseInt64() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		set      bool
		fallback time.Duration
		want     time.Duration
	}{
		{"seconds", "30s", true, time.Minute, 30 * time.Second},
		{"composite", "1h30m", true, time.Minute, 90 * time.Minute},
		{"unset", "", false, time.Minute, time.Minute},
		{"empty", "", true, time.Minute, time.Minute},
		{"garbage", "soon", true, time.Minute, time.Minute},
		{"bare number", "30", true, time.Minute, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const key = "STC_TEST_DURATION"
			if tt.set {
				t.Setenv(key, tt.value)
			}
			if got := ParseDuration(key, tt.fallback); got != tt.want {
				t.Errorf("ParseDuration() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		set      bool
		fallback bool
		want     bool
	}{
		{"true", "true", true, false, true},
		{"one", "1", true, false, true},
		{"yes", "yes", true, false, true},
		{"TRUE upper", "TRUE", true, false, true},
		{"false", "false", true, true, false},
		{"zero", "0", true, true, false},
		{"no", "no", true, true, false},
		{"unset", "", false, true, true},
		{"empty", "", true, true, true},
		{"garbage", "maybe", true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const key = "STC_TEST_BOOL"
			if tt.set {
				t.Setenv(key, tt.value)
			}
			if got := ParseBool(key, tt.fallback); got != tt.want {
				t.Errorf("ParseBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseFloat(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		set      bool
		fallback float64
		want     float64
	}{
		{"fraction", "0.25", true, 1.0, 0.25},
		{"whole", "1", true, 0.5, 1.0},
		{"unset", "", false, 0.5, 0.5},
		{"garbage", "half", true, 0.5, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const key = "STC_TEST_FLOAT"
			if tt.set {
				t.Setenv(key, tt.value)
			}
			if got := ParseFloat(key, tt.fallback); got != tt.want {
				t.Errorf("ParseFloat() = %v, want %v", got, tt.want)
			}
		})
	}
}
