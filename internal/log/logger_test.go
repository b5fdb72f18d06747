// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestConfigureAttachesServiceAndVersion(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "stagecache-test", Version: "1.2.3"})
	defer Configure(Config{})

	l := WithComponent("cycle")
	l.Info().Str("event", "cycle.start").Msg("started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v", err)
	}
	if entry["service"] != "stagecache-test" {
		t.Errorf("service = %v, want stagecache-test", entry["service"])
	}
	if entry["version"] != "1.2.3" {
		t.Errorf("version = %v, want 1.2.3", entry["version"])
	}
	if entry["component"] != "cycle" {
		t.Errorf("component = %v, want cycle", entry["component"])
	}
	if entry["event"] != "cycle.start" {
		t.Errorf("event = %v, want cycle.start", entry["event"])
	}
}

func TestConfigureReplacesBaseLogger(t *testing.T) {
	var first, second bytes.Buffer
	Configure(Config{Level: "info", Output: &first, Service: "a"})
	Configure(Config{Level: "info", Output: &second, Service: "b"})
	defer Configure(Config{})

	l := Base()
	l.Info().Msg("after reconfigure")

	if first.Len() != 0 {
		t.Errorf("first writer received output after reconfigure: %q", first.String())
	}
	if second.Len() == 0 {
		t.Error("second writer received no output")
	}
}

func TestDerive(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "info", Output: &buf})
	defer Configure(Config{})

	l := Derive(func(c *zerolog.Context) {
		*c = c.Str("cycle_id", "c-42")
	})
	l.Info().Msg("derived")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v", err)
	}
	if entry["cycle_id"] != "c-42" {
		t.Errorf("cycle_id = %v, want c-42", entry["cycle_id"])
	}
}
