// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package audit

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capturingLogger() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return &Logger{logger: zerolog.New(&buf)}, &buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var m map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &m))
	return m
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger()
	assert.NotNil(t, logger)
}

func TestLogger_Log(t *testing.T) {
	logger, buf := capturingLogger()

	logger.Log(Event{
		Type:       EventFileRemoved,
		Actor:      "admin",
		Action:     "removed file from fast tier",
		Resource:   "entry-1",
		Result:     "success",
		RemoteAddr: "192.168.1.100",
		Details: map[string]string{
			"reason": "manual",
		},
	})

	m := lastLine(t, buf)
	assert.Equal(t, string(EventFileRemoved), m["event_type"])
	assert.Equal(t, "admin", m["actor"])
	assert.Equal(t, "entry-1", m["resource"])
	assert.Equal(t, "success", m["result"])
	assert.Equal(t, "192.168.1.100", m["remote_addr"])
	assert.Equal(t, "manual", m["reason"], "details are flattened into fields")
	assert.Contains(t, m, "timestamp")
}

func TestLogger_Defaults(t *testing.T) {
	logger, buf := capturingLogger()

	logger.Log(Event{
		Type:   EventCleanup,
		Action: "ran orphan cleanup",
		Result: "success",
	})

	m := lastLine(t, buf)
	assert.Equal(t, "system", m["actor"], "an empty actor defaults to system")
	assert.Contains(t, m, "timestamp", "a zero timestamp is stamped automatically")
	assert.NotContains(t, m, "remote_addr", "empty optional fields are omitted")
}

func TestLogger_CommandHelpers(t *testing.T) {
	logger, buf := capturingLogger()

	logger.CycleTriggered("u1", "cycle-42")
	m := lastLine(t, buf)
	assert.Equal(t, string(EventCycleTriggered), m["event_type"])
	assert.Equal(t, "cycle-42", m["resource"])
	assert.Equal(t, "queued", m["result"])

	logger.FileRemoved("u1", "entry-7", "/library/movies/heat.mkv", "manual", "success")
	m = lastLine(t, buf)
	assert.Equal(t, string(EventFileRemoved), m["event_type"])
	assert.Equal(t, "/library/movies/heat.mkv", m["logical_path"])
	assert.Equal(t, "manual", m["reason"])

	logger.CleanupRun("u2", "success", 12, 3, 2)
	m = lastLine(t, buf)
	assert.Equal(t, string(EventCleanup), m["event_type"])
	assert.Equal(t, "12", m["scanned"])
	assert.Equal(t, "3", m["orphaned_found"])
	assert.Equal(t, "2", m["removed"])

	logger.Exported("u1", "csv", "stdout", 40)
	m = lastLine(t, buf)
	assert.Equal(t, string(EventExport), m["event_type"])
	assert.Equal(t, "csv", m["format"])
	assert.Equal(t, "40", m["entries"])

	logger.UserUpdated("owner", "u9", "success", map[string]string{"enabled": "false"})
	m = lastLine(t, buf)
	assert.Equal(t, string(EventUserUpdated), m["event_type"])
	assert.Equal(t, "u9", m["resource"])
	assert.Equal(t, "false", m["enabled"])
}

func TestLogger_ListHelpers(t *testing.T) {
	logger, buf := capturingLogger()

	logger.ListAdded("owner", "l1", "Friday Picks", "trending")
	m := lastLine(t, buf)
	assert.Equal(t, string(EventListAdded), m["event_type"])
	assert.Equal(t, "Friday Picks", m["name"])
	assert.Equal(t, "trending", m["provider_kind"])

	logger.ListRemoved("owner", "l1", "success")
	m = lastLine(t, buf)
	assert.Equal(t, string(EventListRemoved), m["event_type"])

	logger.ListRefreshed("owner", "l2", "failure")
	m = lastLine(t, buf)
	assert.Equal(t, string(EventListRefreshed), m["event_type"])
	assert.Equal(t, "failure", m["result"])
}

func TestLogger_LifecycleHelpers(t *testing.T) {
	logger, buf := capturingLogger()

	logger.DaemonStarted("1.2.3")
	m := lastLine(t, buf)
	assert.Equal(t, string(EventDaemonStart), m["event_type"])
	assert.Equal(t, "1.2.3", m["version"])

	logger.DaemonStopped("signal")
	m = lastLine(t, buf)
	assert.Equal(t, string(EventDaemonStop), m["event_type"])
	assert.Equal(t, "signal", m["reason"])

	logger.ConfigReload("system", "success", map[string]string{"changes": "2"})
	m = lastLine(t, buf)
	assert.Equal(t, string(EventConfigReload), m["event_type"])
	assert.Equal(t, "2", m["changes"])

	logger.ConfigReloadError("system", "unknown key fast_rout")
	m = lastLine(t, buf)
	assert.Equal(t, string(EventConfigReloadError), m["event_type"])
	assert.Equal(t, "failure", m["result"])
	assert.Equal(t, "unknown key fast_rout", m["error"])
}

func BenchmarkLogger_Log(b *testing.B) {
	logger := NewLogger()
	event := Event{
		Type:     EventCleanup,
		Actor:    "benchmark",
		Action:   "test",
		Resource: "cache",
		Result:   "success",
		Details: map[string]string{
			"key1": "value1",
			"key2": "value2",
		},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Log(event)
	}
}
