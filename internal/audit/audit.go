// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package audit provides structured audit logging for operator-facing
// operations. It follows the WHO/WHAT/WHEN pattern: every event names
// the actor, the action, the resource and the outcome.
package audit

import (
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/stagecache/internal/log"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Command surface events
	EventCycleTriggered EventType = "command.run_cycle"
	EventFileRemoved    EventType = "command.remove_file"
	EventCleanup        EventType = "command.cleanup"
	EventExport         EventType = "command.export"
	EventUserUpdated    EventType = "command.update_user"
	EventListAdded      EventType = "command.add_list"
	EventListRemoved    EventType = "command.remove_list"
	EventListRefreshed  EventType = "command.refresh_list"

	// Lifecycle events
	EventDaemonStart EventType = "daemon.start"
	EventDaemonStop  EventType = "daemon.stop"

	// Configuration events
	EventConfigReload      EventType = "config.reload"
	EventConfigReloadError EventType = "config.reload.error"
)

// Event represents a structured audit event.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	Type       EventType         `json:"type"`
	Actor      string            `json:"actor"`             // WHO: user id or "system"
	Action     string            `json:"action"`            // WHAT: human-readable action description
	Resource   string            `json:"resource"`          // Resource affected (entry id, list id, ...)
	Result     string            `json:"result"`            // success, failure, denied
	RemoteAddr string            `json:"remote_addr"`       // Client address when the call came over the wire
	Details    map[string]string `json:"details,omitempty"` // Additional context
}

// Logger provides audit logging functionality.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new audit logger with a dedicated "audit" component.
func NewLogger() *Logger {
	auditLogger := log.WithComponent("audit").With().
		Str("log_type", "audit").
		Logger()

	return &Logger{
		logger: auditLogger,
	}
}

// Log writes an audit event to the audit log.
func (l *Logger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Actor == "" {
		event.Actor = "system"
	}

	logEvent := l.logger.Info().
		Time("timestamp", event.Timestamp).
		Str("event_type", string(event.Type)).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("resource", event.Resource).
		Str("result", event.Result)

	if event.RemoteAddr != "" {
		logEvent.Str("remote_addr", event.RemoteAddr)
	}

	for key, value := range event.Details {
		logEvent.Str(key, value)
	}

	logEvent.Msg("audit event")
}

// CycleTriggered logs an on-demand cycle request.
func (l *Logger) CycleTriggered(actor, cycleID string) {
	l.Log(Event{
		Type:     EventCycleTriggered,
		Actor:    actor,
		Action:   "triggered cache cycle",
		Resource: cycleID,
		Result:   "queued",
	})
}

// FileRemoved logs a manual file removal.
func (l *Logger) FileRemoved(actor, entryID, path, reason, result string) {
	l.Log(Event{
		Type:     EventFileRemoved,
		Actor:    actor,
		Action:   "removed file from fast tier",
		Resource: entryID,
		Result:   result,
		Details: map[string]string{
			"logical_path": path,
			"reason":       reason,
		},
	})
}

// CleanupRun logs a cleanup command with its counters.
func (l *Logger) CleanupRun(actor, result string, scanned, found, removed int) {
	l.Log(Event{
		Type:     EventCleanup,
		Actor:    actor,
		Action:   "ran orphan cleanup",
		Resource: "cache",
		Result:   result,
		Details: map[string]string{
			"scanned":        strconv.Itoa(scanned),
			"orphaned_found": strconv.Itoa(found),
			"removed":        strconv.Itoa(removed),
		},
	})
}

// Exported logs a cache inventory export.
func (l *Logger) Exported(actor, format, target string, entries int) {
	l.Log(Event{
		Type:     EventExport,
		Actor:    actor,
		Action:   "exported cache inventory",
		Resource: target,
		Result:   "success",
		Details: map[string]string{
			"format":  format,
			"entries": strconv.Itoa(entries),
		},
	})
}

// UserUpdated logs an operator change to a user's settings.
func (l *Logger) UserUpdated(actor, userID, result string, details map[string]string) {
	l.Log(Event{
		Type:     EventUserUpdated,
		Actor:    actor,
		Action:   "updated user settings",
		Resource: userID,
		Result:   result,
		Details:  details,
	})
}

// ListAdded logs a new import list.
func (l *Logger) ListAdded(actor, listID, name, kind string) {
	l.Log(Event{
		Type:     EventListAdded,
		Actor:    actor,
		Action:   "added import list",
		Resource: listID,
		Result:   "success",
		Details: map[string]string{
			"name":          name,
			"provider_kind": kind,
		},
	})
}

// ListRemoved logs the removal of an import list.
func (l *Logger) ListRemoved(actor, listID, result string) {
	l.Log(Event{
		Type:     EventListRemoved,
		Actor:    actor,
		Action:   "removed import list",
		Resource: listID,
		Result:   result,
	})
}

// ListRefreshed logs a forced list refresh.
func (l *Logger) ListRefreshed(actor, listID, result string) {
	l.Log(Event{
		Type:     EventListRefreshed,
		Actor:    actor,
		Action:   "refreshed import list",
		Resource: listID,
		Result:   result,
	})
}

// DaemonStarted logs process startup.
func (l *Logger) DaemonStarted(version string) {
	l.Log(Event{
		Type:     EventDaemonStart,
		Actor:    "system",
		Action:   "daemon started",
		Resource: "daemon",
		Result:   "success",
		Details: map[string]string{
			"version": version,
		},
	})
}

// DaemonStopped logs process shutdown.
func (l *Logger) DaemonStopped(reason string) {
	l.Log(Event{
		Type:     EventDaemonStop,
		Actor:    "system",
		Action:   "daemon stopped",
		Resource: "daemon",
		Result:   "success",
		Details: map[string]string{
			"reason": reason,
		},
	})
}

// ConfigReload logs a configuration reload event.
func (l *Logger) ConfigReload(actor, result string, details map[string]string) {
	l.Log(Event{
		Type:     EventConfigReload,
		Actor:    actor,
		Action:   "reloaded configuration",
		Resource: "config",
		Result:   result,
		Details:  details,
	})
}

// ConfigReloadError logs a rejected configuration reload.
func (l *Logger) ConfigReloadError(actor, reason string) {
	l.Log(Event{
		Type:     EventConfigReloadError,
		Actor:    actor,
		Action:   "configuration reload rejected",
		Resource: "config",
		Result:   "failure",
		Details: map[string]string{
			"error": reason,
		},
	})
}
