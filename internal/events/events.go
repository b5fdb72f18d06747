// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package events defines the typed event contract between the cache engine
// and its subscribers. Transports (WebSocket, SSE) live outside the core and
// only consume the structures defined here.
package events

import "time"

// Type discriminates event payloads.
type Type string

const (
	TypeStatus            Type = "status"
	TypeStats             Type = "stats"
	TypeOperationProgress Type = "operation_progress"
	TypeOperationComplete Type = "operation_complete"
	TypeSessionStart      Type = "session_start"
	TypeSessionUpdate     Type = "session_update"
	TypeSessionEnd        Type = "session_end"
	TypeLog               Type = "log"
	TypeCycleStart        Type = "cycle_start"
	TypeCycleProgress     Type = "cycle_progress"
	TypeCycleComplete     Type = "cycle_complete"
)

// Event is the envelope delivered to subscribers. Data holds one of the
// payload structs below depending on Type.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// New stamps an event with the current UTC time.
func New(t Type, data any) Event {
	return Event{Type: t, Timestamp: time.Now().UTC(), Data: data}
}

// OperationProgress reports relocation progress in percent and bytes.
type OperationProgress struct {
	OperationID      string  `json:"operation_id"`
	OperationType    string  `json:"operation_type"` // cache|restore|evict
	FileName         string  `json:"file_name"`
	ProgressPercent  float64 `json:"progress_percent"`
	BytesTransferred int64   `json:"bytes_transferred"`
	BytesTotal       int64   `json:"bytes_total"`
	SpeedBytesPerSec float64 `json:"speed_bytes_per_sec"`
	ETASeconds       float64 `json:"eta_seconds"`
}

// OperationComplete closes out one relocation, successful or not.
type OperationComplete struct {
	OperationID      string  `json:"operation_id"`
	OperationType    string  `json:"operation_type"`
	FilePath         string  `json:"file_path"`
	Success          bool    `json:"success"`
	Error            string  `json:"error,omitempty"`
	DurationSeconds  float64 `json:"duration_seconds"`
	BytesTransferred int64   `json:"bytes_transferred"`
}

// Stats is a point-in-time snapshot of fast-tier usage.
type Stats struct {
	TotalSizeBytes int64   `json:"total_size_bytes"`
	LimitBytes     int64   `json:"limit_bytes"`
	UsedPercent    float64 `json:"used_percent"`
	FileCount      int64   `json:"file_count"`
	Health         string  `json:"health"` // healthy|warning|critical
}

// Cycle is shared by cycle_start, cycle_progress and cycle_complete.
type Cycle struct {
	CycleID        string `json:"cycle_id"`
	Phase          string `json:"phase,omitempty"`
	ItemsProcessed int    `json:"items_processed"`
	ItemsTotal     int    `json:"items_total"`
	FilesCached    int    `json:"files_cached"`
	FilesRestored  int    `json:"files_restored"`
	Aborted        bool   `json:"aborted,omitempty"`
}

// Session mirrors an upstream playback session.
type Session struct {
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
	LogicalPath string `json:"logical_path"`
	State       string `json:"state"` // playing|paused|buffering
}

// Log carries operator-facing command and cycle messages.
type Log struct {
	Level   string `json:"level"` // debug|info|warning|error
	Message string `json:"message"`
	Source  string `json:"source"`
}

// Status reports coarse daemon state changes.
type Status struct {
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

// Sink is the capability components receive to emit events. The bus
// implements it; tests substitute recording fakes.
type Sink interface {
	Publish(ev Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Publish(Event) {}
