// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"
)

const (
	// recentLogCapacity bounds the in-memory ring of recent records.
	recentLogCapacity = 512
	// maxPartialBytes bounds an incomplete line buffered between writes.
	maxPartialBytes = 64 * 1024
	// maxLineBytes bounds a single accepted record.
	maxLineBytes = 32 * 1024
)

// Record is one parsed structured log line.
type Record struct {
	Time      time.Time
	Level     string
	Component string
	Message   string
	Fields    map[string]any
}

// BufferMetrics counts records the buffer had to discard.
type BufferMetrics struct {
	DroppedPartialOverflow uint64
	DroppedTooLargeLines   uint64
	DroppedUnparsable      uint64
	DroppedIrrelevant      uint64
}

// Tap receives every accepted record. Must not block.
type Tap func(Record)

var recentMu sync.Mutex

var recent struct {
	ring    []Record
	metrics BufferMetrics
	tap     Tap
}

// structuredBufferWriter splits a zerolog JSON stream into lines and feeds the
// recent-log ring. Writes may arrive in arbitrary fragments.
type structuredBufferWriter struct {
	partial bytes.Buffer
}

func (w *structuredBufferWriter) Write(p []byte) (int, error) {
	rest := p
	for {
		idx := bytes.IndexByte(rest, '\n')
		if idx < 0 {
			break
		}
		line := rest[:idx]
		rest = rest[idx+1:]
		if w.partial.Len() > 0 {
			line = append(w.partial.Bytes(), line...)
			w.partial.Reset()
		}
		acceptLine(line)
	}
	if len(rest) > 0 {
		if w.partial.Len()+len(rest) > maxPartialBytes {
			w.partial.Reset()
			recentMu.Lock()
			recent.metrics.DroppedPartialOverflow++
			recentMu.Unlock()
		} else {
			w.partial.Write(rest)
		}
	}
	return len(p), nil
}

// relevant keeps audit records and evented records above debug level. Plain
// debug chatter stays out of the ring and off the bus.
func relevant(rec Record) bool {
	if rec.Component == "audit" {
		return true
	}
	if _, ok := rec.Fields[FieldEvent]; !ok {
		return false
	}
	return rec.Level != "debug" && rec.Level != "trace"
}

func acceptLine(line []byte) {
	if len(line) == 0 {
		return
	}
	if len(line) > maxLineBytes {
		recentMu.Lock()
		recent.metrics.DroppedTooLargeLines++
		recentMu.Unlock()
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(line, &fields); err != nil {
		recentMu.Lock()
		recent.metrics.DroppedUnparsable++
		recentMu.Unlock()
		return
	}
	rec := Record{Fields: fields}
	if v, ok := fields["time"].(string); ok {
		rec.Time, _ = time.Parse(time.RFC3339, v)
	}
	if v, ok := fields["level"].(string); ok {
		rec.Level = v
	}
	if v, ok := fields[FieldComponent].(string); ok {
		rec.Component = v
	}
	if v, ok := fields["message"].(string); ok {
		rec.Message = v
	}
	if !relevant(rec) {
		recentMu.Lock()
		recent.metrics.DroppedIrrelevant++
		recentMu.Unlock()
		return
	}

	recentMu.Lock()
	recent.ring = append(recent.ring, rec)
	if len(recent.ring) > recentLogCapacity {
		recent.ring = recent.ring[len(recent.ring)-recentLogCapacity:]
	}
	tap := recent.tap
	recentMu.Unlock()

	if tap != nil {
		tap(rec)
	}
}

// NewBufferWriter returns a writer that records structured lines passing
// through it. Compose it with the primary output via io.MultiWriter.
func NewBufferWriter() *structuredBufferWriter {
	return &structuredBufferWriter{}
}

// SetTap installs fn as the receiver of every accepted record. Pass nil to
// remove the tap.
func SetTap(fn Tap) {
	recentMu.Lock()
	recent.tap = fn
	recentMu.Unlock()
}

// GetRecentLogs returns a copy of the buffered records, oldest first.
func GetRecentLogs() []Record {
	recentMu.Lock()
	defer recentMu.Unlock()
	out := make([]Record, len(recent.ring))
	copy(out, recent.ring)
	return out
}

// ClearRecentLogs discards all buffered records.
func ClearRecentLogs() {
	recentMu.Lock()
	defer recentMu.Unlock()
	recent.ring = nil
}

// GetBufferMetrics returns drop counters accumulated since process start.
func GetBufferMetrics() BufferMetrics {
	recentMu.Lock()
	defer recentMu.Unlock()
	return recent.metrics
}
