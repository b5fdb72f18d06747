// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestContextWithRequestID(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		requestID string
		want      string
	}{
		{
			name:      "nil context",
			ctx:       nil,
			requestID: "test-id-123",
			want:      "test-id-123",
		},
		{
			name:      "background context",
			ctx:       context.Background(),
			requestID: "req-456",
			want:      "req-456",
		},
		{
			name:      "empty request ID",
			ctx:       context.Background(),
			requestID: "",
			want:      "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithRequestID(tt.ctx, tt.requestID)
			got := RequestIDFromContext(ctx)
			if got != tt.want {
				t.Errorf("RequestIDFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestContextWithCycleID(t *testing.T) {
	tests := []struct {
		name    string
		ctx     context.Context
		cycleID string
		want    string
	}{
		{
			name:    "nil context",
			ctx:     nil,
			cycleID: "cycle-123",
			want:    "cycle-123",
		},
		{
			name:    "background context",
			ctx:     context.Background(),
			cycleID: "cycle-456",
			want:    "cycle-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithCycleID(tt.ctx, tt.cycleID)
			got := CycleIDFromContext(ctx)
			if got != tt.want {
				t.Errorf("CycleIDFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCycleIDFromContextMissing(t *testing.T) {
	if got := CycleIDFromContext(context.Background()); got != "" {
		t.Errorf("CycleIDFromContext() = %q, want empty", got)
	}
	if got := CycleIDFromContext(nil); got != "" { //nolint:staticcheck // nil context is part of the contract
		t.Errorf("CycleIDFromContext(nil) = %q, want empty", got)
	}
}

func TestWithContextEnrichesLogger(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "info", Output: &buf})
	defer Configure(Config{})

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithCycleID(ctx, "cycle-9")

	l := WithContext(ctx, Base())
	l.Info().Msg("enriched")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v", err)
	}
	if entry["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want req-1", entry["request_id"])
	}
	if entry["cycle_id"] != "cycle-9" {
		t.Errorf("cycle_id = %v, want cycle-9", entry["cycle_id"])
	}
}

func TestWithContextNoFields(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "info", Output: &buf})
	defer Configure(Config{})

	l := WithContext(context.Background(), Base())
	l.Info().Msg("plain")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v", err)
	}
	if _, ok := entry["request_id"]; ok {
		t.Error("request_id should be absent without context values")
	}
	if _, ok := entry["cycle_id"]; ok {
		t.Error("cycle_id should be absent without context values")
	}
}
