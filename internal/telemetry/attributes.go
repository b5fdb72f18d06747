// SPDX-License-Identifier: MIT

// Package telemetry provides OpenTelemetry tracing utilities for the
// stagecache daemon.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"
	HTTPUserAgentKey  = "http.user_agent"

	// Upstream client attributes
	UpstreamEndpointKey = "upstream.endpoint"
	UpstreamAttemptKey  = "upstream.attempt"
	UpstreamStatusKey   = "upstream.status"

	// Cycle attributes
	CycleTriggerKey   = "cycle.trigger"
	CyclePhaseKey     = "cycle.phase"
	CyclePlannedKey   = "cycle.planned"
	CycleCompletedKey = "cycle.completed"
	CycleFailedKey    = "cycle.failed"

	// Relocation attributes
	RelocateOpKey    = "relocate.op"
	RelocatePathKey  = "relocate.path"
	RelocateBytesKey = "relocate.bytes"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// UpstreamAttributes creates upstream request span attributes.
func UpstreamAttributes(endpoint string, attempt, status int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(UpstreamEndpointKey, endpoint),
		attribute.Int(UpstreamAttemptKey, attempt),
		attribute.Int(UpstreamStatusKey, status),
	}
}

// CycleAttributes creates cycle-level span attributes.
func CycleAttributes(trigger string, planned, completed, failed int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CycleTriggerKey, trigger),
		attribute.Int(CyclePlannedKey, planned),
		attribute.Int(CycleCompletedKey, completed),
		attribute.Int(CycleFailedKey, failed),
	}
}

// PhaseAttributes creates per-phase span attributes.
func PhaseAttributes(phase string, planned int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CyclePhaseKey, phase),
		attribute.Int(CyclePlannedKey, planned),
	}
}

// RelocateAttributes creates relocation span attributes.
func RelocateAttributes(op, path string, bytes int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RelocateOpKey, op),
		attribute.String(RelocatePathKey, path),
		attribute.Int64(RelocateBytesKey, bytes),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
