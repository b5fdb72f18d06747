// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldCycleID   = "cycle_id"
	FieldEntryID   = "entry_id"
	FieldUserID    = "user_id"
	FieldRatingKey = "rating_key"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldOperation = "operation"
	FieldCause     = "cause"

	// Cache fields
	FieldStatus    = "status"
	FieldPriority  = "priority"
	FieldSizeBytes = "size_bytes"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath         = "path"
	FieldBaseURL      = "base_url"
	FieldLogicalPath  = "logical_path"
	FieldFastPath     = "fast_path"
	FieldOriginalPath = "original_path"
)
