// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldCorrelationID = "correlation_id"
	FieldCamera        = "camera"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Transport fields
	FieldTransport  = "transport"
	FieldAttempt    = "attempt"
	FieldCategory   = "category"
	FieldDelay      = "delay"
	FieldCodec      = "codec"
	FieldGeneration = "generation"

	// Playback fields
	FieldMode         = "mode"
	FieldSegmentStart = "segment_start"
	FieldSegmentEnd   = "segment_end"
	FieldGap          = "gap"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldURL     = "url"
	FieldBaseURL = "base_url"
)
