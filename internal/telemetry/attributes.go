// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the client.
const (
	// Session attributes
	CameraKey    = "nvr.camera"
	SessionIDKey = "nvr.session_id"

	// Transport attributes
	TransportKindKey     = "transport.kind"
	TransportAttemptKey  = "transport.attempt"
	TransportCategoryKey = "transport.failure_category"
	TransportResultKey   = "transport.result"

	// Playback attributes
	PlaybackModeKey       = "playback.mode"
	PlaybackGenerationKey = "playback.generation"
	SegmentStartKey       = "playback.segment_start"
	SegmentEndKey         = "playback.segment_end"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// TransportAttemptAttributes creates span attributes for one connection attempt.
func TransportAttemptAttributes(camera, kind string, attempt int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if camera != "" {
		attrs = append(attrs, attribute.String(CameraKey, camera))
	}
	attrs = append(attrs,
		attribute.String(TransportKindKey, kind),
		attribute.Int(TransportAttemptKey, attempt),
	)
	return attrs
}

// SegmentAttributes creates span attributes for a recorded segment fetch.
func SegmentAttributes(camera string, generation uint64, startUnix, endUnix int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CameraKey, camera),
		attribute.Int64(PlaybackGenerationKey, int64(generation)),
		attribute.Int64(SegmentStartKey, startUnix),
		attribute.Int64(SegmentEndKey, endUnix),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
