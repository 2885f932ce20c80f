// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestTransportAttemptAttributes(t *testing.T) {
	attrs := TransportAttemptAttributes("front_door", "peer", 2)
	if len(attrs) != 3 {
		t.Fatalf("Expected 3 attributes, got %d", len(attrs))
	}
	verifyAttribute(t, attrs, CameraKey, "front_door")
	verifyAttribute(t, attrs, TransportKindKey, "peer")
	verifyIntAttribute(t, attrs, TransportAttemptKey, 2)

	if got := TransportAttemptAttributes("", "hls", 1); len(got) != 2 {
		t.Errorf("Expected camera to be omitted when empty, got %d attributes", len(got))
	}
}

func TestSegmentAttributes(t *testing.T) {
	attrs := SegmentAttributes("garage", 7, 100, 160)
	verifyAttribute(t, attrs, CameraKey, "garage")
	verifyInt64Attribute(t, attrs, PlaybackGenerationKey, 7)
	verifyInt64Attribute(t, attrs, SegmentStartKey, 100)
	verifyInt64Attribute(t, attrs, SegmentEndKey, 160)
}

func TestErrorAttributes(t *testing.T) {
	attrs := ErrorAttributes(errors.New("boom"), "socket_timeout")
	verifyBoolAttribute(t, attrs, ErrorKey, true)
	verifyAttribute(t, attrs, ErrorTypeKey, "socket_timeout")
}

func verifyAttribute(t *testing.T, attrs []attribute.KeyValue, key, expectedValue string) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsString() != expectedValue {
				t.Errorf("Attribute %s: expected %q, got %q", key, expectedValue, attr.Value.AsString())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyIntAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue int) {
	t.Helper()
	verifyInt64Attribute(t, attrs, key, int64(expectedValue))
}

func verifyInt64Attribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue int64) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsInt64() != expectedValue {
				t.Errorf("Attribute %s: expected %d, got %d", key, expectedValue, attr.Value.AsInt64())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyBoolAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue bool) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsBool() != expectedValue {
				t.Errorf("Attribute %s: expected %v, got %v", key, expectedValue, attr.Value.AsBool())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}
