// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNewProvider_Disabled(t *testing.T) {
	cfg := Config{
		Enabled:      false,
		ServiceName:  "test-service",
		ExporterType: "grpc",
	}

	provider, err := NewProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if provider.tp != nil {
		t.Error("Expected noop provider (tp == nil)")
	}

	// Verify global tracer is noop
	tracer := otel.Tracer("test")
	_, span := tracer.Start(context.Background(), "noop-check")
	if span.IsRecording() {
		t.Error("Expected noop tracer span to be non-recording")
	}
	span.End()
}

func TestNewProvider_InvalidExporter(t *testing.T) {
	cfg := Config{
		Enabled:      true,
		ServiceName:  "test-service",
		ExporterType: "invalid",
	}

	_, err := NewProvider(context.Background(), cfg)
	if err == nil {
		t.Fatal("Expected error for invalid exporter type")
	}

	expectedMsg := `unsupported exporter type "invalid" (supported: grpc, http, noop)`
	if err.Error() != expectedMsg {
		t.Errorf("Expected error message %q, got %q", expectedMsg, err.Error())
	}
}

func TestNewProvider_NoopExporterStillSamples(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{
		Enabled:      true,
		ServiceName:  "nvrview",
		ExporterType: "noop",
		SamplingRate: 1,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer otel.SetTracerProvider(noop.NewTracerProvider())

	_, span := Tracer("test").Start(context.Background(), "sampled")
	if !span.IsRecording() {
		t.Error("Expected recording span with the noop exporter")
	}
	span.End()
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestSampler(t *testing.T) {
	if got := sampler(2).Description(); got != sdktrace.AlwaysSample().Description() {
		t.Errorf("rate 2: got %q", got)
	}
	if got := sampler(-1).Description(); got != sdktrace.NeverSample().Description() {
		t.Errorf("rate -1: got %q", got)
	}
}

func TestNewProvider_HTTPExporter(t *testing.T) {
	cfg := Config{
		Enabled:        true,
		ServiceName:    "nvrview",
		ServiceVersion: "test",
		ExporterType:   "http",
		Endpoint:       "127.0.0.1:1",
		Insecure:       true,
		SamplingRate:   0.5,
	}

	provider, err := NewProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if provider.tp == nil {
		t.Fatal("Expected sdk tracer provider")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = provider.Shutdown(ctx)
	otel.SetTracerProvider(noop.NewTracerProvider())
}

func TestProvider_Shutdown(t *testing.T) {
	provider := &Provider{tp: nil}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("Expected no error on noop shutdown, got: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := provider.Shutdown(ctx); err != nil {
		t.Errorf("Expected no error on noop shutdown with canceled context, got: %v", err)
	}
}

func TestTracer_RecordsAttemptSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(noop.NewTracerProvider())

	_, span := Tracer("nvrview/selector").Start(context.Background(), "transport.attempt",
		trace.WithAttributes(TransportAttemptAttributes("front_door", "fmp4", 1)...))
	span.SetAttributes(ErrorAttributes(nil, "decode_error")...)
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("Expected 1 ended span, got %d", len(ended))
	}
	if ended[0].Name() != "transport.attempt" {
		t.Errorf("Unexpected span name %q", ended[0].Name())
	}
	verifyAttribute(t, ended[0].Attributes(), TransportKindKey, "fmp4")
	verifyAttribute(t, ended[0].Attributes(), ErrorTypeKey, "decode_error")
}
