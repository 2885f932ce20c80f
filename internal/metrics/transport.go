// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransportAttempts counts connection attempts per transport kind by result
	// (started, ready, failed).
	TransportAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrview_transport_attempts_total",
		Help: "Transport connection attempts by kind and result",
	}, []string{"kind", "result"})

	// TransportFailures counts classified driver failures.
	TransportFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrview_transport_failures_total",
		Help: "Classified transport failures by kind and category",
	}, []string{"kind", "category"})

	// TransportFallbacks counts advances from one transport kind to the next.
	TransportFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrview_transport_fallbacks_total",
		Help: "Transport fallbacks by source and destination kind",
	}, []string{"from", "to"})

	// TransportsExhausted counts sessions whose every transport failed.
	TransportsExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nvrview_transports_exhausted_total",
		Help: "Sessions that exhausted all transports",
	})

	// TransportConnectLatency tracks the time from connect to media ready.
	TransportConnectLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nvrview_transport_connect_latency_seconds",
		Help:    "Time from connect to media ready per transport kind",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 10},
	}, []string{"kind"})

	// BackoffDelay tracks computed retry delays.
	BackoffDelay = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nvrview_backoff_delay_seconds",
		Help:    "Computed reconnect backoff delay",
		Buckets: []float64{0, 2, 4, 6, 8, 10, 15, 20, 30},
	}, []string{"key"})

	// EventSocketReconnects counts reconnects of the NVR event socket.
	EventSocketReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrview_event_socket_reconnects_total",
		Help: "Event socket reconnect attempts by result",
	}, []string{"result"})
)

// IncTransportAttempt records an attempt lifecycle step for kind.
func IncTransportAttempt(kind, result string) {
	TransportAttempts.WithLabelValues(kind, result).Inc()
}

// IncTransportFailure records a classified failure.
func IncTransportFailure(kind, category string) {
	TransportFailures.WithLabelValues(kind, category).Inc()
}

// IncTransportFallback records an advance between kinds.
func IncTransportFallback(from, to string) {
	TransportFallbacks.WithLabelValues(from, to).Inc()
}

// IncTransportsExhausted records a terminal exhaustion.
func IncTransportsExhausted() {
	TransportsExhausted.Inc()
}

// ObserveTransportConnectLatency records connect-to-ready latency.
func ObserveTransportConnectLatency(kind string, d time.Duration) {
	TransportConnectLatency.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveBackoffDelay records a computed retry delay.
func ObserveBackoffDelay(key string, d time.Duration) {
	BackoffDelay.WithLabelValues(key).Observe(d.Seconds())
}

// IncEventSocketReconnect records an event socket reconnect outcome.
func IncEventSocketReconnect(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	EventSocketReconnects.WithLabelValues(result).Inc()
}
