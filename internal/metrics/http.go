// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nvrview_http_request_duration_seconds",
		Help:    "Status server request latencies in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	httpRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nvrview_http_requests_in_flight",
		Help: "Current number of status server requests being served",
	})
)

// TrackHTTPRequest marks a request in flight and returns the function that
// records its outcome. path must be a route pattern, not the raw URL.
func TrackHTTPRequest() func(method, path string, status int) {
	start := time.Now()
	httpRequestsInFlight.Inc()
	return func(method, path string, status int) {
		httpRequestsInFlight.Dec()
		httpRequestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	}
}
