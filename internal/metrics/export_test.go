// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import "github.com/prometheus/client_golang/prometheus"

func CircuitBreakerStateGauge(component, state string) prometheus.Gauge {
	return breakerState.WithLabelValues(component, state)
}

func CircuitBreakerRejectedCounter(component string) prometheus.Counter {
	return breakerRejected.WithLabelValues(component)
}
