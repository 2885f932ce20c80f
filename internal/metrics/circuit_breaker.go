// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nvrview_circuit_breaker_state",
		Help: "Breaker state per upstream (1 for the active state, 0 otherwise)",
	}, []string{"component", "state"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrview_circuit_breaker_trips_total",
		Help: "Transitions into the open state per upstream",
	}, []string{"component", "reason"})

	breakerRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrview_circuit_breaker_rejected_total",
		Help: "Calls refused without contacting the upstream because the breaker was open",
	}, []string{"component"})
)

var breakerStates = [...]string{"closed", "half-open", "open"}

// SetCircuitBreakerState marks state as the active breaker state for component.
func SetCircuitBreakerState(component, state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		breakerState.WithLabelValues(component, s).Set(v)
	}
}

// RecordCircuitBreakerTrip counts a transition into the open state.
func RecordCircuitBreakerTrip(component, reason string) {
	breakerTrips.WithLabelValues(component, reason).Inc()
}

// RecordCircuitBreakerRejected counts a call short-circuited by an open breaker.
func RecordCircuitBreakerRejected(component string) {
	breakerRejected.WithLabelValues(component).Inc()
}
