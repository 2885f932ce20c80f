// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	CatchupResultLive    = "live"
	CatchupResultAdvance = "advance"
	CatchupResultFailed  = "failed"
)

var (
	// PlaybackModeSwitches counts transitions between live and recorded playback.
	PlaybackModeSwitches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrview_playback_mode_switches_total",
		Help: "Playback mode switches by destination mode",
	}, []string{"to"})

	// CatchupSteps counts catch-up loop iterations by outcome.
	CatchupSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrview_catchup_steps_total",
		Help: "Recorded catch-up steps by result (live, advance, failed)",
	}, []string{"result"})

	// StaleResultsDiscarded counts async results dropped by the generation check.
	StaleResultsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrview_stale_results_discarded_total",
		Help: "Superseded async results discarded on arrival",
	}, []string{"source"})

	// ActiveSessions tracks open stream sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nvrview_active_sessions",
		Help: "Currently open stream sessions",
	})
)

// IncPlaybackModeSwitch records a mode switch.
func IncPlaybackModeSwitch(to string) {
	PlaybackModeSwitches.WithLabelValues(to).Inc()
}

// IncCatchupStep records a catch-up loop outcome.
func IncCatchupStep(result string) {
	CatchupSteps.WithLabelValues(result).Inc()
}

// IncStaleResultDiscarded records a superseded result.
func IncStaleResultDiscarded(source string) {
	StaleResultsDiscarded.WithLabelValues(source).Inc()
}
