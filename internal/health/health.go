// SPDX-License-Identifier: MIT

// Package health provides health and readiness checks for the stream engine.
// It supports container HEALTHCHECK and Kubernetes probes with detailed component status.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"fmt"
	"time"

	"github.com/ManuGH/nvrview/internal/engine"
	"github.com/ManuGH/nvrview/internal/log"
	"github.com/ManuGH/nvrview/internal/playback"
)

// Status represents the overall health/readiness status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a component health check
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Uptime    int64                  `json:"uptime_seconds"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Checker defines the interface for health checks
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager manages health and readiness checks
type Manager struct {
	version  string
	started  time.Time
	checkers []Checker
}

// NewManager creates a new health check manager
func NewManager(version string) *Manager {
	return &Manager{
		version:  version,
		started:  time.Now(),
		checkers: make([]Checker, 0),
	}
}

// RegisterChecker adds a health checker to the manager
func (m *Manager) RegisterChecker(checker Checker) {
	m.checkers = append(m.checkers, checker)
}

// Health performs a health check (liveness probe)
// Returns 200 if the process is alive, regardless of service state
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Uptime:    int64(time.Since(m.started).Seconds()),
		Timestamp: time.Now(),
	}

	// If verbose, include component checks
	if verbose && len(m.checkers) > 0 {
		resp.Checks = make(map[string]CheckResult)
		hasUnhealthy := false
		hasDegraded := false

		for _, checker := range m.checkers {
			result := checker.Check(ctx)
			resp.Checks[checker.Name()] = result

			switch result.Status {
			case StatusUnhealthy:
				hasUnhealthy = true
			case StatusDegraded:
				hasDegraded = true
			}
		}

		// Overall status based on components
		if hasUnhealthy {
			resp.Status = StatusUnhealthy
		} else if hasDegraded {
			resp.Status = StatusDegraded
		}
	}

	return resp
}

// Ready performs a readiness check (readiness probe)
// Returns 200 if services are initialized and ready to serve traffic
func (m *Manager) Ready(ctx context.Context, _ bool) ReadinessResponse {
	resp := ReadinessResponse{
		Ready:     true,
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}

	if len(m.checkers) == 0 {
		// No checkers registered - consider ready
		return resp
	}

	resp.Checks = make(map[string]CheckResult)
	hasUnhealthy := false
	hasDegraded := false

	for _, checker := range m.checkers {
		result := checker.Check(ctx)
		resp.Checks[checker.Name()] = result

		switch result.Status {
		case StatusUnhealthy:
			hasUnhealthy = true
			resp.Ready = false
		case StatusDegraded:
			hasDegraded = true
		}
	}

	// Overall status
	if hasUnhealthy {
		resp.Status = StatusUnhealthy
	} else if hasDegraded {
		resp.Status = StatusDegraded
	}

	return resp
}

// ServeHealth handles HTTP health check requests
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Health(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // Always 200 for liveness

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "health.encode_error").Msg("failed to encode health response")
	}

	logger.Debug().
		Str("event", "health.checked").
		Str("status", string(resp.Status)).
		Bool("verbose", verbose).
		Msg("health check performed")
}

// ServeReady handles HTTP readiness check requests
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Ready(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "readiness.encode_error").Msg("failed to encode readiness response")
	}

	logger.Debug().
		Str("event", "readiness.checked").
		Str("status", string(resp.Status)).
		Bool("ready", resp.Ready).
		Bool("verbose", verbose).
		Msg("readiness check performed")
}

// SessionLister is the part of the engine the session checker needs.
type SessionLister interface {
	Sessions(ctx context.Context) ([]engine.SessionInfo, error)
}

// SessionChecker reports degraded while some sessions have exhausted every
// transport and unhealthy once all of them have.
type SessionChecker struct {
	engine SessionLister
}

// NewSessionChecker creates a checker over the engine's open sessions.
func NewSessionChecker(e SessionLister) *SessionChecker {
	return &SessionChecker{engine: e}
}

func (c *SessionChecker) Name() string {
	return "sessions"
}

func (c *SessionChecker) Check(ctx context.Context) CheckResult {
	sessions, err := c.engine.Sessions(ctx)
	if err != nil {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  err.Error(),
		}
	}
	if len(sessions) == 0 {
		return CheckResult{
			Status:  StatusHealthy,
			Message: "no open sessions",
		}
	}

	exhausted := 0
	for _, s := range sessions {
		if s.Status.Health == playback.HealthExhausted {
			exhausted++
		}
	}
	switch {
	case exhausted == len(sessions):
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("all %d sessions exhausted their transports", exhausted),
		}
	case exhausted > 0:
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("%d of %d sessions exhausted their transports", exhausted, len(sessions)),
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%d sessions open", len(sessions)),
	}
}

// LastSeenChecker checks that a background connection was up recently.
type LastSeenChecker struct {
	name     string
	maxAge   time.Duration
	lastSeen func() (time.Time, string)
}

// NewLastSeenChecker creates a checker over lastSeen, which returns the time
// the connection was last up and its most recent error.
func NewLastSeenChecker(name string, maxAge time.Duration, lastSeen func() (time.Time, string)) *LastSeenChecker {
	return &LastSeenChecker{
		name:     name,
		maxAge:   maxAge,
		lastSeen: lastSeen,
	}
}

func (c *LastSeenChecker) Name() string {
	return c.name
}

func (c *LastSeenChecker) Check(ctx context.Context) CheckResult {
	last, lastError := c.lastSeen()

	if last.IsZero() {
		return CheckResult{
			Status:  StatusDegraded,
			Error:   lastError,
			Message: "not connected yet",
		}
	}

	if lastError != "" && time.Since(last) > c.maxAge {
		return CheckResult{
			Status:  StatusDegraded,
			Error:   lastError,
			Message: "connection lost",
		}
	}

	return CheckResult{
		Status:  StatusHealthy,
		Message: "connected",
	}
}
