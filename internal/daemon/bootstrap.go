// SPDX-License-Identifier: MIT

// Package daemon wires configuration into the stream engine and runs the
// status server and the background subsystems around it.
package daemon

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/nvrview/internal/config"
	"github.com/ManuGH/nvrview/internal/engine"
	"github.com/ManuGH/nvrview/internal/events"
	"github.com/ManuGH/nvrview/internal/nvr"
	"github.com/ManuGH/nvrview/internal/resilience"
	"github.com/ManuGH/nvrview/internal/transport"
)

// Auth returns the NVR session described by cfg.
func Auth(cfg config.AppConfig) nvr.StaticAuth {
	return nvr.StaticAuth{URL: cfg.NVR.BaseURL, Token: cfg.NVR.Token}
}

// Policy maps the backoff section onto a reconnect policy.
func Policy(b config.BackoffConfig) resilience.Policy {
	return resilience.Policy{Base: b.Base, Max: b.Max, MaxAttempts: b.MaxAttempts}
}

// Tunables maps the arbitration settings of cfg onto the engine.
func Tunables(cfg config.AppConfig) (engine.Tunables, error) {
	order := make([]transport.Kind, 0, len(cfg.Transport.Order))
	for _, raw := range cfg.Transport.Order {
		kind, err := transport.ParseKind(raw)
		if err != nil {
			return engine.Tunables{}, fmt.Errorf("transport order: %w", err)
		}
		order = append(order, kind)
	}
	return engine.Tunables{
		Order:                  order,
		RetryBudget:            cfg.Transport.RetryBudget,
		PeerIncompatibleCodecs: cfg.Transport.PeerIncompatibleCodecs,
		Policy:                 Policy(cfg.Backoff),
		GapThreshold:           cfg.Playback.GapThreshold,
		FetchTimeout:           cfg.Playback.FetchTimeout,
		LiveOnActivity:         cfg.Playback.LiveOnActivity,
	}, nil
}

// EngineConfig builds the engine configuration from cfg.
func EngineConfig(cfg config.AppConfig, logger zerolog.Logger, tracer trace.Tracer) (engine.Config, error) {
	tunables, err := Tunables(cfg)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Tunables: tunables,
		Auth:     Auth(cfg),
		Drivers: engine.DriverConfig{
			ConnectTimeout:   cfg.Transport.ConnectTimeout,
			HTTPTimeout:      cfg.NVR.HTTPTimeout,
			SnapshotInterval: cfg.Transport.SnapshotInterval,
			ICEServers:       cfg.Transport.ICEServers,
			Codecs:           cfg.Transport.Codecs,
			RelayAddr:        cfg.Transport.RelayAddr,
		},
		Logger: logger,
		Tracer: tracer,
	}, nil
}

// EventsConfig builds the event socket configuration from cfg.
func EventsConfig(cfg config.AppConfig, logger zerolog.Logger) events.Config {
	return events.Config{
		Endpoints: nvr.Endpoints{Auth: Auth(cfg)},
		Policy:    Policy(cfg.Backoff),
		Logger:    logger,
	}
}
