// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/ManuGH/nvrview/internal/nvr"
	"github.com/ManuGH/nvrview/internal/transport"
	"github.com/ManuGH/nvrview/internal/validate"
)

// Validate validates an AppConfig using the centralized validation package
func Validate(cfg AppConfig) error {
	v := validate.New()

	if _, err := validate.ParseLogLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		v.AddError("LogLevel", "must be one of trace, debug, info, warn, error", cfg.LogLevel)
	}

	// The NVR URL is required; the token is optional.
	v.URL("NVR.BaseURL", cfg.NVR.BaseURL, []string{"http", "https"})
	v.DurationRange("NVR.HTTPTimeout", cfg.NVR.HTTPTimeout, time.Second, 2*time.Minute)
	if cfg.NVR.Token != "" {
		if exp, ok := nvr.TokenExpiry(cfg.NVR.Token); ok && !exp.After(time.Now()) {
			v.AddError("NVR.Token", "token has expired", exp.Format(time.RFC3339))
		}
	}

	v.DurationRange("Transport.ConnectTimeout", cfg.Transport.ConnectTimeout, time.Second, 2*time.Minute)
	v.Range("Transport.RetryBudget", cfg.Transport.RetryBudget, 1, 10)
	v.DurationRange("Transport.SnapshotInterval", cfg.Transport.SnapshotInterval, 100*time.Millisecond, time.Minute)
	if len(cfg.Transport.Order) == 0 {
		v.AddError("Transport.Order", "at least one transport is required", cfg.Transport.Order)
	}
	seen := make(map[transport.Kind]bool)
	for _, raw := range cfg.Transport.Order {
		kind, err := transport.ParseKind(raw)
		if err != nil {
			v.AddError("Transport.Order", err.Error(), raw)
			continue
		}
		if seen[kind] {
			v.AddError("Transport.Order", "duplicate transport", raw)
		}
		seen[kind] = true
	}
	for _, s := range cfg.Transport.ICEServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "turn:") && !strings.HasPrefix(s, "turns:") {
			v.AddError("Transport.ICEServers", "must be a stun:, turn: or turns: URL", s)
		}
	}
	if cfg.Transport.RelayAddr != "" {
		v.Custom("Transport.RelayAddr", cfg.Transport.RelayAddr, relayAddr)
	}

	v.DurationRange("Backoff.Base", cfg.Backoff.Base, 100*time.Millisecond, time.Minute)
	v.DurationRange("Backoff.Max", cfg.Backoff.Max, cfg.Backoff.Base, 10*time.Minute)
	v.Range("Backoff.MaxAttempts", cfg.Backoff.MaxAttempts, 1, 100)

	v.DurationRange("Playback.GapThreshold", cfg.Playback.GapThreshold, time.Second, 5*time.Minute)
	v.DurationRange("Playback.FetchTimeout", cfg.Playback.FetchTimeout, time.Second, 2*time.Minute)

	v.ListenAddr("Server.ListenAddr", cfg.Server.ListenAddr)
	v.Positive("Server.RateLimit", cfg.Server.RateLimit)

	if cfg.Telemetry.Enabled {
		v.OneOf("Telemetry.ExporterType", cfg.Telemetry.ExporterType, []string{"grpc", "http", "noop"})
		if cfg.Telemetry.ExporterType != "noop" {
			v.NotEmpty("Telemetry.Endpoint", cfg.Telemetry.Endpoint)
		}
		v.FloatRange("Telemetry.SamplingRate", cfg.Telemetry.SamplingRate, 0, 1)
	}

	for _, cam := range cfg.Cameras {
		v.NotEmpty("Cameras", cam)
	}

	return v.Err()
}

// relayAddr accepts loopback listen addresses only.
func relayAddr(value interface{}) error {
	addr, _ := value.(string)
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("relay must listen on a loopback address, got %q", host)
	}
	return nil
}
