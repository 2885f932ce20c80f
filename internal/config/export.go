// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// RedactedToken replaces the NVR token in dumped configuration.
const RedactedToken = "<redacted>"

// ToFileConfig renders cfg in the YAML file layout, every field set. The
// token is redacted so the result is safe to print.
func ToFileConfig(cfg AppConfig) FileConfig {
	dur := func(d time.Duration) string { return d.String() }
	token := cfg.NVR.Token
	if token != "" {
		token = RedactedToken
	}
	return FileConfig{
		LogLevel: cfg.LogLevel,
		NVR: &FileNVR{
			BaseURL:     cfg.NVR.BaseURL,
			Token:       token,
			HTTPTimeout: dur(cfg.NVR.HTTPTimeout),
		},
		Transport: &FileTransport{
			ConnectTimeout:         dur(cfg.Transport.ConnectTimeout),
			RetryBudget:            ptr(cfg.Transport.RetryBudget),
			Order:                  cfg.Transport.Order,
			PeerIncompatibleCodecs: cfg.Transport.PeerIncompatibleCodecs,
			ICEServers:             cfg.Transport.ICEServers,
			SnapshotInterval:       dur(cfg.Transport.SnapshotInterval),
			Codecs:                 cfg.Transport.Codecs,
			RelayAddr:              cfg.Transport.RelayAddr,
		},
		Backoff: &FileBackoff{
			Base:        dur(cfg.Backoff.Base),
			Max:         dur(cfg.Backoff.Max),
			MaxAttempts: ptr(cfg.Backoff.MaxAttempts),
		},
		Playback: &FilePlayback{
			GapThreshold:   dur(cfg.Playback.GapThreshold),
			FetchTimeout:   dur(cfg.Playback.FetchTimeout),
			LiveOnActivity: ptr(cfg.Playback.LiveOnActivity),
		},
		Events: &FileEvents{Enabled: ptr(cfg.Events.Enabled)},
		Server: &FileServer{
			ListenAddr: cfg.Server.ListenAddr,
			RateLimit:  ptr(cfg.Server.RateLimit),
		},
		Telemetry: &FileTelemetry{
			Enabled:      ptr(cfg.Telemetry.Enabled),
			ExporterType: cfg.Telemetry.ExporterType,
			Endpoint:     cfg.Telemetry.Endpoint,
			Insecure:     ptr(cfg.Telemetry.Insecure),
			SamplingRate: ptr(cfg.Telemetry.SamplingRate),
		},
		Cameras: cfg.Cameras,
	}
}

func ptr[T any](v T) *T { return &v }
