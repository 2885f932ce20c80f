// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/nvrview/internal/validate"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nvrview.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoader_DefaultsWithEnv(t *testing.T) {
	t.Setenv("NVRVIEW_NVR_URL", "http://frigate.local:5000")

	cfg, err := NewLoader("", "1.2.3").Load()
	require.NoError(t, err)

	assert.Equal(t, "1.2.3", cfg.Version)
	assert.Equal(t, "http://frigate.local:5000", cfg.NVR.BaseURL)
	assert.Equal(t, 3, cfg.Transport.RetryBudget)
	assert.Equal(t, 10*time.Second, cfg.Transport.ConnectTimeout)
	assert.Equal(t, 2*time.Second, cfg.Backoff.Base)
	assert.Equal(t, 30*time.Second, cfg.Backoff.Max)
	assert.Equal(t, 10, cfg.Backoff.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Playback.GapThreshold)
	assert.Equal(t, []string{"peer", "fmp4", "hls", "snapshot"}, cfg.Transport.Order)
	assert.Equal(t, []string{"h265", "hevc"}, cfg.Transport.PeerIncompatibleCodecs)
}

func TestLoader_Precedence(t *testing.T) {
	path := writeConfig(t, `
logLevel: debug
nvr:
  baseUrl: http://file.local:5000
  token: abc
transport:
  retryBudget: 5
  order: [fmp4, hls, snapshot]
  iceServers: ["stun:stun.l.google.com:19302"]
backoff:
  base: 1s
  max: 20s
playback:
  gapThreshold: 5s
  liveOnActivity: true
cameras: [front_door, garage]
`)
	t.Setenv("NVRVIEW_RETRY_BUDGET", "4")
	t.Setenv("NVRVIEW_CAMERAS", "driveway, ,porch")

	l := NewLoader(path, "dev")
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http://file.local:5000", cfg.NVR.BaseURL)
	assert.Equal(t, "abc", cfg.NVR.Token)
	assert.Equal(t, 4, cfg.Transport.RetryBudget, "env wins over file")
	assert.Equal(t, []string{"fmp4", "hls", "snapshot"}, cfg.Transport.Order)
	assert.Equal(t, time.Second, cfg.Backoff.Base)
	assert.Equal(t, 20*time.Second, cfg.Backoff.Max)
	assert.Equal(t, 10, cfg.Backoff.MaxAttempts, "unset keys keep defaults")
	assert.Equal(t, 5*time.Second, cfg.Playback.GapThreshold)
	assert.True(t, cfg.Playback.LiveOnActivity)
	assert.Equal(t, []string{"driveway", "porch"}, cfg.Cameras)
	assert.Contains(t, l.ConsumedEnvKeys, "NVRVIEW_RETRY_BUDGET")
}

func TestLoader_StrictFile(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		unknown bool
	}{
		{name: "unknown key", body: "nvr:\n  baseUrl: http://x\n  password: y\n", unknown: true},
		{name: "bad duration", body: "nvr:\n  baseUrl: http://x\nbackoff:\n  base: soon\n"},
		{name: "trailing document", body: "logLevel: info\n---\nlogLevel: debug\n"},
		{name: "wrong type", body: "transport:\n  retryBudget: lots\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(writeConfig(t, tt.body), "").Load()
			require.Error(t, err)
			assert.Equal(t, tt.unknown, errors.Is(err, ErrUnknownConfigField))
		})
	}
}

func TestLoader_EmptyFile(t *testing.T) {
	t.Setenv("NVRVIEW_NVR_URL", "https://nvr.example")
	cfg, err := NewLoader(writeConfig(t, ""), "").Load()
	require.NoError(t, err)
	assert.Equal(t, "https://nvr.example", cfg.NVR.BaseURL)
}

func TestLoader_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	_, err := NewLoader(path, "").Load()
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoader_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("NVRVIEW_NVR_URL", "http://nvr.local")
	t.Setenv("NVRVIEW_BACKOFF_MAX_ATTEMPTS", "many")
	t.Setenv("NVRVIEW_EVENTS_ENABLED", "no")
	cfg, err := NewLoader("", "").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultBackoffAttempts, cfg.Backoff.MaxAttempts)
	assert.False(t, cfg.Events.Enabled)
}

func TestValidate(t *testing.T) {
	valid := func() AppConfig {
		c := Defaults()
		c.NVR.BaseURL = "http://nvr.local:5000"
		return c
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*AppConfig)
		field  string
	}{
		{"missing url", func(c *AppConfig) { c.NVR.BaseURL = "" }, "NVR.BaseURL"},
		{"ftp url", func(c *AppConfig) { c.NVR.BaseURL = "ftp://nvr" }, "NVR.BaseURL"},
		{"expired token", func(c *AppConfig) { c.NVR.Token = expired }, "NVR.Token"},
		{"log level", func(c *AppConfig) { c.LogLevel = "chatty" }, "LogLevel"},
		{"zero budget", func(c *AppConfig) { c.Transport.RetryBudget = 0 }, "Transport.RetryBudget"},
		{"unknown kind", func(c *AppConfig) { c.Transport.Order = []string{"peer", "rtsp"} }, "Transport.Order"},
		{"duplicate kind", func(c *AppConfig) { c.Transport.Order = []string{"hls", "hls"} }, "Transport.Order"},
		{"empty order", func(c *AppConfig) { c.Transport.Order = nil }, "Transport.Order"},
		{"ice scheme", func(c *AppConfig) { c.Transport.ICEServers = []string{"http://stun"} }, "Transport.ICEServers"},
		{"public relay", func(c *AppConfig) { c.Transport.RelayAddr = "0.0.0.0:8080" }, "Transport.RelayAddr"},
		{"cap below base", func(c *AppConfig) { c.Backoff.Max = time.Second }, "Backoff.Max"},
		{"gap", func(c *AppConfig) { c.Playback.GapThreshold = 0 }, "Playback.GapThreshold"},
		{"listen", func(c *AppConfig) { c.Server.ListenAddr = "localhost" }, "Server.ListenAddr"},
		{"exporter", func(c *AppConfig) {
			c.Telemetry.Enabled = true
			c.Telemetry.ExporterType = "zipkin"
		}, "Telemetry.ExporterType"},
	}

	require.NoError(t, Validate(valid()))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := Validate(c)
			require.Error(t, err)
			var verr validate.ValidationError
			require.ErrorAs(t, err, &verr)
			var fields []string
			for _, e := range verr.Errors() {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}


func TestToFileConfig_ReloadsToSameConfig(t *testing.T) {
	cfg := Defaults()
	cfg.NVR.BaseURL = "http://nvr.local:5000"
	cfg.Cameras = []string{"front_door"}
	cfg.Playback.LiveOnActivity = true

	out, err := yaml.Marshal(ToFileConfig(cfg))
	require.NoError(t, err)

	got, err := NewLoader(writeConfig(t, string(out)), "").Load()
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	cfg.NVR.Token = "secret"
	assert.Equal(t, RedactedToken, ToFileConfig(cfg).NVR.Token)
}
