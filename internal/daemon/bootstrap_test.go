// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ManuGH/nvrview/internal/config"
	"github.com/ManuGH/nvrview/internal/resilience"
	"github.com/ManuGH/nvrview/internal/transport"
)

func TestEngineConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.NVR.BaseURL = "http://nvr.local:5000"
	cfg.NVR.Token = "tok"
	cfg.Transport.Order = []string{"webrtc", "mse", "hls", "jpeg"}
	cfg.Transport.ICEServers = []string{"stun:stun.example:3478"}
	cfg.Playback.LiveOnActivity = true

	ec, err := EngineConfig(cfg, zerolog.Nop(), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)

	assert.Equal(t, []transport.Kind{
		transport.KindPeer, transport.KindFragmented, transport.KindSegmented, transport.KindSnapshot,
	}, ec.Order)
	assert.Equal(t, resilience.Policy{Base: 2 * time.Second, Max: 30 * time.Second, MaxAttempts: 10}, ec.Policy)
	assert.Equal(t, 3, ec.RetryBudget)
	assert.True(t, ec.LiveOnActivity)
	assert.Equal(t, "http://nvr.local:5000", ec.Auth.BaseURL())
	assert.Equal(t, []string{"stun:stun.example:3478"}, ec.Drivers.ICEServers)
	assert.Equal(t, cfg.Transport.RelayAddr, ec.Drivers.RelayAddr)

	ev := EventsConfig(cfg, zerolog.Nop())
	u, err := ev.Endpoints.EventSocket()
	require.NoError(t, err)
	assert.Equal(t, "ws://nvr.local:5000/ws", u)
}

func TestTunables_UnknownKind(t *testing.T) {
	cfg := config.Defaults()
	cfg.Transport.Order = []string{"rtsp"}
	_, err := Tunables(cfg)
	assert.Error(t, err)
}
