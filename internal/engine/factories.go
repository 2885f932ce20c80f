// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"

	"github.com/ManuGH/nvrview/internal/nvr"
	"github.com/ManuGH/nvrview/internal/platform/httpx"
	"github.com/ManuGH/nvrview/internal/transport"
	"github.com/ManuGH/nvrview/internal/transport/fmp4"
	"github.com/ManuGH/nvrview/internal/transport/hls"
	"github.com/ManuGH/nvrview/internal/transport/peer"
	"github.com/ManuGH/nvrview/internal/transport/snapshot"
)

// DriverConfig holds the settings shared by every driver instance.
type DriverConfig struct {
	ConnectTimeout   time.Duration
	HTTPTimeout      time.Duration
	SnapshotInterval time.Duration
	// ICEServers are STUN/TURN URLs for the peer transport.
	ICEServers []string
	// Codecs is announced to the fragmented-container server.
	Codecs string
	// RelayAddr is the loopback address fmp4 relays listen on.
	RelayAddr string
}

// BuildFactories wires one factory per transport kind against the NVR
// endpoints. Every call of a factory yields a fresh driver.
func BuildFactories(ep nvr.Endpoints, dc DriverConfig, logger zerolog.Logger) map[transport.Kind]transport.Factory {
	if dc.ConnectTimeout <= 0 {
		dc.ConnectTimeout = transport.DefaultConnectTimeout
	}
	client := httpx.NewClient(dc.HTTPTimeout)
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: dc.ConnectTimeout,
	}

	var ice []webrtc.ICEServer
	if len(dc.ICEServers) > 0 {
		ice = []webrtc.ICEServer{{URLs: dc.ICEServers}}
	}

	return map[transport.Kind]transport.Factory{
		transport.KindPeer: peer.Factory(peer.Config{
			Endpoints:      ep,
			Dialer:         dialer,
			ICEServers:     ice,
			ConnectTimeout: dc.ConnectTimeout,
			Logger:         logger,
		}),
		transport.KindFragmented: fmp4.Factory(fmp4.Config{
			Endpoints:      ep,
			Dialer:         dialer,
			Codecs:         dc.Codecs,
			ConnectTimeout: dc.ConnectTimeout,
			RelayAddr:      dc.RelayAddr,
			Logger:         logger,
		}),
		transport.KindSegmented: hls.Factory(hls.Config{
			Endpoints:      ep,
			HTTPClient:     client,
			ConnectTimeout: dc.ConnectTimeout,
			Logger:         logger,
		}),
		transport.KindSnapshot: snapshot.Factory(snapshot.Config{
			Endpoints:      ep,
			HTTPClient:     client,
			Interval:       dc.SnapshotInterval,
			ConnectTimeout: dc.ConnectTimeout,
			Logger:         logger,
		}),
	}
}
