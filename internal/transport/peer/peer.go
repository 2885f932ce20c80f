// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package peer implements the real-time peer media transport: a receive-only
// WebRTC peer connection negotiated over the NVR's signaling websocket.
package peer

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"

	nvlog "github.com/ManuGH/nvrview/internal/log"
	"github.com/ManuGH/nvrview/internal/nvr"
	"github.com/ManuGH/nvrview/internal/transport"
)

const writeTimeout = 2 * time.Second

type message struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Config holds the dependencies of a peer driver.
type Config struct {
	Endpoints      nvr.Endpoints
	Dialer         *websocket.Dialer
	ICEServers     []webrtc.ICEServer
	API            *webrtc.API
	ConnectTimeout time.Duration
	Logger         zerolog.Logger
}

// Driver is one peer connection attempt.
type Driver struct {
	cfg Config
	lc  transport.Lifecycle

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
	conn   *websocket.Conn
	pc     *webrtc.PeerConnection
	stream *Stream
	done   chan struct{}
}

// New builds a driver for one connection attempt.
func New(cfg Config) *Driver {
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	}
	if cfg.API == nil {
		cfg.API = DefaultAPI()
	}
	return &Driver{cfg: cfg}
}

// Factory returns a transport.Factory building fresh peer drivers.
func Factory(cfg Config) transport.Factory {
	if cfg.API == nil {
		cfg.API = DefaultAPI()
	}
	return func() transport.Driver { return New(cfg) }
}

func (d *Driver) Kind() transport.Kind { return transport.KindPeer }

func (d *Driver) Connect(camera string, _ transport.Hint, l transport.Listener) error {
	ctx, cancel := context.WithCancel(context.Background())
	teardown := func() {
		cancel()
		d.release()
	}
	if err := d.lc.Begin(l, d.cfg.ConnectTimeout, transport.SignalingFailed, teardown); err != nil {
		cancel()
		return err
	}
	done := make(chan struct{})
	d.mu.Lock()
	d.done = done
	d.mu.Unlock()

	d.lc.State(transport.StateConnecting)
	go d.run(ctx, done, camera)
	return nil
}

func (d *Driver) run(ctx context.Context, done chan struct{}, camera string) {
	defer close(done)
	logger := d.cfg.Logger.With().
		Str(nvlog.FieldTransport, string(transport.KindPeer)).
		Str(nvlog.FieldCamera, camera).
		Logger()

	err := d.negotiate(ctx, camera, logger)
	if err == nil || ctx.Err() != nil {
		return
	}
	d.fail(logger, err)
}

func (d *Driver) fail(logger zerolog.Logger, err error) {
	category := classify(err)
	if d.lc.Fail(category, err) {
		logger.Debug().Err(err).
			Str(nvlog.FieldCategory, category.String()).
			Str(nvlog.FieldEvent, "peer.failed").
			Msg("peer transport failed")
	}
}

func (d *Driver) negotiate(ctx context.Context, camera string, logger zerolog.Logger) error {
	u, err := d.cfg.Endpoints.PeerSignaling(camera)
	if err != nil {
		return err
	}
	conn, resp, err := d.cfg.Dialer.DialContext(ctx, u, d.cfg.Endpoints.Header())
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return &signalingError{err: err}
	}

	pc, err := d.cfg.API.NewPeerConnection(webrtc.Configuration{ICEServers: d.cfg.ICEServers})
	if err != nil {
		_ = conn.Close()
		return err
	}
	stream := newStream(camera)
	if !d.adopt(conn, pc, stream) {
		return context.Canceled
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		_, err = pc.AddTransceiverFromKind(kind, webrtc.RtpTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			return err
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := d.send(conn, message{Type: "webrtc/candidate", Value: c.ToJSON().Candidate}); err != nil {
			logger.Debug().Err(err).Msg("send candidate")
		}
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		stream.add(remote)
		if remote.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		if d.lc.Ready(transport.MediaHandle{
			Kind:     transport.KindPeer,
			MIMEType: remote.Codec().MimeType,
			Stream:   stream,
		}) {
			logger.Info().
				Str(nvlog.FieldCodec, remote.Codec().MimeType).
				Str(nvlog.FieldEvent, "peer.ready").
				Msg("video track received")
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed:
			d.fail(logger, &iceError{state: s})
		case webrtc.PeerConnectionStateDisconnected:
			if d.lc.IsReady() {
				d.lc.State(transport.StateConnecting)
			}
		case webrtc.PeerConnectionStateConnected:
			if d.lc.IsReady() {
				d.lc.State(transport.StateConnected)
			}
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	if err := d.send(conn, message{Type: "webrtc/offer", Value: offer.SDP}); err != nil {
		return &signalingError{err: err}
	}

	return d.readSignaling(ctx, conn, pc)
}

// readSignaling applies answers and candidates until the socket closes. Once
// media flows the signaling socket is no longer needed, so its loss after
// ready is not a failure.
func (d *Driver) readSignaling(ctx context.Context, conn *websocket.Conn, pc *webrtc.PeerConnection) error {
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			if d.lc.IsReady() || ctx.Err() != nil {
				return nil
			}
			return &signalingError{err: err}
		}
		switch msg.Type {
		case "webrtc/answer":
			if err := checkAnswer(msg.Value); err != nil {
				return err
			}
			err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.Value})
			if err != nil {
				return err
			}
		case "webrtc/candidate":
			if msg.Value == "" {
				continue
			}
			if err := pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: msg.Value}); err != nil {
				return err
			}
		case "error":
			return &serverError{msg: msg.Value}
		}
	}
}

func (d *Driver) send(conn *websocket.Conn, msg message) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

func (d *Driver) adopt(conn *websocket.Conn, pc *webrtc.PeerConnection, s *Stream) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		_ = conn.Close()
		_ = pc.Close()
		return false
	}
	d.conn, d.pc, d.stream = conn, pc, s
	return true
}

// release closes the signaling socket and the peer connection.
func (d *Driver) release() {
	d.mu.Lock()
	d.closed = true
	conn, pc := d.conn, d.pc
	d.conn, d.pc = nil, nil
	d.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if pc != nil {
		pc.OnConnectionStateChange(nil)
		_ = pc.Close()
	}
}

// Disconnect closes the peer connection and waits for the signaling reader.
func (d *Driver) Disconnect() {
	d.lc.Close()
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done != nil {
		<-done
	}
}
