// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fmp4 implements the fragmented-container transport: fragmented MP4
// received over a websocket and re-served to the local player through a relay
// owned by the driver instance.
package fmp4

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	nvlog "github.com/ManuGH/nvrview/internal/log"
	"github.com/ManuGH/nvrview/internal/nvr"
	"github.com/ManuGH/nvrview/internal/relay"
	"github.com/ManuGH/nvrview/internal/transport"
)

// DefaultCodecs is the codec list offered to the server.
const DefaultCodecs = "avc1.640029,avc1.64002A,avc1.640033,hvc1.1.6.L153.B0,mp4a.40.2,mp4a.40.5,flac,opus"

const relayShutdownTimeout = 2 * time.Second

type message struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// socketError is a dial or read failure on the fragment socket.
type socketError struct{ err error }

func (e *socketError) Error() string { return "fmp4: socket: " + e.err.Error() }
func (e *socketError) Unwrap() error { return e.err }

// decodeError is an unusable fragment sequence.
type decodeError struct{ err error }

func (e *decodeError) Error() string { return "fmp4: decode: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// serverError is an error message sent by the server.
type serverError struct{ msg string }

func (e *serverError) Error() string { return "fmp4: server: " + e.msg }

// Config holds the dependencies of a fragmented-container driver.
type Config struct {
	Endpoints      nvr.Endpoints
	Dialer         *websocket.Dialer
	Codecs         string
	ConnectTimeout time.Duration
	// IdleTimeout ends a connected driver whose socket stays silent.
	IdleTimeout time.Duration
	RelayAddr   string
	RelayBuffer int
	Logger      zerolog.Logger
}

// Driver is one fragmented-container connection attempt.
type Driver struct {
	cfg Config
	lc  transport.Lifecycle

	mu     sync.Mutex
	closed bool
	conn   *websocket.Conn
	relay  *relay.Server
	done   chan struct{}
}

// New builds a driver for one connection attempt.
func New(cfg Config) *Driver {
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	}
	if cfg.Codecs == "" {
		cfg.Codecs = DefaultCodecs
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = transport.DefaultConnectTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = cfg.ConnectTimeout
	}
	return &Driver{cfg: cfg}
}

// Factory returns a transport.Factory building fresh fragmented-container drivers.
func Factory(cfg Config) transport.Factory {
	return func() transport.Driver { return New(cfg) }
}

func (d *Driver) Kind() transport.Kind { return transport.KindFragmented }

func (d *Driver) Connect(camera string, _ transport.Hint, l transport.Listener) error {
	ctx, cancel := context.WithCancel(context.Background())
	teardown := func() {
		cancel()
		d.release()
	}
	if err := d.lc.Begin(l, d.cfg.ConnectTimeout, transport.SocketTimeout, teardown); err != nil {
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
		Str(nvlog.FieldTransport, string(transport.KindFragmented)).
		Str(nvlog.FieldCamera, camera).
		Logger()

	err := d.stream(ctx, camera, logger)
	if ctx.Err() != nil {
		return
	}
	category := classify(err, d.lc.IsReady())
	logger.Debug().Err(err).
		Str(nvlog.FieldCategory, category.String()).
		Str(nvlog.FieldEvent, "fmp4.failed").
		Msg("fragment stream ended")
	d.lc.Fail(category, err)
}

func (d *Driver) stream(ctx context.Context, camera string, logger zerolog.Logger) error {
	u, err := d.cfg.Endpoints.FragmentedSocket(camera)
	if err != nil {
		return err
	}
	conn, resp, err := d.cfg.Dialer.DialContext(ctx, u, d.cfg.Endpoints.Header())
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return &socketError{err: err}
	}
	if !d.adopt(conn) {
		return context.Canceled
	}

	if err := conn.WriteJSON(message{Type: "mse", Value: d.cfg.Codecs}); err != nil {
		return &socketError{err: err}
	}

	mime := "video/mp4"
	var out *relay.Server
	for {
		if out != nil {
			_ = conn.SetReadDeadline(time.Now().Add(d.cfg.IdleTimeout))
		}
		typ, data, err := conn.ReadMessage()
		if err != nil {
			return &socketError{err: err}
		}

		if typ == websocket.TextMessage {
			var msg message
			if err := json.Unmarshal(data, &msg); err != nil {
				return &decodeError{err: fmt.Errorf("control message: %w", err)}
			}
			switch msg.Type {
			case "mse":
				mime = msg.Value
			case "error":
				return &serverError{msg: msg.Value}
			}
			continue
		}

		if out == nil {
			if err := validateInit(data); err != nil {
				return &decodeError{err: err}
			}
			if out, err = d.startRelay(mime, data); err != nil {
				return err
			}
			if d.lc.Ready(transport.MediaHandle{
				Kind:     transport.KindFragmented,
				URL:      out.URL(),
				MIMEType: mime,
			}) {
				logger.Info().Str(nvlog.FieldEvent, "fmp4.ready").Str("mime", mime).Msg("init segment received")
			}
			continue
		}

		if err := validateFragment(data); err != nil {
			return &decodeError{err: err}
		}
		if err := out.WriteFragment(data); err != nil {
			return err
		}
	}
}

// adopt records the socket so teardown can close it. It reports false if the
// driver already died.
func (d *Driver) adopt(conn *websocket.Conn) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		_ = conn.Close()
		return false
	}
	d.conn = conn
	return true
}

func (d *Driver) startRelay(mime string, init []byte) (*relay.Server, error) {
	r := relay.New(relay.Config{
		ListenAddr:       d.cfg.RelayAddr,
		SubscriberBuffer: d.cfg.RelayBuffer,
		Logger:           d.cfg.Logger,
	})
	if err := r.Start(); err != nil {
		return nil, err
	}
	if err := r.SetInit(mime, init); err != nil {
		_ = r.Close(context.Background())
		return nil, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		_ = r.Close(context.Background())
		return nil, context.Canceled
	}
	d.relay = r
	d.mu.Unlock()
	return r, nil
}

// release closes the socket and the relay. The relay is never reused.
func (d *Driver) release() {
	d.mu.Lock()
	d.closed = true
	conn, r := d.conn, d.relay
	d.conn, d.relay = nil, nil
	d.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	if r != nil {
		ctx, cancel := context.WithTimeout(context.Background(), relayShutdownTimeout)
		defer cancel()
		_ = r.Close(ctx)
	}
}

// Disconnect tears the socket and relay down and waits for the reader.
func (d *Driver) Disconnect() {
	d.lc.Close()
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done != nil {
		<-done
	}
}

var codecVocabulary = regexp.MustCompile(`(?i)codecs? not (matched|supported)|unsupported codec|no (video )?codec`)

// classify maps stream errors onto the failure taxonomy. Socket loss before
// the init segment is a socket timeout; unusable media is a decode error.
func classify(err error, ready bool) transport.FailureCategory {
	var se *socketError
	var de *decodeError
	var srv *serverError
	switch {
	case err == nil:
		return transport.Unknown
	case errors.As(err, &de):
		return transport.DecodeError
	case errors.As(err, &srv):
		if codecVocabulary.MatchString(srv.msg) {
			return transport.DecodeError
		}
		return transport.Unknown
	case errors.As(err, &se):
		return transport.SocketTimeout
	case errors.Is(err, relay.ErrClosed):
		return transport.Unknown
	case !ready:
		return transport.SocketTimeout
	default:
		return transport.Unknown
	}
}
