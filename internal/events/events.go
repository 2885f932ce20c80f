// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package events follows the NVR event socket and reports camera activity.
// Lost connections are re-established with the same backoff shape the
// transport selector uses.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	nvlog "github.com/ManuGH/nvrview/internal/log"
	"github.com/ManuGH/nvrview/internal/metrics"
	"github.com/ManuGH/nvrview/internal/nvr"
	"github.com/ManuGH/nvrview/internal/resilience"
)

// ErrReconnectExhausted is returned by Run once the reconnect policy gave up.
var ErrReconnectExhausted = errors.New("events: reconnect attempts exhausted")

// DefaultReadTimeout ends a connection that stays silent for too long.
const DefaultReadTimeout = 90 * time.Second

// Type is the lifecycle stage of a detection event.
type Type string

const (
	TypeNew    Type = "new"
	TypeUpdate Type = "update"
	TypeEnd    Type = "end"
)

// Event is one detection event update.
type Event struct {
	ID     string
	Type   Type
	Camera string
	Label  string
	Start  time.Time
	// End is zero while the event is in progress.
	End time.Time
}

// Handler receives decoded events on the client's goroutine.
type Handler func(Event)

// Config configures a Client.
type Config struct {
	Endpoints   nvr.Endpoints
	Dialer      *websocket.Dialer
	Policy      resilience.Policy
	ReadTimeout time.Duration
	Logger      zerolog.Logger
}

// Client maintains the event socket.
type Client struct {
	cfg     Config
	handler Handler
	logger  zerolog.Logger

	mu       sync.Mutex
	lastSeen time.Time
	lastErr  string
}

// LastSeen returns when the socket last connected or delivered a message and
// the error that ended the most recent connection attempt.
func (c *Client) LastSeen() (time.Time, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen, c.lastErr
}

func (c *Client) seen(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastErr = err.Error()
		return
	}
	c.lastSeen = time.Now()
	c.lastErr = ""
}

// New returns a client delivering events to h.
func New(cfg Config, h Handler) *Client {
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 10 * time.Second}
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if h == nil {
		h = func(Event) {}
	}
	return &Client{
		cfg:     cfg,
		handler: h,
		logger:  cfg.Logger.With().Str(nvlog.FieldComponent, "events").Logger(),
	}
}

// Run connects and reads until ctx ends or reconnecting is exhausted.
// Every successful connection resets the backoff.
func (c *Client) Run(ctx context.Context) error {
	backoff := resilience.NewBackoffState(c.cfg.Policy)
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff.Success()
		}
		if err != nil {
			c.seen(err)
		}
		metrics.IncEventSocketReconnect(connected)

		delay, ok := backoff.Failure()
		if !ok {
			c.logger.Error().Err(err).
				Str(nvlog.FieldEvent, "events.exhausted").
				Int(nvlog.FieldAttempt, backoff.Failures()).
				Msg("event socket unavailable, giving up")
			return fmt.Errorf("%w: %w", ErrReconnectExhausted, err)
		}
		metrics.ObserveBackoffDelay("events", delay)
		c.logger.Warn().Err(err).
			Str(nvlog.FieldEvent, "events.reconnect").
			Int(nvlog.FieldAttempt, backoff.Failures()).
			Dur(nvlog.FieldDelay, delay).
			Msg("event socket lost, reconnecting")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// session runs one connection. connected reports whether the dial succeeded.
func (c *Client) session(ctx context.Context) (connected bool, err error) {
	u, err := c.cfg.Endpoints.EventSocket()
	if err != nil {
		return false, err
	}
	conn, resp, err := c.cfg.Dialer.DialContext(ctx, u, c.cfg.Endpoints.Header())
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial event socket: %w (HTTP %d)", err, resp.StatusCode)
		}
		return false, fmt.Errorf("dial event socket: %w", err)
	}

	c.logger.Info().
		Str(nvlog.FieldEvent, "events.connected").
		Str(nvlog.FieldURL, nvlog.MaskURL(u)).
		Msg("event socket connected")
	c.seen(nil)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		conn.Close()
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			return true, err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read event socket: %w", err)
		}
		c.seen(nil)
		ev, ok, err := Decode(data)
		if err != nil {
			c.logger.Debug().Err(err).Msg("skipping undecodable event message")
			continue
		}
		if ok {
			c.handler(ev)
		}
	}
}

type envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

type eventPayload struct {
	Type  Type `json:"type"`
	After struct {
		ID        string   `json:"id"`
		Camera    string   `json:"camera"`
		Label     string   `json:"label"`
		StartTime float64  `json:"start_time"`
		EndTime   *float64 `json:"end_time"`
	} `json:"after"`
}

// Decode parses one socket message. ok is false for messages on other topics.
// The payload may be an embedded JSON document or a JSON string holding one.
func Decode(data []byte) (Event, bool, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, false, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Topic != "events" {
		return Event{}, false, nil
	}
	raw := []byte(env.Payload)
	var embedded string
	if err := json.Unmarshal(raw, &embedded); err == nil {
		raw = []byte(embedded)
	}
	var p eventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Event{}, false, fmt.Errorf("decode event payload: %w", err)
	}
	if p.After.Camera == "" {
		return Event{}, false, errors.New("event without camera")
	}
	ev := Event{
		ID:     p.After.ID,
		Type:   p.Type,
		Camera: p.After.Camera,
		Label:  p.After.Label,
		Start:  unixFloat(p.After.StartTime),
	}
	if p.After.EndTime != nil {
		ev.End = unixFloat(*p.After.EndTime)
	}
	return ev, true, nil
}

func unixFloat(f float64) time.Time {
	if f <= 0 {
		return time.Time{}
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC()
}
