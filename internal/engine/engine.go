// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package engine is the public facade of the stream core. It owns the event
// loop every session runs on and exposes session lifecycle, time selection
// and output subscriptions to the UI layer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/nvrview/internal/eventloop"
	nvlog "github.com/ManuGH/nvrview/internal/log"
	"github.com/ManuGH/nvrview/internal/metrics"
	"github.com/ManuGH/nvrview/internal/nvr"
	"github.com/ManuGH/nvrview/internal/platform/httpx"
	"github.com/ManuGH/nvrview/internal/playback"
	"github.com/ManuGH/nvrview/internal/resilience"
	"github.com/ManuGH/nvrview/internal/selector"
	"github.com/ManuGH/nvrview/internal/transport"
)

var (
	// ErrSessionClosed is returned for operations on a closed session.
	ErrSessionClosed = errors.New("engine: session closed")
	// ErrUnknownSession is returned for handles this engine did not issue.
	ErrUnknownSession = errors.New("engine: unknown session")
	// ErrClosed is returned once the engine was shut down.
	ErrClosed = errors.New("engine: closed")
	// ErrNoCamera is returned by OpenSession for an empty camera name.
	ErrNoCamera = errors.New("engine: camera name required")
)

// DefaultHintTimeout bounds the camera metadata lookup in OpenSession.
const DefaultHintTimeout = 5 * time.Second

// Tunables are the arbitration settings. Changes apply to sessions opened afterwards.
type Tunables struct {
	Order                  []transport.Kind
	RetryBudget            int
	PeerIncompatibleCodecs []string
	Policy                 resilience.Policy
	GapThreshold           time.Duration
	FetchTimeout           time.Duration
	// LiveOnActivity switches recorded sessions back to live when the
	// camera reports activity.
	LiveOnActivity bool
}

// Config wires the engine to its collaborators.
type Config struct {
	Tunables

	Auth nvr.AuthProvider
	// Cameras and Segments default to an nvr.Client built from Auth.
	Cameras  nvr.CameraProvider
	Segments nvr.SegmentFetcher
	// Factories defaults to BuildFactories over Auth's endpoints.
	Factories   map[transport.Kind]transport.Factory
	Drivers     DriverConfig
	HintTimeout time.Duration
	Logger      zerolog.Logger
	Tracer      trace.Tracer
	Now         func() time.Time
}

// SessionHandle identifies one open session.
type SessionHandle struct {
	ID     string
	Camera string
}

func (h SessionHandle) String() string { return h.Camera + "/" + h.ID }

// SessionInfo is a point-in-time view of one session.
type SessionInfo struct {
	Handle   SessionHandle
	Status   playback.Status
	Attempts []selector.Attempt
	Opened   time.Time
}

type session struct {
	handle SessionHandle
	ctl    *playback.Controller
	opened time.Time
}

// Engine multiplexes camera sessions onto one event loop.
type Engine struct {
	cfg    Config
	loop   *eventloop.Loop
	logger zerolog.Logger
	subs   subscribers

	mu       sync.RWMutex
	tunables Tunables
	sessions map[string]*session
	closed   bool
}

// New starts the event loop and returns a ready engine. Close releases it.
func New(cfg Config) (*Engine, error) {
	if cfg.HintTimeout <= 0 {
		cfg.HintTimeout = DefaultHintTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Cameras == nil || cfg.Segments == nil {
		if cfg.Auth == nil {
			return nil, errors.New("engine: auth provider required")
		}
		client := nvr.NewClient(cfg.Auth, nvr.WithHTTPClient(httpx.NewClient(cfg.Drivers.HTTPTimeout)))
		if cfg.Cameras == nil {
			cfg.Cameras = client
		}
		if cfg.Segments == nil {
			cfg.Segments = client
		}
	}
	if cfg.Factories == nil {
		if cfg.Auth == nil {
			return nil, errors.New("engine: auth provider or factories required")
		}
		cfg.Factories = BuildFactories(nvr.Endpoints{Auth: cfg.Auth}, cfg.Drivers, cfg.Logger)
	}

	e := &Engine{
		cfg:      cfg,
		loop:     eventloop.New(),
		logger:   cfg.Logger.With().Str(nvlog.FieldComponent, "engine").Logger(),
		tunables: cfg.Tunables,
		sessions: make(map[string]*session),
	}
	go func() {
		if err := e.loop.Run(context.Background()); err != nil && !errors.Is(err, eventloop.ErrClosed) {
			e.logger.Error().Err(err).Msg("event loop stopped")
		}
	}()
	return e, nil
}

// Subscribe registers sub for the outputs of every session. Callbacks run on
// the engine's loop and must not call back into the engine synchronously.
func (e *Engine) Subscribe(sub Subscriber) (unsubscribe func()) {
	return e.subs.add(sub)
}

// UpdateTunables replaces the arbitration settings for future sessions.
func (e *Engine) UpdateTunables(t Tunables) {
	e.mu.Lock()
	e.tunables = t
	e.mu.Unlock()
	e.logger.Info().Str(nvlog.FieldEvent, "engine.tunables").Msg("tunables updated")
}

// OpenSession creates a session for camera and starts live playback.
func (e *Engine) OpenSession(ctx context.Context, camera string) (SessionHandle, error) {
	camera = strings.TrimSpace(camera)
	if camera == "" {
		return SessionHandle{}, ErrNoCamera
	}
	if e.isClosed() {
		return SessionHandle{}, ErrClosed
	}
	if e.cfg.Auth != nil {
		if err := nvr.CheckToken(e.cfg.Auth, e.cfg.Now()); err != nil {
			return SessionHandle{}, fmt.Errorf("open session %q: %w", camera, err)
		}
	}
	hint, err := e.hint(ctx, camera)
	if err != nil {
		return SessionHandle{}, fmt.Errorf("open session %q: %w", camera, err)
	}

	h := SessionHandle{ID: uuid.NewString(), Camera: camera}
	e.mu.RLock()
	tun := e.tunables
	e.mu.RUnlock()

	logger := e.cfg.Logger.With().
		Str(nvlog.FieldSessionID, h.ID).
		Str(nvlog.FieldCamera, camera).
		Logger()
	s := &session{handle: h, opened: e.cfg.Now()}
	s.ctl = playback.New(e.loop, playback.Config{
		Selector: selector.Config{
			Camera:                 camera,
			Hint:                   hint,
			Factories:              e.cfg.Factories,
			Order:                  tun.Order,
			RetryBudget:            tun.RetryBudget,
			PeerIncompatibleCodecs: tun.PeerIncompatibleCodecs,
			Policy:                 tun.Policy,
			Logger:                 logger,
			Tracer:                 e.cfg.Tracer,
		},
		Segments:     e.cfg.Segments,
		GapThreshold: tun.GapThreshold,
		FetchTimeout: tun.FetchTimeout,
		Logger:       logger,
		Tracer:       e.cfg.Tracer,
	}, &sessionConsumer{handle: h, subs: &e.subs})

	var openErr error
	err = e.loop.Do(ctx, func() {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			openErr = ErrClosed
			return
		}
		e.sessions[h.ID] = s
		metrics.ActiveSessions.Set(float64(len(e.sessions)))
		e.mu.Unlock()
		if openErr = s.ctl.Open(); openErr != nil {
			s.ctl.Close()
			e.forget(h.ID)
		}
	})
	if err == nil {
		err = openErr
	}
	if err != nil {
		return SessionHandle{}, fmt.Errorf("open session %q: %w", camera, err)
	}

	logger.Info().
		Str(nvlog.FieldEvent, "engine.session_open").
		Str(nvlog.FieldCodec, hint.Codec).
		Msg("session opened")
	return h, nil
}

func (e *Engine) hint(ctx context.Context, camera string) (transport.Hint, error) {
	if e.cfg.Cameras == nil {
		return transport.Hint{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.HintTimeout)
	defer cancel()
	cam, err := e.cfg.Cameras.Camera(ctx, camera)
	if err != nil {
		if nvr.IsNotFound(err) || errors.Is(err, nvr.ErrUnauthorized) {
			return transport.Hint{}, err
		}
		// The hint is optional; without it the full order is tried.
		e.logger.Warn().Err(err).Str(nvlog.FieldCamera, camera).Msg("camera metadata unavailable")
		return transport.Hint{}, nil
	}
	return transport.Hint{Codec: cam.Codec}, nil
}

// SelectTime switches the session to target. The previous selection is
// invalidated before SelectTime returns; the switch itself runs on the loop.
func (e *Engine) SelectTime(h SessionHandle, target playback.Target) error {
	s, err := e.lookup(h)
	if err != nil {
		return err
	}
	gen := s.ctl.NextGeneration()
	if !e.loop.Post(func() { s.ctl.Apply(gen, target) }) {
		return ErrClosed
	}
	return nil
}

// SegmentEnded reports that the player reached the end of the recorded
// segment delivered with generation gen.
func (e *Engine) SegmentEnded(h SessionHandle, gen uint64) error {
	return e.post(h, func(s *session) { s.ctl.SegmentEnded(gen) })
}

// PlaybackError reports a player failure for the media of generation gen.
func (e *Engine) PlaybackError(h SessionHandle, gen uint64, cause error) error {
	return e.post(h, func(s *session) { s.ctl.PlaybackError(gen, cause) })
}

// Retry restarts the session's transport plan with fresh backoff.
func (e *Engine) Retry(ctx context.Context, h SessionHandle) error {
	return e.do(ctx, h, func(s *session) error { return s.ctl.Retry() })
}

// Suspend releases every session's transport while the app is backgrounded.
func (e *Engine) Suspend(ctx context.Context) error {
	return e.each(ctx, func(s *session) error {
		s.ctl.Suspend()
		return nil
	})
}

// Resume restarts every session as an explicit retry would.
func (e *Engine) Resume(ctx context.Context) error {
	return e.each(ctx, func(s *session) error { return s.ctl.Resume() })
}

// OnCameraActivity returns recorded sessions of camera to live when
// LiveOnActivity is enabled.
func (e *Engine) OnCameraActivity(camera string) {
	e.mu.RLock()
	enabled := e.tunables.LiveOnActivity
	var targets []*session
	for _, s := range e.sessions {
		if s.handle.Camera == camera {
			targets = append(targets, s)
		}
	}
	e.mu.RUnlock()
	if !enabled {
		return
	}
	for _, s := range targets {
		s := s
		e.loop.Post(func() {
			if s.ctl.Mode() != playback.ModeRecorded {
				return
			}
			e.logger.Info().
				Str(nvlog.FieldEvent, "engine.activity_live").
				Str(nvlog.FieldCamera, camera).
				Str(nvlog.FieldSessionID, s.handle.ID).
				Msg("camera activity, returning to live")
			s.ctl.SelectTime(playback.Live)
		})
	}
}

// CloseSession releases every resource of the session before returning.
func (e *Engine) CloseSession(ctx context.Context, h SessionHandle) error {
	s, err := e.lookup(h)
	if err != nil {
		return err
	}
	err = e.loop.Do(ctx, func() {
		s.ctl.Close()
		e.forget(h.ID)
	})
	if err != nil {
		return err
	}
	e.logger.Info().
		Str(nvlog.FieldEvent, "engine.session_close").
		Str(nvlog.FieldSessionID, h.ID).
		Str(nvlog.FieldCamera, h.Camera).
		Msg("session closed")
	return nil
}

// Status returns the session's current status.
func (e *Engine) Status(ctx context.Context, h SessionHandle) (playback.Status, error) {
	var st playback.Status
	err := e.do(ctx, h, func(s *session) error {
		st = s.ctl.Status()
		return nil
	})
	return st, err
}

// Sessions returns a snapshot of every open session ordered by camera.
func (e *Engine) Sessions(ctx context.Context) ([]SessionInfo, error) {
	var out []SessionInfo
	err := e.each(ctx, func(s *session) error {
		out = append(out, SessionInfo{
			Handle:   s.handle,
			Status:   s.ctl.Status(),
			Attempts: s.ctl.Selector().History(),
			Opened:   s.opened,
		})
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Handle.Camera != out[j].Handle.Camera {
			return out[i].Handle.Camera < out[j].Handle.Camera
		}
		return out[i].Opened.Before(out[j].Opened)
	})
	return out, err
}

// Close ends every session and stops the loop.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	err := e.loop.Do(ctx, func() {
		e.mu.Lock()
		sessions := e.sessions
		e.sessions = make(map[string]*session)
		e.mu.Unlock()
		for _, s := range sessions {
			s.ctl.Close()
		}
		metrics.ActiveSessions.Set(0)
	})
	e.loop.Close()
	select {
	case <-e.loop.Done():
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

func (e *Engine) lookup(h SessionHandle) (*session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	s, ok := e.sessions[h.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, h)
	}
	return s, nil
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	delete(e.sessions, id)
	metrics.ActiveSessions.Set(float64(len(e.sessions)))
	e.mu.Unlock()
}

func (e *Engine) post(h SessionHandle, fn func(*session)) error {
	s, err := e.lookup(h)
	if err != nil {
		return err
	}
	if !e.loop.Post(func() { e.ifOpen(s, fn) }) {
		return ErrClosed
	}
	return nil
}

func (e *Engine) do(ctx context.Context, h SessionHandle, fn func(*session) error) error {
	s, err := e.lookup(h)
	if err != nil {
		return err
	}
	var fnErr error
	if err := e.loop.Do(ctx, func() {
		fnErr = ErrSessionClosed
		e.ifOpen(s, func(s *session) { fnErr = fn(s) })
	}); err != nil {
		return err
	}
	return fnErr
}

func (e *Engine) each(ctx context.Context, fn func(*session) error) error {
	if e.isClosed() {
		return ErrClosed
	}
	var errs []error
	err := e.loop.Do(ctx, func() {
		e.mu.RLock()
		sessions := make([]*session, 0, len(e.sessions))
		for _, s := range e.sessions {
			sessions = append(sessions, s)
		}
		e.mu.RUnlock()
		for _, s := range sessions {
			if err := fn(s); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.handle, err))
			}
		}
	})
	if err != nil {
		return err
	}
	return errors.Join(errs...)
}

// ifOpen runs fn only if s is still registered. It must run on the loop.
func (e *Engine) ifOpen(s *session, fn func(*session)) {
	e.mu.RLock()
	cur, ok := e.sessions[s.handle.ID]
	e.mu.RUnlock()
	if ok && cur == s {
		fn(s)
	}
}
