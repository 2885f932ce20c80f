// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package selector implements the transport fallback engine of one stream
// session: it owns at most one live driver, retries it under backoff, and
// advances through the transport order until one connects or none is left.
package selector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/nvrview/internal/eventloop"
	nvlog "github.com/ManuGH/nvrview/internal/log"
	"github.com/ManuGH/nvrview/internal/metrics"
	"github.com/ManuGH/nvrview/internal/resilience"
	"github.com/ManuGH/nvrview/internal/telemetry"
	"github.com/ManuGH/nvrview/internal/transport"
)

// DefaultRetryBudget is the number of failures a kind may accumulate before
// the selector moves to the next kind.
const DefaultRetryBudget = 3

var (
	// ErrTransportsExhausted is reported once every kind has failed.
	ErrTransportsExhausted = errors.New("selector: all transports exhausted")
	// ErrClosed is returned when a closed selector is asked to start.
	ErrClosed = errors.New("selector: closed")
	// ErrNoTransports is reported when the plan is empty.
	ErrNoTransports = errors.New("selector: no transport available for camera")
)

// Phase is the selector's state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseTrying    Phase = "trying"
	PhaseConnected Phase = "connected"
	PhaseFailed    Phase = "failed"
	PhaseExhausted Phase = "exhausted"
)

// Attempt is one connection try by one driver.
type Attempt struct {
	Kind        transport.Kind
	Number      int
	Started     time.Time
	LastFailure transport.FailureCategory
}

// Status is a snapshot of the selector for observers.
type Status struct {
	Phase Phase
	Kind  transport.Kind
	// DriverState is the last state the live driver reported.
	DriverState transport.State
	Attempt     Attempt
	// RetryIn is set while a retry is scheduled.
	RetryIn time.Duration
}

// Observer receives selector events on the event queue.
type Observer interface {
	OnSelectorStatus(s Status)
	OnMediaReady(h transport.MediaHandle)
	OnExhausted(err error)
}

// Config describes one session's transport arbitration.
type Config struct {
	Camera    string
	Hint      transport.Hint
	Factories map[transport.Kind]transport.Factory
	Order     []transport.Kind
	// RetryBudget is the number of failures per kind before advancing.
	RetryBudget            int
	PeerIncompatibleCodecs []string
	Policy                 resilience.Policy
	Logger                 zerolog.Logger
	Tracer                 trace.Tracer
}

// Selector is the fallback state machine. Every method must be called on the
// session's event queue; driver callbacks are re-posted onto it.
type Selector struct {
	cfg      Config
	queue    eventloop.Queue
	observer Observer
	sup      *resilience.Supervisor[transport.Kind]
	logger   zerolog.Logger
	tracer   trace.Tracer

	phase       Phase
	plan        []transport.Kind
	idx         int
	driver      transport.Driver
	driverState transport.State
	attemptID   uint64
	attempt     Attempt
	span        trace.Span
	retry       *eventloop.Timer
	retryIn     time.Duration
	handle      *transport.MediaHandle
	exhausted   bool
	closed      bool
	history     []Attempt
}

// New builds an idle selector.
func New(q eventloop.Queue, cfg Config, observer Observer) *Selector {
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = DefaultRetryBudget
	}
	if cfg.PeerIncompatibleCodecs == nil {
		cfg.PeerIncompatibleCodecs = DefaultPeerIncompatibleCodecs
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.Tracer("nvrview/selector")
	}
	return &Selector{
		cfg:      cfg,
		queue:    q,
		observer: observer,
		sup:      resilience.NewSupervisor[transport.Kind](q, cfg.Policy),
		logger:   cfg.Logger.With().Str(nvlog.FieldCamera, cfg.Camera).Logger(),
		tracer:   cfg.Tracer,
		phase:    PhaseIdle,
	}
}

// Start begins from the first kind if the selector is idle. It is a no-op
// while trying or connected, and after exhaustion only Restart resumes.
func (s *Selector) Start() error {
	if s.closed {
		return ErrClosed
	}
	if s.phase != PhaseIdle {
		return nil
	}
	s.begin()
	return nil
}

// Restart is the explicit retry: pending retries are cancelled, backoff
// returns to baseline and the plan restarts from the top.
func (s *Selector) Restart() error {
	if s.closed {
		return ErrClosed
	}
	s.halt()
	s.sup.Reset()
	s.begin()
	return nil
}

// Halt tears the live driver down and cancels retries without forgetting
// backoff. The selector becomes idle.
func (s *Selector) Halt() {
	if s.closed {
		return
	}
	s.halt()
	s.setPhase(PhaseIdle)
}

// Close releases every resource. The selector cannot be restarted.
func (s *Selector) Close() {
	if s.closed {
		return
	}
	s.halt()
	s.sup.Close()
	s.closed = true
	s.phase = PhaseIdle
}

// SetHint replaces the capability hint used by the next plan.
func (s *Selector) SetHint(h transport.Hint) {
	s.cfg.Hint = h
}

// Phase returns the current phase.
func (s *Selector) Phase() Phase { return s.phase }

// Handle returns the media handle of the connected driver.
func (s *Selector) Handle() (transport.MediaHandle, bool) {
	if s.phase != PhaseConnected || s.handle == nil {
		return transport.MediaHandle{}, false
	}
	return *s.handle, true
}

// Status returns the current status.
func (s *Selector) Status() Status {
	return Status{
		Phase:       s.phase,
		Kind:        s.attempt.Kind,
		DriverState: s.driverState,
		Attempt:     s.attempt,
		RetryIn:     s.retryIn,
	}
}

// History returns every finished attempt since the last (re)start.
func (s *Selector) History() []Attempt {
	return append([]Attempt(nil), s.history...)
}

// PendingRetries returns the number of scheduled retries.
func (s *Selector) PendingRetries() int { return s.sup.Pending() }

// Backoff exposes the backoff state of kind.
func (s *Selector) Backoff(kind transport.Kind) *resilience.BackoffState {
	return s.sup.State(kind)
}

// ReportPlayerError forwards a playback error to the live driver if it
// classifies player errors itself. Otherwise the error ends the attempt as Unknown.
func (s *Selector) ReportPlayerError(err error) {
	if s.driver == nil {
		return
	}
	if r, ok := s.driver.(transport.PlayerErrorReporter); ok {
		r.ReportPlayerError(err)
		return
	}
	s.onFailure(s.attemptID, transport.Unknown, err)
}

func (s *Selector) begin() {
	s.history = nil
	s.exhausted = false
	s.plan = Plan(s.cfg.Order, s.cfg.Hint, s.cfg.PeerIncompatibleCodecs, func(k transport.Kind) bool {
		return s.cfg.Factories[k] != nil
	})
	s.idx = 0
	if len(s.plan) == 0 {
		s.exhaust(ErrNoTransports)
		return
	}
	s.logger.Debug().
		Str(nvlog.FieldEvent, "selector.plan").
		Str(nvlog.FieldCodec, s.cfg.Hint.Codec).
		Interface("plan", s.plan).
		Msg("transport plan")
	s.try()
}

// try starts a fresh driver for the current kind.
func (s *Selector) try() {
	s.retry = nil
	s.retryIn = 0
	s.disconnect()

	kind := s.plan[s.idx]
	s.attemptID++
	id := s.attemptID
	s.attempt = Attempt{
		Kind:    kind,
		Number:  s.sup.State(kind).Failures() + 1,
		Started: s.queue.Now(),
	}
	s.driverState = transport.StateConnecting
	_, s.span = s.tracer.Start(context.Background(), "transport.attempt",
		trace.WithAttributes(telemetry.TransportAttemptAttributes(s.cfg.Camera, string(kind), s.attempt.Number)...))
	metrics.IncTransportAttempt(string(kind), "started")

	s.logger.Info().
		Str(nvlog.FieldEvent, "selector.try").
		Str(nvlog.FieldTransport, string(kind)).
		Int(nvlog.FieldAttempt, s.attempt.Number).
		Msg("trying transport")

	s.driver = s.cfg.Factories[kind]()
	s.setPhase(PhaseTrying)
	if err := s.driver.Connect(s.cfg.Camera, s.cfg.Hint, &listener{s: s, id: id}); err != nil {
		s.queue.Post(func() { s.onFailure(id, transport.Unknown, err) })
	}
}

func (s *Selector) current(id uint64, source string) bool {
	if s.closed || id != s.attemptID || s.driver == nil {
		metrics.IncStaleResultDiscarded(source)
		return false
	}
	return true
}

func (s *Selector) onReady(id uint64, h transport.MediaHandle) {
	if !s.current(id, "driver_ready") || s.phase != PhaseTrying {
		return
	}
	kind := s.attempt.Kind
	s.sup.RecordSuccess(kind)
	s.handle = &h
	s.driverState = transport.StateConnected
	s.history = append(s.history, s.attempt)

	latency := s.queue.Now().Sub(s.attempt.Started)
	metrics.IncTransportAttempt(string(kind), "connected")
	metrics.ObserveTransportConnectLatency(string(kind), latency)
	if s.span != nil {
		s.span.SetStatus(codes.Ok, "")
		s.span.End()
		s.span = nil
	}
	s.logger.Info().
		Str(nvlog.FieldEvent, "selector.connected").
		Str(nvlog.FieldTransport, string(kind)).
		Dur("latency", latency).
		Msg("transport connected")

	s.setPhase(PhaseConnected)
	if s.observer != nil {
		s.observer.OnMediaReady(h)
	}
}

func (s *Selector) onState(id uint64, st transport.State) {
	if !s.current(id, "driver_state") || st == s.driverState {
		return
	}
	s.driverState = st
	s.notify()
}

func (s *Selector) onFailure(id uint64, c transport.FailureCategory, err error) {
	if !s.current(id, "driver_failure") {
		return
	}
	kind := s.attempt.Kind
	s.attempt.LastFailure = c
	s.history = append(s.history, s.attempt)
	metrics.IncTransportAttempt(string(kind), "failed")
	metrics.IncTransportFailure(string(kind), string(c))
	if s.span != nil {
		s.span.SetAttributes(telemetry.ErrorAttributes(err, string(c))...)
		s.span.SetStatus(codes.Error, string(c))
		s.span.End()
		s.span = nil
	}

	s.disconnect()
	s.handle = nil
	s.driverState = transport.StateDisconnected
	s.setPhase(PhaseFailed)

	logEvt := s.logger.Warn().Err(err).
		Str(nvlog.FieldTransport, string(kind)).
		Str(nvlog.FieldCategory, string(c)).
		Int(nvlog.FieldAttempt, s.attempt.Number)

	if c == transport.CodecUnsupported {
		logEvt.Str(nvlog.FieldEvent, "selector.codec_unsupported").Msg("codec unsupported, skipping transport")
		s.advance()
		return
	}

	delay, ok := s.sup.RecordFailure(kind)
	if ok && s.sup.State(kind).Failures() < s.cfg.RetryBudget {
		s.retryIn = delay
		s.retry = s.sup.Schedule(delay, s.try)
		logEvt.Str(nvlog.FieldEvent, "selector.retry").Dur(nvlog.FieldDelay, delay).Msg("transport failed, retrying")
		s.notify()
		return
	}
	logEvt.Str(nvlog.FieldEvent, "selector.advance").Msg("transport retry budget spent")
	s.advance()
}

func (s *Selector) advance() {
	from := s.plan[s.idx]
	s.idx++
	if s.idx >= len(s.plan) {
		s.exhaust(ErrTransportsExhausted)
		return
	}
	metrics.IncTransportFallback(string(from), string(s.plan[s.idx]))
	s.try()
}

func (s *Selector) exhaust(cause error) {
	s.setPhase(PhaseExhausted)
	if s.exhausted {
		return
	}
	s.exhausted = true
	metrics.IncTransportsExhausted()
	s.logger.Error().
		Str(nvlog.FieldEvent, "selector.exhausted").
		Int("attempts", len(s.history)).
		Msg("all transports failed")
	if s.observer != nil {
		s.observer.OnExhausted(fmt.Errorf("camera %s: %w", s.cfg.Camera, cause))
	}
}

// disconnect releases the live driver before anything else may connect.
func (s *Selector) disconnect() {
	if s.driver == nil {
		return
	}
	d := s.driver
	s.driver = nil
	d.Disconnect()
	if s.span != nil {
		s.span.End()
		s.span = nil
	}
}

func (s *Selector) halt() {
	if s.retry != nil {
		s.sup.Cancel(s.retry)
		s.retry = nil
	}
	s.sup.CancelAll()
	s.retryIn = 0
	s.disconnect()
	s.handle = nil
	s.attemptID++
}

func (s *Selector) setPhase(p Phase) {
	if s.phase != p {
		s.logger.Debug().
			Str(nvlog.FieldEvent, "selector.phase").
			Str(nvlog.FieldOldState, string(s.phase)).
			Str(nvlog.FieldNewState, string(p)).
			Msg("selector phase changed")
	}
	s.phase = p
	s.notify()
}

func (s *Selector) notify() {
	if s.observer != nil && !s.closed {
		s.observer.OnSelectorStatus(s.Status())
	}
}

// listener tags driver callbacks with their attempt and moves them onto the queue.
type listener struct {
	s  *Selector
	id uint64
}

func (l *listener) OnMediaReady(h transport.MediaHandle) {
	l.s.queue.Post(func() { l.s.onReady(l.id, h) })
}

func (l *listener) OnStateChange(st transport.State) {
	l.s.queue.Post(func() { l.s.onState(l.id, st) })
}

func (l *listener) OnFailure(c transport.FailureCategory, err error) {
	l.s.queue.Post(func() { l.s.onFailure(l.id, c, err) })
}
