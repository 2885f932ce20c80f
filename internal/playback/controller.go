// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playback implements the mode controller of one camera session. It
// switches between live video, supplied by the transport selector, and
// recorded segments that are chained forward until they catch up with live.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/nvrview/internal/eventloop"
	nvlog "github.com/ManuGH/nvrview/internal/log"
	"github.com/ManuGH/nvrview/internal/metrics"
	"github.com/ManuGH/nvrview/internal/nvr"
	"github.com/ManuGH/nvrview/internal/selector"
	"github.com/ManuGH/nvrview/internal/telemetry"
	"github.com/ManuGH/nvrview/internal/transport"
)

// Config describes one camera session.
type Config struct {
	Selector     selector.Config
	Segments     nvr.SegmentFetcher
	GapThreshold time.Duration
	FetchTimeout time.Duration
	Logger       zerolog.Logger
	Tracer       trace.Tracer
}

// Controller owns the session's mode. All methods except NextGeneration
// and Generation must run on the session's event queue.
type Controller struct {
	cfg      Config
	camera   string
	queue    eventloop.Queue
	consumer Consumer
	sel      *selector.Selector
	logger   zerolog.Logger
	tracer   trace.Tracer

	generation atomic.Uint64
	applied    uint64

	mode        Mode
	cursor      *Cursor
	segment     *nvr.MediaLocator
	fetchCancel context.CancelFunc
	fetchID     uint64
	fetches     sync.WaitGroup
	suspended   bool
	// exhausted holds a terminal live error raised while playing recordings.
	exhausted error
	last      Status
	published bool
	closed    bool
}

// New builds a controller in live mode. Call Open to start connecting.
func New(q eventloop.Queue, cfg Config, consumer Consumer) *Controller {
	if cfg.GapThreshold < 0 {
		cfg.GapThreshold = 0
	}
	if cfg.GapThreshold == 0 {
		cfg.GapThreshold = DefaultGapThreshold
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.Tracer("nvrview/playback")
	}
	if cfg.Selector.Tracer == nil {
		cfg.Selector.Tracer = cfg.Tracer
	}
	c := &Controller{
		cfg:      cfg,
		camera:   cfg.Selector.Camera,
		queue:    q,
		consumer: consumer,
		logger:   cfg.Logger.With().Str(nvlog.FieldCamera, cfg.Selector.Camera).Logger(),
		tracer:   cfg.Tracer,
		mode:     ModeLive,
	}
	c.sel = selector.New(q, cfg.Selector, c)
	return c
}

// Open starts live playback.
func (c *Controller) Open() error {
	if c.closed {
		return ErrClosed
	}
	if err := c.sel.Start(); err != nil {
		return err
	}
	c.publish()
	return nil
}

// NextGeneration invalidates every earlier time selection and returns the
// generation of the new one. It is safe to call from any goroutine; the
// caller then posts Apply with the returned value.
func (c *Controller) NextGeneration() uint64 {
	return c.generation.Add(1)
}

// Generation returns the latest issued generation.
func (c *Controller) Generation() uint64 {
	return c.generation.Load()
}

// SelectTime issues a new generation and applies target immediately.
func (c *Controller) SelectTime(target Target) {
	c.Apply(c.NextGeneration(), target)
}

// Apply switches to target unless a newer selection was issued meanwhile.
func (c *Controller) Apply(gen uint64, target Target) {
	if c.closed || c.stale(gen, "select_time") {
		return
	}
	c.applied = gen
	c.cancelFetch()

	now := c.queue.Now()
	if target.IsLive() || !target.Time().Before(now) {
		c.goLive("select_time")
		return
	}
	c.goRecorded(target.Time(), now)
}

// SegmentEnded is reported by the consumer when playback of the current
// segment reached its end. It drives the catch-up loop.
func (c *Controller) SegmentEnded(gen uint64) {
	if c.closed || c.stale(gen, "segment_ended") {
		return
	}
	if c.mode != ModeRecorded || c.cursor == nil || c.segment == nil {
		return
	}
	now := c.queue.Now()
	gap := now.Sub(c.cursor.End)
	logEvt := c.logger.Debug().
		Str(nvlog.FieldEvent, "playback.catchup").
		Dur(nvlog.FieldGap, gap).
		Uint64(nvlog.FieldGeneration, gen)

	if gap <= c.cfg.GapThreshold {
		metrics.IncCatchupStep(metrics.CatchupResultLive)
		logEvt.Msg("caught up with live")
		c.goLive("caught_up")
		return
	}
	next := &Cursor{Camera: c.camera, Start: c.cursor.End, End: now, FetchedAt: now}
	metrics.IncCatchupStep(metrics.CatchupResultAdvance)
	logEvt.Time(nvlog.FieldSegmentStart, next.Start).Time(nvlog.FieldSegmentEnd, next.End).Msg("fetching next segment")
	c.fetch(gen, next)
}

// PlaybackError reports a player failure. Recorded playback degrades to live;
// live errors go to the transport that produced the media.
func (c *Controller) PlaybackError(gen uint64, err error) {
	if c.closed || c.stale(gen, "playback_error") {
		return
	}
	if c.mode == ModeRecorded {
		c.recordedFailed(err)
		return
	}
	c.sel.ReportPlayerError(err)
}

// Retry restarts the transport plan from the top.
func (c *Controller) Retry() error {
	if c.closed {
		return ErrClosed
	}
	c.exhausted = nil
	c.suspended = false
	if err := c.sel.Restart(); err != nil {
		return err
	}
	if c.mode == ModeRecorded && c.segment == nil && c.cursor != nil {
		c.fetch(c.applied, c.cursor)
	}
	c.publish()
	return nil
}

// Suspend releases the transport and any in-flight fetch while the app is in
// the background. Mode and cursor are kept.
func (c *Controller) Suspend() {
	if c.closed || c.suspended {
		return
	}
	c.suspended = true
	c.cancelFetch()
	if c.mode == ModeRecorded {
		c.segment = nil
	}
	c.sel.Halt()
	c.publish()
}

// Resume restarts after Suspend the same way an explicit retry does.
func (c *Controller) Resume() error {
	return c.Retry()
}

// Close tears the session down. Pending retries and fetches are cancelled
// and no callback reaches the consumer afterwards.
func (c *Controller) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.generation.Add(1)
	c.cancelFetch()
	c.sel.Close()
	c.fetches.Wait()
}

// Mode returns the active mode.
func (c *Controller) Mode() Mode { return c.mode }

// Cursor returns a copy of the recorded cursor.
func (c *Controller) Cursor() (Cursor, bool) {
	if c.cursor == nil {
		return Cursor{}, false
	}
	return *c.cursor, true
}

// Status returns the current status.
func (c *Controller) Status() Status {
	s := Status{Mode: c.mode, Generation: c.applied}
	if c.mode == ModeRecorded {
		cur := *c.cursor
		s.Cursor = &cur
		s.Health = HealthLoadingRecording
		if c.segment != nil {
			s.Health = HealthPlayingRecording
		}
		return s
	}
	st := c.sel.Status()
	s.Kind = st.Kind
	s.Health = liveHealth(st)
	return s
}

// Selector exposes the live transport selector.
func (c *Controller) Selector() *selector.Selector { return c.sel }

func liveHealth(st selector.Status) Health {
	switch st.Phase {
	case selector.PhaseConnected:
		if st.DriverState != "" && st.DriverState != transport.StateConnected {
			return HealthBuffering
		}
		return HealthLive
	case selector.PhaseTrying:
		if st.Attempt.Number > 1 {
			return HealthRetrying
		}
		return HealthConnecting
	case selector.PhaseFailed:
		return HealthRetrying
	case selector.PhaseExhausted:
		return HealthExhausted
	default:
		return HealthIdle
	}
}

func (c *Controller) stale(gen uint64, source string) bool {
	if gen != c.generation.Load() {
		metrics.IncStaleResultDiscarded(source)
		return true
	}
	return false
}

func (c *Controller) switchMode(m Mode, reason string) {
	if c.mode == m {
		return
	}
	c.logger.Info().
		Str(nvlog.FieldEvent, "playback.mode").
		Str(nvlog.FieldOldState, string(c.mode)).
		Str(nvlog.FieldNewState, string(m)).
		Str("reason", reason).
		Msg("playback mode changed")
	c.mode = m
	metrics.IncPlaybackModeSwitch(string(m))
}

func (c *Controller) goLive(reason string) {
	c.switchMode(ModeLive, reason)
	c.cursor = nil
	c.segment = nil

	if c.exhausted != nil {
		err := c.exhausted
		c.exhausted = nil
		c.publish()
		c.consumer.OnTerminalError(err)
		return
	}
	if h, ok := c.sel.Handle(); ok {
		// The warm connection is handed over as is.
		c.consumer.OnMediaHandle(Handle{Mode: ModeLive, Generation: c.applied, Live: h})
	} else if c.sel.Phase() == selector.PhaseIdle && !c.suspended {
		if err := c.sel.Start(); err != nil {
			c.logger.Warn().Err(err).Msg("start selector")
		}
	}
	c.publish()
}

func (c *Controller) goRecorded(at, now time.Time) {
	c.switchMode(ModeRecorded, "select_time")
	c.segment = nil
	c.fetch(c.applied, &Cursor{Camera: c.camera, Start: at, End: now, FetchedAt: now})
}

// fetch resolves cur in the background. The result is applied only if the
// generation and the fetch are still current when it arrives.
func (c *Controller) fetch(gen uint64, cur *Cursor) {
	c.cancelFetch()
	c.cursor = cur
	c.segment = nil
	if !cur.Valid() {
		c.recordedFailed(fmt.Errorf("%w: %s..%s", ErrInvalidCursor, cur.Start, cur.End))
		return
	}
	c.publish()
	if c.suspended {
		return
	}

	c.fetchID++
	id := c.fetchID
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
	ctx, span := c.tracer.Start(ctx, "recording.fetch",
		trace.WithAttributes(telemetry.SegmentAttributes(c.camera, gen, cur.Start.Unix(), cur.End.Unix())...))
	c.fetchCancel = cancel

	fetcher := c.cfg.Segments
	c.fetches.Add(1)
	go func() {
		defer c.fetches.Done()
		defer cancel()
		var (
			loc nvr.MediaLocator
			err error
		)
		if fetcher == nil {
			err = errors.New("no segment fetcher configured")
		} else {
			loc, err = fetcher.FetchSegment(ctx, c.camera, cur.Start, cur.End)
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		c.queue.Post(func() { c.onFetched(gen, id, cur, loc, err) })
	}()
}

func (c *Controller) onFetched(gen, id uint64, cur *Cursor, loc nvr.MediaLocator, err error) {
	if c.closed || c.stale(gen, "segment_fetch") {
		return
	}
	if c.mode != ModeRecorded || id != c.fetchID {
		metrics.IncStaleResultDiscarded("segment_fetch")
		return
	}
	c.fetchCancel = nil
	if err != nil {
		c.recordedFailed(err)
		return
	}
	c.segment = &loc
	c.logger.Debug().
		Str(nvlog.FieldEvent, "playback.segment_ready").
		Time(nvlog.FieldSegmentStart, cur.Start).
		Time(nvlog.FieldSegmentEnd, cur.End).
		Str(nvlog.FieldURL, nvlog.MaskURL(loc.URL)).
		Msg("recorded segment ready")
	c.consumer.OnMediaHandle(Handle{Mode: ModeRecorded, Generation: gen, Segment: loc})
	c.publish()
}

func (c *Controller) recordedFailed(err error) {
	metrics.IncCatchupStep(metrics.CatchupResultFailed)
	c.logger.Warn().Err(fmt.Errorf("%w: %w", ErrRecordedFetchFailed, err)).
		Str(nvlog.FieldEvent, "playback.recorded_failed").
		Msg("recorded playback failed, returning to live")
	c.cancelFetch()
	c.goLive("recorded_failed")
}

func (c *Controller) cancelFetch() {
	c.fetchID++
	if c.fetchCancel != nil {
		c.fetchCancel()
		c.fetchCancel = nil
	}
}

func (c *Controller) publish() {
	if c.closed {
		return
	}
	s := c.Status()
	if c.published && s.equal(c.last) {
		return
	}
	c.last = s
	c.published = true
	c.consumer.OnStatus(s)
}

// OnSelectorStatus implements selector.Observer.
func (c *Controller) OnSelectorStatus(selector.Status) {
	if c.mode == ModeLive {
		c.publish()
	}
}

// OnMediaReady implements selector.Observer. Live media reached while
// recordings play is kept warm and handed over on return to live.
func (c *Controller) OnMediaReady(h transport.MediaHandle) {
	if c.closed || c.mode != ModeLive {
		return
	}
	c.consumer.OnMediaHandle(Handle{Mode: ModeLive, Generation: c.applied, Live: h})
}

// OnExhausted implements selector.Observer.
func (c *Controller) OnExhausted(err error) {
	if c.closed {
		return
	}
	if c.mode == ModeRecorded {
		c.exhausted = err
		return
	}
	c.publish()
	c.consumer.OnTerminalError(err)
}
