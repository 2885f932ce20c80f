// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"errors"
	"time"

	"github.com/ManuGH/nvrview/internal/nvr"
	"github.com/ManuGH/nvrview/internal/transport"
)

// DefaultGapThreshold is the distance to real time at which catch-up cuts back to live.
const DefaultGapThreshold = 10 * time.Second

// DefaultFetchTimeout bounds one recorded segment lookup.
const DefaultFetchTimeout = 15 * time.Second

var (
	// ErrRecordedFetchFailed marks a recorded-mode failure that degraded to live.
	ErrRecordedFetchFailed = errors.New("playback: recorded segment unavailable")
	// ErrInvalidCursor is a segment range that is empty or reaches into the future.
	ErrInvalidCursor = errors.New("playback: invalid segment cursor")
	// ErrClosed is returned by a closed controller.
	ErrClosed = errors.New("playback: controller closed")
)

// Mode is the active playback mode.
type Mode string

const (
	ModeLive     Mode = "live"
	ModeRecorded Mode = "recorded"
)

// Health is the user-facing condition of the session.
type Health string

const (
	HealthIdle             Health = "idle"
	HealthConnecting       Health = "connecting"
	HealthRetrying         Health = "retrying"
	HealthLive             Health = "live"
	HealthBuffering        Health = "buffering"
	HealthExhausted        Health = "exhausted"
	HealthLoadingRecording Health = "loading_recording"
	HealthPlayingRecording Health = "playing_recording"
)

// Target is the argument of a time selection: live, or a point in the past.
type Target struct {
	live bool
	at   time.Time
}

// Live selects live playback.
var Live = Target{live: true}

// At selects recorded playback starting at t.
func At(t time.Time) Target { return Target{at: t} }

// IsLive reports whether the target is live.
func (t Target) IsLive() bool { return t.live }

// Time returns the selected instant. It is zero for Live.
func (t Target) Time() time.Time { return t.at }

func (t Target) String() string {
	if t.live {
		return "live"
	}
	return t.at.UTC().Format(time.RFC3339)
}

// Cursor is the time range of the recorded segment being played.
// Start < End <= FetchedAt holds for every cursor the controller creates.
type Cursor struct {
	Camera    string
	Start     time.Time
	End       time.Time
	FetchedAt time.Time
}

// Valid reports whether the cursor satisfies its range invariant.
func (c Cursor) Valid() bool {
	return c.Start.Before(c.End) && !c.End.After(c.FetchedAt)
}

// Handle is what the consumer displays. Generation identifies the time
// selection it belongs to.
type Handle struct {
	Mode       Mode
	Generation uint64
	// Live is set in ModeLive.
	Live transport.MediaHandle
	// Segment is set in ModeRecorded.
	Segment nvr.MediaLocator
}

// Status is published on every observable change.
type Status struct {
	Mode       Mode
	Kind       transport.Kind
	Health     Health
	Generation uint64
	Cursor     *Cursor
}

func (s Status) equal(o Status) bool {
	if s.Mode != o.Mode || s.Kind != o.Kind || s.Health != o.Health || s.Generation != o.Generation {
		return false
	}
	if (s.Cursor == nil) != (o.Cursor == nil) {
		return false
	}
	return s.Cursor == nil || *s.Cursor == *o.Cursor
}

// Consumer receives the session's outputs on the event queue.
type Consumer interface {
	OnMediaHandle(h Handle)
	OnStatus(s Status)
	OnTerminalError(err error)
}
