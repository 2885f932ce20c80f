// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transport defines the capability contract shared by every live video
// transport driver, and the failure taxonomy drivers report through.
package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies one live-video delivery mechanism.
type Kind string

const (
	KindPeer       Kind = "peer"     // two-way real-time negotiation over a signaling socket
	KindFragmented Kind = "fmp4"     // fragmented MP4 over a websocket, served through a local relay
	KindSegmented  Kind = "hls"      // pull-based segmented HTTP stream
	KindSnapshot   Kind = "snapshot" // polled single images
)

// DefaultOrder is the fallback order when no capability hint narrows it.
var DefaultOrder = []Kind{KindPeer, KindFragmented, KindSegmented, KindSnapshot}

func (k Kind) String() string { return string(k) }

// ParseKind maps a configuration string onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindPeer, "webrtc":
		return KindPeer, nil
	case KindFragmented, "mse":
		return KindFragmented, nil
	case KindSegmented:
		return KindSegmented, nil
	case KindSnapshot, "jpeg", "mjpeg":
		return KindSnapshot, nil
	}
	return "", fmt.Errorf("unknown transport kind %q", s)
}

// FailureCategory is the only failure information that crosses the driver boundary.
type FailureCategory string

const (
	CodecUnsupported FailureCategory = "codec_unsupported"
	SignalingFailed  FailureCategory = "signaling_failed"
	SocketTimeout    FailureCategory = "socket_timeout"
	DecodeError      FailureCategory = "decode_error"
	Unknown          FailureCategory = "unknown"
)

func (c FailureCategory) String() string { return string(c) }

// State is a driver connection state.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// Hint carries camera capability metadata used to order transports.
type Hint struct {
	// Codec is the camera's primary video codec as reported by the NVR ("h264", "h265", ...).
	Codec string
	// Supported optionally restricts the kinds worth trying. Empty means all.
	Supported []Kind
	// Height optionally requests a scaled stream where a transport supports it.
	Height int
}

// Allows reports whether the hint permits kind.
func (h Hint) Allows(kind Kind) bool {
	if len(h.Supported) == 0 {
		return true
	}
	for _, k := range h.Supported {
		if k == kind {
			return true
		}
	}
	return false
}

// MediaStream is a live real-time media object (the peer transport's tracks).
type MediaStream interface {
	ID() string
	Close() error
}

// MediaHandle is the displayable result of a successful connection.
type MediaHandle struct {
	Kind Kind
	// URL is a locally servable URL (fmp4 relay), a playlist URL (hls), or an image URL (snapshot).
	URL string
	// MIMEType is set when the transport negotiated one.
	MIMEType string
	// Stream is set for the peer transport.
	Stream MediaStream
	// RefreshInterval is the poll interval for snapshot handles.
	RefreshInterval time.Duration
}

// Listener receives driver events. Drivers may call it from any goroutine.
type Listener interface {
	// OnMediaReady fires exactly once per successful connection.
	OnMediaReady(h MediaHandle)
	// OnStateChange reports connecting/connected/disconnected transitions.
	OnStateChange(s State)
	// OnFailure reports the terminal failure of the driver. The driver is dead afterwards.
	OnFailure(c FailureCategory, err error)
}

// Driver is the capability contract every transport implements.
type Driver interface {
	Kind() Kind
	// Connect begins the transport handshake and returns without blocking on I/O.
	// It fails synchronously only for misuse, such as connecting a dead driver.
	Connect(camera string, hint Hint, l Listener) error
	// Disconnect releases every resource the driver owns. It is idempotent.
	Disconnect()
}

// PlayerErrorReporter is implemented by drivers whose media is decoded by the
// consumer's player, so player decode errors can be classified by the driver.
type PlayerErrorReporter interface {
	ReportPlayerError(err error)
}

// Factory builds a fresh driver instance for one connection attempt.
type Factory func() Driver

var (
	// ErrDriverDead is returned when Connect is called on a driver that already failed or disconnected.
	ErrDriverDead = errors.New("transport: driver is dead")
	// ErrConnectTimeout is the cause attached to self-terminating connection timeouts.
	ErrConnectTimeout = errors.New("transport: no ready or failure signal before timeout")
	// ErrAlreadyConnected is returned when Connect is called twice.
	ErrAlreadyConnected = errors.New("transport: connect called twice")
)

// Failure wraps a classified failure for logging.
type Failure struct {
	Kind     Kind
	Category FailureCategory
	Err      error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Kind, f.Category)
	}
	return fmt.Sprintf("%s: %s: %v", f.Kind, f.Category, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }
