// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package peer

import (
	"sync"

	"github.com/pion/webrtc/v3"
)

// Stream is the media handle of a peer connection: the remote tracks it
// received. Closing it is a no-op, the driver owns the connection.
type Stream struct {
	id string

	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
}

func newStream(id string) *Stream {
	return &Stream{id: id}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Close() error { return nil }

func (s *Stream) add(t *webrtc.TrackRemote) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

// Tracks returns the remote tracks received so far.
func (s *Stream) Tracks() []*webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*webrtc.TrackRemote(nil), s.tracks...)
}
