// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package peer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"

	"github.com/ManuGH/nvrview/internal/transport"
)

var errNoVideo = errors.New("peer: answer has no usable video section")

// signalingError is a failure of the signaling websocket.
type signalingError struct{ err error }

func (e *signalingError) Error() string { return "peer: signaling: " + e.err.Error() }
func (e *signalingError) Unwrap() error { return e.err }

// serverError is an error message sent over the signaling socket.
type serverError struct{ msg string }

func (e *serverError) Error() string { return "peer: server: " + e.msg }

// iceError is a peer connection that reached a terminal ICE state.
type iceError struct{ state webrtc.PeerConnectionState }

func (e *iceError) Error() string { return "peer: connection " + e.state.String() }

// codecError is an answer that accepted none of the offered video codecs.
type codecError struct {
	codecs []string
	err    error
}

func (e *codecError) Error() string {
	if len(e.codecs) == 0 {
		return e.err.Error()
	}
	return fmt.Sprintf("%v: %s", e.err, strings.Join(e.codecs, ","))
}

func (e *codecError) Unwrap() error { return e.err }

// playableCodecs are the video codecs the default media engine decodes.
var playableCodecs = map[string]bool{"h264": true, "vp8": true, "vp9": true, "av1": true}

// checkAnswer rejects answers whose video section was refused or carries
// only codecs this client cannot receive.
func checkAnswer(raw string) error {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return &signalingError{err: fmt.Errorf("parse answer: %w", err)}
	}
	for _, m := range sd.MediaDescriptions {
		if m.MediaName.Media != "video" {
			continue
		}
		if m.MediaName.Port.Value == 0 || len(m.MediaName.Formats) == 0 {
			return &codecError{err: errNoVideo}
		}
		var names []string
		for _, a := range m.Attributes {
			if a.Key != "rtpmap" {
				continue
			}
			fields := strings.Fields(a.Value)
			if len(fields) < 2 {
				continue
			}
			name := strings.ToLower(strings.SplitN(fields[1], "/", 2)[0])
			if playableCodecs[name] {
				return nil
			}
			names = append(names, name)
		}
		if len(names) == 0 {
			// Static payload types without rtpmap.
			return nil
		}
		return &codecError{codecs: names, err: errNoVideo}
	}
	return &codecError{err: errNoVideo}
}

var codecVocabulary = regexp.MustCompile(`(?i)codecs? not (matched|supported|found)|unsupported codec|no (video )?codec|h\.?265|hevc`)

// classify maps negotiation errors onto the failure taxonomy. Codec
// negotiation problems will not resolve on retry; everything else on the
// signaling or ICE path is a signaling failure.
func classify(err error) transport.FailureCategory {
	var ce *codecError
	var se *serverError
	switch {
	case err == nil:
		return transport.Unknown
	case errors.As(err, &ce):
		return transport.CodecUnsupported
	case errors.As(err, &se):
		if codecVocabulary.MatchString(se.msg) {
			return transport.CodecUnsupported
		}
		return transport.SignalingFailed
	case codecVocabulary.MatchString(err.Error()):
		return transport.CodecUnsupported
	default:
		return transport.SignalingFailed
	}
}
