// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package nvr

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Endpoints derives transport URLs from the session's base URL and token.
type Endpoints struct {
	Auth AuthProvider
}

func (e Endpoints) base() (*url.URL, error) {
	if e.Auth == nil {
		return nil, ErrNoBaseURL
	}
	raw := strings.TrimRight(strings.TrimSpace(e.Auth.BaseURL()), "/")
	if raw == "" {
		return nil, ErrNoBaseURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parse base url: unsupported scheme %q", u.Scheme)
	}
	return u, nil
}

func (e Endpoints) build(path string, query url.Values, websocket, tokenInQuery bool) (string, error) {
	u, err := e.base()
	if err != nil {
		return "", err
	}
	if websocket {
		if u.Scheme == "https" {
			u.Scheme = "wss"
		} else {
			u.Scheme = "ws"
		}
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query == nil {
		query = url.Values{}
	}
	if tokenInQuery {
		if tok, ok := e.Auth.AuthToken(); ok {
			query.Set("token", tok)
		}
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// Header returns the request headers carrying the auth token.
func (e Endpoints) Header() http.Header {
	h := http.Header{}
	if e.Auth == nil {
		return h
	}
	if tok, ok := e.Auth.AuthToken(); ok {
		h.Set("Authorization", "Bearer "+tok)
	}
	return h
}

// PeerSignaling is the websocket used for real-time media negotiation.
func (e Endpoints) PeerSignaling(camera string) (string, error) {
	return e.build("/live/webrtc/api/ws", url.Values{"src": {camera}}, true, false)
}

// FragmentedSocket is the websocket delivering fragmented MP4.
func (e Endpoints) FragmentedSocket(camera string) (string, error) {
	return e.build("/live/mse/api/ws", url.Values{"src": {camera}}, true, false)
}

// LivePlaylist is the live HLS playlist handed to the player, so the token
// travels in the query.
func (e Endpoints) LivePlaylist(camera string) (string, error) {
	return e.build("/api/"+camera+"/hls/index.m3u8", nil, false, true)
}

// Snapshot is the latest-image URL. height 0 keeps the native size.
func (e Endpoints) Snapshot(camera string, height int) (string, error) {
	q := url.Values{}
	if height > 0 {
		q.Set("h", strconv.Itoa(height))
	}
	return e.build("/api/"+camera+"/latest.jpg", q, false, true)
}

// Recording is the VOD playlist for [start, end).
func (e Endpoints) Recording(camera string, start, end time.Time) (string, error) {
	path := fmt.Sprintf("/vod/%s/start/%d/end/%d/index.m3u8", camera, start.Unix(), end.Unix())
	return e.build(path, nil, false, true)
}

// CameraStream is the per-camera stream metadata endpoint.
func (e Endpoints) CameraStream(camera string) (string, error) {
	return e.build("/api/go2rtc/streams/"+camera, nil, false, false)
}

// EventSocket is the NVR event channel.
func (e Endpoints) EventSocket() (string, error) {
	return e.build("/ws", nil, true, false)
}

// TokenExpiry reads the exp claim of a JWT auth token without verifying it.
// ok is false for opaque tokens or tokens without an expiry.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// CheckToken reports ErrTokenExpired when the session token is a JWT whose
// expiry is before now.
func CheckToken(auth AuthProvider, now time.Time) error {
	if auth == nil {
		return nil
	}
	tok, ok := auth.AuthToken()
	if !ok {
		return nil
	}
	if exp, ok := TokenExpiry(tok); ok && !exp.After(now) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, exp.Format(time.RFC3339))
	}
	return nil
}
