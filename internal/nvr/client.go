// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package nvr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/nvrview/internal/hls"
	nvlog "github.com/ManuGH/nvrview/internal/log"
	"github.com/ManuGH/nvrview/internal/platform/httpx"
	"github.com/ManuGH/nvrview/internal/resilience"
)

const (
	maxPlaylistBytes = 4 << 20

	// cameraLookupTimeout bounds a shared metadata lookup, which no single
	// caller's context may cancel.
	cameraLookupTimeout = 10 * time.Second
)

// BreakerFactory builds the recordings breaker of one camera.
type BreakerFactory func(camera string) *resilience.CircuitBreaker

// DefaultBreaker opens after 3 consecutive recording failures of one camera
// and probes again after 30s.
func DefaultBreaker(camera string) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker("recordings/"+camera, 3, 30*time.Second)
}

// Client implements CameraProvider and SegmentFetcher against the NVR REST API.
type Client struct {
	endpoints Endpoints
	http      *http.Client
	group     singleflight.Group

	newBreaker BreakerFactory
	mu         sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker

	logger zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithBreakerFactory overrides how per-camera recordings breakers are built.
func WithBreakerFactory(f BreakerFactory) ClientOption {
	return func(cl *Client) { cl.newBreaker = f }
}

// NewClient builds an API client for the session described by auth.
func NewClient(auth AuthProvider, opts ...ClientOption) *Client {
	c := &Client{
		endpoints:  Endpoints{Auth: auth},
		http:       httpx.NewClient(10 * time.Second),
		logger:     nvlog.WithComponent("nvr"),
		newBreaker: DefaultBreaker,
		breakers:   make(map[string]*resilience.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// breaker returns the recordings breaker of camera. Cameras never share one,
// so a failing or busy camera cannot cut others off their recordings.
func (c *Client) breaker(camera string) *resilience.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[camera]
	if !ok {
		cb = c.newBreaker(camera)
		c.breakers[camera] = cb
	}
	return cb
}

// Endpoints returns the endpoint builder bound to this client's session.
func (c *Client) Endpoints() Endpoints { return c.endpoints }

type streamInfo struct {
	Producers []struct {
		URL    string   `json:"url"`
		Medias []string `json:"medias"`
	} `json:"producers"`
}

// Camera resolves codec metadata for name. Concurrent lookups for the same
// camera share one request. The shared request is detached from ctx so one
// caller giving up does not fail the others; each caller still stops
// waiting when its own ctx is done.
func (c *Client) Camera(ctx context.Context, name string) (Camera, error) {
	ch := c.group.DoChan("camera:"+name, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cameraLookupTimeout)
		defer cancel()
		return c.fetchCamera(lookupCtx, name)
	})
	select {
	case <-ctx.Done():
		return Camera{Name: name}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Camera{Name: name}, res.Err
		}
		return res.Val.(Camera), nil
	}
}

func (c *Client) fetchCamera(ctx context.Context, name string) (Camera, error) {
	u, err := c.endpoints.CameraStream(name)
	if err != nil {
		return Camera{}, err
	}
	body, err := c.get(ctx, "camera", u)
	if err != nil {
		return Camera{}, err
	}
	var info streamInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return Camera{}, &RequestError{Sentinel: ErrBadResponse, Operation: "camera", Err: err}
	}

	cam := Camera{Name: name}
	for _, p := range info.Producers {
		for _, m := range p.Medias {
			kind, codec := parseMedia(m)
			switch {
			case kind == "video" && cam.Codec == "":
				cam.Codec = codec
			case kind == "audio" && cam.Audio == "":
				cam.Audio = codec
			}
		}
	}
	return cam, nil
}

// parseMedia splits a media description such as "video, recvonly, H264, H265"
// into its kind and first codec, lower-cased.
func parseMedia(m string) (kind, codec string) {
	parts := strings.Split(m, ",")
	if len(parts) == 0 {
		return "", ""
	}
	kind = strings.ToLower(strings.TrimSpace(parts[0]))
	if len(parts) >= 3 {
		codec = strings.ToLower(strings.TrimSpace(parts[2]))
	}
	return kind, codec
}

// FetchSegment resolves the VOD playlist for [start, end) and validates that
// it holds at least one segment.
func (c *Client) FetchSegment(ctx context.Context, camera string, start, end time.Time) (MediaLocator, error) {
	if !start.Before(end) {
		return MediaLocator{}, fmt.Errorf("nvr: invalid segment range %s..%s", start, end)
	}
	u, err := c.endpoints.Recording(camera, start, end)
	if err != nil {
		return MediaLocator{}, err
	}

	var loc MediaLocator
	err = c.breaker(camera).ExecuteContext(ctx, func(ctx context.Context) error {
		body, err := c.get(ctx, "recording", u)
		if err != nil {
			return err
		}
		pl, err := hls.Parse(string(body))
		if err != nil {
			return &RequestError{Sentinel: ErrBadResponse, Operation: "recording", Err: err}
		}
		if pl.Master && len(pl.Variants) > 0 {
			loc = MediaLocator{URL: u, Start: start, End: end, Duration: end.Sub(start)}
			return nil
		}
		if len(pl.Segments) == 0 {
			return &RequestError{Sentinel: ErrEmptySegment, Operation: "recording"}
		}
		loc = MediaLocator{URL: u, Start: start, End: end, Duration: pl.TotalDuration}
		return nil
	})
	if err != nil {
		c.logger.Debug().Err(err).
			Str(nvlog.FieldEvent, "nvr.recording_failed").
			Str(nvlog.FieldCamera, camera).
			Msg("recording fetch failed")
		return MediaLocator{}, err
	}
	return loc, nil
}

func (c *Client) get(ctx context.Context, op, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &RequestError{Sentinel: ErrBadResponse, Operation: op, Err: err}
	}
	for k, v := range c.endpoints.Header() {
		req.Header[k] = v
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &RequestError{Sentinel: ErrUpstream, Operation: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &RequestError{Sentinel: statusSentinel(resp.StatusCode), Operation: op, Status: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
	if err != nil {
		return nil, &RequestError{Sentinel: ErrUpstream, Operation: op, Err: err}
	}
	return body, nil
}

// IsNotFound reports whether err means the resource does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
