// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package hls implements the segmented HTTP transport. The driver validates
// the live playlist before handing its URL to the player and keeps polling it
// so a stalled upstream is noticed without the player's help.
package hls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	playlist "github.com/ManuGH/nvrview/internal/hls"
	nvlog "github.com/ManuGH/nvrview/internal/log"
	"github.com/ManuGH/nvrview/internal/nvr"
	"github.com/ManuGH/nvrview/internal/platform/httpx"
	"github.com/ManuGH/nvrview/internal/transport"
)

const (
	MIMEType = "application/vnd.apple.mpegurl"

	defaultRefresh      = 2 * time.Second
	defaultMaxRefreshes = 3
	maxPlaylistBytes    = 2 << 20
)

// statusError is a non-success HTTP response.
type statusError struct {
	Status int
}

func (e *statusError) Error() string { return fmt.Sprintf("hls: HTTP %d", e.Status) }

// parseError is a playlist the parser rejected.
type parseError struct{ err error }

func (e *parseError) Error() string { return "hls: " + e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

// playerError wraps a decode failure reported by the consumer's player.
type playerError struct{ err error }

func (e *playerError) Error() string { return "hls: player: " + e.err.Error() }
func (e *playerError) Unwrap() error { return e.err }

// Config holds the dependencies of a segmented HTTP driver.
type Config struct {
	Endpoints      nvr.Endpoints
	HTTPClient     *http.Client
	ConnectTimeout time.Duration
	// RefreshInterval overrides the playlist poll interval, which otherwise
	// follows the target duration.
	RefreshInterval time.Duration
	// MaxRefreshFailures consecutive refresh failures after ready end the driver.
	MaxRefreshFailures int
	Logger             zerolog.Logger
}

// Driver is one segmented HTTP connection attempt.
type Driver struct {
	cfg Config
	lc  transport.Lifecycle

	mu   sync.Mutex
	done chan struct{}
}

// New builds a driver for one connection attempt.
func New(cfg Config) *Driver {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpx.NewClient(5 * time.Second)
	}
	if cfg.MaxRefreshFailures <= 0 {
		cfg.MaxRefreshFailures = defaultMaxRefreshes
	}
	return &Driver{cfg: cfg}
}

// Factory returns a transport.Factory building fresh segmented HTTP drivers.
func Factory(cfg Config) transport.Factory {
	return func() transport.Driver { return New(cfg) }
}

func (d *Driver) Kind() transport.Kind { return transport.KindSegmented }

func (d *Driver) Connect(camera string, _ transport.Hint, l transport.Listener) error {
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.lc.Begin(l, d.cfg.ConnectTimeout, transport.SocketTimeout, cancel); err != nil {
		cancel()
		return err
	}
	done := make(chan struct{})
	d.mu.Lock()
	d.done = done
	d.mu.Unlock()

	d.lc.State(transport.StateConnecting)
	go d.run(ctx, done, camera)
	return nil
}

func (d *Driver) run(ctx context.Context, done chan struct{}, camera string) {
	defer close(done)
	logger := d.cfg.Logger.With().
		Str(nvlog.FieldTransport, string(transport.KindSegmented)).
		Str(nvlog.FieldCamera, camera).
		Logger()

	playlistURL, err := d.cfg.Endpoints.LivePlaylist(camera)
	if err != nil {
		d.lc.Fail(transport.Unknown, err)
		return
	}

	failures := 0
	for {
		interval, err := d.probe(ctx, playlistURL)
		if ctx.Err() != nil {
			return
		}
		switch {
		case err != nil && !d.lc.IsReady():
			// Before ready every failure is terminal; the selector decides on retries.
			d.lc.Fail(classify(err), err)
			return
		case err != nil:
			failures++
			logger.Debug().Err(err).Int("failures", failures).
				Str(nvlog.FieldEvent, "hls.refresh_failed").
				Msg("playlist refresh failed")
			if failures >= d.cfg.MaxRefreshFailures {
				d.lc.Fail(classify(err), err)
				return
			}
		case interval > 0:
			failures = 0
			if d.lc.Ready(transport.MediaHandle{
				Kind:     transport.KindSegmented,
				URL:      playlistURL,
				MIMEType: MIMEType,
			}) {
				logger.Info().Str(nvlog.FieldEvent, "hls.ready").Msg("live playlist ready")
			}
		}

		if interval <= 0 {
			interval = defaultRefresh / 2
		}
		if d.cfg.RefreshInterval > 0 {
			interval = d.cfg.RefreshInterval
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// probe fetches the playlist, following a master playlist to its first
// variant. It returns the refresh interval, or zero while no segment exists.
func (d *Driver) probe(ctx context.Context, playlistURL string) (time.Duration, error) {
	pl, err := d.fetch(ctx, playlistURL)
	if err != nil {
		return 0, err
	}
	if pl.Master {
		if len(pl.Variants) == 0 {
			return 0, &parseError{err: errors.New("master playlist without variants")}
		}
		variantURL, err := playlist.ResolveURI(playlistURL, pl.Variants[0].URI)
		if err != nil {
			return 0, err
		}
		if pl, err = d.fetch(ctx, variantURL); err != nil {
			return 0, err
		}
	}
	if len(pl.Segments) == 0 {
		return 0, nil
	}
	if pl.TargetDuration > 0 {
		return pl.TargetDuration, nil
	}
	return defaultRefresh, nil
}

func (d *Driver) fetch(ctx context.Context, u string) (*playlist.Playlist, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range d.cfg.Endpoints.Header() {
		req.Header[k] = v
	}
	resp, err := d.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &statusError{Status: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
	if err != nil {
		return nil, err
	}
	pl, err := playlist.Parse(string(body))
	if err != nil {
		return nil, &parseError{err: err}
	}
	return pl, nil
}

// ReportPlayerError ends the driver with DecodeError. The player owns
// segment decoding, so this is the only way decode failures surface.
func (d *Driver) ReportPlayerError(err error) {
	if err == nil {
		err = errors.New("unspecified")
	}
	d.lc.Fail(transport.DecodeError, &playerError{err: err})
}

// Disconnect stops polling and waits for the poller to exit.
func (d *Driver) Disconnect() {
	d.lc.Close()
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done != nil {
		<-done
	}
}

// classify maps driver errors onto the failure taxonomy. An unreadable
// playlist or a player decode failure is a decode error, anything on the
// HTTP path (status, timeout, reset) is a socket timeout.
func classify(err error) transport.FailureCategory {
	var pe *playerError
	var pse *parseError
	switch {
	case err == nil:
		return transport.Unknown
	case errors.As(err, &pe), errors.As(err, &pse):
		return transport.DecodeError
	default:
		return transport.SocketTimeout
	}
}
