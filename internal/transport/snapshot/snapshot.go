// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package snapshot implements the terminal fallback transport: the latest
// camera image polled over HTTP.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	nvlog "github.com/ManuGH/nvrview/internal/log"
	"github.com/ManuGH/nvrview/internal/nvr"
	"github.com/ManuGH/nvrview/internal/platform/httpx"
	"github.com/ManuGH/nvrview/internal/transport"
)

const (
	DefaultInterval = time.Second
	maxImageBytes   = 8 << 20
)

var errNotImage = errors.New("snapshot: response is not an image")

// Config holds the dependencies of a snapshot driver.
type Config struct {
	Endpoints      nvr.Endpoints
	HTTPClient     *http.Client
	Interval       time.Duration
	ConnectTimeout time.Duration
	Logger         zerolog.Logger
	Now            func() time.Time
}

// Driver polls latest.jpg. It never reports codec or signaling failures;
// once an image was delivered, poll errors only toggle the connection state.
type Driver struct {
	cfg Config
	lc  transport.Lifecycle

	mu   sync.Mutex
	done chan struct{}
}

// New builds a driver for one connection attempt.
func New(cfg Config) *Driver {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpx.NewClient(cfg.Interval * 5)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Driver{cfg: cfg}
}

// Factory returns a transport.Factory building fresh snapshot drivers.
func Factory(cfg Config) transport.Factory {
	return func() transport.Driver { return New(cfg) }
}

func (d *Driver) Kind() transport.Kind { return transport.KindSnapshot }

func (d *Driver) Connect(camera string, hint transport.Hint, l transport.Listener) error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	if err := d.lc.Begin(l, d.cfg.ConnectTimeout, transport.SocketTimeout, cancel); err != nil {
		cancel()
		return err
	}
	d.mu.Lock()
	d.done = done
	d.mu.Unlock()

	d.lc.State(transport.StateConnecting)
	go d.poll(ctx, done, camera, hint.Height)
	return nil
}

func (d *Driver) poll(ctx context.Context, done chan struct{}, camera string, height int) {
	defer close(done)
	logger := d.cfg.Logger.With().
		Str(nvlog.FieldTransport, string(transport.KindSnapshot)).
		Str(nvlog.FieldCamera, camera).
		Logger()

	base, err := d.cfg.Endpoints.Snapshot(camera, height)
	if err != nil {
		d.lc.Fail(transport.SocketTimeout, err)
		return
	}

	limiter := rate.NewLimiter(rate.Every(d.cfg.Interval), 1)
	healthy := false
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		imageURL := cacheBusted(base, d.cfg.Now())
		mime, err := d.fetch(ctx, imageURL)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Debug().Err(err).Str(nvlog.FieldEvent, "snapshot.poll_failed").Msg("snapshot poll failed")
			if healthy {
				healthy = false
				d.lc.State(transport.StateConnecting)
			}
			continue
		}
		if !d.lc.IsReady() {
			d.lc.Ready(transport.MediaHandle{
				Kind:            transport.KindSnapshot,
				URL:             imageURL,
				MIMEType:        mime,
				RefreshInterval: d.cfg.Interval,
			})
		} else if !healthy {
			d.lc.State(transport.StateConnected)
		}
		healthy = true
	}
}

func (d *Driver) fetch(ctx context.Context, imageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("snapshot: HTTP %d", resp.StatusCode)
	}
	mime := resp.Header.Get("Content-Type")
	if mime != "" && !strings.HasPrefix(mime, "image/") {
		return "", errNotImage
	}
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxImageBytes)); err != nil {
		return "", err
	}
	if mime == "" {
		mime = "image/jpeg"
	}
	return mime, nil
}

// cacheBusted appends ts=<unix-ms> so image caches never serve a stale frame.
func cacheBusted(base string, now time.Time) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("ts", strconv.FormatInt(now.UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String()
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
