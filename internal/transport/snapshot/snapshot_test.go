// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package snapshot

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/nvrview/internal/nvr"
	"github.com/ManuGH/nvrview/internal/transport"
	"github.com/ManuGH/nvrview/internal/transport/transporttest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

func newDriver(srv *httptest.Server, timeout time.Duration) *Driver {
	return New(Config{
		Endpoints:      nvr.Endpoints{Auth: nvr.StaticAuth{URL: srv.URL, Token: "tok"}},
		HTTPClient:     srv.Client(),
		Interval:       10 * time.Millisecond,
		ConnectTimeout: timeout,
		Logger:         zerolog.Nop(),
		Now:            func() time.Time { return time.UnixMilli(1700000000123) },
	})
}

func TestSnapshot_ReadyOnFirstImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/front_door/latest.jpg", r.URL.Path)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xff, 0xd8, 0xff, 0xd9})
	}))
	defer srv.Close()

	d := newDriver(srv, time.Second)
	rec := transporttest.NewRecorder()
	require.NoError(t, d.Connect("front_door", transport.Hint{Height: 360}, rec))
	defer d.Disconnect()

	ev, ok := rec.WaitFor("ready", 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, transport.KindSnapshot, ev.Handle.Kind)
	assert.Equal(t, "image/jpeg", ev.Handle.MIMEType)
	assert.Equal(t, 10*time.Millisecond, ev.Handle.RefreshInterval)

	u, err := url.Parse(ev.Handle.URL)
	require.NoError(t, err)
	assert.Equal(t, "360", u.Query().Get("h"))
	assert.Equal(t, "1700000000123", u.Query().Get("ts"))
	assert.Equal(t, "tok", u.Query().Get("token"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.Count("ready"))
	assert.Zero(t, rec.Count("failure"))
}

func TestSnapshot_TimesOutWithoutImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := newDriver(srv, 100*time.Millisecond)
	rec := transporttest.NewRecorder()
	require.NoError(t, d.Connect("front_door", transport.Hint{}, rec))
	defer d.Disconnect()

	ev, ok := rec.WaitFor("failure", 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, transport.SocketTimeout, ev.Category)
	assert.ErrorIs(t, ev.Err, transport.ErrConnectTimeout)
	assert.Zero(t, rec.Count("ready"))
}

func TestSnapshot_ErrorsAfterReadyOnlyToggleState(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xff, 0xd8})
	}))
	defer srv.Close()

	d := newDriver(srv, 100*time.Millisecond)
	rec := transporttest.NewRecorder()
	require.NoError(t, d.Connect("front_door", transport.Hint{}, rec))
	defer d.Disconnect()

	_, ok := rec.WaitFor("ready", 2*time.Second)
	require.True(t, ok)

	fail.Store(true)
	time.Sleep(300 * time.Millisecond)
	fail.Store(false)
	time.Sleep(100 * time.Millisecond)

	assert.Zero(t, rec.Count("failure"), "poll errors after ready must not be terminal")
	var states []transport.State
	for _, e := range rec.Events() {
		if e.Type == "state" {
			states = append(states, e.State)
		}
	}
	require.GreaterOrEqual(t, len(states), 4)
	assert.Equal(t, transport.StateConnecting, states[0])
	assert.Equal(t, transport.StateConnected, states[1])
	assert.Equal(t, transport.StateConnecting, states[2])
	assert.Equal(t, transport.StateConnected, states[3])
}

func TestSnapshot_DisconnectIsIdempotentAndDeadAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xff})
	}))
	defer srv.Close()

	d := newDriver(srv, time.Second)
	rec := transporttest.NewRecorder()
	require.NoError(t, d.Connect("cam", transport.Hint{}, rec))
	d.Disconnect()
	d.Disconnect()

	assert.ErrorIs(t, d.Connect("cam", transport.Hint{}, rec), transport.ErrDriverDead)
	assert.Zero(t, rec.Count("failure"))
}

func TestCacheBusted(t *testing.T) {
	got := cacheBusted("http://nvr/api/cam/latest.jpg?h=10", time.UnixMilli(42))
	assert.Equal(t, "http://nvr/api/cam/latest.jpg?h=10&ts=42", got)
}
