// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/nvrview/internal/engine"
	"github.com/ManuGH/nvrview/internal/health"
	"github.com/ManuGH/nvrview/internal/log"
	"github.com/ManuGH/nvrview/internal/nvr"
	"github.com/ManuGH/nvrview/internal/playback"
	"github.com/ManuGH/nvrview/internal/selector"
	"github.com/ManuGH/nvrview/internal/transport"
)

type fakeEngine struct {
	mu        sync.Mutex
	sessions  []engine.SessionInfo
	targets   []playback.Target
	retried   []string
	closed    []string
	tunables  []engine.Tunables
	activity  []string
	suspended bool
	shutdown  bool
	openErr   error
	retryErr  error
}

func (f *fakeEngine) OpenSession(_ context.Context, camera string) (engine.SessionHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return engine.SessionHandle{}, f.openErr
	}
	h := engine.SessionHandle{ID: "s" + camera, Camera: camera}
	f.sessions = append(f.sessions, engine.SessionInfo{Handle: h})
	return h, nil
}

func (f *fakeEngine) CloseSession(_ context.Context, h engine.SessionHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, h.ID)
	return nil
}

func (f *fakeEngine) Sessions(context.Context) ([]engine.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.SessionInfo(nil), f.sessions...), nil
}

func (f *fakeEngine) SelectTime(_ engine.SessionHandle, target playback.Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	return nil
}

func (f *fakeEngine) Retry(_ context.Context, h engine.SessionHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, h.ID)
	return f.retryErr
}

func (f *fakeEngine) Suspend(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suspended = true
	return nil
}

func (f *fakeEngine) Resume(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suspended = false
	return nil
}

func (f *fakeEngine) UpdateTunables(t engine.Tunables) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tunables = append(f.tunables, t)
}

func (f *fakeEngine) OnCameraActivity(camera string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activity = append(f.activity, camera)
}

func (f *fakeEngine) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
	return nil
}

func newFrontDoor() *fakeEngine {
	opened := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &fakeEngine{sessions: []engine.SessionInfo{{
		Handle: engine.SessionHandle{ID: "abc", Camera: "front_door"},
		Status: playback.Status{
			Mode:   playback.ModeRecorded,
			Health: playback.HealthPlayingRecording,
			Cursor: &playback.Cursor{
				Camera: "front_door",
				Start:  opened.Add(-time.Hour),
				End:    opened.Add(-time.Hour + 10*time.Second),
			},
		},
		Attempts: []selector.Attempt{{
			Kind:        transport.KindPeer,
			Number:      1,
			Started:     opened,
			LastFailure: transport.SocketTimeout,
		}},
		Opened: opened,
	}}}
}

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter_ListSessions(t *testing.T) {
	h := NewRouter(RouterConfig{Engine: newFrontDoor(), Logger: log.WithComponent("test")})

	w := serve(t, h, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got []sessionView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "abc", got[0].ID)
	assert.Equal(t, "recorded", got[0].Mode)
	assert.Equal(t, "playing_recording", got[0].Health)
	require.NotNil(t, got[0].Cursor)
	require.Len(t, got[0].Attempts, 1)
	assert.Equal(t, string(transport.KindPeer), got[0].Attempts[0].Transport)
	assert.Equal(t, string(transport.SocketTimeout), got[0].Attempts[0].LastFailure)
}

func TestRouter_SessionCommands(t *testing.T) {
	e := newFrontDoor()
	h := NewRouter(RouterConfig{Engine: e, Logger: log.WithComponent("test")})

	assert.Equal(t, http.StatusAccepted, serve(t, h, http.MethodPost, "/api/sessions/abc/time", `{"at":"2024-05-01T11:00:00Z"}`).Code)
	assert.Equal(t, http.StatusAccepted, serve(t, h, http.MethodPost, "/api/sessions/abc/time", `{"at":"live"}`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, h, http.MethodPost, "/api/sessions/abc/time", `{"at":"yesterday"}`).Code)
	assert.Equal(t, http.StatusAccepted, serve(t, h, http.MethodPost, "/api/sessions/abc/retry", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, h, http.MethodPost, "/api/sessions/nope/retry", "").Code)
	assert.Equal(t, http.StatusAccepted, serve(t, h, http.MethodPost, "/api/suspend", "").Code)
	assert.Equal(t, http.StatusNoContent, serve(t, h, http.MethodDelete, "/api/sessions/abc", "").Code)

	e.mu.Lock()
	defer e.mu.Unlock()
	require.Len(t, e.targets, 2)
	assert.Equal(t, time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC), e.targets[0].Time())
	assert.True(t, e.targets[1].IsLive())
	assert.Equal(t, []string{"abc"}, e.retried)
	assert.Equal(t, []string{"abc"}, e.closed)
	assert.True(t, e.suspended)
}

func TestRouter_OpenSession(t *testing.T) {
	e := &fakeEngine{}
	h := NewRouter(RouterConfig{Engine: e, Logger: log.WithComponent("test")})

	w := serve(t, h, http.MethodPost, "/api/sessions", `{"camera":"garage"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":"sgarage","camera":"garage"}`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, serve(t, h, http.MethodPost, "/api/sessions", `{`).Code)

	e.openErr = &nvr.RequestError{Sentinel: nvr.ErrNotFound, Operation: "camera", Status: http.StatusNotFound}
	assert.Equal(t, http.StatusNotFound, serve(t, h, http.MethodPost, "/api/sessions", `{"camera":"attic"}`).Code)

	e.openErr = engine.ErrNoCamera
	assert.Equal(t, http.StatusBadRequest, serve(t, h, http.MethodPost, "/api/sessions", `{"camera":""}`).Code)

	e.openErr = engine.ErrClosed
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, h, http.MethodPost, "/api/sessions", `{"camera":"x"}`).Code)
}

func TestRouter_RateLimit(t *testing.T) {
	h := NewRouter(RouterConfig{Engine: &fakeEngine{}, RateLimit: 1, Logger: log.WithComponent("test")})

	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/api/sessions", "").Code)
	w := serve(t, h, http.MethodGet, "/api/sessions", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	// Probes are not limited.
	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/metrics", "").Code)
}

func TestRouter_Probes(t *testing.T) {
	e := newFrontDoor()
	hm := health.NewManager("test")
	hm.RegisterChecker(health.NewSessionChecker(e))
	h := NewRouter(RouterConfig{Engine: e, Health: hm, Logger: log.WithComponent("test")})

	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/healthz", "").Code)

	w := serve(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var ready health.ReadinessResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ready))
	assert.Equal(t, health.StatusHealthy, ready.Checks["sessions"].Status)

	w = serve(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "nvrview_http_requests_in_flight")
}

func TestRouter_FailureLogCarriesCorrelation(t *testing.T) {
	var buf bytes.Buffer
	e := newFrontDoor()
	e.retryErr = errors.New("engine wedged")
	h := NewRouter(RouterConfig{Engine: e, Logger: zerolog.New(&buf)})

	w := serve(t, h, http.MethodPost, "/api/sessions/abc/retry", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "abc", entry[log.FieldSessionID])
	assert.NotEmpty(t, entry[log.FieldCorrelationID])
	assert.Equal(t, "api.request_failed", entry["event"])
}
