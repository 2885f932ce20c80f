// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ManuGH/nvrview/internal/engine"
	"github.com/ManuGH/nvrview/internal/health"
	nvlog "github.com/ManuGH/nvrview/internal/log"
	"github.com/ManuGH/nvrview/internal/metrics"
	"github.com/ManuGH/nvrview/internal/nvr"
	"github.com/ManuGH/nvrview/internal/playback"
)

// SessionAPI is the engine surface served over HTTP.
type SessionAPI interface {
	OpenSession(ctx context.Context, camera string) (engine.SessionHandle, error)
	CloseSession(ctx context.Context, h engine.SessionHandle) error
	Sessions(ctx context.Context) ([]engine.SessionInfo, error)
	SelectTime(h engine.SessionHandle, target playback.Target) error
	Retry(ctx context.Context, h engine.SessionHandle) error
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
}

// RouterConfig configures the status server routes.
type RouterConfig struct {
	Engine SessionAPI
	Health *health.Manager
	// RateLimit is the number of API requests per minute and client.
	RateLimit int
	Logger    zerolog.Logger
}

type router struct {
	engine SessionAPI
	logger zerolog.Logger
}

// NewRouter builds the status server: probes, metrics and the session API.
func NewRouter(cfg RouterConfig) http.Handler {
	rt := &router{engine: cfg.Engine, logger: cfg.Logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(correlate)
	r.Use(chimw.Recoverer)
	r.Use(requestMetrics)

	if cfg.Health != nil {
		r.Get("/healthz", cfg.Health.ServeHealth)
		r.Get("/readyz", cfg.Health.ServeReady)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(rateLimit(cfg.RateLimit, time.Minute))
		}
		r.Get("/sessions", rt.listSessions)
		r.Post("/sessions", rt.openSession)
		r.Delete("/sessions/{id}", rt.withSession(rt.closeSession))
		r.Post("/sessions/{id}/retry", rt.withSession(rt.retry))
		r.Post("/sessions/{id}/time", rt.withSession(rt.selectTime))
		r.Post("/suspend", rt.suspend)
		r.Post("/resume", rt.resume)
	})

	return otelhttp.NewHandler(r, "status",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// correlate exposes the chi request ID as the log correlation ID.
func correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chimw.GetReqID(r.Context()); id != "" {
			r = r.WithContext(nvlog.ContextWithCorrelationID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := metrics.TrackHTTPRequest()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		done(r.Method, path, status)
	})
}

// rateLimit answers 429 with a Retry-After header once a client exceeds limit.
func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "too many requests")
		}),
	)
}

type sessionView struct {
	ID        string        `json:"id"`
	Camera    string        `json:"camera"`
	Mode      string        `json:"mode"`
	Health    string        `json:"health"`
	Transport string        `json:"transport,omitempty"`
	Cursor    *cursorView   `json:"cursor,omitempty"`
	Opened    time.Time     `json:"opened"`
	Attempts  []attemptView `json:"attempts,omitempty"`
}

type cursorView struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type attemptView struct {
	Transport   string    `json:"transport"`
	Number      int       `json:"number"`
	Started     time.Time `json:"started"`
	LastFailure string    `json:"lastFailure,omitempty"`
}

func newSessionView(info engine.SessionInfo) sessionView {
	v := sessionView{
		ID:        info.Handle.ID,
		Camera:    info.Handle.Camera,
		Mode:      string(info.Status.Mode),
		Health:    string(info.Status.Health),
		Transport: string(info.Status.Kind),
		Opened:    info.Opened,
	}
	if c := info.Status.Cursor; c != nil {
		v.Cursor = &cursorView{Start: c.Start, End: c.End}
	}
	for _, a := range info.Attempts {
		v.Attempts = append(v.Attempts, attemptView{
			Transport:   string(a.Kind),
			Number:      a.Number,
			Started:     a.Started,
			LastFailure: string(a.LastFailure),
		})
	}
	return v
}

func (rt *router) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := rt.engine.Sessions(r.Context())
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, newSessionView(s))
	}
	writeJSON(w, http.StatusOK, views)
}

type openRequest struct {
	Camera string `json:"camera"`
}

func (rt *router) openSession(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	h, err := rt.engine.OpenSession(r.Context(), req.Camera)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": h.ID, "camera": h.Camera})
}

// withSession resolves the {id} path parameter to an open session.
func (rt *router) withSession(next func(http.ResponseWriter, *http.Request, engine.SessionHandle)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sessions, err := rt.engine.Sessions(r.Context())
		if err != nil {
			rt.fail(w, r, err)
			return
		}
		for _, s := range sessions {
			if s.Handle.ID == id {
				next(w, r.WithContext(nvlog.ContextWithSessionID(r.Context(), id)), s.Handle)
				return
			}
		}
		rt.fail(w, r, engine.ErrUnknownSession)
	}
}

func (rt *router) closeSession(w http.ResponseWriter, r *http.Request, h engine.SessionHandle) {
	if err := rt.engine.CloseSession(r.Context(), h); err != nil {
		rt.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *router) retry(w http.ResponseWriter, r *http.Request, h engine.SessionHandle) {
	if err := rt.engine.Retry(r.Context(), h); err != nil {
		rt.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type timeRequest struct {
	// At is "live" or an RFC 3339 timestamp.
	At string `json:"at"`
}

func (rt *router) selectTime(w http.ResponseWriter, r *http.Request, h engine.SessionHandle) {
	var req timeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	target, err := parseTarget(req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time", err.Error())
		return
	}
	if err := rt.engine.SelectTime(h, target); err != nil {
		rt.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func parseTarget(s string) (playback.Target, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "live") {
		return playback.Live, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return playback.Target{}, err
	}
	return playback.At(t), nil
}

func (rt *router) suspend(w http.ResponseWriter, r *http.Request) {
	if err := rt.engine.Suspend(r.Context()); err != nil {
		rt.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (rt *router) resume(w http.ResponseWriter, r *http.Request) {
	if err := rt.engine.Resume(r.Context()); err != nil {
		rt.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// fail maps engine errors to HTTP status codes.
func (rt *router) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, engine.ErrUnknownSession), errors.Is(err, engine.ErrSessionClosed), nvr.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, engine.ErrNoCamera):
		status, code = http.StatusBadRequest, "invalid_camera"
	case errors.Is(err, nvr.ErrUnauthorized), errors.Is(err, nvr.ErrTokenExpired):
		status, code = http.StatusBadGateway, "nvr_unauthorized"
	case errors.Is(err, engine.ErrClosed):
		status, code = http.StatusServiceUnavailable, "closed"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	}
	if status >= http.StatusInternalServerError {
		logger := nvlog.WithContext(r.Context(), rt.logger)
		logger.Error().Err(err).
			Str("event", "api.request_failed").
			Str("path", r.URL.Path).
			Msg("session API request failed")
	}
	writeError(w, status, code, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{"error": code, "detail": detail})
}
