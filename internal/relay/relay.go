// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package relay serves a reassembled fragmented MP4 stream on a loopback HTTP
// listener so platform players can consume it as a plain URL. Each relay is
// owned by exactly one fragmented-container driver instance and never outlives it.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// StreamPath is the path the relay serves the stream on.
const StreamPath = "/stream.mp4"

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("relay closed")

const defaultSubscriberBuffer = 64

// Config holds the configuration for a relay.
type Config struct {
	// ListenAddr defaults to 127.0.0.1:0.
	ListenAddr string
	// SubscriberBuffer is the number of fragments a viewer may lag behind
	// before it is dropped.
	SubscriberBuffer int
	Logger           zerolog.Logger
}

type subscriber struct {
	ch   chan []byte
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Server is a single-stream loopback relay.
type Server struct {
	logger     zerolog.Logger
	listenAddr string
	bufSize    int
	httpServer *http.Server
	listener   net.Listener

	mu       sync.Mutex
	mimeType string
	init     []byte
	subs     map[*subscriber]struct{}
	closed   bool
	served   chan struct{}
}

// New creates a relay. Call Start to begin listening.
func New(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	s := &Server{
		logger:     cfg.Logger,
		listenAddr: cfg.ListenAddr,
		bufSize:    cfg.SubscriberBuffer,
		subs:       make(map[*subscriber]struct{}),
		mimeType:   "video/mp4",
		served:     make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Get(StreamPath, s.handleStream)
	r.Head(StreamPath, s.handleHead)

	s.httpServer = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      0, // No timeout for streaming
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}
	return s
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("relay listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		defer close(s.served)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn().Err(err).Str("event", "relay.serve_failed").Msg("relay server stopped")
		}
	}()
	return nil
}

// URL returns the playable URL, or "" before Start.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String() + StreamPath
}

// SetInit stores the initialization segment every viewer receives first.
func (s *Server) SetInit(mimeType string, init []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if mimeType != "" {
		s.mimeType = mimeType
	}
	s.init = append([]byte(nil), init...)
	return nil
}

// WriteFragment fans a media fragment out to every viewer. Viewers that fall
// too far behind are disconnected rather than allowed to stall the stream.
func (s *Server) WriteFragment(frag []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	data := append([]byte(nil), frag...)
	for sub := range s.subs {
		select {
		case sub.ch <- data:
		default:
			s.logger.Debug().Str("event", "relay.viewer_dropped").Msg("viewer too slow, dropping")
			delete(s.subs, sub)
			sub.close()
		}
	}
	return nil
}

// Viewers returns the number of connected viewers.
func (s *Server) Viewers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Server) subscribe() (*subscriber, []byte, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.init == nil {
		return nil, nil, "", false
	}
	sub := &subscriber{ch: make(chan []byte, s.bufSize)}
	s.subs[sub] = struct{}{}
	return sub, s.init, s.mimeType, true
}

func (s *Server) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
	sub.close()
}

func (s *Server) handleHead(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	ready := !s.closed && s.init != nil
	mimeType := s.mimeType
	s.mu.Unlock()

	if !ready {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sub, init, mimeType, ok := s.subscribe()
	if !ok {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	defer s.unsubscribe(sub)

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(init); err != nil {
		return
	}
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	written := len(init)
	defer func() {
		s.logger.Debug().
			Str("event", "relay.viewer_done").
			Int("bytes", written).
			Msg("relay viewer disconnected")
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case frag, ok := <-sub.ch:
			if !ok {
				return
			}
			n, err := w.Write(frag)
			written += n
			if err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// Close disconnects every viewer and shuts the listener down. It is idempotent
// and waits for in-flight handlers up to ctx.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for sub := range s.subs {
		sub.close()
	}
	clear(s.subs)
	s.init = nil
	started := s.listener != nil
	s.mu.Unlock()

	if !started {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		_ = s.httpServer.Close()
	}
	<-s.served
	return err
}
