// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"time"

	"github.com/ManuGH/nvrview/internal/eventloop"
	"github.com/ManuGH/nvrview/internal/metrics"
)

// Supervisor owns the backoff states of one stream session, keyed by transport
// kind, plus every retry it has scheduled. All methods must be called from the
// session's event queue.
type Supervisor[K comparable] struct {
	queue   eventloop.Queue
	policy  Policy
	states  map[K]*BackoffState
	pending map[*eventloop.Timer]struct{}
	closed  bool
}

// NewSupervisor creates a supervisor scheduling retries on q.
func NewSupervisor[K comparable](q eventloop.Queue, p Policy) *Supervisor[K] {
	return &Supervisor[K]{
		queue:   q,
		policy:  p.normalized(),
		states:  make(map[K]*BackoffState),
		pending: make(map[*eventloop.Timer]struct{}),
	}
}

// State returns the backoff state for key, creating it at baseline.
func (s *Supervisor[K]) State(key K) *BackoffState {
	st, ok := s.states[key]
	if !ok {
		st = NewBackoffState(s.policy)
		s.states[key] = st
	}
	return st
}

// RecordFailure counts a failure for key and returns the retry delay.
// ok is false when the key has exhausted its attempts.
func (s *Supervisor[K]) RecordFailure(key K) (time.Duration, bool) {
	d, ok := s.State(key).Failure()
	metrics.ObserveBackoffDelay(keyLabel(key), d)
	return d, ok
}

// RecordSuccess resets key to baseline.
func (s *Supervisor[K]) RecordSuccess(key K) {
	s.State(key).Success()
}

// Schedule runs fn on the queue after d. The returned timer is the cancellation
// token; CancelAll stops it as well. Scheduling on a closed supervisor returns nil.
func (s *Supervisor[K]) Schedule(d time.Duration, fn func()) *eventloop.Timer {
	if s.closed {
		return nil
	}
	var t *eventloop.Timer
	t = s.queue.AfterFunc(d, func() {
		delete(s.pending, t)
		if s.closed {
			return
		}
		fn()
	})
	s.pending[t] = struct{}{}
	return t
}

// Cancel stops a single scheduled retry.
func (s *Supervisor[K]) Cancel(t *eventloop.Timer) {
	if t == nil {
		return
	}
	t.Stop()
	delete(s.pending, t)
}

// CancelAll stops every scheduled retry. Used by explicit retries.
func (s *Supervisor[K]) CancelAll() {
	for t := range s.pending {
		t.Stop()
	}
	clear(s.pending)
}

// Reset cancels all pending retries and returns every state to baseline.
func (s *Supervisor[K]) Reset() {
	s.CancelAll()
	clear(s.states)
}

// Close cancels pending retries and refuses new ones. Used on session teardown.
func (s *Supervisor[K]) Close() {
	s.CancelAll()
	s.closed = true
}

// Pending returns the number of scheduled retries that have not fired.
func (s *Supervisor[K]) Pending() int {
	return len(s.pending)
}

func keyLabel(key any) string {
	if str, ok := key.(interface{ String() string }); ok {
		return str.String()
	}
	if str, ok := key.(string); ok {
		return str
	}
	return "other"
}
