// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package eventloop provides the single serialized event queue that all stream
// state machines run on. Driver callbacks, timer expiries and fetch completions
// are posted to the queue and executed one at a time, in arrival order.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Run once the loop has been closed.
var ErrClosed = errors.New("event loop closed")

// Queue is the scheduling surface consumed by the state machines.
type Queue interface {
	// Post enqueues fn. It reports false if the queue no longer accepts work.
	Post(fn func()) bool
	// AfterFunc posts fn to the queue once d has elapsed.
	AfterFunc(d time.Duration, fn func()) *Timer
	// Now returns the queue's notion of the current time.
	Now() time.Time
}

// Timer is a cancellation token for work scheduled with AfterFunc.
type Timer struct {
	stopped atomic.Bool
	fired   atomic.Bool
	stop    func()
}

// Stop cancels the timer. It reports true if the call prevented fn from running.
// Stop is safe to call more than once and from any goroutine.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	if t.fired.Load() {
		return false
	}
	if !t.stopped.CompareAndSwap(false, true) {
		return false
	}
	if t.stop != nil {
		t.stop()
	}
	return true
}

// Active reports whether the timer is still pending.
func (t *Timer) Active() bool {
	return t != nil && !t.stopped.Load() && !t.fired.Load()
}

// fire marks the timer as fired; false means it was stopped first.
func (t *Timer) fire() bool {
	if t.stopped.Load() {
		return false
	}
	return t.fired.CompareAndSwap(false, true)
}

// Loop is a goroutine-backed Queue. Tasks never run concurrently with each other.
type Loop struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	running atomic.Bool
}

// New returns an idle loop. Call Run to start executing posted work.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post enqueues fn for execution on the loop goroutine.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// AfterFunc schedules fn to be posted after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{}
	rt := time.AfterFunc(d, func() {
		l.Post(func() {
			if t.fire() {
				fn()
			}
		})
	})
	t.stop = func() { rt.Stop() }
	return t
}

// Now returns the wall clock time.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// Do posts fn and waits for it to complete or for ctx to end.
// It must not be called from a task already running on the loop.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Run executes posted tasks until ctx is cancelled or Close is called.
// Pending tasks are drained before Run returns after Close.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("event loop already running")
	}
	defer close(l.done)

	for {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if closed && len(batch) == 0 {
			return ErrClosed
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.closed = true
			l.pending = nil
			l.mu.Unlock()
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Close stops accepting work. Already queued tasks still run.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
