// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"sync"
	"time"
)

// DefaultConnectTimeout bounds how long a driver may stay silent after Connect.
const DefaultConnectTimeout = 10 * time.Second

// Lifecycle enforces the listener contract for a driver: one ready signal, one
// terminal failure, nothing after death, and self-termination when neither
// arrives within the connect timeout. Drivers embed it and call its methods
// from their I/O goroutines.
type Lifecycle struct {
	mu              sync.Mutex
	listener        Listener
	started         bool
	ready           bool
	dead            bool
	timer           *time.Timer
	timeoutCategory FailureCategory
	teardown        func()
}

// Begin arms the lifecycle. timeoutCategory is reported if the timeout elapses
// first; teardown is invoked exactly once when the driver dies.
func (l *Lifecycle) Begin(listener Listener, timeout time.Duration, timeoutCategory FailureCategory, teardown func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dead {
		return ErrDriverDead
	}
	if l.started {
		return ErrAlreadyConnected
	}
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	if timeoutCategory == "" {
		timeoutCategory = SocketTimeout
	}
	l.started = true
	l.listener = listener
	l.timeoutCategory = timeoutCategory
	l.teardown = teardown
	l.timer = time.AfterFunc(timeout, func() {
		l.Fail(l.timeoutCategory, ErrConnectTimeout)
	})
	return nil
}

// Ready emits OnMediaReady once. It reports false if the driver is dead or was
// already ready.
func (l *Lifecycle) Ready(h MediaHandle) bool {
	l.mu.Lock()
	if l.dead || l.ready || !l.started {
		l.mu.Unlock()
		return false
	}
	l.ready = true
	if l.timer != nil {
		l.timer.Stop()
	}
	listener := l.listener
	l.mu.Unlock()

	listener.OnStateChange(StateConnected)
	listener.OnMediaReady(h)
	return true
}

// State forwards a state change while the driver is alive.
func (l *Lifecycle) State(s State) {
	l.mu.Lock()
	if l.dead || !l.started {
		l.mu.Unlock()
		return
	}
	listener := l.listener
	l.mu.Unlock()
	listener.OnStateChange(s)
}

// Fail emits the terminal failure once, then tears the driver down.
func (l *Lifecycle) Fail(c FailureCategory, err error) bool {
	l.mu.Lock()
	if l.dead || !l.started {
		l.mu.Unlock()
		return false
	}
	l.dead = true
	if l.timer != nil {
		l.timer.Stop()
	}
	listener := l.listener
	teardown := l.teardown
	l.teardown = nil
	l.mu.Unlock()

	if teardown != nil {
		teardown()
	}
	listener.OnStateChange(StateDisconnected)
	listener.OnFailure(c, err)
	return true
}

// Close marks the driver dead without emitting a failure and runs teardown.
// It backs Disconnect and is idempotent.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	if l.dead {
		l.mu.Unlock()
		return
	}
	l.dead = true
	if l.timer != nil {
		l.timer.Stop()
	}
	teardown := l.teardown
	l.teardown = nil
	l.mu.Unlock()

	if teardown != nil {
		teardown()
	}
}

// IsReady reports whether media was delivered.
func (l *Lifecycle) IsReady() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

// IsDead reports whether the driver failed or was disconnected.
func (l *Lifecycle) IsDead() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dead
}
