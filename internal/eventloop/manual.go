// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package eventloop

import (
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic Queue driven explicitly by the caller. Time only
// moves when Advance is called. It is meant for tests and simulations.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	pending []func()
	timers  []*manualTimer
	seq     uint64
}

type manualTimer struct {
	at  time.Time
	seq uint64
	t   *Timer
	fn  func()
}

// NewManual returns a Manual queue whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Post enqueues fn; it runs on the next RunPending or Advance.
func (m *Manual) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	m.mu.Lock()
	m.pending = append(m.pending, fn)
	m.mu.Unlock()
	return true
}

// AfterFunc schedules fn relative to the manual clock.
func (m *Manual) AfterFunc(d time.Duration, fn func()) *Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &Timer{}
	m.timers = append(m.timers, &manualTimer{at: m.now.Add(d), seq: m.seq, t: t, fn: fn})
	return t
}

// Now returns the manual clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// RunPending executes queued tasks, including tasks they post, until the queue is empty.
// It returns the number of tasks executed.
func (m *Manual) RunPending() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.mu.Unlock()
			return n
		}
		fn := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()
		fn()
		n++
	}
}

// Advance moves the clock forward by d, firing due timers in deadline order and
// running every task they produce.
func (m *Manual) Advance(d time.Duration) {
	m.RunPending()
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		sort.SliceStable(m.timers, func(i, j int) bool {
			if m.timers[i].at.Equal(m.timers[j].at) {
				return m.timers[i].seq < m.timers[j].seq
			}
			return m.timers[i].at.Before(m.timers[j].at)
		})
		var next *manualTimer
		if len(m.timers) > 0 && !m.timers[0].at.After(target) {
			next = m.timers[0]
			m.timers = m.timers[1:]
			if next.at.After(m.now) {
				m.now = next.at
			}
		}
		m.mu.Unlock()

		if next == nil {
			break
		}
		if next.t.fire() {
			next.fn()
		}
		m.RunPending()
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
	m.RunPending()
}

// PendingTimers returns the number of timers that are still armed.
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, mt := range m.timers {
		if mt.t.Active() {
			n++
		}
	}
	return n
}
