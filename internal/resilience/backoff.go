// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"errors"
	"time"
)

// ErrRetriesExhausted is reported once a BackoffState reaches its attempt cap.
var ErrRetriesExhausted = errors.New("retry attempts exhausted")

const (
	DefaultBaseDelay   = 2 * time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 10
)

// Policy describes a bounded linear backoff: delay = Base * failures, capped at Max.
type Policy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultPolicy returns the shared reconnect policy (2s base, 30s cap, 10 attempts).
func DefaultPolicy() Policy {
	return Policy{
		Base:        DefaultBaseDelay,
		Max:         DefaultMaxDelay,
		MaxAttempts: DefaultMaxAttempts,
	}
}

func (p Policy) normalized() Policy {
	if p.Base <= 0 {
		p.Base = DefaultBaseDelay
	}
	if p.Max <= 0 {
		p.Max = DefaultMaxDelay
	}
	if p.Max < p.Base {
		p.Max = p.Base
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	return p
}

// Delay returns the wait before the retry that follows the given number of
// consecutive failures. Zero failures means no wait.
func (p Policy) Delay(failures int) time.Duration {
	p = p.normalized()
	if failures <= 0 {
		return 0
	}
	// Guard the multiplication against overflow before capping.
	if failures > int(p.Max/p.Base)+1 {
		return p.Max
	}
	d := p.Base * time.Duration(failures)
	if d > p.Max {
		return p.Max
	}
	return d
}

// BackoffState tracks consecutive failures for one (session, transport) pair.
type BackoffState struct {
	policy    Policy
	failures  int
	nextDelay time.Duration
}

// NewBackoffState returns a state at baseline.
func NewBackoffState(p Policy) *BackoffState {
	return &BackoffState{policy: p.normalized()}
}

// Failure records one more consecutive failure and returns the delay before
// the next retry. ok is false once the attempt cap has been reached.
func (b *BackoffState) Failure() (delay time.Duration, ok bool) {
	b.failures++
	b.nextDelay = b.policy.Delay(b.failures)
	if b.failures >= b.policy.MaxAttempts {
		return b.nextDelay, false
	}
	return b.nextDelay, true
}

// Success resets the state to baseline.
func (b *BackoffState) Success() {
	b.failures = 0
	b.nextDelay = 0
}

// Failures returns the consecutive failure count.
func (b *BackoffState) Failures() int { return b.failures }

// NextDelay returns the delay computed by the last Failure call.
func (b *BackoffState) NextDelay() time.Duration { return b.nextDelay }

// Cap returns the maximum delay.
func (b *BackoffState) Cap() time.Duration { return b.policy.Max }

// Exhausted reports whether the attempt cap has been reached.
func (b *BackoffState) Exhausted() bool { return b.failures >= b.policy.MaxAttempts }
