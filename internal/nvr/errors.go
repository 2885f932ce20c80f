// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package nvr

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrNotFound     = errors.New("nvr: resource not found")
	ErrUnauthorized = errors.New("nvr: unauthorized")
	ErrUpstream     = errors.New("nvr: upstream error")
	ErrBadResponse  = errors.New("nvr: invalid response format or malformed data")
	ErrNoBaseURL    = errors.New("nvr: base url not configured")
	ErrEmptySegment = errors.New("nvr: recording has no segments")
	ErrTokenExpired = errors.New("nvr: auth token expired")
)

// RequestError wraps a sentinel with request context.
type RequestError struct {
	Sentinel  error
	Operation string
	Status    int
	Err       error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("nvr: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *RequestError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Err}
}

func statusSentinel(status int) error {
	switch {
	case status == 404:
		return ErrNotFound
	case status == 401 || status == 403:
		return ErrUnauthorized
	default:
		return ErrUpstream
	}
}
