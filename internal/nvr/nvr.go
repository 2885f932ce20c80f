// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package nvr holds the contracts of the collaborators the stream engine
// consumes (session/auth, camera metadata, recordings) and their HTTP
// implementations against the NVR REST API.
package nvr

import (
	"context"
	"time"
)

// AuthProvider exposes read-only session settings. The engine never logs in.
type AuthProvider interface {
	BaseURL() string
	// AuthToken returns the bearer token and whether one is set.
	AuthToken() (string, bool)
}

// StaticAuth is an AuthProvider backed by fixed values.
type StaticAuth struct {
	URL   string
	Token string
}

func (a StaticAuth) BaseURL() string { return a.URL }

func (a StaticAuth) AuthToken() (string, bool) {
	return a.Token, a.Token != ""
}

// Camera is the metadata the engine needs about one camera.
type Camera struct {
	Name string
	// Codec is the primary video codec ("h264", "h265", ...), empty when unknown.
	Codec string
	// Audio is the primary audio codec, empty when none.
	Audio string
}

// CameraProvider resolves camera metadata.
type CameraProvider interface {
	Camera(ctx context.Context, name string) (Camera, error)
}

// MediaLocator points at one playable recorded segment.
type MediaLocator struct {
	URL      string
	Start    time.Time
	End      time.Time
	Duration time.Duration
}

// SegmentFetcher resolves recorded segments. Only the locator is consumed.
type SegmentFetcher interface {
	FetchSegment(ctx context.Context, camera string, start, end time.Time) (MediaLocator, error)
}
