// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config provides configuration management for nvrview.
package config

import "time"

// AppConfig is the effective configuration after defaults, file and
// environment have been merged.
type AppConfig struct {
	Version  string
	LogLevel string

	NVR       NVRConfig
	Transport TransportConfig
	Backoff   BackoffConfig
	Playback  PlaybackConfig
	Events    EventsConfig
	Server    ServerConfig
	Telemetry TelemetryConfig

	// Cameras are opened as sessions on startup.
	Cameras []string
}

// NVRConfig describes the NVR session. The token is never logged.
type NVRConfig struct {
	BaseURL     string
	Token       string
	HTTPTimeout time.Duration
}

// TransportConfig tunes transport arbitration and the drivers.
type TransportConfig struct {
	ConnectTimeout         time.Duration
	RetryBudget            int
	Order                  []string
	PeerIncompatibleCodecs []string
	ICEServers             []string
	SnapshotInterval       time.Duration
	Codecs                 string
	RelayAddr              string
}

// BackoffConfig is the reconnect policy shared by transports and the event socket.
type BackoffConfig struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// PlaybackConfig tunes recorded playback.
type PlaybackConfig struct {
	GapThreshold   time.Duration
	FetchTimeout   time.Duration
	LiveOnActivity bool
}

// EventsConfig toggles the NVR event socket.
type EventsConfig struct {
	Enabled bool
}

// ServerConfig configures the status server.
type ServerConfig struct {
	ListenAddr string
	// RateLimit is the number of requests per minute and client.
	RateLimit int
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Enabled      bool
	ExporterType string
	Endpoint     string
	Insecure     bool
	SamplingRate float64
}

// FileConfig is the YAML layout. Pointers distinguish unset from zero.
type FileConfig struct {
	LogLevel  string         `yaml:"logLevel,omitempty"`
	NVR       *FileNVR       `yaml:"nvr,omitempty"`
	Transport *FileTransport `yaml:"transport,omitempty"`
	Backoff   *FileBackoff   `yaml:"backoff,omitempty"`
	Playback  *FilePlayback  `yaml:"playback,omitempty"`
	Events    *FileEvents    `yaml:"events,omitempty"`
	Server    *FileServer    `yaml:"server,omitempty"`
	Telemetry *FileTelemetry `yaml:"telemetry,omitempty"`
	Cameras   []string       `yaml:"cameras,omitempty"`
}

type FileNVR struct {
	BaseURL     string `yaml:"baseUrl,omitempty"`
	Token       string `yaml:"token,omitempty"`
	HTTPTimeout string `yaml:"httpTimeout,omitempty"`
}

type FileTransport struct {
	ConnectTimeout         string   `yaml:"connectTimeout,omitempty"`
	RetryBudget            *int     `yaml:"retryBudget,omitempty"`
	Order                  []string `yaml:"order,omitempty"`
	PeerIncompatibleCodecs []string `yaml:"peerIncompatibleCodecs,omitempty"`
	ICEServers             []string `yaml:"iceServers,omitempty"`
	SnapshotInterval       string   `yaml:"snapshotInterval,omitempty"`
	Codecs                 string   `yaml:"codecs,omitempty"`
	RelayAddr              string   `yaml:"relayAddr,omitempty"`
}

type FileBackoff struct {
	Base        string `yaml:"base,omitempty"`
	Max         string `yaml:"max,omitempty"`
	MaxAttempts *int   `yaml:"maxAttempts,omitempty"`
}

type FilePlayback struct {
	GapThreshold   string `yaml:"gapThreshold,omitempty"`
	FetchTimeout   string `yaml:"fetchTimeout,omitempty"`
	LiveOnActivity *bool  `yaml:"liveOnActivity,omitempty"`
}

type FileEvents struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

type FileServer struct {
	ListenAddr string `yaml:"listenAddr,omitempty"`
	RateLimit  *int   `yaml:"rateLimit,omitempty"`
}

type FileTelemetry struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	ExporterType string   `yaml:"exporterType,omitempty"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	Insecure     *bool    `yaml:"insecure,omitempty"`
	SamplingRate *float64 `yaml:"samplingRate,omitempty"`
}
