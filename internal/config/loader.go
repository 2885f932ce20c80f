// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults mirror the reference behaviour of the stream engine.
const (
	DefaultLogLevel         = "info"
	DefaultHTTPTimeout      = 10 * time.Second
	DefaultConnectTimeout   = 10 * time.Second
	DefaultRetryBudget      = 3
	DefaultSnapshotInterval = time.Second
	DefaultBackoffBase      = 2 * time.Second
	DefaultBackoffMax       = 30 * time.Second
	DefaultBackoffAttempts  = 10
	DefaultGapThreshold     = 10 * time.Second
	DefaultFetchTimeout     = 15 * time.Second
	DefaultListenAddr       = "127.0.0.1:9464"
	DefaultRateLimit        = 120
	DefaultRelayAddr        = "127.0.0.1:0"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{} // Mechanical tracking of consumed keys
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) track(key string) string {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return key
}

func (l *Loader) envString(key, def string) string { return ParseString(l.track(key), def) }
func (l *Loader) envBool(key string, def bool) bool { return ParseBool(l.track(key), def) }
func (l *Loader) envInt(key string, def int) int    { return ParseInt(l.track(key), def) }
func (l *Loader) envFloat(key string, def float64) float64 {
	return ParseFloat(l.track(key), def)
}
func (l *Loader) envDuration(key string, def time.Duration) time.Duration {
	return ParseDuration(l.track(key), def)
}
func (l *Loader) envList(key string, def []string) []string { return ParseList(l.track(key), def) }

// Load loads configuration with precedence: ENV > File > Defaults.
// The file is parsed strictly, then ENV is applied, then the result is validated.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFileConfig(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge file config: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Defaults returns the configuration used when nothing is set.
func Defaults() AppConfig {
	return AppConfig{
		LogLevel: DefaultLogLevel,
		NVR: NVRConfig{
			HTTPTimeout: DefaultHTTPTimeout,
		},
		Transport: TransportConfig{
			ConnectTimeout:         DefaultConnectTimeout,
			RetryBudget:            DefaultRetryBudget,
			Order:                  []string{"peer", "fmp4", "hls", "snapshot"},
			PeerIncompatibleCodecs: []string{"h265", "hevc"},
			SnapshotInterval:       DefaultSnapshotInterval,
			RelayAddr:              DefaultRelayAddr,
		},
		Backoff: BackoffConfig{
			Base:        DefaultBackoffBase,
			Max:         DefaultBackoffMax,
			MaxAttempts: DefaultBackoffAttempts,
		},
		Playback: PlaybackConfig{
			GapThreshold: DefaultGapThreshold,
			FetchTimeout: DefaultFetchTimeout,
		},
		Events: EventsConfig{Enabled: true},
		Server: ServerConfig{
			ListenAddr: DefaultListenAddr,
			RateLimit:  DefaultRateLimit,
		},
		Telemetry: TelemetryConfig{
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// loadFile loads configuration from a YAML file with STRICT parsing.
// Unknown fields will cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("%w: %s (only YAML supported)", ErrUnsupportedFormat, ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return parseFile(data)
}

func parseFile(data []byte) (*FileConfig, error) {
	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) && unknownField(typeErr) {
			return nil, fmt.Errorf("strict config parse error: %w: %w", ErrUnknownConfigField, err)
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fileCfg, nil
}

func unknownField(err *yaml.TypeError) bool {
	for _, msg := range err.Errors {
		if strings.Contains(msg, "field") && strings.Contains(msg, "not found") {
			return true
		}
	}
	return false
}

func mergeFileConfig(cfg *AppConfig, f *FileConfig) error {
	var errs []error
	dur := func(field, raw string, dst *time.Duration) {
		if raw == "" {
			return
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return
		}
		*dst = d
	}
	str := func(raw string, dst *string) {
		if raw != "" {
			*dst = raw
		}
	}

	str(f.LogLevel, &cfg.LogLevel)
	if len(f.Cameras) > 0 {
		cfg.Cameras = f.Cameras
	}
	if n := f.NVR; n != nil {
		str(n.BaseURL, &cfg.NVR.BaseURL)
		str(n.Token, &cfg.NVR.Token)
		dur("nvr.httpTimeout", n.HTTPTimeout, &cfg.NVR.HTTPTimeout)
	}
	if t := f.Transport; t != nil {
		dur("transport.connectTimeout", t.ConnectTimeout, &cfg.Transport.ConnectTimeout)
		dur("transport.snapshotInterval", t.SnapshotInterval, &cfg.Transport.SnapshotInterval)
		if t.RetryBudget != nil {
			cfg.Transport.RetryBudget = *t.RetryBudget
		}
		if t.Order != nil {
			cfg.Transport.Order = t.Order
		}
		if t.PeerIncompatibleCodecs != nil {
			cfg.Transport.PeerIncompatibleCodecs = t.PeerIncompatibleCodecs
		}
		if t.ICEServers != nil {
			cfg.Transport.ICEServers = t.ICEServers
		}
		str(t.Codecs, &cfg.Transport.Codecs)
		str(t.RelayAddr, &cfg.Transport.RelayAddr)
	}
	if b := f.Backoff; b != nil {
		dur("backoff.base", b.Base, &cfg.Backoff.Base)
		dur("backoff.max", b.Max, &cfg.Backoff.Max)
		if b.MaxAttempts != nil {
			cfg.Backoff.MaxAttempts = *b.MaxAttempts
		}
	}
	if p := f.Playback; p != nil {
		dur("playback.gapThreshold", p.GapThreshold, &cfg.Playback.GapThreshold)
		dur("playback.fetchTimeout", p.FetchTimeout, &cfg.Playback.FetchTimeout)
		if p.LiveOnActivity != nil {
			cfg.Playback.LiveOnActivity = *p.LiveOnActivity
		}
	}
	if e := f.Events; e != nil && e.Enabled != nil {
		cfg.Events.Enabled = *e.Enabled
	}
	if s := f.Server; s != nil {
		str(s.ListenAddr, &cfg.Server.ListenAddr)
		if s.RateLimit != nil {
			cfg.Server.RateLimit = *s.RateLimit
		}
	}
	if t := f.Telemetry; t != nil {
		if t.Enabled != nil {
			cfg.Telemetry.Enabled = *t.Enabled
		}
		str(t.ExporterType, &cfg.Telemetry.ExporterType)
		str(t.Endpoint, &cfg.Telemetry.Endpoint)
		if t.Insecure != nil {
			cfg.Telemetry.Insecure = *t.Insecure
		}
		if t.SamplingRate != nil {
			cfg.Telemetry.SamplingRate = *t.SamplingRate
		}
	}
	return errors.Join(errs...)
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.LogLevel = l.envString("LOG_LEVEL", cfg.LogLevel)
	cfg.Cameras = l.envList("CAMERAS", cfg.Cameras)

	cfg.NVR.BaseURL = l.envString("NVR_URL", cfg.NVR.BaseURL)
	cfg.NVR.Token = l.envString("NVR_TOKEN", cfg.NVR.Token)
	cfg.NVR.HTTPTimeout = l.envDuration("NVR_HTTP_TIMEOUT", cfg.NVR.HTTPTimeout)

	cfg.Transport.ConnectTimeout = l.envDuration("CONNECT_TIMEOUT", cfg.Transport.ConnectTimeout)
	cfg.Transport.RetryBudget = l.envInt("RETRY_BUDGET", cfg.Transport.RetryBudget)
	cfg.Transport.Order = l.envList("TRANSPORT_ORDER", cfg.Transport.Order)
	cfg.Transport.PeerIncompatibleCodecs = l.envList("PEER_INCOMPATIBLE_CODECS", cfg.Transport.PeerIncompatibleCodecs)
	cfg.Transport.ICEServers = l.envList("ICE_SERVERS", cfg.Transport.ICEServers)
	cfg.Transport.SnapshotInterval = l.envDuration("SNAPSHOT_INTERVAL", cfg.Transport.SnapshotInterval)
	cfg.Transport.Codecs = l.envString("MSE_CODECS", cfg.Transport.Codecs)
	cfg.Transport.RelayAddr = l.envString("RELAY_ADDR", cfg.Transport.RelayAddr)

	cfg.Backoff.Base = l.envDuration("BACKOFF_BASE", cfg.Backoff.Base)
	cfg.Backoff.Max = l.envDuration("BACKOFF_MAX", cfg.Backoff.Max)
	cfg.Backoff.MaxAttempts = l.envInt("BACKOFF_MAX_ATTEMPTS", cfg.Backoff.MaxAttempts)

	cfg.Playback.GapThreshold = l.envDuration("GAP_THRESHOLD", cfg.Playback.GapThreshold)
	cfg.Playback.FetchTimeout = l.envDuration("FETCH_TIMEOUT", cfg.Playback.FetchTimeout)
	cfg.Playback.LiveOnActivity = l.envBool("LIVE_ON_ACTIVITY", cfg.Playback.LiveOnActivity)

	cfg.Events.Enabled = l.envBool("EVENTS_ENABLED", cfg.Events.Enabled)

	cfg.Server.ListenAddr = l.envString("LISTEN_ADDR", cfg.Server.ListenAddr)
	cfg.Server.RateLimit = l.envInt("RATE_LIMIT", cfg.Server.RateLimit)

	cfg.Telemetry.Enabled = l.envBool("TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = l.envString("TELEMETRY_EXPORTER", cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = l.envString("TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.Insecure = l.envBool("TELEMETRY_INSECURE", cfg.Telemetry.Insecure)
	cfg.Telemetry.SamplingRate = l.envFloat("TELEMETRY_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
}
