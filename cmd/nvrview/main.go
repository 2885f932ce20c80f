// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command nvrview keeps live and recorded camera streams open against an NVR,
// negotiating the best transport per camera and falling back when one fails.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ManuGH/nvrview/internal/config"
	"github.com/ManuGH/nvrview/internal/daemon"
	"github.com/ManuGH/nvrview/internal/engine"
	"github.com/ManuGH/nvrview/internal/events"
	"github.com/ManuGH/nvrview/internal/health"
	nvlog "github.com/ManuGH/nvrview/internal/log"
	"github.com/ManuGH/nvrview/internal/telemetry"
	"github.com/ManuGH/nvrview/internal/version"
)

// eventSocketMaxSilence is how long a lost event socket may stay down before
// readiness reports it.
const eventSocketMaxSilence = time.Minute

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	if err := run(strings.TrimSpace(*configPath)); err != nil {
		logger := nvlog.WithComponent("main")
		logger.Fatal().Err(err).Msg("nvrview stopped")
	}
}

func run(configPath string) error {
	// Safe defaults until config is loaded
	nvlog.Configure(nvlog.Config{
		Level:   "info",
		Service: "nvrview",
		Version: version.Version,
	})
	logger := nvlog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(configPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Error().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", configPath).
			Msg("failed to load configuration")
		return err
	}

	nvlog.Configure(nvlog.Config{
		Level:   cfg.LogLevel,
		Service: "nvrview",
		Version: cfg.Version,
	})
	source := "env+defaults"
	if configPath != "" {
		source = "file"
	}
	logger.Info().
		Str("event", "config.loaded").
		Str("source", source).
		Str(nvlog.FieldBaseURL, nvlog.MaskURL(cfg.NVR.BaseURL)).
		Int("cameras", len(cfg.Cameras)).
		Msg("loaded configuration")

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		return fmt.Errorf("startup checks: %w", err)
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "nvrview",
		ServiceVersion: cfg.Version,
		Environment:    config.ParseString(config.EnvPrefix+"ENVIRONMENT", "production"),
		Insecure:       cfg.Telemetry.Insecure,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	engineCfg, err := daemon.EngineConfig(cfg, nvlog.WithComponent("engine"), telemetry.Tracer("nvrview/engine"))
	if err != nil {
		return err
	}
	eng, err := engine.New(engineCfg)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	hm := health.NewManager(cfg.Version)
	hm.RegisterChecker(health.NewSessionChecker(eng))

	opts := daemon.AppOptions{Cameras: cfg.Cameras}
	if cfg.Events.Enabled {
		client := events.New(daemon.EventsConfig(cfg, nvlog.WithComponent("events")), daemon.ActivityHandler(eng))
		hm.RegisterChecker(health.NewLastSeenChecker("event_socket", eventSocketMaxSilence, client.LastSeen))
		opts.Events = client
	}
	if configPath != "" {
		opts.ConfigHolder = config.NewConfigHolder(cfg, loader, configPath)
	}

	mgr, err := daemon.NewManager(daemon.Deps{
		Logger:     nvlog.WithComponent("daemon"),
		ListenAddr: cfg.Server.ListenAddr,
		Handler: daemon.NewRouter(daemon.RouterConfig{
			Engine:    eng,
			Health:    hm,
			RateLimit: cfg.Server.RateLimit,
			Logger:    nvlog.WithComponent("api"),
		}),
	})
	if err != nil {
		_ = eng.Close(context.Background())
		return err
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("listen", cfg.Server.ListenAddr).
		Msg("nvrview starting")

	return daemon.NewApp(nvlog.WithComponent("app"), mgr, eng, opts).Run(ctx)
}
