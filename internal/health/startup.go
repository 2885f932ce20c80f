// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/nvrview/internal/config"
	"github.com/ManuGH/nvrview/internal/log"
	"github.com/ManuGH/nvrview/internal/nvr"
)

// probeTimeout bounds the NVR reachability probe.
const probeTimeout = 3 * time.Second

// PerformStartupChecks validates the environment before the engine starts.
// An unreachable NVR is only a warning; sessions retry on their own.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if err := checkListenAddr(logger, cfg.Server.ListenAddr); err != nil {
		return fmt.Errorf("listen address check failed: %w", err)
	}
	if err := checkNVR(ctx, logger, cfg.NVR); err != nil {
		logger.Warn().Err(err).
			Str(log.FieldBaseURL, log.MaskURL(cfg.NVR.BaseURL)).
			Msg("NVR not reachable yet")
	}
	checkTransports(logger, cfg.Transport)

	logger.Info().Msg("startup checks passed")
	return nil
}

func checkListenAddr(logger zerolog.Logger, addr string) error {
	if addr == "" {
		return nil
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid listen port %q in %q", port, addr)
	}
	logger.Debug().Str("addr", addr).Msg("listen address is valid")
	return nil
}

// checkNVR dials the NVR host and reports the token lifetime.
func checkNVR(ctx context.Context, logger zerolog.Logger, cfg config.NVRConfig) error {
	if cfg.Token != "" {
		if exp, ok := nvr.TokenExpiry(cfg.Token); ok && time.Until(exp) < 24*time.Hour {
			logger.Warn().Time("expires", exp).Msg("NVR token expires within a day")
		}
	}

	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid NVR URL: %w", err)
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return err
	}
	_ = conn.Close()
	logger.Info().Str(log.FieldBaseURL, log.MaskURL(cfg.BaseURL)).Msg("NVR is reachable")
	return nil
}

func checkTransports(logger zerolog.Logger, cfg config.TransportConfig) {
	if slices.Contains(cfg.Order, "peer") && len(cfg.ICEServers) == 0 {
		logger.Warn().Msg("peer transport enabled without ICE servers; only host candidates will be gathered")
	}
	if !slices.Contains(cfg.Order, "snapshot") && !slices.Contains(cfg.Order, "jpeg") {
		logger.Warn().Msg("snapshot transport not listed; sessions have no last resort")
	}
}
