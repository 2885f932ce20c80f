// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/nvrview/internal/config"
	"github.com/ManuGH/nvrview/internal/engine"
	"github.com/ManuGH/nvrview/internal/events"
)

// Engine is the stream engine as the daemon drives it.
type Engine interface {
	SessionAPI
	UpdateTunables(engine.Tunables)
	OnCameraActivity(camera string)
	Close(ctx context.Context) error
}

// EventSource is the NVR event socket.
type EventSource interface {
	Run(ctx context.Context) error
}

// ActivityHandler forwards the start of detection events to e.
func ActivityHandler(e Engine) events.Handler {
	return func(ev events.Event) {
		if ev.Type == events.TypeNew {
			e.OnCameraActivity(ev.Camera)
		}
	}
}

// App owns the long-lived runtime lifecycle (watchers, reload wiring, the
// event socket) and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	engine       Engine
	cfgHolder    *config.ConfigHolder
	events       EventSource
	cameras      []string
	reloadSignal os.Signal
	applyCh      chan config.AppConfig
}

// AppOptions are the optional parts of an App.
type AppOptions struct {
	ConfigHolder *config.ConfigHolder
	Events       EventSource
	// Cameras are opened when the app starts.
	Cameras []string
}

// NewApp creates a new App orchestrator.
// The reload listener is registered here so that a reload racing Run is
// buffered rather than dropped.
func NewApp(logger zerolog.Logger, manager Manager, e Engine, opts AppOptions) *App {
	a := &App{
		logger:       logger,
		manager:      manager,
		engine:       e,
		cfgHolder:    opts.ConfigHolder,
		events:       opts.Events,
		cameras:      opts.Cameras,
		reloadSignal: syscall.SIGHUP,
	}
	if a.cfgHolder != nil {
		a.applyCh = make(chan config.AppConfig, 1)
		a.cfgHolder.RegisterListener(a.applyCh)
	}
	return a
}

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}
	if a.engine == nil {
		return ErrMissingEngine
	}

	a.manager.RegisterShutdownHook("engine", a.engine.Close)
	if a.cfgHolder != nil {
		a.manager.RegisterShutdownHook("config-watcher", func(context.Context) error {
			a.cfgHolder.Stop()
			return nil
		})
	}

	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: startup should not fail if watcher cannot be started.
	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str("event", "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		a.runReloadListener(ctx, g)
		a.runReloadSignal(ctx, g)
	}

	if a.events != nil {
		g.Go(func() error {
			err := a.events.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Warn().
					Err(err).
					Str("event", "events.stopped").
					Msg("event socket stopped; camera activity will not switch sessions to live")
			}
			return nil
		})
	}

	for _, camera := range a.cameras {
		h, err := a.engine.OpenSession(ctx, camera)
		if err != nil {
			a.logger.Error().Err(err).
				Str("event", "session.open_failed").
				Str("camera", camera).
				Msg("failed to open configured camera")
			continue
		}
		a.logger.Info().
			Str("event", "session.opened").
			Str("camera", camera).
			Str("session_id", h.ID).
			Msg("opened configured camera")
	}

	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

// runReloadListener applies reloaded tunables to sessions opened afterwards.
func (a *App) runReloadListener(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case cfg := <-a.applyCh:
				tunables, err := Tunables(cfg)
				if err != nil {
					a.logger.Warn().Err(err).Str("event", "config.apply_failed").Msg("ignoring reloaded tunables")
					continue
				}
				a.engine.UpdateTunables(tunables)
				a.logger.Info().Str("event", "config.applied").Msg("tunables apply to new sessions")
			}
		}
	})
}

// runReloadSignal reloads the config file on SIGHUP.
func (a *App) runReloadSignal(ctx context.Context, g *errgroup.Group) {
	if a.reloadSignal == nil {
		return
	}
	g.Go(func() error {
		hupChan := make(chan os.Signal, 1)
		signal.Notify(hupChan, a.reloadSignal)
		defer signal.Stop(hupChan)

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hupChan:
				a.logger.Info().
					Str("event", "config.reload_signal").
					Str("signal", a.reloadSignal.String()).
					Msg("received reload signal, reloading config")

				if err := a.cfgHolder.Reload(context.Background()); err != nil {
					a.logger.Warn().
						Err(err).
						Str("event", "config.reload_failed").
						Msg("config reload failed")
				}
			}
		}
	})
}
