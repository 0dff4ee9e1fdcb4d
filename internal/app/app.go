// Package app wires the daemon together and owns its lifecycle.
package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/trimlightd/internal/config"
)

// App owns the services of one daemon instance.
type App struct {
	cfg      *config.Config
	services *Services

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New builds every service without touching the network.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// Start polls the device once and launches the background services. A fatal
// service error cancels the app context, which ends Wait.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	onFatalError := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		a.cancel()
	}

	if err := a.services.Start(a.ctx, onFatalError); err != nil {
		a.cancel()
		return err
	}

	log.Info().
		Str("device", a.cfg.Trimlight.DeviceID).
		Str("policy", a.cfg.Device.CustomPresetPolicy).
		Bool("api", a.cfg.Server.Enabled).
		Msg("trimlightd started")
	return nil
}

// Wait blocks until the app context is cancelled.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// Stop cancels background work and releases every resource. It may be
// called more than once.
func (a *App) Stop() error {
	a.stopOnce.Do(func() {
		log.Info().Msg("Shutting down...")
		if a.cancel != nil {
			a.cancel()
		}
		a.services.Close()
	})
	return nil
}

// Run starts the app and blocks until ctx is done or a service fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	a.Wait()
	return a.Stop()
}

// ResetCache forgets the persisted preset cache.
// This is useful on startup with the --reset-cache flag.
func (a *App) ResetCache() error {
	return a.services.ClearState()
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() context.Context {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
		log.Warn().Msg("Received shutdown signal")
	}()
	return ctx
}
