package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/trimlightd/internal/api"
	"github.com/dokzlo13/trimlightd/internal/config"
	"github.com/dokzlo13/trimlightd/internal/eventbus"
)

// APIService serves the HTTP API and the websocket state stream.
type APIService struct {
	cfg    *config.Config
	Hub    *api.Hub
	server *api.Server
}

// NewAPIService creates an APIService for the device. The hub is subscribed
// to snapshot and command events right away.
func NewAPIService(cfg *config.Config, device *DeviceService) *APIService {
	hub := api.NewHub(func() any { return device.Engine.View() })
	device.Bus.Subscribe(eventbus.EventTypeSnapshot, hub.HandleEvent)
	device.Bus.Subscribe(eventbus.EventTypeCommand, hub.HandleEvent)

	handler := api.NewHandler(device.Engine, device.Executor, hub, device.Ready)

	return &APIService{
		cfg:    cfg,
		Hub:    hub,
		server: api.NewServer(cfg.Server.Host, cfg.Server.Port, handler.Routes()),
	}
}

// Start begins serving if the server is enabled.
func (s *APIService) Start(ctx context.Context, onFatalError func(error)) {
	if !s.cfg.Server.Enabled {
		log.Info().Msg("API server disabled")
		return
	}

	go s.Hub.Run(ctx)

	go func() {
		if err := s.server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			log.Error().Err(err).Msg("API server error")
			if onFatalError != nil {
				onFatalError(err)
			}
		}
	}()
}
