package app

import (
	"context"
	"time"

	"github.com/dokzlo13/trimlightd/internal/config"
	"github.com/dokzlo13/trimlightd/internal/db"
	"github.com/dokzlo13/trimlightd/internal/ledger"
	"github.com/dokzlo13/trimlightd/internal/storage"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Store  *storage.Store

	// High-level services
	Device *DeviceService
	API    *APIService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Ledger = ledger.New(database.DB, cfg.Trimlight.DeviceID)
	s.Store = storage.NewStore(database.DB)

	s.Device, err = NewDeviceService(cfg, s.Store, s.Ledger)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.API = NewAPIService(cfg, s.Device)

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a service cannot keep running.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	if err := s.Device.Start(ctx); err != nil {
		return err
	}

	s.Device.StartBackground(ctx)
	s.API.Start(ctx, onFatalError)

	if s.cfg.Ledger.RetentionDays > 0 {
		retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
		go s.Ledger.RunCleanup(ctx, s.cfg.Ledger.CleanupInterval.Duration(), retention)
	}

	return nil
}

// ClearState forgets the persisted preset cache.
func (s *Services) ClearState() error {
	return s.Device.Presets.Reset()
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Device != nil {
		s.Device.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
