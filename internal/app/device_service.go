package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/trimlightd/internal/config"
	"github.com/dokzlo13/trimlightd/internal/eventbus"
	"github.com/dokzlo13/trimlightd/internal/executor"
	"github.com/dokzlo13/trimlightd/internal/ledger"
	"github.com/dokzlo13/trimlightd/internal/policy"
	"github.com/dokzlo13/trimlightd/internal/presets"
	"github.com/dokzlo13/trimlightd/internal/reconcile"
	"github.com/dokzlo13/trimlightd/internal/snapshot"
	"github.com/dokzlo13/trimlightd/internal/storage"
	"github.com/dokzlo13/trimlightd/internal/trimlight"
)

// DeviceService wraps all device-related components: cloud client, poller,
// preset cache, worker, verifier and engine.
type DeviceService struct {
	cfg *config.Config

	Client   *trimlight.Client
	Policy   policy.CategoryPolicy
	Poller   *snapshot.Poller
	Presets  *presets.Cache
	Executor *executor.Executor
	Verifier *reconcile.Verifier
	Engine   *reconcile.Engine
	Bus      *eventbus.Bus

	script *policy.Script
}

// NewDeviceService creates a DeviceService with all components initialized
// but not connected.
func NewDeviceService(cfg *config.Config, store *storage.Store, journal *ledger.Ledger) (*DeviceService, error) {
	categories, script, err := newCategoryPolicy(cfg.Device)
	if err != nil {
		return nil, err
	}

	client := newClient(cfg.Trimlight)

	bus := eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	poller := snapshot.NewPoller(client, categories, bus, cfg.Poll.Interval.Duration())

	cache := presets.NewCache(
		storage.NewTypedStore[presets.Blob](store, presets.Kind),
		cfg.Trimlight.DeviceID,
	)
	bus.Subscribe(eventbus.EventTypeSnapshot, cache.HandleEvent)

	exec := executor.New(cfg.Executor.QueueSize)
	verifier := reconcile.NewVerifier(poller, cfg.Device.VerifyDelay.Duration(), journal)

	engine := reconcile.NewEngine(reconcile.Deps{
		Device:   client,
		State:    poller,
		Presets:  cache,
		Verifier: verifier,
		Deferrer: exec,
		Journal:  journal,
		Bus:      bus,
	}, reconcile.Options{
		ForcedOnGrace: cfg.Device.ForcedOnGrace.Duration(),
		ReapplyDelay:  cfg.Device.ReapplyDelay.Duration(),
		CommitPolicy:  commitPolicy(cfg.Device.CustomPresetPolicy),
	})

	return &DeviceService{
		cfg:      cfg,
		Client:   client,
		Policy:   categories,
		Poller:   poller,
		Presets:  cache,
		Executor: exec,
		Verifier: verifier,
		Engine:   engine,
		Bus:      bus,
		script:   script,
	}, nil
}

func newClient(cfg config.TrimlightConfig) *trimlight.Client {
	return trimlight.NewClient(
		cfg.BaseURL,
		trimlight.Credentials{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			DeviceID:     cfg.DeviceID,
		},
		cfg.Timeout.Duration(),
		cfg.RateLimitRPS,
	)
}

func newCategoryPolicy(cfg config.DeviceConfig) (policy.CategoryPolicy, *policy.Script, error) {
	if cfg.CategoryScript == "" {
		return policy.NewThreshold(cfg.BuiltinModeThreshold), nil, nil
	}
	script, err := policy.LoadScript(cfg.CategoryScript)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("script", cfg.CategoryScript).Msg("Using scripted category policy")
	return script, script, nil
}

func commitPolicy(name string) reconcile.CommitPolicy {
	if name == config.PolicyPreviewOnly {
		return reconcile.CommitPreviewOnly
	}
	return reconcile.CommitAlways
}

// Start restores the preset cache and performs the first poll. A failed
// first poll is not fatal: the poller keeps trying on its cadence.
func (s *DeviceService) Start(ctx context.Context) error {
	if err := s.Presets.Load(); err != nil {
		log.Warn().Err(err).Msg("Failed to load preset cache, starting empty")
	}

	snap, err := s.Poller.PollNow(ctx)
	if err != nil {
		log.Warn().Err(err).Str("device", s.Client.DeviceID()).Msg("Initial device poll failed")
		s.Presets.EnsureBuiltins(nil)
		return nil
	}

	s.Presets.EnsureBuiltins(snap.Effects)
	log.Info().
		Str("device", s.Client.DeviceID()).
		Int("builtins", len(s.Presets.Builtins())).
		Int("custom", len(snap.CustomEffects)).
		Msg("Connected to Trimlight cloud")
	return nil
}

// StartBackground starts the device worker and the poller.
func (s *DeviceService) StartBackground(ctx context.Context) {
	go s.Executor.Run(ctx)

	go func() {
		if err := s.Poller.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Poller error")
		}
	}()
}

// Ready reports whether at least one poll has succeeded.
func (s *DeviceService) Ready() bool {
	return !s.Poller.LastPoll().IsZero()
}

// Close releases all resources.
func (s *DeviceService) Close() {
	if s.Verifier != nil {
		s.Verifier.Stop()
	}
	if s.Executor != nil {
		s.Executor.Close()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		s.Bus.Close(ctx)
	}
	if s.Client != nil {
		if err := s.Client.Close(); err != nil {
			log.Debug().Err(err).Msg("Client close error")
		}
	}
	if s.script != nil {
		s.script.Close()
	}
}

// Check performs a single device detail request with the configured
// credentials and reports what the device answered.
func Check(ctx context.Context, cfg *config.Config) (*snapshot.Snapshot, error) {
	categories, script, err := newCategoryPolicy(cfg.Device)
	if err != nil {
		return nil, err
	}
	if script != nil {
		defer script.Close()
	}

	client := newClient(cfg.Trimlight)
	defer client.Close()

	return snapshot.NewPoller(client, categories, nil, cfg.Poll.Interval.Duration()).PollNow(ctx)
}
