package main

import (
	"context"
	"flag"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dokzlo13/trimlightd/internal/app"
	"github.com/dokzlo13/trimlightd/internal/config"
)

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	envPath := flag.String("env", ".env", "Optional dotenv file loaded before the configuration")
	resetCache := flag.Bool("reset-cache", false, "Forget the persisted preset cache on startup")
	check := flag.Bool("check", false, "Query the device once and exit")
	flag.Parse()

	if err := config.LoadEnvFile(*envPath); err != nil {
		log.Fatal().Err(err).Str("env", *envPath).Msg("Failed to load env file")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	setupLogging(cfg.Log)

	if *check {
		os.Exit(runCheck(cfg))
	}

	log.Info().Str("config", configPath).Msg("Starting trimlightd")

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	if *resetCache {
		log.Info().Msg("Clearing preset cache (--reset-cache)")
		if err := application.ResetCache(); err != nil {
			log.Warn().Err(err).Msg("Failed to clear preset cache")
		}
	}

	// Create context that cancels on shutdown signal
	ctx := app.SignalContext()

	if err := application.Run(ctx); err != nil {
		_ = application.Stop()
		log.Fatal().Err(err).Msg("Application failed")
	}
}

func runCheck(cfg *config.Config) int {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Trimlight.Timeout.Duration()*2)
	defer cancel()

	snap, err := app.Check(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Device check failed")
		return 1
	}

	ev := log.Info().
		Str("device", snap.DeviceID).
		Int("effects", len(snap.Effects)).
		Int("custom", len(snap.CustomEffects))
	if snap.SwitchState != nil {
		ev = ev.Int("switch_state", *snap.SwitchState)
	}
	if snap.CurrentEffect.Name != "" {
		ev = ev.Str("current_effect", snap.CurrentEffect.Name)
	}
	ev.Msg("Device check passed")
	return 0
}

func setupLogging(cfg config.LogConfig) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stderr
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !cfg.Colors,
		}
	}

	if cfg.File != "" {
		// The file always gets JSON, whatever the console shows.
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		out = zerolog.MultiLevelWriter(out, file)
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	switch cfg.Level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
