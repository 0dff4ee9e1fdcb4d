package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Trimlight       TrimlightConfig `yaml:"trimlight"`
	Poll            PollConfig      `yaml:"poll"`
	Device          DeviceConfig    `yaml:"device"`
	Database        DatabaseConfig  `yaml:"database"`
	Log             LogConfig       `yaml:"log"`
	Ledger          LedgerConfig    `yaml:"ledger"`
	Server          ServerConfig    `yaml:"server"`
	Executor        ExecutorConfig  `yaml:"executor"`
	EventBus        EventBusConfig  `yaml:"eventbus"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// TrimlightConfig contains cloud API credentials and transport settings
type TrimlightConfig struct {
	BaseURL      string   `yaml:"base_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	DeviceID     string   `yaml:"device_id"`
	Timeout      Duration `yaml:"timeout"`        // HTTP timeout per request (default: 10s)
	RateLimitRPS float64  `yaml:"rate_limit_rps"` // Outgoing request rate (default: 2)
}

// PollConfig contains device poll settings
type PollConfig struct {
	Interval Duration `yaml:"interval"` // Regular poll cadence (default: 10m)
}

// Custom preset commit policies
const (
	PolicyCommit      = "commit"
	PolicyPreviewOnly = "preview-only"
)

// DeviceConfig tunes how commands are reconciled with the device
type DeviceConfig struct {
	ForcedOnGrace        Duration `yaml:"forced_on_grace"`        // Local on/off wins over polls for this long (default: 20s)
	VerifyDelay          Duration `yaml:"verify_delay"`           // Poll this long after a command (default: 5s)
	CustomPresetPolicy   string   `yaml:"custom_preset_policy"`   // commit | preview-only (default: commit)
	ReapplyDelay         Duration `yaml:"reapply_delay"`          // Delay before commit/re-preview after power-on (default: 800ms, negative disables)
	BuiltinModeThreshold int      `yaml:"builtin_mode_threshold"` // Uncategorized modes above this are builtin (default: 16)
	CategoryScript       string   `yaml:"category_script"`        // Optional Lua file defining infer_category(effect)
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level      string `yaml:"level"`
	Colors     bool   `yaml:"colors"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`         // Optional log file, rotated
	MaxSizeMB  int    `yaml:"max_size_mb"`  // Rotate after this size (default: 10)
	MaxBackups int    `yaml:"max_backups"`  // Rotated files kept (default: 3)
	MaxAgeDays int    `yaml:"max_age_days"` // Rotated files kept this long (default: 28)
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// ExecutorConfig contains device worker settings
type ExecutorConfig struct {
	QueueSize int `yaml:"queue_size"` // Pending operations (default: 64)
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 2)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 2
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables already set are kept. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from YAML, expanding environment variables
// and applying defaults.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 3
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 28
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./trimlightd.sqlite"
	}

	// Trimlight defaults
	if cfg.Trimlight.BaseURL == "" {
		cfg.Trimlight.BaseURL = "https://trimlight.ledhue.com/trimlight"
	}
	if cfg.Trimlight.Timeout == 0 {
		cfg.Trimlight.Timeout = Duration(10 * time.Second)
	}
	if cfg.Trimlight.RateLimitRPS == 0 {
		cfg.Trimlight.RateLimitRPS = 2.0
	}

	// Poll defaults
	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = Duration(10 * time.Minute)
	}

	// Device defaults
	if cfg.Device.ForcedOnGrace == 0 {
		cfg.Device.ForcedOnGrace = Duration(20 * time.Second)
	}
	if cfg.Device.VerifyDelay == 0 {
		cfg.Device.VerifyDelay = Duration(5 * time.Second)
	}
	if cfg.Device.CustomPresetPolicy == "" {
		cfg.Device.CustomPresetPolicy = PolicyCommit
	}
	if cfg.Device.ReapplyDelay == 0 {
		cfg.Device.ReapplyDelay = Duration(800 * time.Millisecond)
	}
	if cfg.Device.BuiltinModeThreshold == 0 {
		cfg.Device.BuiltinModeThreshold = 16
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}

	if cfg.Executor.QueueSize == 0 {
		cfg.Executor.QueueSize = 64
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	return &cfg, nil
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Trimlight.ClientID == "" {
		errs = append(errs, errors.New("trimlight.client_id is required"))
	}
	if c.Trimlight.ClientSecret == "" {
		errs = append(errs, errors.New("trimlight.client_secret is required"))
	}
	if c.Trimlight.DeviceID == "" {
		errs = append(errs, errors.New("trimlight.device_id is required"))
	}
	switch c.Device.CustomPresetPolicy {
	case PolicyCommit, PolicyPreviewOnly:
	default:
		errs = append(errs, fmt.Errorf("device.custom_preset_policy: unknown value %q", c.Device.CustomPresetPolicy))
	}
	if c.Trimlight.RateLimitRPS < 0 {
		errs = append(errs, errors.New("trimlight.rate_limit_rps must not be negative"))
	}
	if c.Device.BuiltinModeThreshold < 0 {
		errs = append(errs, errors.New("device.builtin_mode_threshold must not be negative"))
	}
	return errors.Join(errs...)
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// ExpandEnvString expands a single string with environment variables
func ExpandEnvString(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return expandEnvVars(s)
	}
	return s
}
