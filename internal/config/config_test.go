package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
trimlight:
  client_id: id
  client_secret: secret
  device_id: dev
`))
	require.NoError(t, err)

	assert.Equal(t, "https://trimlight.ledhue.com/trimlight", cfg.Trimlight.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Trimlight.Timeout.Duration())
	assert.Equal(t, 10*time.Minute, cfg.Poll.Interval.Duration())
	assert.Equal(t, 20*time.Second, cfg.Device.ForcedOnGrace.Duration())
	assert.Equal(t, 5*time.Second, cfg.Device.VerifyDelay.Duration())
	assert.Equal(t, 800*time.Millisecond, cfg.Device.ReapplyDelay.Duration())
	assert.Equal(t, PolicyCommit, cfg.Device.CustomPresetPolicy)
	assert.Equal(t, 16, cfg.Device.BuiltinModeThreshold)
	assert.Equal(t, 30, cfg.Ledger.RetentionDays)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2, cfg.EventBus.GetWorkers())
	assert.NoError(t, cfg.Validate())
}

func TestParseExpandsEnv(t *testing.T) {
	t.Setenv("TRIMLIGHT_SECRET", "from-env")

	cfg, err := Parse([]byte(`
trimlight:
  client_id: ${TRIMLIGHT_CLIENT_ID:fallback-id}
  client_secret: ${TRIMLIGHT_SECRET}
  device_id: dev
device:
  custom_preset_policy: preview-only
  reapply_delay: 1s
`))
	require.NoError(t, err)

	assert.Equal(t, "fallback-id", cfg.Trimlight.ClientID)
	assert.Equal(t, "from-env", cfg.Trimlight.ClientSecret)
	assert.Equal(t, PolicyPreviewOnly, cfg.Device.CustomPresetPolicy)
	assert.Equal(t, time.Second, cfg.Device.ReapplyDelay.Duration())
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte("poll:\n  interval: soon\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Parse([]byte(`
device:
  custom_preset_policy: sometimes
`))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_id")
	assert.Contains(t, err.Error(), "client_secret")
	assert.Contains(t, err.Error(), "device_id")
	assert.Contains(t, err.Error(), `"sometimes"`)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TRIMLIGHTD_TEST_DEVICE=abc123\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TRIMLIGHTD_TEST_DEVICE") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "abc123", os.Getenv("TRIMLIGHTD_TEST_DEVICE"))

	assert.NoError(t, LoadEnvFile(filepath.Join(dir, "missing.env")))
	assert.NoError(t, LoadEnvFile(""))
}
