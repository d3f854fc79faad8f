package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QUAYLINE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8085, cfg.Service.Port)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTimeout)
	assert.Equal(t, 4000, cfg.Sanitizer.MaxLength)
	assert.Equal(t, 0.6, cfg.Intent.ConfidenceThreshold)
	assert.Equal(t, 3, cfg.Executor.MaxRetries)
	assert.Equal(t, 5, cfg.LLM.MaxToolSteps)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Sanitizer.StrictMode)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quayline.yaml")
	data := []byte(`
service:
  port: 9000
session:
  idle_timeout: 5m
sanitizer:
  strict_mode: true
  max_length: 2000
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	t.Setenv("QUAYLINE_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Service.Port)
	assert.Equal(t, 5*time.Minute, cfg.Session.IdleTimeout)
	assert.True(t, cfg.Sanitizer.StrictMode)
	assert.Equal(t, 2000, cfg.Sanitizer.MaxLength)
	// untouched keys keep defaults
	assert.Equal(t, 2112, cfg.Service.MetricsPort)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("QUAYLINE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("QUAYLINE_SERVICE_PORT", "7001")
	t.Setenv("QUAYLINE_LOGGING_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.Service.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateRejectsBadBounds(t *testing.T) {
	t.Setenv("QUAYLINE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("QUAYLINE_SANITIZER_MAX_LENGTH", "1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_length")
}
