package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cradle.yaml")
	data := `
backend: memory
instance: test
compression:
  message_threshold: 10
requests:
  max_parallel: 3
retry:
  max_attempts: 2
  min_backoff: 1ms
  max_backoff: 5ms
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Backend)
	assert.Equal(t, "test", cfg.Instance)
	assert.Equal(t, 10, cfg.Compression.MessageThreshold)
	assert.Equal(t, DefaultConfig().Compression.EventThreshold, cfg.Compression.EventThreshold)
	assert.Equal(t, 3, cfg.Requests.MaxParallel)
	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Millisecond, cfg.Retry.MaxBackoff)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CRADLE_BACKEND", "memory")
	t.Setenv("CRADLE_PORT", "9999")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Backend)
	assert.Equal(t, "9999", cfg.Server.Port)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "cassandra"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Requests.MaxParallel = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Retry.MinBackoff = time.Second
	cfg.Retry.MaxBackoff = time.Millisecond
	assert.Error(t, cfg.Validate())
}
