package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "# empty\n"))
	require.NoError(t, err)

	assert.Equal(t, "opencode", cfg.Runtime.Kind)
	assert.Equal(t, "http://127.0.0.1:4096", cfg.Runtime.URL)
	assert.Equal(t, 2*time.Hour, cfg.Session.DirectInactivity)
	assert.Equal(t, 30*time.Minute, cfg.Session.ChannelInactivity)
	assert.Equal(t, 3, cfg.Pool.MaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.Pool.AcquireTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Pool.TaskTimeout)
	assert.Equal(t, time.Second, cfg.Streaming.MinInterval)
	assert.Equal(t, "memory", cfg.History.Backend)
	assert.Equal(t, 7*24*time.Hour, cfg.History.TTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
runtime:
  kind: anthropic
  model: claude-3-5-sonnet-20241022
session:
  direct_inactivity: 45m
pool:
  max_concurrent: 8
history:
  backend: redis
  redis_addr: redis.internal:6379
workflows:
  dir: /etc/agentrelay/workflows
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Runtime.Kind)
	assert.Equal(t, "claude-3-5-sonnet-20241022", cfg.Runtime.Model)
	assert.Equal(t, 45*time.Minute, cfg.Session.DirectInactivity)
	assert.Equal(t, 8, cfg.Pool.MaxConcurrent)
	assert.Equal(t, "redis", cfg.History.Backend)
	assert.Equal(t, "redis.internal:6379", cfg.History.RedisAddr)
	assert.Equal(t, "/etc/agentrelay/workflows", cfg.Workflows.Dir)

	// Unset keys keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Pool.AcquireTimeout)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("AGENTRELAY_RUNTIME_KIND", "openai")
	t.Setenv("AGENTRELAY_POOL_MAX_CONCURRENT", "10")
	t.Setenv("AGENTRELAY_SESSION_SWEEP_INTERVAL", "15s")

	path := writeConfig(t, "runtime:\n  kind: anthropic\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Runtime.Kind)
	assert.Equal(t, 10, cfg.Pool.MaxConcurrent)
	assert.Equal(t, 15*time.Second, cfg.Session.SweepInterval)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	_, err := Load(writeConfig(t, "runtime:\n  kind: bard\n"))
	assert.ErrorContains(t, err, "runtime.kind")

	_, err = Load(writeConfig(t, "history:\n  backend: dynamo\n"))
	assert.ErrorContains(t, err, "history.backend")

	_, err = Load(writeConfig(t, "pool:\n  max_concurrent: 0\n"))
	assert.ErrorContains(t, err, "pool.max_concurrent")
}
