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
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Orchestrator.MaxConcurrentExecutions)
	assert.Equal(t, 10, cfg.Pipeline.MaxConcurrentAgents)
	assert.Equal(t, time.Second, cfg.Pipeline.SchedulerTick)
	assert.Equal(t, 0.5, cfg.Pipeline.ParallelSuccessThreshold)
	assert.Equal(t, 2, cfg.Pipeline.SequentialRetryWindow)
	assert.Equal(t, time.Second, cfg.Recovery.BaseDelay)
	assert.Equal(t, 2.0, cfg.Recovery.BackoffMultiplier)
	assert.Equal(t, 30*time.Second, cfg.Recovery.MaxDelay)
	assert.False(t, cfg.Sink.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "helmsman.yaml")
	content := `
orchestrator:
  max_concurrent_executions: 3
pipeline:
  max_concurrent_agents: 5
  scheduler_tick: 250ms
recovery:
  backoff_multiplier: 1.5
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Orchestrator.MaxConcurrentExecutions)
	assert.Equal(t, 5, cfg.Pipeline.MaxConcurrentAgents)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.SchedulerTick)
	assert.Equal(t, 1.5, cfg.Recovery.BackoffMultiplier)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched fields keep their defaults.
	assert.Equal(t, 0.5, cfg.Pipeline.ParallelSuccessThreshold)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/does/not/exist.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Pipeline.MaxConcurrentAgents)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HELMSMAN_PIPELINE_MAX_CONCURRENT_AGENTS", "42")
	t.Setenv("HELMSMAN_PIPELINE_SCHEDULER_TICK", "2s")
	t.Setenv("HELMSMAN_RECOVERY_RELAXED_MIN_SUCCESS_RATE", "0.75")
	t.Setenv("HELMSMAN_SINK_ENABLED", "true")
	t.Setenv("HELMSMAN_SINK_ADDR", "redis:6379")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.Pipeline.MaxConcurrentAgents)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.SchedulerTick)
	assert.Equal(t, 0.75, cfg.Recovery.RelaxedMinSuccessRate)
	assert.True(t, cfg.Sink.Enabled)
	assert.Equal(t, "redis:6379", cfg.Sink.Addr)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "helmsman.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  max_concurrent_agents: 5\n"), 0o600))
	t.Setenv("HELMSMAN_PIPELINE_MAX_CONCURRENT_AGENTS", "7")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Pipeline.MaxConcurrentAgents)
}

func TestInvalidEnvValue(t *testing.T) {
	t.Setenv("HELMSMAN_PIPELINE_MAX_CONCURRENT_AGENTS", "not-a-number")
	_, err := NewLoader().Load()
	require.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero agents", func(c *Config) { c.Pipeline.MaxConcurrentAgents = 0 }},
		{"zero tick", func(c *Config) { c.Pipeline.SchedulerTick = 0 }},
		{"threshold above one", func(c *Config) { c.Pipeline.ParallelSuccessThreshold = 1.5 }},
		{"zero executions", func(c *Config) { c.Orchestrator.MaxConcurrentExecutions = 0 }},
		{"shrinking backoff", func(c *Config) { c.Recovery.BackoffMultiplier = 0.5 }},
		{"precision floor out of range", func(c *Config) { c.Recovery.PrecisionFloor = 1.2 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCustomValidator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			return assert.AnError
		}).
		Load()
	require.Error(t, err)
}
