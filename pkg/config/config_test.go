package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultAttachRetryBudget, cfg.Attach.RetryBudget)
	assert.Equal(t, DefaultLeaderWeight, cfg.Leader.Weight)
	require.NotNil(t, cfg.Attach.AllowLeaderStart)
	assert.True(t, *cfg.Attach.AllowLeaderStart)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wisp.yaml")
	data := `
attach:
  retry_budget: 5
  allow_leader_start: false
leader:
  weight: 100
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Attach.RetryBudget)
	require.NotNil(t, cfg.Attach.AllowLeaderStart)
	assert.False(t, *cfg.Attach.AllowLeaderStart)
	assert.Equal(t, 100, cfg.Leader.Weight)

	// Everything the file does not name keeps its default.
	assert.Equal(t, DefaultAttachTimeoutSeconds, cfg.Attach.TimeoutSeconds)
	assert.Equal(t, DefaultHeartbeatPeriodSeconds, cfg.Leader.HeartbeatPeriodSeconds)
	assert.Equal(t, DefaultNetDataBudgetBytes, cfg.NetData.BudgetBytes)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wisp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("attach: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ZeroRetryBudget", func(c *Config) { c.Attach.RetryBudget = -1 }},
		{"BackoffMaxBelowBase", func(c *Config) { c.Attach.BackoffBaseSeconds = 60; c.Attach.BackoffMaxSeconds = 30 }},
		{"BadChannelMask", func(c *Config) { c.Scan.Channels = 1 << 5 }},
		{"WeightOutOfRange", func(c *Config) { c.Leader.Weight = 256 }},
		{"HeartbeatAboveTimeout", func(c *Config) { c.Leader.HeartbeatPeriodSeconds = 200 }},
		{"ZeroNeighbors", func(c *Config) { c.Registry.MaxNeighbors = -1 }},
		{"TinyNetDataBudget", func(c *Config) { c.NetData.BudgetBytes = 4 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()
	assert.Equal(t, float64(DefaultAttachTimeoutSeconds), cfg.AttachTimeout().Seconds())
	assert.Equal(t, float64(DefaultBackoffBaseSeconds), cfg.BackoffBase().Seconds())
	assert.Equal(t, float64(DefaultLeaderTimeoutSeconds), cfg.LeaderTimeout().Seconds())
	assert.Equal(t, float64(DefaultChildTimeoutSeconds), cfg.ChildTimeout().Seconds())
}
