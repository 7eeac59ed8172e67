package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wisp-protocol/wisp-go/pkg/mesh"
	"github.com/wisp-protocol/wisp-go/pkg/scan"
)

// Defaults.
const (
	DefaultAttachRetryBudget    = 3
	DefaultAttachTimeoutSeconds = 12
	DefaultBackoffBaseSeconds   = 5
	DefaultBackoffMaxSeconds    = 120

	DefaultDwellMillis = 300

	DefaultPromotionMinLinkQuality = 2
	DefaultPromotionMinNeighbors   = 3

	DefaultLeaderWeight           = 64
	DefaultLeaderTimeoutSeconds   = 120
	DefaultHeartbeatPeriodSeconds = 30

	DefaultMaxNeighbors        = 32
	DefaultChildTimeoutSeconds = 240

	DefaultNetDataBudgetBytes = 254
)

// Config is the engine configuration.
type Config struct {
	Attach    AttachConfig    `yaml:"attach"`
	Scan      ScanConfig      `yaml:"scan"`
	Promotion PromotionConfig `yaml:"promotion"`
	Leader    LeaderConfig    `yaml:"leader"`
	Registry  RegistryConfig  `yaml:"registry"`
	NetData   NetDataConfig   `yaml:"netdata"`
}

// AttachConfig governs attach attempts and re-attach backoff.
type AttachConfig struct {
	// RetryBudget is the number of attach attempts before the node
	// considers forming its own partition.
	RetryBudget int `yaml:"retry_budget"`

	// TimeoutSeconds bounds one attach handshake.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// BackoffBaseSeconds is the initial re-scan backoff while detached.
	BackoffBaseSeconds int `yaml:"backoff_base_seconds"`

	// BackoffMaxSeconds bounds the exponential re-scan backoff.
	BackoffMaxSeconds int `yaml:"backoff_max_seconds"`

	// AllowLeaderStart permits forming a new one-node partition when no
	// eligible partition is found after the retry budget.
	AllowLeaderStart *bool `yaml:"allow_leader_start"`
}

// ScanConfig governs beacon scanning.
type ScanConfig struct {
	// Channels is the channel mask; zero scans all channels (11-26).
	Channels uint32 `yaml:"channels"`

	// DwellMillis is the per-channel dwell time.
	DwellMillis int `yaml:"dwell_millis"`
}

// PromotionConfig governs child-to-router promotion.
type PromotionConfig struct {
	// MinLinkQuality is the minimum parent link quality for promotion.
	MinLinkQuality int `yaml:"min_link_quality"`

	// MinNeighbors is the minimum neighbor count for promotion.
	MinNeighbors int `yaml:"min_neighbors"`
}

// LeaderConfig governs leadership and election.
type LeaderConfig struct {
	// Weight is the leader weight this node advertises.
	Weight int `yaml:"weight"`

	// TimeoutSeconds is how long routers wait without a leader
	// heartbeat before starting an election.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// HeartbeatPeriodSeconds is how often a leader advertises.
	HeartbeatPeriodSeconds int `yaml:"heartbeat_period_seconds"`
}

// RegistryConfig governs the neighbor table.
type RegistryConfig struct {
	// MaxNeighbors caps the neighbor table.
	MaxNeighbors int `yaml:"max_neighbors"`

	// ChildTimeoutSeconds is the child liveness timeout.
	ChildTimeoutSeconds int `yaml:"child_timeout_seconds"`
}

// NetDataConfig governs the network-data store.
type NetDataConfig struct {
	// BudgetBytes is the serialized-size budget.
	BudgetBytes int `yaml:"budget_bytes"`
}

// Default returns the default configuration.
func Default() Config {
	allowLeader := true
	return Config{
		Attach: AttachConfig{
			RetryBudget:        DefaultAttachRetryBudget,
			TimeoutSeconds:     DefaultAttachTimeoutSeconds,
			BackoffBaseSeconds: DefaultBackoffBaseSeconds,
			BackoffMaxSeconds:  DefaultBackoffMaxSeconds,
			AllowLeaderStart:   &allowLeader,
		},
		Scan: ScanConfig{
			Channels:    uint32(scan.AllChannels()),
			DwellMillis: DefaultDwellMillis,
		},
		Promotion: PromotionConfig{
			MinLinkQuality: DefaultPromotionMinLinkQuality,
			MinNeighbors:   DefaultPromotionMinNeighbors,
		},
		Leader: LeaderConfig{
			Weight:                 DefaultLeaderWeight,
			TimeoutSeconds:         DefaultLeaderTimeoutSeconds,
			HeartbeatPeriodSeconds: DefaultHeartbeatPeriodSeconds,
		},
		Registry: RegistryConfig{
			MaxNeighbors:        DefaultMaxNeighbors,
			ChildTimeoutSeconds: DefaultChildTimeoutSeconds,
		},
		NetData: NetDataConfig{
			BudgetBytes: DefaultNetDataBudgetBytes,
		},
	}
}

// Load reads a YAML configuration file, fills unset fields with
// defaults, and validates the result. A missing file yields Default().
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", mesh.ErrParse, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields with defaults so a partial
// file only overrides what it names.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Attach.RetryBudget == 0 {
		c.Attach.RetryBudget = def.Attach.RetryBudget
	}
	if c.Attach.TimeoutSeconds == 0 {
		c.Attach.TimeoutSeconds = def.Attach.TimeoutSeconds
	}
	if c.Attach.BackoffBaseSeconds == 0 {
		c.Attach.BackoffBaseSeconds = def.Attach.BackoffBaseSeconds
	}
	if c.Attach.BackoffMaxSeconds == 0 {
		c.Attach.BackoffMaxSeconds = def.Attach.BackoffMaxSeconds
	}
	if c.Attach.AllowLeaderStart == nil {
		c.Attach.AllowLeaderStart = def.Attach.AllowLeaderStart
	}
	if c.Scan.Channels == 0 {
		c.Scan.Channels = def.Scan.Channels
	}
	if c.Scan.DwellMillis == 0 {
		c.Scan.DwellMillis = def.Scan.DwellMillis
	}
	if c.Promotion.MinLinkQuality == 0 {
		c.Promotion.MinLinkQuality = def.Promotion.MinLinkQuality
	}
	if c.Promotion.MinNeighbors == 0 {
		c.Promotion.MinNeighbors = def.Promotion.MinNeighbors
	}
	if c.Leader.Weight == 0 {
		c.Leader.Weight = def.Leader.Weight
	}
	if c.Leader.TimeoutSeconds == 0 {
		c.Leader.TimeoutSeconds = def.Leader.TimeoutSeconds
	}
	if c.Leader.HeartbeatPeriodSeconds == 0 {
		c.Leader.HeartbeatPeriodSeconds = def.Leader.HeartbeatPeriodSeconds
	}
	if c.Registry.MaxNeighbors == 0 {
		c.Registry.MaxNeighbors = def.Registry.MaxNeighbors
	}
	if c.Registry.ChildTimeoutSeconds == 0 {
		c.Registry.ChildTimeoutSeconds = def.Registry.ChildTimeoutSeconds
	}
	if c.NetData.BudgetBytes == 0 {
		c.NetData.BudgetBytes = def.NetData.BudgetBytes
	}
}

// Validate rejects out-of-range values.
func (c *Config) Validate() error {
	if c.Attach.RetryBudget < 1 {
		return fmt.Errorf("%w: attach retry budget must be at least 1", mesh.ErrInvalidArgs)
	}
	if c.Attach.BackoffMaxSeconds < c.Attach.BackoffBaseSeconds {
		return fmt.Errorf("%w: backoff max below backoff base", mesh.ErrInvalidArgs)
	}
	if err := scan.ChannelMask(c.Scan.Channels).Validate(); err != nil {
		return err
	}
	if c.Leader.Weight < 1 || c.Leader.Weight > 255 {
		return fmt.Errorf("%w: leader weight %d out of range [1,255]", mesh.ErrInvalidArgs, c.Leader.Weight)
	}
	if c.Leader.HeartbeatPeriodSeconds >= c.Leader.TimeoutSeconds {
		return fmt.Errorf("%w: heartbeat period must be below the leader timeout", mesh.ErrInvalidArgs)
	}
	if c.Registry.MaxNeighbors < 1 {
		return fmt.Errorf("%w: max neighbors must be at least 1", mesh.ErrInvalidArgs)
	}
	if c.NetData.BudgetBytes < 16 {
		return fmt.Errorf("%w: network data budget %d too small", mesh.ErrInvalidArgs, c.NetData.BudgetBytes)
	}
	return nil
}

// AttachTimeout returns the attach handshake timeout.
func (c *Config) AttachTimeout() time.Duration {
	return time.Duration(c.Attach.TimeoutSeconds) * time.Second
}

// BackoffBase returns the initial re-scan backoff.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Attach.BackoffBaseSeconds) * time.Second
}

// BackoffMax returns the re-scan backoff bound.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Attach.BackoffMaxSeconds) * time.Second
}

// Dwell returns the per-channel scan dwell.
func (c *Config) Dwell() time.Duration {
	return time.Duration(c.Scan.DwellMillis) * time.Millisecond
}

// LeaderTimeout returns the leader-loss detection window.
func (c *Config) LeaderTimeout() time.Duration {
	return time.Duration(c.Leader.TimeoutSeconds) * time.Second
}

// HeartbeatPeriod returns the leader heartbeat period.
func (c *Config) HeartbeatPeriod() time.Duration {
	return time.Duration(c.Leader.HeartbeatPeriodSeconds) * time.Second
}

// ChildTimeout returns the child liveness timeout.
func (c *Config) ChildTimeout() time.Duration {
	return time.Duration(c.Registry.ChildTimeoutSeconds) * time.Second
}
