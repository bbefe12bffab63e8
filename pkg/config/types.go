// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the coordination server's configuration tree:
// one root Config loaded from defaults, a YAML file, environment
// variables and CLI flags, in ascending priority.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the squawkd coordination server.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Logger      LoggerConfig      `yaml:"logger"`
	Lock        LockConfig        `yaml:"lock"`
	Checkpoint  CheckpointConfig  `yaml:"checkpoint"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Recovery    RecoveryConfig    `yaml:"recovery"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// SetDefaults applies defaults across the whole configuration tree.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Database.SetDefaults()
	c.Logger.SetDefaults()
	c.Lock.SetDefaults()
	c.Checkpoint.SetDefaults()
	c.Orchestrator.SetDefaults()
	c.Recovery.SetDefaults()
	c.Metrics.SetDefaults()
}

// Validate checks every sub-config and returns the first error found.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	if err := c.Lock.Validate(); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	if err := c.Checkpoint.Validate(); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	if err := c.Recovery.Validate(); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Port the HTTP API listens on.
	Port int `yaml:"port,omitempty"`

	// DataRoot is the base directory for the database file and checkpoints.
	DataRoot string `yaml:"data_root,omitempty"`

	// ShutdownGrace bounds how long in-flight requests are given to drain.
	ShutdownGrace time.Duration `yaml:"shutdown_grace,omitempty"`

	// RequestTimeout bounds every HTTP handler invocation.
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 3001
	}
	if c.DataRoot == "" {
		c.DataRoot = ".squawk"
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.DataRoot == "" {
		return fmt.Errorf("data_root is required")
	}
	return nil
}

// LockConfig configures the file-lock coordinator.
type LockConfig struct {
	// DefaultTimeout is used when a lock acquire request omits timeout_ms.
	DefaultTimeout time.Duration `yaml:"default_timeout,omitempty"`

	// SweepInterval is how often the expiry sweeper runs.
	SweepInterval time.Duration `yaml:"sweep_interval,omitempty"`

	// QueueInterval is how often the waiter-queue processor runs.
	QueueInterval time.Duration `yaml:"queue_interval,omitempty"`

	// ConflictRetention is how long denied-acquire conflict records are kept.
	ConflictRetention time.Duration `yaml:"conflict_retention,omitempty"`
}

func (c *LockConfig) SetDefaults() {
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = 30 * time.Minute
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.QueueInterval == 0 {
		c.QueueInterval = time.Second
	}
	if c.ConflictRetention == 0 {
		c.ConflictRetention = time.Hour
	}
}

func (c *LockConfig) Validate() error {
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("default_timeout must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	if c.QueueInterval <= 0 {
		return fmt.Errorf("queue_interval must be positive")
	}
	return nil
}

// CheckpointConfig configures the dual-persisted checkpoint service.
type CheckpointConfig struct {
	// RetentionMaxAge prunes checkpoints older than this.
	RetentionMaxAge time.Duration `yaml:"retention_max_age,omitempty"`

	// RetentionKeepPerMission always keeps this many of the most recent
	// checkpoints per mission regardless of age.
	RetentionKeepPerMission int `yaml:"retention_keep_per_mission,omitempty"`

	// PruneInterval is how often the daily retention sweep runs.
	PruneInterval time.Duration `yaml:"prune_interval,omitempty"`
}

func (c *CheckpointConfig) SetDefaults() {
	if c.RetentionMaxAge == 0 {
		c.RetentionMaxAge = 7 * 24 * time.Hour
	}
	if c.RetentionKeepPerMission == 0 {
		c.RetentionKeepPerMission = 3
	}
	if c.PruneInterval == 0 {
		c.PruneInterval = 24 * time.Hour
	}
}

func (c *CheckpointConfig) Validate() error {
	if c.RetentionKeepPerMission < 1 {
		return fmt.Errorf("retention_keep_per_mission must be at least 1")
	}
	if c.RetentionMaxAge <= 0 {
		return fmt.Errorf("retention_max_age must be positive")
	}
	return nil
}

// OrchestratorConfig configures the dispatch orchestrator.
type OrchestratorConfig struct {
	// HeartbeatTimeout marks a specialist failed if no report arrives within it.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout,omitempty"`

	// CheckpointInterval is the time-based trigger for progress checkpoints.
	CheckpointInterval time.Duration `yaml:"checkpoint_interval,omitempty"`

	// MonitorInterval is how often the monitor loop re-evaluates tracked specialists.
	MonitorInterval time.Duration `yaml:"monitor_interval,omitempty"`
}

func (c *OrchestratorConfig) SetDefaults() {
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 5 * time.Minute
	}
	if c.CheckpointInterval == 0 {
		c.CheckpointInterval = 60 * time.Second
	}
	if c.MonitorInterval == 0 {
		c.MonitorInterval = 5 * time.Second
	}
}

func (c *OrchestratorConfig) Validate() error {
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat_timeout must be positive")
	}
	if c.CheckpointInterval <= 0 {
		return fmt.Errorf("checkpoint_interval must be positive")
	}
	if c.MonitorInterval <= 0 {
		return fmt.Errorf("monitor_interval must be positive")
	}
	return nil
}

// RecoveryConfig configures stale-mission detection.
type RecoveryConfig struct {
	// ActivityThreshold is how long a mission may go without a new event
	// before it is considered stale.
	ActivityThreshold time.Duration `yaml:"activity_threshold,omitempty"`

	// ScanInterval is how often the stale-mission scanner runs.
	ScanInterval time.Duration `yaml:"scan_interval,omitempty"`
}

func (c *RecoveryConfig) SetDefaults() {
	if c.ActivityThreshold == 0 {
		c.ActivityThreshold = 5 * time.Minute
	}
	if c.ScanInterval == 0 {
		c.ScanInterval = time.Minute
	}
}

func (c *RecoveryConfig) Validate() error {
	if c.ActivityThreshold <= 0 {
		return fmt.Errorf("activity_threshold must be positive")
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("scan_interval must be positive")
	}
	return nil
}

// MetricsConfig configures the Prometheus metrics registry and endpoint.
type MetricsConfig struct {
	// Enabled turns metrics collection and the /metrics endpoint on.
	Enabled bool `yaml:"enabled,omitempty"`

	// Namespace prefixes every metric name (e.g. "squawk_locks_active").
	Namespace string `yaml:"namespace,omitempty"`
}

func (c *MetricsConfig) SetDefaults() {
	if c.Namespace == "" {
		c.Namespace = "squawk"
	}
}

func (c *MetricsConfig) Validate() error {
	if c.Enabled && c.Namespace == "" {
		return fmt.Errorf("namespace is required when metrics are enabled")
	}
	return nil
}
