// Package config handles configuration loading for dispatch.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for dispatch.
type Config struct {
	DB        DBConfig        `mapstructure:"db"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Failover  FailoverConfig  `mapstructure:"failover"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Fleet     FleetConfig     `mapstructure:"fleet"`
}

// DBConfig holds persistence settings.
type DBConfig struct {
	// Path is the SQLite database location. Empty means the XDG default.
	Path string `mapstructure:"path"`
}

// HeartbeatConfig holds liveness thresholds and the supervisor cadence.
type HeartbeatConfig struct {
	// InfraThreshold is the sidecar pulse staleness threshold.
	InfraThreshold time.Duration `mapstructure:"infra_threshold"`
	// FunctionalThreshold is the task-claim pulse staleness threshold.
	FunctionalThreshold time.Duration `mapstructure:"functional_threshold"`
	// Window is the supervisor tick interval; one tick is one heartbeat window.
	Window time.Duration `mapstructure:"window"`
}

// FailoverConfig holds coordinator failover settings.
type FailoverConfig struct {
	// MissThreshold is the consecutive missed windows before failover.
	MissThreshold int `mapstructure:"miss_threshold"`
	// RecoveryWindows debounces recovery after the first healthy observation.
	RecoveryWindows int `mapstructure:"recovery_windows"`
}

// SchedulerConfig holds task lifecycle settings.
type SchedulerConfig struct {
	// MaxRetries bounds the failed -> pending retry cycle.
	MaxRetries int `mapstructure:"max_retries"`
	// OrphanGrace is how long an agent stays classified failed before its
	// in_progress tasks are force-released.
	OrphanGrace time.Duration `mapstructure:"orphan_grace"`
}

// FleetConfig points at the agent roster.
type FleetConfig struct {
	// RosterPath is the YAML file listing the configured agents.
	RosterPath string `mapstructure:"roster_path"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (DISPATCH_*)
// 2. Project config (.dispatch.yaml in current directory or a parent)
// 3. User config (~/.config/dispatch/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("DISPATCH")
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("db.path", "")

	v.SetDefault("heartbeat.infra_threshold", "120s")
	v.SetDefault("heartbeat.functional_threshold", "90s")
	v.SetDefault("heartbeat.window", "30s")

	v.SetDefault("failover.miss_threshold", 3)
	v.SetDefault("failover.recovery_windows", 1)

	v.SetDefault("scheduler.max_retries", 3)
	v.SetDefault("scheduler.orphan_grace", "60s")

	v.SetDefault("fleet.roster_path", "fleet.yaml")
}

// getUserConfigDir returns the XDG config directory for dispatch.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dispatch")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "dispatch")
	}
	return filepath.Join(home, ".config", "dispatch")
}

// findProjectConfig searches for .dispatch.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		candidate := filepath.Join(dir, ".dispatch.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
