// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/stevedore-io/stevedore/internal/api"
)

// Config holds all daemon configuration.
type Config struct {
	DataRoot string         `mapstructure:"data_root"`
	Listen   ListenConfig   `mapstructure:"listen"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Swarm    SwarmConfig    `mapstructure:"swarm"`
	Registry RegistryConfig `mapstructure:"registry"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ListenConfig holds the daemon's API listeners.
type ListenConfig struct {
	// Socket is the unix socket path. Empty disables the unix listener.
	Socket string `mapstructure:"socket"`
	// TCP is an optional host:port listener.
	TCP string `mapstructure:"tcp"`
}

// StorageConfig selects and tunes the graph driver.
type StorageConfig struct {
	// Driver selects the graph driver. Empty means priority-ordered
	// auto-selection.
	Driver string `mapstructure:"driver"`
	// Opts are prefixed driver options (dm.*, overlay2.*, zfs.*,
	// btrfs.*). Unknown keys are fatal at startup.
	Opts []string `mapstructure:"opts"`
}

// DatabaseConfig holds the object-store connection.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// NATSConfig holds the task-dispatch transport. Empty URL keeps dispatch
// in-process (single-node mode).
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Token         string        `mapstructure:"token"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// EngineConfig tunes container and image engine behavior.
type EngineConfig struct {
	MaxConcurrentDownloads int           `mapstructure:"max_concurrent_downloads"`
	MaxConcurrentUploads   int           `mapstructure:"max_concurrent_uploads"`
	ShutdownTimeout        time.Duration `mapstructure:"shutdown_timeout"`
	// LiveRestore keeps containers running across daemon restarts
	// instead of restarting them per policy.
	LiveRestore bool `mapstructure:"live_restore"`
}

// SwarmConfig tunes the orchestrator.
type SwarmConfig struct {
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	TaskRetention     time.Duration `mapstructure:"task_retention"`
	EventRetention    time.Duration `mapstructure:"event_retention"`
}

// RegistryConfig points at the layer registry.
type RegistryConfig struct {
	URL string `mapstructure:"url"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoadConfig loads configuration from file, environment and flags. Flags
// bind over file values; setting the same key explicitly in both, with
// different values, is a fatal conflict so the operator never runs with a
// silently shadowed setting.
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("daemon")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/stevedore")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("STEVEDORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if flags != nil {
		if err := checkFlagConflicts(v, flags); err != nil {
			return nil, err
		}
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// checkFlagConflicts rejects keys set explicitly on both the command line
// and in the config file with different values.
func checkFlagConflicts(v *viper.Viper, flags *pflag.FlagSet) error {
	var conflicts []string
	flags.Visit(func(f *pflag.Flag) {
		if !v.InConfig(f.Name) {
			return
		}
		fileVal := fmt.Sprintf("%v", v.Get(f.Name))
		if fileVal != f.Value.String() {
			conflicts = append(conflicts, fmt.Sprintf(
				"%s (flag: %s, file: %s)", f.Name, f.Value.String(), fileVal))
		}
	})
	if len(conflicts) > 0 {
		return fmt.Errorf("conflicting values set from flag and config file: %s",
			strings.Join(conflicts, ", "))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_root", "/var/lib/stevedore")
	v.SetDefault("listen.socket", api.DefaultSocketPath)
	v.SetDefault("listen.tcp", "")

	v.SetDefault("storage.driver", "")
	v.SetDefault("storage.opts", []string{})

	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 20)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.conn_max_idle_time", "5m")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")

	v.SetDefault("engine.max_concurrent_downloads", 3)
	v.SetDefault("engine.max_concurrent_uploads", 5)
	v.SetDefault("engine.shutdown_timeout", "30s")
	v.SetDefault("engine.live_restore", false)

	v.SetDefault("swarm.reconcile_interval", "30s")
	v.SetDefault("swarm.task_retention", "24h")
	v.SetDefault("swarm.event_retention", "168h")

	v.SetDefault("registry.url", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate collects all configuration errors so the operator can fix them
// in one pass.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.URL == "" {
		errs = append(errs, "database.url is required")
	}
	if c.DataRoot == "" {
		errs = append(errs, "data_root must not be empty")
	}
	if c.Listen.Socket == "" && c.Listen.TCP == "" {
		errs = append(errs, "at least one of listen.socket and listen.tcp is required")
	}
	if c.Engine.MaxConcurrentDownloads < 1 {
		errs = append(errs, "engine.max_concurrent_downloads must be >= 1")
	}
	if c.Engine.MaxConcurrentUploads < 1 {
		errs = append(errs, "engine.max_concurrent_uploads must be >= 1")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug/info/warn/error", c.Logging.Level))
	}
	for _, opt := range c.Storage.Opts {
		if !strings.Contains(opt, "=") {
			errs = append(errs, fmt.Sprintf("storage.opts entry %q is not key=value", opt))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
