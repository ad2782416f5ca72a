// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "daemon.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfigFile(t, "database:\n  url: postgres://localhost/stevedore\n")

	cfg, err := LoadConfig(path, nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.DataRoot != "/var/lib/stevedore" {
		t.Errorf("DataRoot = %q, want /var/lib/stevedore", cfg.DataRoot)
	}
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("MaxOpenConns = %d, want 25", cfg.Database.MaxOpenConns)
	}
	if cfg.Database.ConnMaxLifetime != 30*time.Minute {
		t.Errorf("ConnMaxLifetime = %v, want 30m", cfg.Database.ConnMaxLifetime)
	}
	if cfg.Engine.MaxConcurrentDownloads != 3 {
		t.Errorf("MaxConcurrentDownloads = %d, want 3", cfg.Engine.MaxConcurrentDownloads)
	}
	if cfg.Swarm.ReconcileInterval != 30*time.Second {
		t.Errorf("ReconcileInterval = %v, want 30s", cfg.Swarm.ReconcileInterval)
	}
	if cfg.Swarm.EventRetention != 168*time.Hour {
		t.Errorf("EventRetention = %v, want 168h", cfg.Swarm.EventRetention)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want info/json", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v, want enabled at /metrics", cfg.Metrics)
	}
	if cfg.NATS.URL != "" {
		t.Errorf("NATS.URL = %q, want in-process dispatch by default", cfg.NATS.URL)
	}
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
database:
  url: postgres://localhost/stevedore
data_root: /srv/stevedore
storage:
  driver: overlay2
  opts:
    - overlay2.size=10G
engine:
  max_concurrent_downloads: 8
  live_restore: true
logging:
  level: debug
`)

	cfg, err := LoadConfig(path, nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DataRoot != "/srv/stevedore" {
		t.Errorf("DataRoot = %q", cfg.DataRoot)
	}
	if cfg.Storage.Driver != "overlay2" {
		t.Errorf("Storage.Driver = %q", cfg.Storage.Driver)
	}
	if len(cfg.Storage.Opts) != 1 || cfg.Storage.Opts[0] != "overlay2.size=10G" {
		t.Errorf("Storage.Opts = %v", cfg.Storage.Opts)
	}
	if cfg.Engine.MaxConcurrentDownloads != 8 {
		t.Errorf("MaxConcurrentDownloads = %d, want 8", cfg.Engine.MaxConcurrentDownloads)
	}
	if !cfg.Engine.LiveRestore {
		t.Error("LiveRestore not applied from file")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadConfigValidationCollectsAllErrors(t *testing.T) {
	path := writeConfigFile(t, `
data_root: ""
listen:
  socket: ""
  tcp: ""
engine:
  max_concurrent_downloads: 0
logging:
  level: loud
storage:
  opts:
    - not-a-pair
`)

	_, err := LoadConfig(path, nil)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"database.url is required",
		"data_root must not be empty",
		"listen.socket",
		"max_concurrent_downloads",
		`"loud"`,
		`"not-a-pair"`,
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "database: [unclosed\n")
	if _, err := LoadConfig(path, nil); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfigFlagFileConflict(t *testing.T) {
	path := writeConfigFile(t, `
database:
  url: postgres://localhost/stevedore
data_root: /srv/from-file
`)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("data_root", "/var/lib/stevedore", "")
	if err := flags.Parse([]string{"--data_root=/srv/from-flag"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	_, err := LoadConfig(path, flags)
	if err == nil {
		t.Fatal("expected conflict error")
	}
	if !strings.Contains(err.Error(), "data_root") {
		t.Errorf("conflict error does not name the key: %v", err)
	}
	if !strings.Contains(err.Error(), "/srv/from-flag") || !strings.Contains(err.Error(), "/srv/from-file") {
		t.Errorf("conflict error does not show both values: %v", err)
	}
}

func TestLoadConfigFlagMatchingFileValueIsNotAConflict(t *testing.T) {
	path := writeConfigFile(t, `
database:
  url: postgres://localhost/stevedore
data_root: /srv/agreed
`)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("data_root", "/var/lib/stevedore", "")
	if err := flags.Parse([]string{"--data_root=/srv/agreed"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := LoadConfig(path, flags)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DataRoot != "/srv/agreed" {
		t.Errorf("DataRoot = %q, want /srv/agreed", cfg.DataRoot)
	}
}

func TestLoadConfigFlagSetsValueAbsentFromFile(t *testing.T) {
	path := writeConfigFile(t, "database:\n  url: postgres://localhost/stevedore\n")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("storage.driver", "", "")
	if err := flags.Parse([]string{"--storage.driver=vfs"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := LoadConfig(path, flags)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Storage.Driver != "vfs" {
		t.Errorf("Storage.Driver = %q, want vfs", cfg.Storage.Driver)
	}
}

func baseTestConfig() *Config {
	return &Config{
		DataRoot: "/var/lib/stevedore",
		Listen:   ListenConfig{Socket: "/run/test.sock"},
		Database: DatabaseConfig{URL: "postgres://localhost/stevedore"},
		Engine: EngineConfig{
			MaxConcurrentDownloads: 3,
			MaxConcurrentUploads:   5,
			ShutdownTimeout:        30 * time.Second,
		},
		Swarm: SwarmConfig{
			ReconcileInterval: 30 * time.Second,
			TaskRetention:     24 * time.Hour,
			EventRetention:    168 * time.Hour,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func TestDiffConfigPartitionsReloadableAndFrozen(t *testing.T) {
	old := baseTestConfig()
	next := *old
	next.Logging.Level = "debug"
	next.Swarm.TaskRetention = 48 * time.Hour
	next.Database.URL = "postgres://elsewhere/stevedore"

	changed, frozen := diffConfig(old, &next)

	want := map[string]bool{"logging.level": true, "swarm.task_retention": true}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want keys %v", changed, want)
	}
	for _, key := range changed {
		if !want[key] {
			t.Errorf("unexpected reloadable key %q", key)
		}
	}
	if len(frozen) != 1 || frozen[0] != "database.url" {
		t.Errorf("frozen = %v, want [database.url]", frozen)
	}
}

func TestDiffConfigNoChanges(t *testing.T) {
	old := baseTestConfig()
	next := *old
	changed, frozen := diffConfig(old, &next)
	if len(changed) != 0 || len(frozen) != 0 {
		t.Errorf("changed = %v, frozen = %v, want empty", changed, frozen)
	}
}

func TestReloaderRejectsFrozenKeyChange(t *testing.T) {
	path := writeConfigFile(t, "database:\n  url: postgres://localhost/stevedore\n")

	initial, err := LoadConfig(path, nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	applied := false
	r := NewReloader(path, initial, func(old, new *Config) { applied = true }, nil)

	// Rewrite the file moving the object store: a frozen key.
	if err := os.WriteFile(path, []byte("database:\n  url: postgres://elsewhere/stevedore\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	r.reload()

	if applied {
		t.Error("apply ran despite frozen key change")
	}
	if r.current.Database.URL != "postgres://localhost/stevedore" {
		t.Errorf("running config mutated: %q", r.current.Database.URL)
	}
}

func TestReloaderAppliesReloadableChange(t *testing.T) {
	path := writeConfigFile(t, "database:\n  url: postgres://localhost/stevedore\nlogging:\n  level: info\n")

	initial, err := LoadConfig(path, nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	var gotLevel string
	r := NewReloader(path, initial, func(old, new *Config) { gotLevel = new.Logging.Level }, nil)

	if err := os.WriteFile(path, []byte("database:\n  url: postgres://localhost/stevedore\nlogging:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	r.reload()

	if gotLevel != "debug" {
		t.Errorf("apply got level %q, want debug", gotLevel)
	}
	if r.current.Logging.Level != "debug" {
		t.Errorf("running config level = %q, want debug", r.current.Logging.Level)
	}
}

func TestReloaderRejectsInvalidFile(t *testing.T) {
	path := writeConfigFile(t, "database:\n  url: postgres://localhost/stevedore\n")

	initial, err := LoadConfig(path, nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	applied := false
	r := NewReloader(path, initial, func(old, new *Config) { applied = true }, nil)

	if err := os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	r.reload()

	if applied {
		t.Error("apply ran despite invalid new config")
	}
}
