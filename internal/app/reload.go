// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

// reloadableKeys are the only settings a live daemon accepts changes to.
// Everything else requires a restart; a reload touching a frozen key is
// rejected whole, leaving the running config untouched.
var reloadableKeys = map[string]bool{
	"logging.level":                   true,
	"engine.max_concurrent_downloads": true,
	"engine.max_concurrent_uploads":   true,
	"engine.shutdown_timeout":         true,
	"swarm.reconcile_interval":        true,
	"swarm.task_retention":            true,
	"swarm.event_retention":           true,
}

// ReloadFunc receives the validated new config after an accepted reload.
type ReloadFunc func(old, new *Config)

// Reloader watches the config file and SIGHUP, re-reads the file, and
// applies changes to reloadable keys atomically.
type Reloader struct {
	cfgFile string
	current *Config
	apply   ReloadFunc
	logger  *logger.Logger
}

// NewReloader creates a config reloader. cfgFile may be empty, in which
// case only SIGHUP triggers a re-read of the default search paths.
func NewReloader(cfgFile string, current *Config, apply ReloadFunc, log *logger.Logger) *Reloader {
	if log == nil {
		log = logger.Nop()
	}
	return &Reloader{
		cfgFile: cfgFile,
		current: current,
		apply:   apply,
		logger:  log.Named("reload"),
	}
}

// Run blocks until ctx is done, reacting to file writes and SIGHUP.
func (r *Reloader) Run(ctx context.Context) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var watchEvents chan fsnotify.Event
	if r.cfgFile != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create config watcher: %w", err)
		}
		defer watcher.Close()
		// Watch the directory, not the file: editors and configuration
		// management tools typically replace the file via rename.
		if err := watcher.Add(filepath.Dir(r.cfgFile)); err != nil {
			return fmt.Errorf("watch config dir: %w", err)
		}
		watchEvents = make(chan fsnotify.Event, 16)
		go func() {
			for ev := range watcher.Events {
				if ev.Name == r.cfgFile && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					select {
					case watchEvents <- ev:
					default:
					}
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-hup:
			r.logger.Info("SIGHUP received, reloading configuration")
			r.reload()
		case <-watchEvents:
			r.logger.Info("config file changed, reloading configuration")
			r.reload()
		}
	}
}

func (r *Reloader) reload() {
	next, err := LoadConfig(r.cfgFile, nil)
	if err != nil {
		r.logger.Error("reload rejected: new configuration is invalid", "error", err)
		return
	}

	changed, frozen := diffConfig(r.current, next)
	if len(frozen) > 0 {
		r.logger.Error("reload rejected: non-reloadable keys changed, running config unchanged",
			"keys", frozen)
		return
	}
	if len(changed) == 0 {
		r.logger.Info("reload: no changes")
		return
	}

	old := r.current
	r.current = next
	if r.apply != nil {
		r.apply(old, next)
	}
	r.logger.Info("configuration reloaded", "keys", changed)
}

// diffConfig compares two configs key by key, partitioning changed keys
// into reloadable and frozen sets.
func diffConfig(old, next *Config) (changed, frozen []string) {
	for key, eq := range map[string]bool{
		"data_root":                       old.DataRoot == next.DataRoot,
		"listen.socket":                   old.Listen.Socket == next.Listen.Socket,
		"listen.tcp":                      old.Listen.TCP == next.Listen.TCP,
		"storage.driver":                  old.Storage.Driver == next.Storage.Driver,
		"storage.opts":                    reflect.DeepEqual(old.Storage.Opts, next.Storage.Opts),
		"database.url":                    old.Database.URL == next.Database.URL,
		"nats.url":                        old.NATS.URL == next.NATS.URL,
		"engine.max_concurrent_downloads": old.Engine.MaxConcurrentDownloads == next.Engine.MaxConcurrentDownloads,
		"engine.max_concurrent_uploads":   old.Engine.MaxConcurrentUploads == next.Engine.MaxConcurrentUploads,
		"engine.shutdown_timeout":         old.Engine.ShutdownTimeout == next.Engine.ShutdownTimeout,
		"engine.live_restore":             old.Engine.LiveRestore == next.Engine.LiveRestore,
		"swarm.reconcile_interval":        old.Swarm.ReconcileInterval == next.Swarm.ReconcileInterval,
		"swarm.task_retention":            old.Swarm.TaskRetention == next.Swarm.TaskRetention,
		"swarm.event_retention":           old.Swarm.EventRetention == next.Swarm.EventRetention,
		"registry.url":                    old.Registry.URL == next.Registry.URL,
		"logging.level":                   old.Logging.Level == next.Logging.Level,
		"logging.format":                  old.Logging.Format == next.Logging.Format,
		"metrics.enabled":                 old.Metrics.Enabled == next.Metrics.Enabled,
		"metrics.path":                    old.Metrics.Path == next.Metrics.Path,
	} {
		if eq {
			continue
		}
		if reloadableKeys[key] {
			changed = append(changed, key)
		} else {
			frozen = append(frozen, key)
		}
	}
	return changed, frozen
}
