// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

// Package scheduler runs the daemon's periodic maintenance jobs on cron
// schedules: reconciliation safety sync, task history reaping, event-log
// trimming, and the image GC sweep.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
	"github.com/stevedore-io/stevedore/internal/scheduler/workers"
)

// Config holds scheduler configuration.
type Config struct {
	// MaxJobDuration bounds a single worker run.
	MaxJobDuration time.Duration
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{MaxJobDuration: 10 * time.Minute}
}

// Scheduler owns the cron instance and the registered workers.
type Scheduler struct {
	config   *Config
	registry *workers.Registry
	cron     *cron.Cron
	logger   *logger.Logger

	mu           sync.Mutex
	running      bool
	entries      map[string]cron.EntryID
	lifecycleCtx context.Context
}

// New creates a scheduler.
func New(config *Config, log *logger.Logger) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{
		config:   config,
		registry: workers.NewRegistry(),
		cron: cron.New(
			cron.WithChain(cron.Recover(cron.DefaultLogger)),
		),
		logger:  log.Named("scheduler"),
		entries: make(map[string]cron.EntryID),
	}
}

// Registry returns the worker registry for registration.
func (s *Scheduler) Registry() *workers.Registry { return s.registry }

// Schedule registers a worker to run on a cron expression. The worker
// must already be in the registry.
func (s *Scheduler) Schedule(spec string, name string) error {
	w, ok := s.registry.Get(name)
	if !ok {
		return apperrors.Newf(apperrors.CodeBadRequest, "no worker registered with name %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, exists := s.entries[name]; exists {
		s.cron.Remove(id)
	}
	entryID, err := s.cron.AddFunc(spec, func() { s.runWorker(w) })
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeBadRequest, "invalid cron expression")
	}
	s.entries[name] = entryID
	s.logger.Debug("job scheduled", "worker", name, "schedule", spec)
	return nil
}

func (s *Scheduler) runWorker(w workers.Worker) {
	s.mu.Lock()
	parent := s.lifecycleCtx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, s.config.MaxJobDuration)
	defer cancel()

	start := time.Now()
	if err := w.Run(ctx); err != nil {
		s.logger.Error("job failed", "worker", w.Name(), "error", err,
			"elapsed", time.Since(start))
		return
	}
	s.logger.Debug("job complete", "worker", w.Name(), "elapsed", time.Since(start))
}

// RunNow executes a registered worker immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	w, ok := s.registry.Get(name)
	if !ok {
		return apperrors.NotFound("worker", name)
	}
	runCtx, cancel := context.WithTimeout(ctx, s.config.MaxJobDuration)
	defer cancel()
	return w.Run(runCtx)
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return apperrors.Conflict("scheduler already running")
	}
	s.running = true
	s.lifecycleCtx = ctx
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.entries))
	return nil
}

// Stop halts the cron loop and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn("scheduler shutdown timeout")
	}
	s.logger.Info("scheduler stopped")
}
