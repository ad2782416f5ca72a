// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

// Package workers holds the scheduler's maintenance jobs.
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

// Worker is one schedulable maintenance job.
type Worker interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry maps worker names to implementations.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]Worker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]Worker)}
}

// Register adds or replaces a worker.
func (r *Registry) Register(w Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[w.Name()] = w
}

// Get looks up a worker by name.
func (r *Registry) Get(name string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[name]
	return w, ok
}

// Names returns all registered worker names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.workers))
	for name := range r.workers {
		out = append(out, name)
	}
	return out
}

// Dependencies holds the service surfaces the default workers consume.
type Dependencies struct {
	Reconciler     ReconcileTrigger
	TaskReaper     TaskReaper
	EventTrimmer   EventTrimmer
	ImagePruner    ImagePruner
	TaskRetention  time.Duration
	EventRetention time.Duration
	Logger         *logger.Logger
}

// RegisterDefaultWorkers wires the daemon's standing maintenance jobs.
// Workers whose dependency is absent are skipped.
func RegisterDefaultWorkers(registry *Registry, deps *Dependencies) {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}

	if deps.Reconciler != nil {
		registry.Register(NewReconcileSyncWorker(deps.Reconciler, log))
	}
	if deps.TaskReaper != nil {
		registry.Register(NewTaskReaperWorker(deps.TaskReaper, deps.TaskRetention, log))
	}
	if deps.EventTrimmer != nil {
		registry.Register(NewEventTrimWorker(deps.EventTrimmer, deps.EventRetention, log))
	}
	if deps.ImagePruner != nil {
		registry.Register(NewImageGCWorker(deps.ImagePruner, log))
	}
}
