// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package swarm

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/stevedore-io/stevedore/internal/models"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

// Reconciler drives observed task state toward every service's desired
// state. It runs as a single goroutine: ticks and explicit triggers both
// funnel into one reconcile pass, so passes never overlap.
type Reconciler struct {
	services   ServiceRepository
	tasks      TaskRepository
	nodes      NodeRepository
	dispatcher Dispatcher
	events     EventRecorder
	logger     *logger.Logger

	interval time.Duration
	trigger  chan struct{}
	now      func() time.Time
}

// NewReconciler wires the control loop. interval is the safety tick that
// catches drift between explicit triggers.
func NewReconciler(services ServiceRepository, tasks TaskRepository, nodes NodeRepository,
	dispatcher Dispatcher, events EventRecorder, interval time.Duration, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.Nop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reconciler{
		services:   services,
		tasks:      tasks,
		nodes:      nodes,
		dispatcher: dispatcher,
		events:     events,
		logger:     log.Named("reconciler"),
		interval:   interval,
		trigger:    make(chan struct{}, 1),
		now:        time.Now,
	}
}

// Trigger requests a reconcile pass. Non-blocking: a pending trigger
// absorbs further ones.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run loops until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.trigger:
		case <-ticker.C:
		}
		if err := r.ReconcileAll(ctx); err != nil {
			r.logger.Error("reconcile pass failed", "error", err)
		}
	}
}

// ReconcileAll reconciles every service once.
func (r *Reconciler) ReconcileAll(ctx context.Context) error {
	svcs, err := r.services.List(ctx)
	if err != nil {
		return err
	}
	for _, svc := range svcs {
		if svc.UpdateStatus.State == models.UpdateStateUpdating ||
			svc.UpdateStatus.State == models.UpdateStateRollbackStarted {
			// The updater owns this service's tasks until the rollout
			// settles.
			continue
		}
		if err := r.ReconcileService(ctx, svc); err != nil {
			r.logger.Error("reconcile failed", "service", svc.Spec.Name, "error", err)
		}
	}
	return nil
}

// ReconcileService converges one service: creates tasks for missing
// slots, shuts down excess or misplaced tasks, and replaces failed ones
// per the service restart policy.
func (r *Reconciler) ReconcileService(ctx context.Context, svc *models.Service) error {
	nodes, err := r.nodes.List(ctx)
	if err != nil {
		return err
	}
	eligible, err := eligibleNodes(nodes, svc.Spec.Placement)
	if err != nil {
		return err
	}
	tasks, err := r.tasks.ListByService(ctx, svc.ID)
	if err != nil {
		return err
	}

	if svc.Spec.Mode == models.ModeGlobal {
		return r.reconcileGlobal(ctx, svc, eligible, tasks)
	}
	return r.reconcileReplicated(ctx, svc, eligible, tasks)
}

// ============================================================================
// Replicated mode
// ============================================================================

func (r *Reconciler) reconcileReplicated(ctx context.Context, svc *models.Service,
	eligible []*models.Node, tasks []*models.Task) error {

	desired := svc.Spec.Replicas
	active := make(map[uint64]*models.Task) // slot -> active task
	for _, t := range tasks {
		if t.Active() {
			active[t.Slot] = t
		}
	}

	// Shut down excess slots, highest first, so a scale-down removes the
	// youngest replicas.
	var excess []*models.Task
	for slot, t := range active {
		if slot > desired {
			excess = append(excess, t)
		}
	}
	sort.Slice(excess, func(i, j int) bool { return excess[i].Slot > excess[j].Slot })
	for _, t := range excess {
		if err := r.shutdownTask(ctx, t); err != nil {
			return err
		}
		delete(active, t.Slot)
	}

	// Fill missing slots.
	for slot := uint64(1); slot <= desired; slot++ {
		if _, ok := active[slot]; ok {
			continue
		}
		if !r.shouldReplace(svc, tasks, slot) {
			continue
		}
		if _, err := r.startTask(ctx, svc, eligible, slot, uuid.Nil); err != nil {
			r.logger.Warn("task start failed",
				"service", svc.Spec.Name, "slot", slot, "error", err)
		}
	}
	return nil
}

// shouldReplace applies the service restart policy to an empty slot. The
// slot is filled unless a previous attempt failed and the policy forbids
// or exhausts replacement.
func (r *Reconciler) shouldReplace(svc *models.Service, tasks []*models.Task, slot uint64) bool {
	var history []*models.Task
	for _, t := range tasks {
		if t.Slot == slot && t.SpecVersion == svc.Version && t.CurrentState.Terminal() {
			history = append(history, t)
		}
	}
	if len(history) == 0 {
		return true // never attempted at this version
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].CreatedAt.Before(history[j].CreatedAt)
	})
	last := history[len(history)-1]

	policy := svc.Spec.RestartPolicy
	failed := last.CurrentState == models.TaskStateFailed || last.CurrentState == models.TaskStateRejected
	switch policy.Condition {
	case models.ServiceRestartNone:
		return false
	case models.ServiceRestartOnFailure:
		if !failed {
			return false
		}
	case models.ServiceRestartAny:
	default:
		// Unset condition behaves as "any".
	}

	if policy.MaxAttempts > 0 {
		cutoff := time.Time{}
		if policy.Window > 0 {
			cutoff = r.now().Add(-policy.Window)
		}
		attempts := 0
		for _, t := range history {
			if t.CreatedAt.After(cutoff) {
				attempts++
			}
		}
		if uint64(attempts) > policy.MaxAttempts {
			return false
		}
	}

	if policy.Delay > 0 && r.now().Sub(last.UpdatedAt) < policy.Delay {
		// Too soon; a later pass picks the slot up.
		return false
	}
	return true
}

// ============================================================================
// Global mode
// ============================================================================

func (r *Reconciler) reconcileGlobal(ctx context.Context, svc *models.Service,
	eligible []*models.Node, tasks []*models.Task) error {

	want := make(map[uuid.UUID]bool, len(eligible))
	for _, n := range eligible {
		want[n.ID] = true
	}

	covered := make(map[uuid.UUID]bool)
	for _, t := range tasks {
		if !t.Active() {
			continue
		}
		if !want[t.NodeID] {
			// Node left the eligible set (drained, constraint change).
			if err := r.shutdownTask(ctx, t); err != nil {
				return err
			}
			continue
		}
		covered[t.NodeID] = true
	}

	for _, n := range eligible {
		if covered[n.ID] {
			continue
		}
		if _, err := r.startTask(ctx, svc, []*models.Node{n}, 0, n.ID); err != nil {
			r.logger.Warn("global task start failed",
				"service", svc.Spec.Name, "node", n.Hostname, "error", err)
		}
	}
	return nil
}

// ============================================================================
// Task transitions
// ============================================================================

// startTask creates and dispatches one task. When pinned is non-nil the
// task is placed there; otherwise the scheduler picks from candidates.
func (r *Reconciler) startTask(ctx context.Context, svc *models.Service,
	candidates []*models.Node, slot uint64, pinned uuid.UUID) (*models.Task, error) {

	var nodeID uuid.UUID
	if pinned != uuid.Nil {
		nodeID = pinned
	} else {
		all, err := r.tasks.ListActive(ctx)
		if err != nil {
			return nil, err
		}
		node, err := pickNode(candidates, svc.Spec.Placement.Preferences, buildCensus(all, svc.ID))
		if err != nil {
			return nil, err
		}
		nodeID = node.ID
	}

	task := &models.Task{
		ID:           uuid.New(),
		ServiceID:    svc.ID,
		NodeID:       nodeID,
		Slot:         slot,
		DesiredState: models.TaskStateRunning,
		CurrentState: models.TaskStateNew,
		SpecVersion:  svc.Version,
		CreatedAt:    r.now().UTC(),
		UpdatedAt:    r.now().UTC(),
	}
	if err := r.tasks.Create(ctx, task); err != nil {
		return nil, err
	}

	task.CurrentState = models.TaskStateAssigned
	task.UpdatedAt = r.now().UTC()
	if err := r.tasks.Update(ctx, task); err != nil {
		return nil, err
	}

	containerID, err := r.dispatcher.Dispatch(ctx, task, svc.Spec)
	if err != nil {
		task.CurrentState = models.TaskStateFailed
		task.Err = err.Error()
		task.UpdatedAt = r.now().UTC()
		if uerr := r.tasks.Update(ctx, task); uerr != nil {
			return nil, uerr
		}
		r.emit(ctx, svc, task, "task failed")
		return task, err
	}

	task.ContainerID = containerID
	task.CurrentState = models.TaskStateRunning
	task.UpdatedAt = r.now().UTC()
	if err := r.tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	r.emit(ctx, svc, task, "task started")
	return task, nil
}

// shutdownTask stops a task's container and marks it shut down.
func (r *Reconciler) shutdownTask(ctx context.Context, t *models.Task) error {
	t.DesiredState = models.TaskStateShutdown
	t.UpdatedAt = r.now().UTC()
	if err := r.tasks.Update(ctx, t); err != nil {
		return err
	}
	if err := r.dispatcher.Shutdown(ctx, t); err != nil {
		r.logger.Warn("task shutdown failed", "task", t.ID, "error", err)
	}
	t.CurrentState = models.TaskStateShutdown
	t.UpdatedAt = r.now().UTC()
	return r.tasks.Update(ctx, t)
}

// MarkTaskExited records a container exit observed outside the loop and
// pokes the reconciler so the slot is refilled per policy.
func (r *Reconciler) MarkTaskExited(ctx context.Context, taskID uuid.UUID, exitCode int) error {
	t, err := r.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.CurrentState.Terminal() {
		return nil
	}
	if exitCode == 0 {
		t.CurrentState = models.TaskStateComplete
	} else {
		t.CurrentState = models.TaskStateFailed
	}
	t.UpdatedAt = r.now().UTC()
	if err := r.tasks.Update(ctx, t); err != nil {
		return err
	}
	r.Trigger()
	return nil
}

func (r *Reconciler) emit(ctx context.Context, svc *models.Service, t *models.Task, action string) {
	if r.events == nil {
		return
	}
	_ = r.events.Append(ctx, &models.Event{
		Type:   models.EventTypeService,
		Action: action,
		Actor:  svc.ID.String(),
		Attrs: map[string]string{
			"name":    svc.Spec.Name,
			"task_id": t.ID.String(),
			"node_id": t.NodeID.String(),
		},
		Time: r.now().UTC(),
	})
}
