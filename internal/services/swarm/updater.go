// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package swarm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

// Updater executes rolling updates: tasks carrying a stale spec version
// are replaced in batches of `parallelism`, with the configured delay
// between batches and a monitor window after each replacement. Rollback
// is the same machinery run against the restored previous spec.
type Updater struct {
	services ServiceRepository
	tasks    TaskRepository
	nodes    NodeRepository
	recon    *Reconciler
	logger   *logger.Logger

	// sleep is swapped in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewUpdater wires the rollout executor. The reconciler supplies the
// task start/stop transitions so both paths persist tasks identically.
func NewUpdater(services ServiceRepository, tasks TaskRepository, nodes NodeRepository,
	recon *Reconciler, log *logger.Logger) *Updater {
	if log == nil {
		log = logger.Nop()
	}
	return &Updater{
		services: services,
		tasks:    tasks,
		nodes:    nodes,
		recon:    recon,
		logger:   log.Named("updater"),
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run drives the rollout for a service whose spec was just bumped. It
// returns when the rollout completes, pauses, or finishes rolling back.
func (u *Updater) Run(ctx context.Context, serviceID uuid.UUID) error {
	svc, err := u.services.Get(ctx, serviceID)
	if err != nil {
		return err
	}
	return u.rollout(ctx, svc, svc.Spec.Update, false)
}

// rollout replaces every active task whose SpecVersion trails the
// service version, honoring cfg. rollingBack marks the symmetric pass
// run from a rollback.
func (u *Updater) rollout(ctx context.Context, svc *models.Service, cfg models.UpdateConfig, rollingBack bool) error {
	tasks, err := u.tasks.ListByService(ctx, svc.ID)
	if err != nil {
		return err
	}
	var stale []*models.Task
	for _, t := range tasks {
		if t.Active() && t.SpecVersion != svc.Version {
			stale = append(stale, t)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].Slot < stale[j].Slot })

	if len(stale) == 0 {
		return u.finish(ctx, svc, rollingBack, "")
	}

	allNodes, err := u.nodes.List(ctx)
	if err != nil {
		return err
	}
	eligible, err := eligibleNodes(allNodes, svc.Spec.Placement)
	if err != nil {
		return err
	}

	par := int(cfg.Parallelism)
	if par <= 0 {
		par = len(stale) // 0 means all at once
	}

	total := len(stale)
	failures := 0
	for start := 0; start < total; start += par {
		end := start + par
		if end > total {
			end = total
		}
		batch := stale[start:end]

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, old := range batch {
			wg.Add(1)
			go func(old *models.Task) {
				defer wg.Done()
				if rerr := u.replaceOne(ctx, svc, cfg, eligible, old); rerr != nil {
					mu.Lock()
					failures++
					mu.Unlock()
					u.logger.Warn("task replacement failed",
						"service", svc.Spec.Name, "slot", old.Slot, "error", rerr)
				}
			}(old)
		}
		wg.Wait()

		if exceeded(failures, total, cfg.MaxFailureRatio) {
			return u.onFailure(ctx, svc, cfg, rollingBack, failures, total)
		}

		if end < total {
			if err := u.sleep(ctx, cfg.Delay); err != nil {
				return err
			}
		}
	}
	return u.finish(ctx, svc, rollingBack, "")
}

func exceeded(failures, total int, maxRatio float64) bool {
	if failures == 0 || total == 0 {
		return false
	}
	return float64(failures)/float64(total) > maxRatio
}

// replaceOne swaps a single stale task for one at the current version.
// Order decides whether the old task survives until its replacement is
// up; the monitor window then has to pass without the new task failing.
func (u *Updater) replaceOne(ctx context.Context, svc *models.Service, cfg models.UpdateConfig,
	eligible []*models.Node, old *models.Task) error {

	switch cfg.Order {
	case models.OrderStartFirst:
		fresh, err := u.recon.startTask(ctx, svc, eligible, old.Slot, old.NodeID)
		if err != nil {
			return err
		}
		if err := u.recon.shutdownTask(ctx, old); err != nil {
			return err
		}
		return u.monitor(ctx, cfg, fresh)
	default: // stop-first
		if err := u.recon.shutdownTask(ctx, old); err != nil {
			return err
		}
		fresh, err := u.recon.startTask(ctx, svc, eligible, old.Slot, old.NodeID)
		if err != nil {
			return err
		}
		return u.monitor(ctx, cfg, fresh)
	}
}

// monitor waits cfg.Monitor and fails if the fresh task did not stay
// running.
func (u *Updater) monitor(ctx context.Context, cfg models.UpdateConfig, fresh *models.Task) error {
	if err := u.sleep(ctx, cfg.Monitor); err != nil {
		return err
	}
	cur, err := u.tasks.Get(ctx, fresh.ID)
	if err != nil {
		return err
	}
	if !cur.Running() {
		return apperrors.Newf(apperrors.CodeInternal,
			"task %s in state %s after monitor window", cur.ID, cur.CurrentState)
	}
	return nil
}

// onFailure applies the configured failure action once the ratio is
// exceeded.
func (u *Updater) onFailure(ctx context.Context, svc *models.Service, cfg models.UpdateConfig,
	rollingBack bool, failures, total int) error {

	msg := fmt.Sprintf("update paused: %d/%d task replacements failed", failures, total)
	u.logger.Warn("failure ratio exceeded",
		"service", svc.Spec.Name, "failures", failures, "total", total,
		"action", cfg.FailureAction)

	if rollingBack {
		// A failing rollback never cascades into another rollback.
		return u.setStatus(ctx, svc, models.UpdateStateRollbackPaused, msg)
	}

	switch cfg.FailureAction {
	case models.FailureActionContinue:
		return u.finish(ctx, svc, false,
			fmt.Sprintf("update completed with %d/%d failures", failures, total))
	case models.FailureActionRollback:
		return u.Rollback(ctx, svc.ID)
	default: // pause
		return u.setStatus(ctx, svc, models.UpdateStatePaused, msg)
	}
}

// Rollback restores the previous spec and rolls the service onto it
// using the rollback config.
func (u *Updater) Rollback(ctx context.Context, serviceID uuid.UUID) error {
	svc, err := u.services.Get(ctx, serviceID)
	if err != nil {
		return err
	}
	if svc.PreviousSpec == nil {
		return apperrors.Conflict(fmt.Sprintf(
			"service %s has no previous spec to roll back to", svc.Spec.Name))
	}

	prev := *svc.PreviousSpec
	svc.PreviousSpec = nil
	svc.Spec = prev
	svc.Version++
	now := u.recon.now().UTC()
	svc.UpdateStatus = models.UpdateStatus{
		State:     models.UpdateStateRollbackStarted,
		StartedAt: &now,
	}
	svc.UpdatedAt = now
	if err := u.services.Update(ctx, svc); err != nil {
		return err
	}
	return u.rollout(ctx, svc, svc.Spec.Rollback, true)
}

func (u *Updater) finish(ctx context.Context, svc *models.Service, rollingBack bool, msg string) error {
	state := models.UpdateStateCompleted
	if rollingBack {
		state = models.UpdateStateRolledBack
	}
	return u.setStatus(ctx, svc, state, msg)
}

func (u *Updater) setStatus(ctx context.Context, svc *models.Service, state models.UpdateState, msg string) error {
	cur, err := u.services.Get(ctx, svc.ID)
	if err != nil {
		return err
	}
	now := u.recon.now().UTC()
	cur.UpdateStatus.State = state
	cur.UpdateStatus.Message = msg
	if state == models.UpdateStateCompleted || state == models.UpdateStateRolledBack {
		cur.UpdateStatus.CompletedAt = &now
	}
	cur.UpdatedAt = now
	return u.services.Update(ctx, cur)
}
