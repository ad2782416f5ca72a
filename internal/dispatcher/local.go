// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
	"github.com/stevedore-io/stevedore/internal/services/container"
)

// taskLabel marks containers the orchestrator owns.
const taskLabel = "io.stevedore.task.id"

// ContainerService is the container surface the local dispatcher drives.
type ContainerService interface {
	Create(ctx context.Context, opts container.CreateOptions) (*models.Container, error)
	Start(ctx context.Context, ref string) error
	Stop(ctx context.Context, ref string, timeout *time.Duration) error
	Remove(ctx context.Context, ref string, force, removeVolumes bool) error
}

// Local executes task assignments against the in-process container
// service. Single-node swarms and the worker agent both use it.
type Local struct {
	containers ContainerService
	logger     *logger.Logger
}

// NewLocal wires the in-process dispatcher.
func NewLocal(containers ContainerService, log *logger.Logger) *Local {
	if log == nil {
		log = logger.Nop()
	}
	return &Local{containers: containers, logger: log.Named("dispatcher")}
}

// Dispatch creates and starts the task's container. The container name
// follows the service.slot.task convention so `ps` output reads back to
// the owning service.
func (d *Local) Dispatch(ctx context.Context, task *models.Task, spec models.ServiceSpec) (string, error) {
	labels := make(map[string]string, len(spec.Labels)+1)
	for k, v := range spec.Labels {
		labels[k] = v
	}
	labels[taskLabel] = task.ID.String()

	c, err := d.containers.Create(ctx, container.CreateOptions{
		Name:      taskContainerName(spec.Name, task),
		Image:     spec.Image,
		Command:   spec.Command,
		Env:       spec.Env,
		Labels:    labels,
		Mounts:    spec.Mounts,
		ServiceID: task.ServiceID.String(),
		TaskID:    task.ID.String(),
	})
	if err != nil {
		return "", err
	}
	if err := d.containers.Start(ctx, c.ID); err != nil {
		// A created-but-unstartable container is garbage; sweep it so
		// the slot can be retried cleanly.
		if rerr := d.containers.Remove(ctx, c.ID, true, true); rerr != nil {
			d.logger.Warn("failed to clean up unstartable task container",
				"container", c.ShortID(), "error", rerr)
		}
		return "", err
	}
	d.logger.Debug("task dispatched", "task", task.ID, "container", c.ShortID())
	return c.ID, nil
}

// Shutdown stops and removes the task's container. A container already
// gone counts as success.
func (d *Local) Shutdown(ctx context.Context, task *models.Task) error {
	if task.ContainerID == "" {
		return nil
	}
	if err := d.containers.Stop(ctx, task.ContainerID, nil); err != nil && !apperrors.IsNotFound(err) {
		if !apperrors.IsConflict(err) { // already stopped
			return err
		}
	}
	if err := d.containers.Remove(ctx, task.ContainerID, true, true); err != nil && !apperrors.IsNotFound(err) {
		return err
	}
	d.logger.Debug("task shut down", "task", task.ID)
	return nil
}

// taskContainerName composes "<service>.<slot>.<task-prefix>"; global
// tasks use the node-unique task ID alone for the middle position.
func taskContainerName(service string, task *models.Task) string {
	short := task.ID.String()[:8]
	if task.Slot == 0 {
		return fmt.Sprintf("%s.%s", service, short)
	}
	return fmt.Sprintf("%s.%d.%s", service, task.Slot, short)
}
