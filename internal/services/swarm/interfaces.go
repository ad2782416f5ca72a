// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package swarm

import (
	"context"

	"github.com/google/uuid"

	"github.com/stevedore-io/stevedore/internal/models"
)

// ServiceRepository defines persistence operations for services.
type ServiceRepository interface {
	Create(ctx context.Context, s *models.Service) error
	Update(ctx context.Context, s *models.Service) error
	Get(ctx context.Context, id uuid.UUID) (*models.Service, error)
	GetByName(ctx context.Context, name string) (*models.Service, error)
	List(ctx context.Context) ([]*models.Service, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// TaskRepository defines persistence operations for tasks.
type TaskRepository interface {
	Create(ctx context.Context, t *models.Task) error
	Update(ctx context.Context, t *models.Task) error
	Get(ctx context.Context, id uuid.UUID) (*models.Task, error)
	ListByService(ctx context.Context, serviceID uuid.UUID) ([]*models.Task, error)
	ListByNode(ctx context.Context, nodeID uuid.UUID) ([]*models.Task, error)
	ListActive(ctx context.Context) ([]*models.Task, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// NodeRepository defines persistence operations for cluster nodes.
type NodeRepository interface {
	Upsert(ctx context.Context, n *models.Node) error
	Get(ctx context.Context, id uuid.UUID) (*models.Node, error)
	List(ctx context.Context) ([]*models.Node, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Dispatcher delivers task work to the node that owns it: in-process in
// single-node mode, over NATS subjects to remote worker agents otherwise.
type Dispatcher interface {
	// Dispatch starts the task's container and returns its ID.
	Dispatch(ctx context.Context, task *models.Task, spec models.ServiceSpec) (string, error)

	// Shutdown stops the task's container.
	Shutdown(ctx context.Context, task *models.Task) error
}

// EventRecorder appends to the daemon event stream.
type EventRecorder interface {
	Append(ctx context.Context, ev *models.Event) error
}
