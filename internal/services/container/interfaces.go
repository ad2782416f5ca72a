// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package container

import (
	"context"

	"github.com/stevedore-io/stevedore/internal/models"
	"github.com/stevedore-io/stevedore/internal/repository/postgres"
	"github.com/stevedore-io/stevedore/internal/services/volume"
)

// ContainerRepository defines persistence operations for containers.
type ContainerRepository interface {
	Create(ctx context.Context, c *models.Container) error
	Update(ctx context.Context, c *models.Container) error
	Get(ctx context.Context, id string) (*models.Container, error)
	GetByNameOrPrefix(ctx context.Context, ref string) (*models.Container, error)
	List(ctx context.Context, opts postgres.ListOptions) ([]*models.Container, error)
	Delete(ctx context.Context, id string) error
}

// ImageResolver resolves image references for container creation.
type ImageResolver interface {
	Resolve(ctx context.Context, ref string) (*models.Image, error)
}

// VolumeManager is the volume service surface the lifecycle manager uses.
type VolumeManager interface {
	Create(ctx context.Context, opts volume.CreateOptions) (*models.Volume, error)
	Remove(ctx context.Context, name string, force bool) error
	Retain(name string)
	Release(name string) int
	Restore(counts map[string]int)
}

// NetworkManager attaches and detaches container endpoints.
type NetworkManager interface {
	Get(ctx context.Context, ref string) (*models.Network, error)
	Connect(ctx context.Context, ref, containerID string) (*models.Endpoint, error)
	DisconnectAll(ctx context.Context, containerID string) error
}

// EventRecorder appends to the daemon event stream.
type EventRecorder interface {
	Append(ctx context.Context, ev *models.Event) error
}
