// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/services/container"
)

type fakeContainerService struct {
	created   []container.CreateOptions
	started   []string
	stopped   []string
	removed   []string
	failStart bool
	nextID    int
}

func (f *fakeContainerService) Create(_ context.Context, opts container.CreateOptions) (*models.Container, error) {
	f.created = append(f.created, opts)
	f.nextID++
	return &models.Container{ID: models.GenerateID(), Name: opts.Name}, nil
}

func (f *fakeContainerService) Start(_ context.Context, ref string) error {
	if f.failStart {
		return apperrors.Internal("runtime start failed")
	}
	f.started = append(f.started, ref)
	return nil
}

func (f *fakeContainerService) Stop(_ context.Context, ref string, _ *time.Duration) error {
	f.stopped = append(f.stopped, ref)
	return nil
}

func (f *fakeContainerService) Remove(_ context.Context, ref string, _, _ bool) error {
	f.removed = append(f.removed, ref)
	return nil
}

func newTask(slot uint64) *models.Task {
	return &models.Task{
		ID:        uuid.New(),
		ServiceID: uuid.New(),
		NodeID:    uuid.New(),
		Slot:      slot,
	}
}

func TestDispatchCreatesAndStarts(t *testing.T) {
	fake := &fakeContainerService{}
	d := NewLocal(fake, nil)
	task := newTask(2)

	id, err := d.Dispatch(context.Background(), task, models.ServiceSpec{
		Name:  "web",
		Image: "nginx:latest",
		Env:   []string{"A=1"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if id == "" {
		t.Fatal("no container id returned")
	}
	if len(fake.created) != 1 || len(fake.started) != 1 {
		t.Fatalf("create/start counts: %d/%d", len(fake.created), len(fake.started))
	}

	opts := fake.created[0]
	wantName := "web.2." + task.ID.String()[:8]
	if opts.Name != wantName {
		t.Fatalf("container name %q, want %q", opts.Name, wantName)
	}
	if opts.TaskID != task.ID.String() || opts.ServiceID != task.ServiceID.String() {
		t.Fatalf("task identity not propagated: %+v", opts)
	}
	if opts.Labels[taskLabel] != task.ID.String() {
		t.Fatalf("task label missing: %v", opts.Labels)
	}
}

func TestDispatchCleansUpOnStartFailure(t *testing.T) {
	fake := &fakeContainerService{failStart: true}
	d := NewLocal(fake, nil)

	if _, err := d.Dispatch(context.Background(), newTask(1), models.ServiceSpec{
		Name: "web", Image: "nginx",
	}); err == nil {
		t.Fatal("want error from failed start")
	}
	if len(fake.removed) != 1 {
		t.Fatalf("unstartable container not removed: %v", fake.removed)
	}
}

func TestShutdownStopsAndRemoves(t *testing.T) {
	fake := &fakeContainerService{}
	d := NewLocal(fake, nil)
	task := newTask(1)
	task.ContainerID = "ctr-1"

	if err := d.Shutdown(context.Background(), task); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if len(fake.stopped) != 1 || fake.stopped[0] != "ctr-1" {
		t.Fatalf("stop calls: %v", fake.stopped)
	}
	if len(fake.removed) != 1 || fake.removed[0] != "ctr-1" {
		t.Fatalf("remove calls: %v", fake.removed)
	}

	// A task that never got a container is a no-op.
	if err := d.Shutdown(context.Background(), newTask(2)); err != nil {
		t.Fatalf("empty shutdown: %v", err)
	}
	if len(fake.stopped) != 1 {
		t.Fatal("no-op shutdown touched the container service")
	}
}

func TestGlobalTaskNameOmitsSlot(t *testing.T) {
	task := newTask(0)
	got := taskContainerName("agent", task)
	want := "agent." + task.ID.String()[:8]
	if got != want {
		t.Fatalf("name %q, want %q", got, want)
	}
}
