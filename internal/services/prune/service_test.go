// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package prune

import (
	"context"
	"testing"
	"time"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/filters"
	"github.com/stevedore-io/stevedore/internal/services/image"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeContainers struct {
	containers []*models.Container
	removed    []string
}

func (f *fakeContainers) List(_ context.Context, _ filters.Args, _ bool) ([]*models.Container, error) {
	return f.containers, nil
}

func (f *fakeContainers) Remove(_ context.Context, ref string, _, _ bool) error {
	for i, c := range f.containers {
		if c.ID == ref {
			f.containers = append(f.containers[:i], f.containers[i+1:]...)
			f.removed = append(f.removed, ref)
			return nil
		}
	}
	return apperrors.NotFound("container", ref)
}

type fakeImages struct {
	images  map[string]*models.Image
	removed []string
}

func (f *fakeImages) List(_ context.Context, args filters.Args) ([]*models.Image, error) {
	var out []*models.Image
	for _, img := range f.images {
		if args.Match("dangling", "true") && img.IsTagged() {
			continue
		}
		out = append(out, img)
	}
	return out, nil
}

func (f *fakeImages) Remove(_ context.Context, ref string, _ bool) (*image.RemoveResult, error) {
	img, ok := f.images[ref]
	if !ok {
		return nil, apperrors.NotFound("image", ref)
	}
	// Refuse while a child in the store still points at this image,
	// mirroring the real dependency check.
	for _, other := range f.images {
		if other.ParentID == ref {
			return nil, apperrors.Conflict("image has dependent child images")
		}
	}
	delete(f.images, ref)
	f.removed = append(f.removed, ref)
	return &image.RemoveResult{Untagged: img.RepoTags, Deleted: []string{ref}}, nil
}

type fakeVolumes struct {
	volumes []*models.Volume
	removed []string
}

func (f *fakeVolumes) List(_ context.Context, _ filters.Args) ([]*models.Volume, error) {
	return f.volumes, nil
}

func (f *fakeVolumes) Remove(_ context.Context, name string, _ bool) error {
	for i, v := range f.volumes {
		if v.Name == name {
			f.volumes = append(f.volumes[:i], f.volumes[i+1:]...)
			f.removed = append(f.removed, name)
			return nil
		}
	}
	return apperrors.NotFound("volume", name)
}

type fakeNetworks struct {
	networks []*models.Network
	removed  []string
}

func (f *fakeNetworks) List(_ context.Context, _ filters.Args) ([]*models.Network, error) {
	return f.networks, nil
}

func (f *fakeNetworks) Remove(_ context.Context, ref string) error {
	for i, n := range f.networks {
		if n.ID == ref {
			f.networks = append(f.networks[:i], f.networks[i+1:]...)
			f.removed = append(f.removed, ref)
			return nil
		}
	}
	return apperrors.NotFound("network", ref)
}

type harness struct {
	svc        *Service
	containers *fakeContainers
	images     *fakeImages
	volumes    *fakeVolumes
	networks   *fakeNetworks
	now        time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		containers: &fakeContainers{},
		images:     &fakeImages{images: make(map[string]*models.Image)},
		volumes:    &fakeVolumes{},
		networks:   &fakeNetworks{},
		now:        time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	h.svc = NewService(h.containers, h.images, h.volumes, h.networks, nil)
	h.svc.now = func() time.Time { return h.now }
	return h
}

func untilArgs(value string) filters.Args {
	args := filters.NewArgs()
	args.Add("until", value)
	return args
}

// ============================================================================
// Containers
// ============================================================================

func TestContainerPruneRemovesOnlyStopped(t *testing.T) {
	h := newHarness(t)
	h.containers.containers = []*models.Container{
		{ID: "run1", State: models.StateRunning, CreatedAt: h.now.Add(-time.Hour)},
		{ID: "exit1", State: models.StateExited, CreatedAt: h.now.Add(-time.Hour)},
		{ID: "created1", State: models.StateCreated, CreatedAt: h.now.Add(-time.Hour)},
		{ID: "paused1", State: models.StatePaused, CreatedAt: h.now.Add(-time.Hour)},
	}

	report, err := h.svc.Containers(context.Background(), filters.NewArgs())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(report.Deleted) != 2 {
		t.Fatalf("want 2 deleted, got %v", report.Deleted)
	}
	for _, c := range h.containers.containers {
		if c.ID == "exit1" || c.ID == "created1" {
			t.Fatalf("%s not removed", c.ID)
		}
	}
}

func TestUntilCutoffStrictlyExcludesNewer(t *testing.T) {
	h := newHarness(t)
	cutoff := h.now.Add(-5 * time.Minute)
	h.containers.containers = []*models.Container{
		{ID: "old", State: models.StateExited, CreatedAt: cutoff.Add(-time.Second)},
		{ID: "at-cutoff", State: models.StateExited, CreatedAt: cutoff},
		{ID: "young", State: models.StateExited, CreatedAt: cutoff.Add(time.Second)},
	}

	report, err := h.svc.Containers(context.Background(), untilArgs("5m"))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(report.Deleted) != 1 || report.Deleted[0] != "old" {
		t.Fatalf("cutoff not strict: deleted %v", report.Deleted)
	}
}

func TestPruneRejectsUnknownFilter(t *testing.T) {
	h := newHarness(t)
	args := filters.NewArgs()
	args.Add("dangling", "true")
	if _, err := h.svc.Containers(context.Background(), args); err == nil ||
		apperrors.CodeOf(err) != apperrors.CodeBadRequest {
		t.Fatalf("want BAD_REQUEST, got %v", err)
	}
}

func TestLabelFilterNarrowsPrune(t *testing.T) {
	h := newHarness(t)
	h.containers.containers = []*models.Container{
		{ID: "keep", State: models.StateExited, CreatedAt: h.now.Add(-time.Hour),
			Labels: map[string]string{"env": "prod"}},
		{ID: "drop", State: models.StateExited, CreatedAt: h.now.Add(-time.Hour),
			Labels: map[string]string{"env": "dev"}},
	}
	args := filters.NewArgs()
	args.Add("label", "env=dev")

	report, err := h.svc.Containers(context.Background(), args)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(report.Deleted) != 1 || report.Deleted[0] != "drop" {
		t.Fatalf("label filter ignored: %v", report.Deleted)
	}
}

// ============================================================================
// Images
// ============================================================================

func TestImagePruneDefaultRemovesOnlyDangling(t *testing.T) {
	h := newHarness(t)
	old := h.now.Add(-time.Hour)
	h.images.images = map[string]*models.Image{
		"sha256:dangling": {ID: "sha256:dangling", SizeBytes: 100, CreatedAt: old},
		"sha256:tagged": {ID: "sha256:tagged", RepoTags: []string{"web:latest"},
			SizeBytes: 200, CreatedAt: old},
	}

	report, err := h.svc.Images(context.Background(), filters.NewArgs(), false)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(report.Deleted) != 1 || report.Deleted[0] != "sha256:dangling" {
		t.Fatalf("want only dangling deleted, got %v", report.Deleted)
	}
	if report.SpaceReclaimed != 100 {
		t.Fatalf("reclaimed %d, want 100", report.SpaceReclaimed)
	}
}

func TestImagePruneAllSparesContainerImages(t *testing.T) {
	h := newHarness(t)
	old := h.now.Add(-time.Hour)
	h.images.images = map[string]*models.Image{
		"sha256:used": {ID: "sha256:used", RepoTags: []string{"web:latest"},
			SizeBytes: 100, CreatedAt: old},
		"sha256:unused": {ID: "sha256:unused", RepoTags: []string{"old:latest"},
			SizeBytes: 200, CreatedAt: old},
	}
	h.containers.containers = []*models.Container{
		{ID: "c1", State: models.StateExited, ImageID: "sha256:used", CreatedAt: h.now},
	}

	report, err := h.svc.Images(context.Background(), filters.NewArgs(), true)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(report.Deleted) != 1 || report.Deleted[0] != "sha256:unused" {
		t.Fatalf("want only unused deleted, got %v", report.Deleted)
	}
	if _, ok := h.images.images["sha256:used"]; !ok {
		t.Fatal("image referenced by stopped container was deleted")
	}
}

func TestImagePruneDeletesChildrenBeforeParents(t *testing.T) {
	h := newHarness(t)
	old := h.now.Add(-time.Hour)
	h.images.images = map[string]*models.Image{
		"sha256:base":  {ID: "sha256:base", SizeBytes: 50, CreatedAt: old},
		"sha256:mid":   {ID: "sha256:mid", ParentID: "sha256:base", SizeBytes: 30, CreatedAt: old},
		"sha256:leaf":  {ID: "sha256:leaf", ParentID: "sha256:mid", SizeBytes: 20, CreatedAt: old},
		"sha256:other": {ID: "sha256:other", SizeBytes: 10, CreatedAt: old},
	}

	report, err := h.svc.Images(context.Background(), filters.NewArgs(), true)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(report.Failures) != 0 {
		t.Fatalf("dependency order violated: %+v", report.Failures)
	}
	if len(report.Deleted) != 4 {
		t.Fatalf("want 4 deleted, got %v", report.Deleted)
	}
	pos := map[string]int{}
	for i, id := range h.images.removed {
		pos[id] = i
	}
	if pos["sha256:leaf"] > pos["sha256:mid"] || pos["sha256:mid"] > pos["sha256:base"] {
		t.Fatalf("children not deleted first: %v", h.images.removed)
	}
	if report.SpaceReclaimed != 110 {
		t.Fatalf("reclaimed %d, want 110", report.SpaceReclaimed)
	}
}

// ============================================================================
// Volumes and networks
// ============================================================================

func TestVolumePruneSkipsInUse(t *testing.T) {
	h := newHarness(t)
	old := h.now.Add(-time.Hour)
	h.volumes.volumes = []*models.Volume{
		{Name: "busy", RefCount: 1, CreatedAt: old},
		{Name: "idle", RefCount: 0, CreatedAt: old},
	}

	report, err := h.svc.Volumes(context.Background(), filters.NewArgs())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(report.Deleted) != 1 || report.Deleted[0] != "idle" {
		t.Fatalf("want only idle volume deleted, got %v", report.Deleted)
	}
}

func TestNetworkPruneSkipsBuiltinAndAttached(t *testing.T) {
	h := newHarness(t)
	old := h.now.Add(-time.Hour)
	h.networks.networks = []*models.Network{
		{ID: "n1", Name: "bridge", Builtin: true, CreatedAt: old},
		{ID: "n2", Name: "attached", CreatedAt: old,
			Endpoints: []models.Endpoint{{ContainerID: "c1"}}},
		{ID: "n3", Name: "idle", CreatedAt: old},
	}

	report, err := h.svc.Networks(context.Background(), filters.NewArgs())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(report.Deleted) != 1 || report.Deleted[0] != "idle" {
		t.Fatalf("want only idle network deleted, got %v", report.Deleted)
	}
}

// ============================================================================
// System
// ============================================================================

func TestSystemPruneOrderFreesPinnedImages(t *testing.T) {
	h := newHarness(t)
	old := h.now.Add(-time.Hour)
	// The exited container is the only user of the image: pruning
	// containers first must make the image eligible in the same pass.
	h.containers.containers = []*models.Container{
		{ID: "c1", State: models.StateExited, ImageID: "sha256:img", CreatedAt: old},
	}
	h.images.images = map[string]*models.Image{
		"sha256:img": {ID: "sha256:img", RepoTags: []string{"web:latest"},
			SizeBytes: 100, CreatedAt: old},
	}
	h.volumes.volumes = []*models.Volume{{Name: "idle", CreatedAt: old}}

	report, err := h.svc.System(context.Background(), SystemOptions{
		Filters: filters.NewArgs(),
		All:     true,
	})
	if err != nil {
		t.Fatalf("system prune: %v", err)
	}
	if len(report.Containers.Deleted) != 1 || len(report.Images.Deleted) != 1 {
		t.Fatalf("pass did not cascade: %+v", report)
	}
	if report.Volumes != nil {
		t.Fatal("volumes pruned without opt-in")
	}
	if report.SpaceReclaimed != 100 {
		t.Fatalf("reclaimed %d, want 100", report.SpaceReclaimed)
	}

	withVolumes, err := h.svc.System(context.Background(), SystemOptions{
		Filters: filters.NewArgs(),
		Volumes: true,
	})
	if err != nil {
		t.Fatalf("system prune with volumes: %v", err)
	}
	if withVolumes.Volumes == nil || len(withVolumes.Volumes.Deleted) != 1 {
		t.Fatalf("volumes not pruned on opt-in: %+v", withVolumes.Volumes)
	}
}
