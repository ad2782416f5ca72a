// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package volume

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/filters"
)

type memVolumeRepo struct {
	mu   sync.Mutex
	vols map[string]*models.Volume
}

func newMemVolumeRepo() *memVolumeRepo {
	return &memVolumeRepo{vols: make(map[string]*models.Volume)}
}

func (m *memVolumeRepo) Create(_ context.Context, v *models.Volume) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vols[v.Name]; ok {
		return apperrors.Conflict("volume name already in use")
	}
	cp := *v
	m.vols[v.Name] = &cp
	return nil
}

func (m *memVolumeRepo) Get(_ context.Context, name string) (*models.Volume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vols[name]
	if !ok {
		return nil, apperrors.NotFound("volume", name)
	}
	cp := *v
	return &cp, nil
}

func (m *memVolumeRepo) List(_ context.Context) ([]*models.Volume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Volume, 0, len(m.vols))
	for _, v := range m.vols {
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memVolumeRepo) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vols[name]; !ok {
		return apperrors.NotFound("volume", name)
	}
	delete(m.vols, name)
	return nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(newMemVolumeRepo(), t.TempDir(), nil)
}

func TestCreateNamedVolume(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	v, err := s.Create(ctx, CreateOptions{Name: "data"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if v.Driver != DefaultDriver {
		t.Errorf("driver = %q, want %q", v.Driver, DefaultDriver)
	}
	if v.Anonymous() {
		t.Error("named volume reported as anonymous")
	}

	// Idempotent re-create returns the existing volume.
	again, err := s.Create(ctx, CreateOptions{Name: "data"})
	if err != nil {
		t.Fatalf("re-Create: %v", err)
	}
	if again.Name != "data" {
		t.Errorf("re-create name = %q", again.Name)
	}
}

func TestCreateAnonymousVolume(t *testing.T) {
	s := newTestService(t)

	v, err := s.Create(context.Background(), CreateOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(v.Name) != models.FullIDLen {
		t.Errorf("anonymous name length = %d, want %d", len(v.Name), models.FullIDLen)
	}
	if !v.Anonymous() {
		t.Error("anonymous volume missing marker label")
	}
}

func TestCreateUnknownDriver(t *testing.T) {
	s := newTestService(t)
	_, err := s.Create(context.Background(), CreateOptions{Name: "x", Driver: "flocker"})
	if apperrors.CodeOf(err) != apperrors.CodeBadRequest {
		t.Fatalf("err = %v, want BAD_REQUEST", err)
	}
}

func TestRemoveInUse(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, CreateOptions{Name: "busy"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.Retain("busy")

	err := s.Remove(ctx, "busy", false)
	if apperrors.CodeOf(err) != apperrors.CodeInUse {
		t.Fatalf("Remove err = %v, want IN_USE", err)
	}
	// Force does not override in-use either.
	err = s.Remove(ctx, "busy", true)
	if apperrors.CodeOf(err) != apperrors.CodeInUse {
		t.Fatalf("force Remove err = %v, want IN_USE", err)
	}

	if n := s.Release("busy"); n != 0 {
		t.Fatalf("Release remaining = %d, want 0", n)
	}
	if err := s.Remove(ctx, "busy", false); err != nil {
		t.Fatalf("Remove after release: %v", err)
	}
}

func TestRemoveMissingForce(t *testing.T) {
	s := newTestService(t)
	if err := s.Remove(context.Background(), "ghost", true); err != nil {
		t.Fatalf("force Remove of missing volume: %v", err)
	}
	err := s.Remove(context.Background(), "ghost", false)
	if !apperrors.IsNotFound(err) {
		t.Fatalf("Remove err = %v, want NOT_FOUND", err)
	}
}

func TestListFilters(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, CreateOptions{Name: "app", Labels: map[string]string{"tier": "web"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(ctx, CreateOptions{Name: "db"}); err != nil {
		t.Fatal(err)
	}
	s.Retain("db")

	args := filters.NewArgs()
	args.Add("label", "tier=web")
	vols, err := s.List(ctx, args)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(vols) != 1 || vols[0].Name != "app" {
		t.Fatalf("label filter returned %d volumes", len(vols))
	}

	args = filters.NewArgs()
	args.Add("dangling", "true")
	vols, err = s.List(ctx, args)
	if err != nil {
		t.Fatalf("List dangling: %v", err)
	}
	if len(vols) != 1 || vols[0].Name != "app" {
		t.Fatalf("dangling filter = %v, want only app", names(vols))
	}

	args = filters.NewArgs()
	args.Add("bogus", "x")
	if _, err := s.List(ctx, args); apperrors.CodeOf(err) != apperrors.CodeBadRequest {
		t.Fatalf("invalid filter err = %v, want BAD_REQUEST", err)
	}
}

func TestRestoreCounts(t *testing.T) {
	s := newTestService(t)
	s.Retain("a")
	s.Retain("a")
	s.Restore(map[string]int{"b": 3})

	if n := s.refCount("a"); n != 0 {
		t.Errorf("refCount(a) after restore = %d, want 0", n)
	}
	if n := s.refCount("b"); n != 3 {
		t.Errorf("refCount(b) after restore = %d, want 3", n)
	}
}

func names(vols []*models.Volume) []string {
	out := make([]string, len(vols))
	for i, v := range vols {
		out[i] = v.Name
	}
	return out
}
