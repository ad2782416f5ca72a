// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package network

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/filters"
)

type memNetworkRepo struct {
	mu   sync.Mutex
	nets map[string]*models.Network
}

func newMemNetworkRepo() *memNetworkRepo {
	return &memNetworkRepo{nets: make(map[string]*models.Network)}
}

func (m *memNetworkRepo) Create(_ context.Context, n *models.Network) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.nets {
		if existing.Name == n.Name {
			return apperrors.Conflict("network name already in use")
		}
	}
	cp := *n
	m.nets[n.ID] = &cp
	return nil
}

func (m *memNetworkRepo) UpdateEndpoints(_ context.Context, id string, endpoints []models.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nets[id]
	if !ok {
		return apperrors.NotFound("network", id)
	}
	n.Endpoints = append([]models.Endpoint(nil), endpoints...)
	return nil
}

func (m *memNetworkRepo) Get(_ context.Context, id string) (*models.Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nets[id]
	if !ok {
		return nil, apperrors.NotFound("network", id)
	}
	cp := *n
	return &cp, nil
}

func (m *memNetworkRepo) Resolve(_ context.Context, ref string) (*models.Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.nets {
		if n.Name == ref || n.ID == ref || strings.HasPrefix(n.ID, ref) {
			cp := *n
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("network", ref)
}

func (m *memNetworkRepo) List(_ context.Context) ([]*models.Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Network, 0, len(m.nets))
	for _, n := range m.nets {
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memNetworkRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nets[id]; !ok {
		return apperrors.NotFound("network", id)
	}
	delete(m.nets, id)
	return nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := NewService(newMemNetworkRepo(), nil)
	if err := s.EnsureBuiltin(context.Background()); err != nil {
		t.Fatalf("EnsureBuiltin: %v", err)
	}
	return s
}

func TestEnsureBuiltinIdempotent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if err := s.EnsureBuiltin(ctx); err != nil {
		t.Fatalf("second EnsureBuiltin: %v", err)
	}
	nets, err := s.List(ctx, filters.NewArgs())
	if err != nil {
		t.Fatal(err)
	}
	if len(nets) != 3 {
		t.Fatalf("builtin networks = %d, want 3", len(nets))
	}
}

func TestBuiltinUndeletable(t *testing.T) {
	s := newTestService(t)
	for _, name := range []string{"bridge", "host", "none"} {
		err := s.Remove(context.Background(), name)
		if apperrors.CodeOf(err) != apperrors.CodeConflict {
			t.Errorf("Remove(%s) err = %v, want CONFLICT", name, err)
		}
	}
}

func TestCreateReservedName(t *testing.T) {
	s := newTestService(t)
	_, err := s.Create(context.Background(), CreateOptions{Name: "bridge"})
	if apperrors.CodeOf(err) != apperrors.CodeConflict {
		t.Fatalf("err = %v, want CONFLICT", err)
	}
}

func TestConnectAllocatesAddresses(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	n, err := s.Create(ctx, CreateOptions{Name: "appnet", Subnet: "10.5.0.0/24"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n.Gateway != "10.5.0.1" {
		t.Fatalf("gateway = %q, want 10.5.0.1", n.Gateway)
	}

	ep1, err := s.Connect(ctx, "appnet", "c1")
	if err != nil {
		t.Fatalf("Connect c1: %v", err)
	}
	if ep1.IPv4Address != "10.5.0.2" {
		t.Errorf("first IP = %q, want 10.5.0.2", ep1.IPv4Address)
	}
	if ep1.MacAddress != "02:42:0a:05:00:02" {
		t.Errorf("mac = %q, want 02:42:0a:05:00:02", ep1.MacAddress)
	}

	ep2, err := s.Connect(ctx, "appnet", "c2")
	if err != nil {
		t.Fatalf("Connect c2: %v", err)
	}
	if ep2.IPv4Address != "10.5.0.3" {
		t.Errorf("second IP = %q, want 10.5.0.3", ep2.IPv4Address)
	}

	// Double attach of the same container conflicts.
	if _, err := s.Connect(ctx, "appnet", "c1"); apperrors.CodeOf(err) != apperrors.CodeConflict {
		t.Fatalf("double connect err = %v, want CONFLICT", err)
	}
}

func TestConnectReleasedAddressReused(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, CreateOptions{Name: "n", Subnet: "10.9.0.0/29"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Connect(ctx, "n", "c1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Connect(ctx, "n", "c2"); err != nil {
		t.Fatal(err)
	}
	if err := s.Disconnect(ctx, "n", "c1", false); err != nil {
		t.Fatal(err)
	}
	ep, err := s.Connect(ctx, "n", "c3")
	if err != nil {
		t.Fatal(err)
	}
	if ep.IPv4Address != "10.9.0.2" {
		t.Errorf("reused IP = %q, want 10.9.0.2", ep.IPv4Address)
	}
}

func TestSubnetExhaustion(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	// /30: network, gateway, one host, broadcast.
	if _, err := s.Create(ctx, CreateOptions{Name: "tiny", Subnet: "10.8.0.0/30"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Connect(ctx, "tiny", "c1"); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	_, err := s.Connect(ctx, "tiny", "c2")
	if apperrors.CodeOf(err) != apperrors.CodeNoSpace {
		t.Fatalf("exhausted subnet err = %v, want NO_SPACE", err)
	}
}

func TestRemoveWithEndpoints(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, CreateOptions{Name: "busy", Subnet: "10.6.0.0/24"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Connect(ctx, "busy", "c1"); err != nil {
		t.Fatal(err)
	}

	err := s.Remove(ctx, "busy")
	if apperrors.CodeOf(err) != apperrors.CodeInUse {
		t.Fatalf("Remove err = %v, want IN_USE", err)
	}

	if err := s.Disconnect(ctx, "busy", "c1", false); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(ctx, "busy"); err != nil {
		t.Fatalf("Remove after disconnect: %v", err)
	}
}

func TestDisconnectAll(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"n1", "n2"} {
		if _, err := s.Create(ctx, CreateOptions{Name: name, Subnet: ""}); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Connect(ctx, name, "c1"); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.DisconnectAll(ctx, "c1"); err != nil {
		t.Fatalf("DisconnectAll: %v", err)
	}
	for _, name := range []string{"n1", "n2"} {
		n, err := s.Get(ctx, name)
		if err != nil {
			t.Fatal(err)
		}
		if n.HasEndpoints() {
			t.Errorf("network %s still has endpoints", name)
		}
	}
}

func TestListScopeFilter(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, CreateOptions{
		Name: "ov", Driver: models.NetworkDriverOverlay, Scope: models.ScopeSwarm,
	}); err != nil {
		t.Fatal(err)
	}

	args := filters.NewArgs()
	args.Add("scope", "swarm")
	nets, err := s.List(ctx, args)
	if err != nil {
		t.Fatal(err)
	}
	if len(nets) != 1 || nets[0].Name != "ov" {
		t.Fatalf("scope filter returned %d networks", len(nets))
	}
}
