// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package swarm

import (
	"context"
	"testing"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
)

func newTestCluster(t *testing.T) (*Cluster, *memNodeRepo, string) {
	t.Helper()
	nodes := newMemNodeRepo()
	dir := t.TempDir()
	c, err := NewCluster(nodes, dir, nil)
	if err != nil {
		t.Fatalf("new cluster: %v", err)
	}
	return c, nodes, dir
}

func TestInitAndJoinRoundTrip(t *testing.T) {
	c, nodes, _ := newTestCluster(t)
	ctx := context.Background()

	res, err := c.Init(ctx, InitOptions{Hostname: "mgr-1", AdvertiseAddr: "10.0.0.1:2377"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !c.Active() {
		t.Fatal("cluster not active after init")
	}
	if _, err := c.Init(ctx, InitOptions{}); !apperrors.IsConflict(err) {
		t.Fatalf("second init: want conflict, got %v", err)
	}

	token, err := c.JoinToken(models.RoleWorker)
	if err != nil {
		t.Fatalf("join token: %v", err)
	}
	joined, err := c.Join(ctx, JoinRequest{
		Token:    token,
		Hostname: "wrk-1",
		Addr:     "10.0.0.2:2377",
	})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if joined.Role != models.RoleWorker {
		t.Fatalf("join granted role %s", joined.Role)
	}

	all, _ := nodes.List(ctx)
	if len(all) != 2 {
		t.Fatalf("want 2 nodes, got %d", len(all))
	}
	_ = res
}

func TestJoinRejectsForgedToken(t *testing.T) {
	c, _, _ := newTestCluster(t)
	ctx := context.Background()
	if _, err := c.Init(ctx, InitOptions{Hostname: "mgr-1"}); err != nil {
		t.Fatal(err)
	}

	other, _, _ := newTestCluster(t)
	if _, err := other.Init(ctx, InitOptions{Hostname: "mgr-x"}); err != nil {
		t.Fatal(err)
	}
	foreign, err := other.JoinToken(models.RoleManager)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Join(ctx, JoinRequest{Token: foreign, Hostname: "evil"}); err == nil ||
		apperrors.CodeOf(err) != apperrors.CodeBadRequest {
		t.Fatalf("foreign token accepted: %v", err)
	}
	if _, err := c.Join(ctx, JoinRequest{Token: "garbage", Hostname: "evil"}); err == nil {
		t.Fatal("garbage token accepted")
	}
}

func TestClusterStateSurvivesRestart(t *testing.T) {
	c, nodes, dir := newTestCluster(t)
	ctx := context.Background()
	res, err := c.Init(ctx, InitOptions{Hostname: "mgr-1"})
	if err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewCluster(nodes, dir, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.Active() {
		t.Fatal("state not restored")
	}
	id, err := reloaded.NodeID()
	if err != nil || id != res.NodeID {
		t.Fatalf("node id not restored: %v %v", id, err)
	}
}

func TestAutolockRequiresKeyAfterRestart(t *testing.T) {
	c, nodes, dir := newTestCluster(t)
	ctx := context.Background()
	res, err := c.Init(ctx, InitOptions{Hostname: "mgr-1", Autolock: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.UnlockKey == "" {
		t.Fatal("autolock produced no unlock key")
	}
	if c.Locked() {
		t.Fatal("freshly initialized swarm should not be locked")
	}

	reloaded, err := NewCluster(nodes, dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reloaded.Locked() {
		t.Fatal("restart did not lock the swarm")
	}
	if err := reloaded.Unlock("wrong"); err == nil {
		t.Fatal("wrong key accepted")
	}
	if err := reloaded.Unlock(res.UnlockKey); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if reloaded.Locked() {
		t.Fatal("still locked after unlock")
	}
}

func TestLeaveLastManagerRequiresForce(t *testing.T) {
	c, nodes, _ := newTestCluster(t)
	ctx := context.Background()
	if _, err := c.Init(ctx, InitOptions{Hostname: "mgr-1"}); err != nil {
		t.Fatal(err)
	}

	if err := c.Leave(ctx, false); !apperrors.IsConflict(err) {
		t.Fatalf("want conflict leaving as last manager, got %v", err)
	}
	if err := c.Leave(ctx, true); err != nil {
		t.Fatalf("forced leave: %v", err)
	}
	if c.Active() {
		t.Fatal("still active after leave")
	}
	all, _ := nodes.List(ctx)
	if len(all) != 0 {
		t.Fatalf("node record left behind: %d", len(all))
	}
}

func TestNodeRoleAndAvailability(t *testing.T) {
	c, nodes, _ := newTestCluster(t)
	ctx := context.Background()
	if _, err := c.Init(ctx, InitOptions{Hostname: "mgr-1"}); err != nil {
		t.Fatal(err)
	}
	token, _ := c.JoinToken(models.RoleWorker)
	wrk, err := c.Join(ctx, JoinRequest{Token: token, Hostname: "wrk-1"})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.UpdateNodeAvailability(ctx, wrk.ID, models.AvailabilityDrain); err != nil {
		t.Fatalf("drain: %v", err)
	}
	got, _ := nodes.Get(ctx, wrk.ID)
	if got.Schedulable() {
		t.Fatal("drained node still schedulable")
	}

	if err := c.PromoteNode(ctx, wrk.ID); err != nil {
		t.Fatalf("promote: %v", err)
	}
	got, _ = nodes.Get(ctx, wrk.ID)
	if got.Role != models.RoleManager {
		t.Fatalf("promotion not applied: %s", got.Role)
	}
	if err := c.DemoteNode(ctx, wrk.ID); err != nil {
		t.Fatalf("demote: %v", err)
	}

	mgrID, _ := c.NodeID()
	if err := c.DemoteNode(ctx, mgrID); !apperrors.IsConflict(err) {
		t.Fatalf("demoting last manager: want conflict, got %v", err)
	}
}

func TestRemoveNodeRequiresDrainOrForce(t *testing.T) {
	c, nodes, _ := newTestCluster(t)
	ctx := context.Background()
	if _, err := c.Init(ctx, InitOptions{Hostname: "mgr-1"}); err != nil {
		t.Fatal(err)
	}
	token, _ := c.JoinToken(models.RoleWorker)
	wrk, _ := c.Join(ctx, JoinRequest{Token: token, Hostname: "wrk-1"})

	if err := c.RemoveNode(ctx, wrk.ID, false); !apperrors.IsConflict(err) {
		t.Fatalf("want conflict removing ready node, got %v", err)
	}
	if err := c.RemoveNode(ctx, wrk.ID, true); err != nil {
		t.Fatalf("forced removal: %v", err)
	}
	if _, err := nodes.Get(ctx, wrk.ID); !apperrors.IsNotFound(err) {
		t.Fatalf("node still present: %v", err)
	}
}
