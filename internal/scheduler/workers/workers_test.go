// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package workers

import (
	"context"
	"testing"
	"time"

	"github.com/stevedore-io/stevedore/internal/pkg/filters"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
	"github.com/stevedore-io/stevedore/internal/services/prune"
)

type fakeTrigger struct{ count int }

func (f *fakeTrigger) Trigger() { f.count++ }

type fakeReaper struct {
	cutoff  time.Time
	removed int64
}

func (f *fakeReaper) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.removed, nil
}

type fakePruner struct {
	all    bool
	called bool
}

func (f *fakePruner) Images(_ context.Context, _ filters.Args, all bool) (*prune.Report, error) {
	f.called = true
	f.all = all
	return &prune.Report{Deleted: []string{"sha256:x"}, SpaceReclaimed: 42}, nil
}

func TestRegisterDefaultWorkersSkipsMissingDeps(t *testing.T) {
	reg := NewRegistry()
	RegisterDefaultWorkers(reg, &Dependencies{
		Reconciler: &fakeTrigger{},
		Logger:     logger.Nop(),
	})

	if _, ok := reg.Get("reconcile_sync"); !ok {
		t.Fatal("reconcile_sync not registered")
	}
	if _, ok := reg.Get("task_reaper"); ok {
		t.Fatal("task_reaper registered without a reaper")
	}
	if len(reg.Names()) != 1 {
		t.Fatalf("want 1 worker, got %v", reg.Names())
	}
}

func TestReconcileSyncWorkerTriggers(t *testing.T) {
	trig := &fakeTrigger{}
	w := NewReconcileSyncWorker(trig, logger.Nop())
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if trig.count != 1 {
		t.Fatalf("trigger count %d", trig.count)
	}
}

func TestTaskReaperUsesRetentionCutoff(t *testing.T) {
	reaper := &fakeReaper{removed: 3}
	w := NewTaskReaperWorker(reaper, 2*time.Hour, logger.Nop())
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := time.Now().Add(-2 * time.Hour)
	if diff := reaper.cutoff.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("cutoff %v not near %v", reaper.cutoff, want)
	}
}

func TestImageGCWorkerIsDanglingOnly(t *testing.T) {
	pruner := &fakePruner{}
	w := NewImageGCWorker(pruner, logger.Nop())
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !pruner.called {
		t.Fatal("pruner not invoked")
	}
	if pruner.all {
		t.Fatal("gc sweep widened eligibility to tagged images")
	}
}
