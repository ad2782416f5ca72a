// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package workers

import (
	"context"
	"time"

	"github.com/stevedore-io/stevedore/internal/pkg/filters"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
	"github.com/stevedore-io/stevedore/internal/services/prune"
)

// ReconcileTrigger pokes the orchestrator control loop.
type ReconcileTrigger interface {
	Trigger()
}

// TaskReaper deletes terminal task history older than a cutoff.
type TaskReaper interface {
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventTrimmer deletes event-log entries older than a cutoff.
type EventTrimmer interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ImagePruner removes dangling images.
type ImagePruner interface {
	Images(ctx context.Context, args filters.Args, all bool) (*prune.Report, error)
}

// ============================================================================
// Reconciliation safety sync
// ============================================================================

// ReconcileSyncWorker nudges the reconciler so drift between explicit
// triggers (crashed dispatches, missed exits) converges on a schedule.
type ReconcileSyncWorker struct {
	recon  ReconcileTrigger
	logger *logger.Logger
}

func NewReconcileSyncWorker(recon ReconcileTrigger, log *logger.Logger) *ReconcileSyncWorker {
	return &ReconcileSyncWorker{recon: recon, logger: log.Named("worker.reconcile")}
}

func (w *ReconcileSyncWorker) Name() string { return "reconcile_sync" }

func (w *ReconcileSyncWorker) Run(context.Context) error {
	w.recon.Trigger()
	return nil
}

// ============================================================================
// Task history reaper
// ============================================================================

// TaskReaperWorker drops completed task records beyond the retention
// window so slot history stays bounded.
type TaskReaperWorker struct {
	reaper    TaskReaper
	retention time.Duration
	logger    *logger.Logger
}

func NewTaskReaperWorker(reaper TaskReaper, retention time.Duration, log *logger.Logger) *TaskReaperWorker {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &TaskReaperWorker{reaper: reaper, retention: retention, logger: log.Named("worker.taskreaper")}
}

func (w *TaskReaperWorker) Name() string { return "task_reaper" }

func (w *TaskReaperWorker) Run(ctx context.Context) error {
	removed, err := w.reaper.DeleteTerminalBefore(ctx, time.Now().Add(-w.retention))
	if err != nil {
		return err
	}
	if removed > 0 {
		w.logger.Info("reaped terminal tasks", "count", removed)
	}
	return nil
}

// ============================================================================
// Event-log trim
// ============================================================================

// EventTrimWorker bounds the daemon event stream.
type EventTrimWorker struct {
	trimmer   EventTrimmer
	retention time.Duration
	logger    *logger.Logger
}

func NewEventTrimWorker(trimmer EventTrimmer, retention time.Duration, log *logger.Logger) *EventTrimWorker {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &EventTrimWorker{trimmer: trimmer, retention: retention, logger: log.Named("worker.eventtrim")}
}

func (w *EventTrimWorker) Name() string { return "event_trim" }

func (w *EventTrimWorker) Run(ctx context.Context) error {
	removed, err := w.trimmer.DeleteBefore(ctx, time.Now().Add(-w.retention))
	if err != nil {
		return err
	}
	if removed > 0 {
		w.logger.Info("trimmed event log", "count", removed)
	}
	return nil
}

// ============================================================================
// Image GC sweep
// ============================================================================

// ImageGCWorker removes dangling images on a schedule. It never widens
// eligibility to tagged images; that stays an explicit operator action.
type ImageGCWorker struct {
	pruner ImagePruner
	logger *logger.Logger
}

func NewImageGCWorker(pruner ImagePruner, log *logger.Logger) *ImageGCWorker {
	return &ImageGCWorker{pruner: pruner, logger: log.Named("worker.imagegc")}
}

func (w *ImageGCWorker) Name() string { return "image_gc" }

func (w *ImageGCWorker) Run(ctx context.Context) error {
	report, err := w.pruner.Images(ctx, filters.NewArgs(), false)
	if err != nil {
		return err
	}
	if len(report.Deleted) > 0 {
		w.logger.Info("image gc sweep complete",
			"deleted", len(report.Deleted), "reclaimed_bytes", report.SpaceReclaimed)
	}
	return nil
}
