// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package swarm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

var serviceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ServiceConfig holds tunables for the swarm service layer.
type ServiceConfig struct {
	// ReconcileInterval is the safety tick between triggered passes.
	ReconcileInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() ServiceConfig {
	return ServiceConfig{ReconcileInterval: 30 * time.Second}
}

// Service is the orchestrator facade: service CRUD, task inspection,
// and rollout control on top of the reconciler and updater.
type Service struct {
	services ServiceRepository
	tasks    TaskRepository
	nodes    NodeRepository
	cluster  *Cluster
	recon    *Reconciler
	updater  *Updater
	events   EventRecorder
	logger   *logger.Logger
}

// NewService wires the orchestrator.
func NewService(services ServiceRepository, tasks TaskRepository, nodes NodeRepository,
	cluster *Cluster, dispatcher Dispatcher, events EventRecorder,
	cfg ServiceConfig, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	log = log.Named("swarm")
	recon := NewReconciler(services, tasks, nodes, dispatcher, events, cfg.ReconcileInterval, log)
	return &Service{
		services: services,
		tasks:    tasks,
		nodes:    nodes,
		cluster:  cluster,
		recon:    recon,
		updater:  NewUpdater(services, tasks, nodes, recon, log),
		events:   events,
		logger:   log,
	}
}

// Reconciler exposes the control loop for the daemon to run.
func (s *Service) Reconciler() *Reconciler { return s.recon }

// Updater exposes the rollout executor for the daemon's workers.
func (s *Service) Updater() *Updater { return s.updater }

// Cluster exposes membership operations.
func (s *Service) Cluster() *Cluster { return s.cluster }

// ============================================================================
// Service CRUD
// ============================================================================

// CreateService validates and persists a service, then pokes the
// reconciler. It returns once the service is durably stored; task
// creation happens asynchronously.
func (s *Service) CreateService(ctx context.Context, spec models.ServiceSpec) (*models.Service, error) {
	if err := s.requireSwarm(); err != nil {
		return nil, err
	}
	if err := normalizeSpec(&spec); err != nil {
		return nil, err
	}
	if _, err := s.services.GetByName(ctx, spec.Name); err == nil {
		return nil, apperrors.Conflict(fmt.Sprintf("service name %q is already in use", spec.Name))
	} else if !apperrors.IsNotFound(err) {
		return nil, err
	}

	now := time.Now().UTC()
	svc := &models.Service{
		ID:        uuid.New(),
		Spec:      spec,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.services.Create(ctx, svc); err != nil {
		return nil, err
	}
	s.emit(ctx, svc, "create")
	s.recon.Trigger()
	return svc, nil
}

// UpdateService replaces the spec behind an optimistic version check,
// retains the old spec for rollback, and starts the rolling update.
func (s *Service) UpdateService(ctx context.Context, ref string, version uint64, spec models.ServiceSpec) (*models.Service, error) {
	svc, err := s.GetService(ctx, ref)
	if err != nil {
		return nil, err
	}
	if version != svc.Version {
		return nil, apperrors.Conflict(fmt.Sprintf(
			"update out of sequence: have version %d, want %d", version, svc.Version))
	}
	if err := normalizeSpec(&spec); err != nil {
		return nil, err
	}
	if spec.Name != svc.Spec.Name {
		return nil, apperrors.InvalidInput("service name cannot be changed")
	}

	now := time.Now().UTC()
	prev := svc.Spec
	svc.PreviousSpec = &prev
	svc.Spec = spec
	svc.Version++
	svc.UpdateStatus = models.UpdateStatus{
		State:     models.UpdateStateUpdating,
		StartedAt: &now,
	}
	svc.UpdatedAt = now
	if err := s.services.Update(ctx, svc); err != nil {
		return nil, err
	}
	s.emit(ctx, svc, "update")

	go func() {
		// Detached: the rollout outlives the API request.
		if err := s.updater.Run(context.Background(), svc.ID); err != nil {
			s.logger.Error("rollout failed", "service", svc.Spec.Name, "error", err)
		}
		s.recon.Trigger()
	}()
	return svc, nil
}

// RollbackService manually restores the previous spec.
func (s *Service) RollbackService(ctx context.Context, ref string) (*models.Service, error) {
	svc, err := s.GetService(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := s.updater.Rollback(ctx, svc.ID); err != nil {
		return nil, err
	}
	s.recon.Trigger()
	return s.services.Get(ctx, svc.ID)
}

// ScaleService adjusts the replica count of a replicated service
// without touching the rest of the spec or triggering a rolling update.
func (s *Service) ScaleService(ctx context.Context, ref string, replicas uint64) (*models.Service, error) {
	svc, err := s.GetService(ctx, ref)
	if err != nil {
		return nil, err
	}
	if svc.Spec.Mode != models.ModeReplicated {
		return nil, apperrors.InvalidInput(fmt.Sprintf(
			"service %s is global mode and cannot be scaled", svc.Spec.Name))
	}
	svc.Spec.Replicas = replicas
	svc.UpdatedAt = time.Now().UTC()
	if err := s.services.Update(ctx, svc); err != nil {
		return nil, err
	}
	s.emit(ctx, svc, "scale")
	s.recon.Trigger()
	return svc, nil
}

// RemoveService shuts down all of a service's tasks and deletes it.
func (s *Service) RemoveService(ctx context.Context, ref string) error {
	svc, err := s.GetService(ctx, ref)
	if err != nil {
		return err
	}
	tasks, err := s.tasks.ListByService(ctx, svc.ID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if !t.CurrentState.Terminal() {
			if err := s.recon.shutdownTask(ctx, t); err != nil {
				s.logger.Warn("task shutdown failed during service removal",
					"service", svc.Spec.Name, "task", t.ID, "error", err)
			}
		}
		if err := s.tasks.Delete(ctx, t.ID); err != nil && !apperrors.IsNotFound(err) {
			return err
		}
	}
	if err := s.services.Delete(ctx, svc.ID); err != nil {
		return err
	}
	s.emit(ctx, svc, "remove")
	return nil
}

// GetService resolves a service by exact name, full UUID, or unambiguous
// UUID prefix.
func (s *Service) GetService(ctx context.Context, ref string) (*models.Service, error) {
	if svc, err := s.services.GetByName(ctx, ref); err == nil {
		return svc, nil
	} else if !apperrors.IsNotFound(err) {
		return nil, err
	}
	if id, err := uuid.Parse(ref); err == nil {
		return s.services.Get(ctx, id)
	}

	all, err := s.services.List(ctx)
	if err != nil {
		return nil, err
	}
	var match *models.Service
	for _, svc := range all {
		if strings.HasPrefix(svc.ID.String(), strings.ToLower(ref)) {
			if match != nil {
				return nil, apperrors.Conflict(fmt.Sprintf(
					"service reference %q is ambiguous", ref))
			}
			match = svc
		}
	}
	if match == nil {
		return nil, apperrors.NotFound("service", ref)
	}
	return match, nil
}

// ListServices returns all services.
func (s *Service) ListServices(ctx context.Context) ([]*models.Service, error) {
	return s.services.List(ctx)
}

// ListTasks returns a service's tasks, newest first within each slot.
func (s *Service) ListTasks(ctx context.Context, ref string) ([]*models.Task, error) {
	svc, err := s.GetService(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.tasks.ListByService(ctx, svc.ID)
}

// ============================================================================
// Validation
// ============================================================================

func (s *Service) requireSwarm() error {
	if s.cluster != nil && !s.cluster.Active() {
		return apperrors.Conflict("this node is not part of a swarm")
	}
	if s.cluster != nil && s.cluster.Locked() {
		return apperrors.Conflict("swarm is locked: unlock it first")
	}
	return nil
}

// normalizeSpec validates the spec and fills documented defaults.
func normalizeSpec(spec *models.ServiceSpec) error {
	if spec.Name == "" {
		return apperrors.InvalidInput("service name is required")
	}
	if !serviceNamePattern.MatchString(spec.Name) {
		return apperrors.InvalidInput(fmt.Sprintf("invalid service name %q", spec.Name))
	}
	if spec.Image == "" {
		return apperrors.InvalidInput("service image is required")
	}

	switch spec.Mode {
	case "":
		spec.Mode = models.ModeReplicated
	case models.ModeReplicated, models.ModeGlobal:
	default:
		return apperrors.InvalidInput(fmt.Sprintf("invalid service mode %q", spec.Mode))
	}
	if spec.Mode == models.ModeReplicated && spec.Replicas == 0 {
		spec.Replicas = 1
	}
	if spec.Mode == models.ModeGlobal && spec.Replicas != 0 {
		return apperrors.InvalidInput("replicas cannot be set on a global service")
	}

	if spec.Update == (models.UpdateConfig{}) {
		spec.Update = models.DefaultUpdateConfig()
	}
	if spec.Rollback == (models.UpdateConfig{}) {
		spec.Rollback = models.DefaultRollbackConfig()
	}
	switch spec.Update.FailureAction {
	case "", models.FailureActionPause, models.FailureActionContinue, models.FailureActionRollback:
	default:
		return apperrors.InvalidInput(fmt.Sprintf(
			"invalid failure action %q", spec.Update.FailureAction))
	}
	switch spec.Update.Order {
	case "", models.OrderStopFirst, models.OrderStartFirst:
	default:
		return apperrors.InvalidInput(fmt.Sprintf("invalid update order %q", spec.Update.Order))
	}

	switch spec.RestartPolicy.Condition {
	case "":
		spec.RestartPolicy.Condition = models.ServiceRestartAny
	case models.ServiceRestartNone, models.ServiceRestartOnFailure, models.ServiceRestartAny:
	default:
		return apperrors.InvalidInput(fmt.Sprintf(
			"invalid restart condition %q", spec.RestartPolicy.Condition))
	}

	for _, pref := range spec.Placement.Preferences {
		d := pref.SpreadDescriptor
		if !strings.HasPrefix(d, "node.labels.") && !strings.HasPrefix(d, "engine.labels.") {
			return apperrors.InvalidInput(fmt.Sprintf("invalid spread descriptor %q", d))
		}
	}
	if _, err := parseConstraints(spec.Placement.Constraints); err != nil {
		return err
	}
	return nil
}

func (s *Service) emit(ctx context.Context, svc *models.Service, action string) {
	if s.events == nil {
		return
	}
	_ = s.events.Append(ctx, &models.Event{
		Type:   models.EventTypeService,
		Action: action,
		Actor:  svc.ID.String(),
		Attrs:  map[string]string{"name": svc.Spec.Name},
		Time:   time.Now().UTC(),
	})
}
