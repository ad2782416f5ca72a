// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package models

import (
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"

	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
)

// ServiceMode selects replicated vs global scheduling.
type ServiceMode string

const (
	ModeReplicated ServiceMode = "replicated"
	ModeGlobal     ServiceMode = "global"
)

// UpdateOrder controls whether the old task stops before the replacement
// starts.
type UpdateOrder string

const (
	OrderStopFirst  UpdateOrder = "stop-first"
	OrderStartFirst UpdateOrder = "start-first"
)

// FailureAction selects what a rollout does when the failure ratio is
// exceeded.
type FailureAction string

const (
	FailureActionPause    FailureAction = "pause"
	FailureActionContinue FailureAction = "continue"
	FailureActionRollback FailureAction = "rollback"
)

// UpdateConfig governs a rolling update (and, symmetrically, a rollback).
type UpdateConfig struct {
	Parallelism     uint64        `json:"parallelism"` // 0 = all at once
	Delay           time.Duration `json:"delay"`
	Monitor         time.Duration `json:"monitor"`
	MaxFailureRatio float64       `json:"max_failure_ratio"`
	FailureAction   FailureAction `json:"failure_action"`
	Order           UpdateOrder   `json:"order"`
}

// DefaultUpdateConfig mirrors the documented flag defaults.
func DefaultUpdateConfig() UpdateConfig {
	return UpdateConfig{
		Parallelism:     1,
		Delay:           0,
		Monitor:         5 * time.Second,
		MaxFailureRatio: 0,
		FailureAction:   FailureActionPause,
		Order:           OrderStopFirst,
	}
}

// DefaultRollbackConfig mirrors the documented rollback flag defaults.
func DefaultRollbackConfig() UpdateConfig {
	cfg := DefaultUpdateConfig()
	cfg.FailureAction = FailureActionPause
	return cfg
}

// ServiceRestartCondition selects when a failed task is replaced.
type ServiceRestartCondition string

const (
	ServiceRestartNone      ServiceRestartCondition = "none"
	ServiceRestartOnFailure ServiceRestartCondition = "on-failure"
	ServiceRestartAny       ServiceRestartCondition = "any"
)

// ServiceRestartPolicy governs task replacement for a service.
type ServiceRestartPolicy struct {
	Condition   ServiceRestartCondition `json:"condition"`
	Delay       time.Duration           `json:"delay"`
	MaxAttempts uint64                  `json:"max_attempts"` // 0 = unbounded
	Window      time.Duration           `json:"window"`      // attempt-counting window
}

// PlacementPreference spreads tasks over the distinct values of a node or
// engine label. Multiple preferences compose hierarchically in order.
type PlacementPreference struct {
	// SpreadDescriptor is "node.labels.<k>" or "engine.labels.<k>".
	SpreadDescriptor string `json:"spread_descriptor"`
}

// Placement restricts and biases node selection.
type Placement struct {
	// Constraints are boolean predicates ANDed together, e.g.
	// "node.role==manager", "node.labels.region!=eu".
	Constraints []string              `json:"constraints,omitempty"`
	Preferences []PlacementPreference `json:"preferences,omitempty"`
}

// PortConfig is one published port.
type PortConfig struct {
	Protocol      string `json:"protocol"`
	TargetPort    uint32 `json:"target_port"`
	PublishedPort uint32 `json:"published_port,omitempty"`
}

// ParsePortSpecs converts documented short-form port specs
// ("8080:80/tcp", "443") into PortConfigs via go-connections.
func ParsePortSpecs(specs []string) ([]PortConfig, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	portMap, bindings, err := nat.ParsePortSpecs(specs)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeBadRequest, "invalid publish spec")
	}
	var out []PortConfig
	for port := range portMap {
		pc := PortConfig{
			Protocol:   port.Proto(),
			TargetPort: uint32(port.Int()),
		}
		for _, binding := range bindings[port] {
			if binding.HostPort != "" {
				published, perr := nat.ParsePort(binding.HostPort)
				if perr != nil {
					return nil, apperrors.Wrap(perr, apperrors.CodeBadRequest, "invalid published port")
				}
				pc.PublishedPort = uint32(published)
			}
		}
		out = append(out, pc)
	}
	return out, nil
}

// ServiceSpec is the desired state of a service.
type ServiceSpec struct {
	Name          string               `json:"name"`
	Image         string               `json:"image"`
	Command       []string             `json:"command,omitempty"`
	Env           []string             `json:"env,omitempty"`
	Labels        map[string]string    `json:"labels,omitempty"`
	Mode          ServiceMode          `json:"mode"`
	Replicas      uint64               `json:"replicas"` // replicated mode only
	Placement     Placement            `json:"placement"`
	Update        UpdateConfig         `json:"update"`
	Rollback      UpdateConfig         `json:"rollback"`
	RestartPolicy ServiceRestartPolicy `json:"restart_policy"`
	Ports         []PortConfig         `json:"ports,omitempty"`
	Mounts        []Mount              `json:"mounts,omitempty"`
	Secrets       []string             `json:"secrets,omitempty"`
}

// UpdateState tracks rollout progress for a service.
type UpdateState string

const (
	UpdateStateNone            UpdateState = ""
	UpdateStateUpdating        UpdateState = "updating"
	UpdateStatePaused          UpdateState = "paused"
	UpdateStateCompleted       UpdateState = "completed"
	UpdateStateRollbackStarted UpdateState = "rollback_started"
	UpdateStateRolledBack      UpdateState = "rollback_completed"
	UpdateStateRollbackPaused  UpdateState = "rollback_paused"
)

// UpdateStatus is the observable state of an in-flight rollout.
type UpdateStatus struct {
	State       UpdateState `json:"state"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Message     string      `json:"message,omitempty"`
}

// Service is a swarm service: a desired spec plus rollout bookkeeping.
type Service struct {
	ID   uuid.UUID   `json:"id" db:"id"`
	Spec ServiceSpec `json:"spec" db:"spec"`
	// PreviousSpec is retained for rollback.
	PreviousSpec *ServiceSpec  `json:"previous_spec,omitempty" db:"previous_spec"`
	UpdateStatus UpdateStatus  `json:"update_status" db:"update_status"`
	Version      uint64        `json:"version" db:"version"` // bumped on every spec change
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`
}

// DesiredReplicas returns the target RUNNING task count given the eligible
// node count.
func (s *Service) DesiredReplicas(eligibleNodes int) uint64 {
	if s.Spec.Mode == ModeGlobal {
		return uint64(eligibleNodes)
	}
	return s.Spec.Replicas
}
