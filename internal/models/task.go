// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskState is a point on the task progression. States are ordered: a task
// only ever moves forward.
type TaskState string

const (
	TaskStateNew       TaskState = "new"
	TaskStatePending   TaskState = "pending"
	TaskStateAssigned  TaskState = "assigned"
	TaskStatePreparing TaskState = "preparing"
	TaskStateStarting  TaskState = "starting"
	TaskStateRunning   TaskState = "running"
	TaskStateComplete  TaskState = "complete"
	TaskStateShutdown  TaskState = "shutdown"
	TaskStateFailed    TaskState = "failed"
	TaskStateRejected  TaskState = "rejected"
)

var taskStateOrder = map[TaskState]int{
	TaskStateNew:       0,
	TaskStatePending:   1,
	TaskStateAssigned:  2,
	TaskStatePreparing: 3,
	TaskStateStarting:  4,
	TaskStateRunning:   5,
	TaskStateComplete:  6,
	TaskStateShutdown:  7,
	TaskStateFailed:    8,
	TaskStateRejected:  9,
}

// Before reports whether s precedes other in the task progression.
func (s TaskState) Before(other TaskState) bool {
	return taskStateOrder[s] < taskStateOrder[other]
}

// Terminal reports whether the task has finished (no further transitions).
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateComplete, TaskStateShutdown, TaskStateFailed, TaskStateRejected:
		return true
	}
	return false
}

// Task is one scheduled attempt to run a service's container on a node.
type Task struct {
	ID        uuid.UUID `json:"id" db:"id"`
	ServiceID uuid.UUID `json:"service_id" db:"service_id"`
	NodeID    uuid.UUID `json:"node_id" db:"node_id"`
	// Slot gives replicated tasks a stable identity: replica N occupies
	// slot N across restarts and updates. Global-mode tasks use slot 0.
	Slot uint64 `json:"slot" db:"slot"`

	DesiredState TaskState `json:"desired_state" db:"desired_state"`
	CurrentState TaskState `json:"current_state" db:"current_state"`

	// SpecVersion is the service version this task was created from; tasks
	// with a stale version are replaced during rolling updates.
	SpecVersion uint64 `json:"spec_version" db:"spec_version"`

	ContainerID string `json:"container_id,omitempty" db:"container_id"`
	Err         string `json:"error,omitempty" db:"error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Running reports whether the task is observed running.
func (t *Task) Running() bool {
	return t.CurrentState == TaskStateRunning
}

// Active reports whether the task still wants to run (not terminal and not
// marked for shutdown).
func (t *Task) Active() bool {
	return !t.CurrentState.Terminal() && t.DesiredState == TaskStateRunning
}
