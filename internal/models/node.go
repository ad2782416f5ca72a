// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package models

import (
	"time"

	"github.com/google/uuid"
)

// NodeRole is manager or worker.
type NodeRole string

const (
	RoleManager NodeRole = "manager"
	RoleWorker  NodeRole = "worker"
)

// NodeAvailability gates task scheduling onto a node.
type NodeAvailability string

const (
	// AvailabilityActive accepts new tasks.
	AvailabilityActive NodeAvailability = "active"
	// AvailabilityPause keeps existing tasks but accepts no new ones.
	AvailabilityPause NodeAvailability = "pause"
	// AvailabilityDrain evicts existing tasks and accepts no new ones.
	AvailabilityDrain NodeAvailability = "drain"
)

// NodeStatus is the observed liveness of a node.
type NodeStatus string

const (
	NodeStatusReady   NodeStatus = "ready"
	NodeStatusDown    NodeStatus = "down"
	NodeStatusUnknown NodeStatus = "unknown"
)

// Node is a swarm cluster member.
type Node struct {
	ID           uuid.UUID         `json:"id" db:"id"`
	Hostname     string            `json:"hostname" db:"hostname"`
	Role         NodeRole          `json:"role" db:"role"`
	Availability NodeAvailability  `json:"availability" db:"availability"`
	Status       NodeStatus        `json:"status" db:"status"`
	Addr         string            `json:"addr" db:"addr"`
	// Labels are operator-set node labels (node.labels.* in constraints).
	Labels map[string]string `json:"labels,omitempty" db:"labels"`
	// EngineLabels are reported by the node's engine (engine.labels.*).
	EngineLabels map[string]string `json:"engine_labels,omitempty" db:"engine_labels"`
	IsLeader     bool              `json:"is_leader" db:"is_leader"`
	JoinedAt     time.Time         `json:"joined_at" db:"joined_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
}

// Schedulable reports whether new tasks may be placed on the node.
func (n *Node) Schedulable() bool {
	return n.Status == NodeStatusReady && n.Availability == AvailabilityActive
}
