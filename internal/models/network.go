// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package models

import "time"

// NetworkScope distinguishes host-local networks from swarm-scoped overlays.
type NetworkScope string

const (
	ScopeLocal NetworkScope = "local"
	ScopeSwarm NetworkScope = "swarm"
)

// Builtin network drivers.
const (
	NetworkDriverBridge  = "bridge"
	NetworkDriverHost    = "host"
	NetworkDriverNull    = "null"
	NetworkDriverOverlay = "overlay"
)

// Endpoint records one container attached to a network.
type Endpoint struct {
	ID          string `json:"id"`
	ContainerID string `json:"container_id"`
	MacAddress  string `json:"mac_address"`
	IPv4Address string `json:"ipv4_address,omitempty"`
	IPv6Address string `json:"ipv6_address,omitempty"`
}

// Network is a named container network.
type Network struct {
	ID     string       `json:"id" db:"id"`
	Name   string       `json:"name" db:"name"`
	Driver string       `json:"driver" db:"driver"`
	Scope  NetworkScope `json:"scope" db:"scope"`
	// Builtin networks (bridge, host, none) are created at daemon startup
	// and can never be removed.
	Builtin   bool              `json:"builtin" db:"builtin"`
	Subnet    string            `json:"subnet,omitempty" db:"subnet"`
	Gateway   string            `json:"gateway,omitempty" db:"gateway"`
	Internal  bool              `json:"internal,omitempty" db:"internal"`
	Endpoints []Endpoint        `json:"endpoints,omitempty" db:"endpoints"`
	Labels    map[string]string `json:"labels,omitempty" db:"labels"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

// ShortID returns the truncated display ID.
func (n *Network) ShortID() string {
	return TruncateID(n.ID)
}

// HasEndpoints reports whether any container is attached.
func (n *Network) HasEndpoints() bool {
	return len(n.Endpoints) > 0
}
