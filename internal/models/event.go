// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package models

import "time"

// EventType is the resource class an event concerns.
type EventType string

const (
	EventTypeContainer EventType = "container"
	EventTypeImage     EventType = "image"
	EventTypeNetwork   EventType = "network"
	EventTypeVolume    EventType = "volume"
	EventTypeService   EventType = "service"
	EventTypeNode      EventType = "node"
	EventTypeDaemon    EventType = "daemon"
)

// Event is one entry in the daemon event stream (`events` command).
type Event struct {
	Type   EventType         `json:"type" db:"type"`
	Action string            `json:"action" db:"action"` // create, start, die, destroy, ...
	Actor  string            `json:"actor" db:"actor"`   // resource ID or name
	Attrs  map[string]string `json:"attributes,omitempty" db:"attributes"`
	Time   time.Time         `json:"time" db:"time"`
}
