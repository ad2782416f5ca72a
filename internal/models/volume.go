// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package models

import "time"

// AnonymousVolumeLabel marks volumes created implicitly for a container
// mount with no source. They are removed with their sole referencing
// container.
const AnonymousVolumeLabel = "io.stevedore.volume.anonymous"

// Volume is a daemon-managed named data volume.
type Volume struct {
	Name       string            `json:"name" db:"name"`
	Driver     string            `json:"driver" db:"driver"`
	Mountpoint string            `json:"mountpoint" db:"mountpoint"`
	Labels     map[string]string `json:"labels,omitempty" db:"labels"`
	Options    map[string]string `json:"options,omitempty" db:"options"`
	// RefCount is the number of containers currently mounting the volume.
	// Maintained by the lifecycle manager, not persisted as truth: it is
	// recomputed from container mounts on daemon restore.
	RefCount  int       `json:"ref_count" db:"ref_count"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Anonymous reports whether the volume was implicitly created.
func (v *Volume) Anonymous() bool {
	return v.Labels[AnonymousVolumeLabel] == "true"
}

// InUse reports whether any container mounts the volume.
func (v *Volume) InUse() bool {
	return v.RefCount > 0
}
