// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package models

import (
	"strings"
	"time"
)

// Image is an immutable layered filesystem snapshot.
type Image struct {
	ID       string   `json:"id" db:"id"`
	ParentID string   `json:"parent_id,omitempty" db:"parent_id"`
	RepoTags []string `json:"repo_tags" db:"repo_tags"`
	// Layers is the ordered read-only layer chain, bottom first. The last
	// entry is the layer containers stack their writable layer on.
	Layers    []string          `json:"layers" db:"layers"`
	SizeBytes int64             `json:"size_bytes" db:"size_bytes"`
	Labels    map[string]string `json:"labels,omitempty" db:"labels"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

// ShortID returns the truncated display ID.
func (i *Image) ShortID() string {
	return TruncateID(i.ID)
}

// TopLayer returns the topmost read-only layer ID, or "" for an empty image.
func (i *Image) TopLayer() string {
	if len(i.Layers) == 0 {
		return ""
	}
	return i.Layers[len(i.Layers)-1]
}

// IsTagged reports whether the image carries at least one repo:tag reference.
func (i *Image) IsTagged() bool {
	return len(i.RepoTags) > 0
}

// HasTag reports whether ref (normalized) is among the image's tags.
func (i *Image) HasTag(ref string) bool {
	ref = NormalizeImageRef(ref)
	for _, t := range i.RepoTags {
		if t == ref {
			return true
		}
	}
	return false
}

// NormalizeImageRef appends the default :latest tag to untagged references.
// Digest references are left untouched.
func NormalizeImageRef(ref string) string {
	if strings.Contains(ref, "@") {
		return ref
	}
	// A colon after the last slash means a tag is present; a colon before it
	// is a registry port.
	slash := strings.LastIndex(ref, "/")
	if colon := strings.LastIndex(ref, ":"); colon > slash {
		return ref
	}
	return ref + ":latest"
}
