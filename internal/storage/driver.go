// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

// Package storage implements the pluggable graph-driver layer. Every driver
// presents the same create/mount/remove/diff contract over its own
// copy-on-write mechanism; the daemon selects one driver at startup and all
// image and container layers go through it.
package storage

import (
	"io"
	"strings"

	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
)

// CreateOpts carries per-layer creation options.
type CreateOpts struct {
	// MountLabel is an SELinux label applied at mount time.
	MountLabel string
	// StorageOpt holds per-layer options, currently only "size" for
	// drivers that support per-layer quotas.
	StorageOpt map[string]string
	Labels     map[string]string
}

// ChangeKind classifies one changeset entry.
type ChangeKind int

const (
	ChangeModify ChangeKind = iota
	ChangeAdd
	ChangeDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "A"
	case ChangeDelete:
		return "D"
	default:
		return "C"
	}
}

// Change is one entry in a layer diff.
type Change struct {
	Path string
	Kind ChangeKind
}

// Driver is the contract every graph driver implements.
type Driver interface {
	// Name returns the driver name as reported by `info`.
	Name() string

	// Create allocates a new layer with the given parent ("" for a base
	// layer). The layer is not mounted.
	Create(id, parent string, opts *CreateOpts) error

	// Get mounts the layer and returns the filesystem path. Calls nest:
	// each Get must be paired with a Put.
	Get(id, mountLabel string) (string, error)

	// Put releases one mount reference.
	Put(id string) error

	// Remove deletes the layer. Fails with a busy error while mounted
	// unless the driver supports deferred removal.
	Remove(id string) error

	// Exists reports whether the layer is known to the driver.
	Exists(id string) bool

	// Changes computes the changeset of a layer against its parent.
	Changes(id, parent string) ([]Change, error)

	// Diff streams an archived changeset of the layer against its parent.
	Diff(id, parent string) (io.ReadCloser, error)

	// Status returns driver-specific status pairs for `info` output.
	Status() [][2]string

	// Cleanup runs at daemon shutdown.
	Cleanup() error
}

// Typed driver errors. Callers branch on these to distinguish operator
// remediation (no space) from deferred retry (busy) from fatal config.

// ErrNoSpace reports an allocation rejected for insufficient space.
func ErrNoSpace(detail string) error {
	return apperrors.NoSpace(detail)
}

// ErrBusy reports a layer still referenced by a mount namespace.
func ErrBusy(id string) error {
	return apperrors.DeviceBusy(id)
}

// ErrUnsupported reports a configuration the driver cannot honor. Fatal at
// daemon startup.
func ErrUnsupported(detail string) error {
	return apperrors.Unsupported(detail)
}

// ErrUnknownLayer reports an id the driver has no record of.
func ErrUnknownLayer(id string) error {
	return apperrors.NotFound("layer", id)
}

// parseDriverOpts validates prefixed key=value driver options against the
// accepted key set. Unknown keys are a fatal configuration error.
func parseDriverOpts(prefix string, options []string, accepted map[string]bool) (map[string]string, error) {
	out := make(map[string]string, len(options))
	for _, opt := range options {
		key, value, ok := strings.Cut(opt, "=")
		if !ok {
			return nil, apperrors.Newf(apperrors.CodeInvalidConfig,
				"storage-opt %q: expected key=value", opt)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if !strings.HasPrefix(key, prefix+".") {
			return nil, apperrors.Newf(apperrors.CodeInvalidConfig,
				"storage-opt %q is not valid for the %s driver", key, prefix)
		}
		if !accepted[key] {
			return nil, apperrors.Newf(apperrors.CodeInvalidConfig,
				"unknown storage-opt %q for the %s driver", key, prefix)
		}
		out[key] = value
	}
	return out, nil
}
