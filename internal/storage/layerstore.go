// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package storage

import (
	"io"
	"sync"

	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

// LayerStore is the shared, reference-counted layer bookkeeping on top of a
// single graph driver. Image layers and container writable layers both live
// here; a layer cannot be removed while any consumer still references it.
type LayerStore struct {
	driver Driver
	log    *logger.Logger

	mu     sync.Mutex
	refs   map[string]int // logical consumers (images, containers)
	mounts map[string]int // outstanding Get/Put balance
}

// NewLayerStore wraps driver with reference counting.
func NewLayerStore(driver Driver, log *logger.Logger) *LayerStore {
	if log == nil {
		log = logger.Nop()
	}
	return &LayerStore{
		driver: driver,
		log:    log.Named("layerstore"),
		refs:   make(map[string]int),
		mounts: make(map[string]int),
	}
}

// Driver exposes the underlying graph driver (for Status/info output).
func (s *LayerStore) Driver() Driver {
	return s.driver
}

// CreateLayer allocates a layer and takes one logical reference on it.
func (s *LayerStore) CreateLayer(id, parent string, opts *CreateOpts) error {
	if err := s.driver.Create(id, parent, opts); err != nil {
		return err
	}
	s.mu.Lock()
	s.refs[id]++
	if parent != "" {
		s.refs[parent]++
	}
	s.mu.Unlock()
	return nil
}

// Retain adds a logical reference to an existing layer.
func (s *LayerStore) Retain(id string) error {
	if !s.driver.Exists(id) {
		return ErrUnknownLayer(id)
	}
	s.mu.Lock()
	s.refs[id]++
	s.mu.Unlock()
	return nil
}

// Release drops one logical reference. The layer itself stays until Remove.
func (s *LayerStore) Release(id string) {
	s.mu.Lock()
	if s.refs[id] > 0 {
		s.refs[id]--
	}
	s.mu.Unlock()
}

// RefCount reports the logical reference count of a layer.
func (s *LayerStore) RefCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[id]
}

// Mount mounts the layer and returns its filesystem path.
func (s *LayerStore) Mount(id, mountLabel string) (string, error) {
	path, err := s.driver.Get(id, mountLabel)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.mounts[id]++
	s.mu.Unlock()
	return path, nil
}

// Unmount releases one mount reference.
func (s *LayerStore) Unmount(id string) error {
	s.mu.Lock()
	if s.mounts[id] > 0 {
		s.mounts[id]--
	}
	s.mu.Unlock()
	return s.driver.Put(id)
}

// Remove deletes a layer. It refuses while logical references remain beyond
// the caller's own (refs > 1) or while the layer is mounted.
func (s *LayerStore) Remove(id string) error {
	s.mu.Lock()
	if s.refs[id] > 1 {
		refs := s.refs[id]
		s.mu.Unlock()
		return apperrors.InUse("layer", id, "other consumers").
			WithDetail("refs", refs)
	}
	if s.mounts[id] > 0 {
		s.mu.Unlock()
		return ErrBusy(id)
	}
	s.mu.Unlock()

	if err := s.driver.Remove(id); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.refs, id)
	delete(s.mounts, id)
	s.mu.Unlock()
	return nil
}

// ApplyDiff extracts a compressed layer tar into the layer's filesystem,
// returning the uncompressed size applied. Used by the image pull path.
func (s *LayerStore) ApplyDiff(id string, diff io.Reader) (int64, error) {
	path, err := s.Mount(id, "")
	if err != nil {
		return 0, err
	}
	defer s.Unmount(id)
	return applyArchive(path, diff)
}

// Diff streams the compressed changeset of a layer against its parent.
func (s *LayerStore) Diff(id, parent string) (io.ReadCloser, error) {
	return s.driver.Diff(id, parent)
}

// Exists reports whether the layer exists in the driver.
func (s *LayerStore) Exists(id string) bool {
	return s.driver.Exists(id)
}

// Cleanup shuts the driver down.
func (s *LayerStore) Cleanup() error {
	return s.driver.Cleanup()
}
