// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

// Package volume manages named and anonymous data volumes.
package volume

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/filters"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

// DefaultDriver is the only volume driver shipped with the daemon.
const DefaultDriver = "local"

// VolumeRepository defines persistence operations for volumes.
type VolumeRepository interface {
	Create(ctx context.Context, v *models.Volume) error
	Get(ctx context.Context, name string) (*models.Volume, error)
	List(ctx context.Context) ([]*models.Volume, error)
	Delete(ctx context.Context, name string) error
}

// Service provides volume management operations.
type Service struct {
	repo     VolumeRepository
	dataRoot string
	logger   *logger.Logger

	// refs tracks live container mounts per volume. It is runtime state:
	// recomputed from persisted container mounts on daemon restore.
	refMu sync.Mutex
	refs  map[string]int
}

// NewService creates a volume service rooted at dataRoot.
func NewService(repo VolumeRepository, dataRoot string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:     repo,
		dataRoot: dataRoot,
		logger:   log.Named("volume"),
		refs:     make(map[string]int),
	}
}

// CreateOptions are the user-settable fields of a new volume.
type CreateOptions struct {
	// Name is the volume name. Empty means anonymous: a random 64-hex
	// name plus the anonymous label marker.
	Name    string
	Driver  string
	Labels  map[string]string
	Options map[string]string
}

// Create creates a volume. Creating an existing name with identical
// driver is idempotent and returns the existing volume.
func (s *Service) Create(ctx context.Context, opts CreateOptions) (*models.Volume, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DefaultDriver
	}
	if driver != DefaultDriver {
		return nil, apperrors.InvalidInput(fmt.Sprintf("volume driver %q is not available", driver))
	}

	labels := opts.Labels
	name := opts.Name
	if name == "" {
		name = models.GenerateID()
		if labels == nil {
			labels = make(map[string]string, 1)
		}
		labels[models.AnonymousVolumeLabel] = "true"
	}

	v := &models.Volume{
		Name:       name,
		Driver:     driver,
		Mountpoint: s.mountpoint(name),
		Labels:     labels,
		Options:    opts.Options,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, v); err != nil {
		if apperrors.IsConflict(err) {
			existing, getErr := s.repo.Get(ctx, name)
			if getErr == nil && existing.Driver == driver {
				return existing, nil
			}
			return nil, apperrors.Conflict(fmt.Sprintf("volume %q already exists with a different driver", name))
		}
		return nil, err
	}

	if err := os.MkdirAll(v.Mountpoint, 0o710); err != nil {
		s.repo.Delete(ctx, name)
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "create volume mountpoint")
	}

	s.logger.Info("volume created", "name", models.TruncateID(name), "driver", driver)
	return v, nil
}

// Get fetches a volume by name with its live reference count.
func (s *Service) Get(ctx context.Context, name string) (*models.Volume, error) {
	v, err := s.repo.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	v.RefCount = s.refCount(name)
	return v, nil
}

// List returns volumes matching the filter args. Supported filters:
// name, driver, label, dangling.
func (s *Service) List(ctx context.Context, args filters.Args) ([]*models.Volume, error) {
	if err := args.Validate(map[string]bool{
		"name": true, "driver": true, "label": true, "dangling": true,
	}); err != nil {
		return nil, err
	}

	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Volume, 0, len(all))
	for _, v := range all {
		v.RefCount = s.refCount(v.Name)
		if args.Contains("name") && !args.Match("name", v.Name) {
			continue
		}
		if args.Contains("driver") && !args.Match("driver", v.Driver) {
			continue
		}
		if !args.MatchLabels(v.Labels) {
			continue
		}
		if args.Contains("dangling") {
			wantDangling := args.Match("dangling", "true") || args.Match("dangling", "1")
			if wantDangling == v.InUse() {
				continue
			}
		}
		out = append(out, v)
	}
	return out, nil
}

// Remove deletes a volume. Volumes mounted by any container are never
// removed, force or not: force only suppresses the not-found error.
func (s *Service) Remove(ctx context.Context, name string, force bool) error {
	v, err := s.repo.Get(ctx, name)
	if err != nil {
		if force && apperrors.IsNotFound(err) {
			return nil
		}
		return err
	}

	if n := s.refCount(name); n > 0 {
		return apperrors.InUse("volume", name, fmt.Sprintf("mounted by %d container(s)", n))
	}

	if err := s.repo.Delete(ctx, name); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Dir(v.Mountpoint)); err != nil {
		s.logger.Warn("remove volume data", "name", models.TruncateID(name), "error", err)
	}
	s.logger.Info("volume removed", "name", models.TruncateID(name))
	return nil
}

// ============================================================================
// Reference counting (driven by the container lifecycle manager)
// ============================================================================

// Retain records one container mount of the volume.
func (s *Service) Retain(name string) {
	s.refMu.Lock()
	s.refs[name]++
	s.refMu.Unlock()
}

// Release drops one container mount and returns the remaining count.
func (s *Service) Release(name string) int {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	if s.refs[name] > 0 {
		s.refs[name]--
	}
	n := s.refs[name]
	if n == 0 {
		delete(s.refs, name)
	}
	return n
}

// Restore replaces the runtime reference counts wholesale, from the
// persisted container mounts scanned at daemon boot.
func (s *Service) Restore(counts map[string]int) {
	s.refMu.Lock()
	s.refs = make(map[string]int, len(counts))
	for name, n := range counts {
		if n > 0 {
			s.refs[name] = n
		}
	}
	s.refMu.Unlock()
}

func (s *Service) refCount(name string) int {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	return s.refs[name]
}

func (s *Service) mountpoint(name string) string {
	return filepath.Join(s.dataRoot, "volumes", name, "_data")
}
