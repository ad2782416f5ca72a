// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

// Package image manages image metadata, tags and the pull/push pipeline.
package image

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/filters"
	"github.com/stevedore-io/stevedore/internal/pkg/locker"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
	"github.com/stevedore-io/stevedore/internal/storage"
)

// ServiceConfig contains image service configuration.
type ServiceConfig struct {
	// MaxConcurrentDownloads bounds parallel layer fetches per daemon.
	MaxConcurrentDownloads int
	// MaxConcurrentUploads bounds parallel layer pushes per daemon.
	MaxConcurrentUploads int
}

// DefaultConfig returns default service configuration.
func DefaultConfig() ServiceConfig {
	return ServiceConfig{
		MaxConcurrentDownloads: 3,
		MaxConcurrentUploads:   5,
	}
}

// ImageRepository defines persistence operations for image metadata.
type ImageRepository interface {
	Upsert(ctx context.Context, img *models.Image) error
	Get(ctx context.Context, id string) (*models.Image, error)
	Resolve(ctx context.Context, ref string) (*models.Image, error)
	List(ctx context.Context) ([]*models.Image, error)
	ListChildren(ctx context.Context, parentID string) ([]*models.Image, error)
	UpdateTags(ctx context.Context, id string, tags []string) error
	Delete(ctx context.Context, id string) error
}

// ContainerCounter reports how many containers reference an image, for
// in-use removal checks.
type ContainerCounter interface {
	CountByImage(ctx context.Context, imageID string) (int, error)
}

// Manifest describes a remote image as resolved by the registry transport.
type Manifest struct {
	ID       string
	ParentID string
	Layers   []LayerDescriptor
	Labels   map[string]string
}

// LayerDescriptor identifies one layer blob in a manifest, ordered
// lowest first.
type LayerDescriptor struct {
	ID   string
	Size int64
}

// Transport fetches manifests and layer blobs from a registry. The HTTP
// registry client is an external collaborator behind this interface.
type Transport interface {
	ResolveManifest(ctx context.Context, ref string) (*Manifest, error)
	FetchLayer(ctx context.Context, layerID string) (io.ReadCloser, error)
	PushLayer(ctx context.Context, layerID string, r io.Reader) error
}

// Service provides image management operations.
type Service struct {
	repo       ImageRepository
	containers ContainerCounter
	layers     *storage.LayerStore
	transport  Transport
	config     ServiceConfig
	logger     *logger.Logger

	// pulls serializes concurrent pulls of the same reference.
	pulls *locker.Locker
	// downloadSem bounds layer downloads across all pulls.
	downloadSem chan struct{}
	uploadSem   chan struct{}
}

// NewService creates an image service.
func NewService(
	repo ImageRepository,
	containers ContainerCounter,
	layers *storage.LayerStore,
	transport Transport,
	config ServiceConfig,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if config.MaxConcurrentDownloads <= 0 {
		config.MaxConcurrentDownloads = DefaultConfig().MaxConcurrentDownloads
	}
	if config.MaxConcurrentUploads <= 0 {
		config.MaxConcurrentUploads = DefaultConfig().MaxConcurrentUploads
	}
	return &Service{
		repo:        repo,
		containers:  containers,
		layers:      layers,
		transport:   transport,
		config:      config,
		logger:      log.Named("image"),
		pulls:       locker.New(),
		downloadSem: make(chan struct{}, config.MaxConcurrentDownloads),
		uploadSem:   make(chan struct{}, config.MaxConcurrentUploads),
	}
}

// ============================================================================
// Pull / push
// ============================================================================

// Pull fetches an image from the registry, downloading missing layers
// through the bounded download pool, and tags it with the normalized ref.
func (s *Service) Pull(ctx context.Context, ref string) (*models.Image, error) {
	if s.transport == nil {
		return nil, apperrors.Unsupported("no registry configured")
	}
	normalized := models.NormalizeImageRef(ref)

	s.pulls.Lock(normalized)
	defer s.pulls.Unlock(normalized)

	manifest, err := s.transport.ResolveManifest(ctx, normalized)
	if err != nil {
		return nil, err
	}

	var (
		totalSize int64
		layerIDs  = make([]string, 0, len(manifest.Layers))
		parent    = ""
	)
	for _, desc := range manifest.Layers {
		layerIDs = append(layerIDs, desc.ID)
		size, err := s.ensureLayer(ctx, desc, parent)
		if err != nil {
			return nil, err
		}
		totalSize += size
		parent = desc.ID
	}

	img := &models.Image{
		ID:        manifest.ID,
		ParentID:  manifest.ParentID,
		RepoTags:  []string{normalized},
		Layers:    layerIDs,
		SizeBytes: totalSize,
		Labels:    manifest.Labels,
		CreatedAt: time.Now().UTC(),
	}

	// Merge tags if the image already exists under other refs.
	if existing, err := s.repo.Get(ctx, manifest.ID); err == nil {
		img.CreatedAt = existing.CreatedAt
		img.RepoTags = mergeTags(existing.RepoTags, normalized)
		if existing.SizeBytes > 0 {
			img.SizeBytes = existing.SizeBytes
		}
	}

	if err := s.repo.Upsert(ctx, img); err != nil {
		return nil, err
	}
	s.logger.Info("image pulled",
		"ref", normalized, "id", models.TruncateID(img.ID), "layers", len(layerIDs))
	return img, nil
}

// ensureLayer downloads one layer if not already present, gated by the
// download semaphore.
func (s *Service) ensureLayer(ctx context.Context, desc LayerDescriptor, parent string) (int64, error) {
	if s.layers.Exists(desc.ID) {
		if err := s.layers.Retain(desc.ID); err != nil {
			return 0, err
		}
		return desc.Size, nil
	}

	select {
	case s.downloadSem <- struct{}{}:
	case <-ctx.Done():
		return 0, apperrors.Wrap(ctx.Err(), apperrors.CodeTimeout, "layer download canceled")
	}
	defer func() { <-s.downloadSem }()

	blob, err := s.transport.FetchLayer(ctx, desc.ID)
	if err != nil {
		return 0, err
	}
	defer blob.Close()

	if err := s.layers.CreateLayer(desc.ID, parent, nil); err != nil {
		return 0, err
	}
	applied, err := s.layers.ApplyDiff(desc.ID, blob)
	if err != nil {
		s.layers.Release(desc.ID)
		s.layers.Remove(desc.ID)
		return 0, apperrors.Wrap(err, apperrors.CodeInternal, "apply layer "+models.TruncateID(desc.ID))
	}
	return applied, nil
}

// Push uploads an image's layers through the bounded upload pool.
func (s *Service) Push(ctx context.Context, ref string) error {
	if s.transport == nil {
		return apperrors.Unsupported("no registry configured")
	}
	img, err := s.repo.Resolve(ctx, models.NormalizeImageRef(ref))
	if err != nil {
		return err
	}

	parent := ""
	for _, layerID := range img.Layers {
		select {
		case s.uploadSem <- struct{}{}:
		case <-ctx.Done():
			return apperrors.Wrap(ctx.Err(), apperrors.CodeTimeout, "layer upload canceled")
		}

		diff, err := s.layers.Diff(layerID, parent)
		if err != nil {
			<-s.uploadSem
			return err
		}
		err = s.transport.PushLayer(ctx, layerID, diff)
		diff.Close()
		<-s.uploadSem
		if err != nil {
			return err
		}
		parent = layerID
	}
	s.logger.Info("image pushed", "ref", ref, "id", models.TruncateID(img.ID))
	return nil
}

// ============================================================================
// Tag store
// ============================================================================

// Tag adds a repo:tag reference to an existing image. A tag already
// pointing at another image is moved, matching documented retag behavior.
func (s *Service) Tag(ctx context.Context, ref, newTag string) error {
	img, err := s.repo.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	normalized := models.NormalizeImageRef(newTag)

	// Steal the tag from any image currently holding it.
	if holder, err := s.repo.Resolve(ctx, normalized); err == nil && holder.ID != img.ID {
		if err := s.repo.UpdateTags(ctx, holder.ID, removeTag(holder.RepoTags, normalized)); err != nil {
			return err
		}
	}

	return s.repo.UpdateTags(ctx, img.ID, mergeTags(img.RepoTags, normalized))
}

// Get resolves an image by tag, full ID, or ID prefix.
func (s *Service) Get(ctx context.Context, ref string) (*models.Image, error) {
	return s.repo.Resolve(ctx, ref)
}

// List returns images matching the filter args. Supported filters:
// dangling, label, reference, before, since.
func (s *Service) List(ctx context.Context, args filters.Args) ([]*models.Image, error) {
	if err := args.Validate(map[string]bool{
		"dangling": true, "label": true, "reference": true, "before": true, "since": true,
	}); err != nil {
		return nil, err
	}

	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	var before, since time.Time
	if args.Contains("before") {
		img, err := s.repo.Resolve(ctx, args.Get("before")[0])
		if err != nil {
			return nil, err
		}
		before = img.CreatedAt
	}
	if args.Contains("since") {
		img, err := s.repo.Resolve(ctx, args.Get("since")[0])
		if err != nil {
			return nil, err
		}
		since = img.CreatedAt
	}

	out := make([]*models.Image, 0, len(all))
	for _, img := range all {
		if args.Contains("dangling") {
			wantDangling := args.Match("dangling", "true") || args.Match("dangling", "1")
			isDangling, err := s.isDangling(ctx, img)
			if err != nil {
				return nil, err
			}
			if wantDangling != isDangling {
				continue
			}
		}
		if !args.MatchLabels(img.Labels) {
			continue
		}
		if args.Contains("reference") && !matchReference(args.Get("reference"), img.RepoTags) {
			continue
		}
		if !before.IsZero() && !img.CreatedAt.Before(before) {
			continue
		}
		if !since.IsZero() && !img.CreatedAt.After(since) {
			continue
		}
		out = append(out, img)
	}
	return out, nil
}

// isDangling reports whether the image is untagged and has no children.
func (s *Service) isDangling(ctx context.Context, img *models.Image) (bool, error) {
	if img.IsTagged() {
		return false, nil
	}
	children, err := s.repo.ListChildren(ctx, img.ID)
	if err != nil {
		return false, err
	}
	return len(children) == 0, nil
}

// ============================================================================
// Remove
// ============================================================================

// RemoveResult reports what an image removal did.
type RemoveResult struct {
	Untagged []string `json:"untagged,omitempty"`
	Deleted  []string `json:"deleted,omitempty"`
}

// Remove deletes an image or untags one reference of a multi-tagged
// image. Images used by any container are never deleted; force on a
// multi-tagged ref untags instead of deleting.
func (s *Service) Remove(ctx context.Context, ref string, force bool) (*RemoveResult, error) {
	img, err := s.repo.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	inUse, err := s.containers.CountByImage(ctx, img.ID)
	if err != nil {
		return nil, err
	}

	byTag := !strings.HasPrefix(img.ID, ref)
	result := &RemoveResult{}

	// A tagged ref on a multi-tagged image only unties that tag.
	if byTag && len(img.RepoTags) > 1 {
		normalized := models.NormalizeImageRef(ref)
		if err := s.repo.UpdateTags(ctx, img.ID, removeTag(img.RepoTags, normalized)); err != nil {
			return nil, err
		}
		result.Untagged = []string{normalized}
		return result, nil
	}

	if inUse > 0 {
		if force && byTag {
			normalized := models.NormalizeImageRef(ref)
			if err := s.repo.UpdateTags(ctx, img.ID, removeTag(img.RepoTags, normalized)); err != nil {
				return nil, err
			}
			result.Untagged = []string{normalized}
			return result, nil
		}
		return nil, apperrors.InUse("image", models.TruncateID(img.ID),
			fmt.Sprintf("%d container(s)", inUse))
	}

	children, err := s.repo.ListChildren(ctx, img.ID)
	if err != nil {
		return nil, err
	}
	if len(children) > 0 && !force {
		return nil, apperrors.Conflict(fmt.Sprintf(
			"image %s has %d dependent child image(s)", models.TruncateID(img.ID), len(children)))
	}

	result.Untagged = append(result.Untagged, img.RepoTags...)
	if err := s.repo.Delete(ctx, img.ID); err != nil {
		return nil, err
	}
	result.Deleted = append(result.Deleted, img.ID)

	// Drop layer references top-down; layers still shared stay behind.
	for i := len(img.Layers) - 1; i >= 0; i-- {
		s.layers.Release(img.Layers[i])
		if s.layers.RefCount(img.Layers[i]) == 0 {
			if err := s.layers.Remove(img.Layers[i]); err != nil {
				s.logger.Warn("remove layer", "layer", models.TruncateID(img.Layers[i]), "error", err)
			}
		}
	}

	s.logger.Info("image removed", "id", models.TruncateID(img.ID))
	return result, nil
}

// ============================================================================
// Helpers
// ============================================================================

func mergeTags(tags []string, add string) []string {
	for _, t := range tags {
		if t == add {
			return tags
		}
	}
	return append(append([]string(nil), tags...), add)
}

func removeTag(tags []string, drop string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != drop {
			out = append(out, t)
		}
	}
	return out
}

// matchReference applies shell-style reference patterns ("repo:*", exact
// otherwise) against an image's tags.
func matchReference(patterns []string, tags []string) bool {
	for _, pattern := range patterns {
		for _, tag := range tags {
			if pattern == tag {
				return true
			}
			if strings.HasSuffix(pattern, "*") &&
				strings.HasPrefix(tag, strings.TrimSuffix(pattern, "*")) {
				return true
			}
		}
	}
	return false
}
