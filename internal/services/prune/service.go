// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

// Package prune implements age- and reference-based reclamation of
// unused containers, images, networks, and volumes.
package prune

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/stevedore-io/stevedore/internal/models"
	"github.com/stevedore-io/stevedore/internal/pkg/filters"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
	"github.com/stevedore-io/stevedore/internal/services/image"
)

// ContainerManager is the container surface the engine consumes.
type ContainerManager interface {
	List(ctx context.Context, args filters.Args, all bool) ([]*models.Container, error)
	Remove(ctx context.Context, ref string, force, removeVolumes bool) error
}

// ImageManager is the image surface the engine consumes.
type ImageManager interface {
	List(ctx context.Context, args filters.Args) ([]*models.Image, error)
	Remove(ctx context.Context, ref string, force bool) (*image.RemoveResult, error)
}

// VolumeManager is the volume surface the engine consumes.
type VolumeManager interface {
	List(ctx context.Context, args filters.Args) ([]*models.Volume, error)
	Remove(ctx context.Context, name string, force bool) error
}

// NetworkManager is the network surface the engine consumes.
type NetworkManager interface {
	List(ctx context.Context, args filters.Args) ([]*models.Network, error)
	Remove(ctx context.Context, ref string) error
}

// Failure is one resource the engine tried and could not delete.
type Failure struct {
	Ref string `json:"ref"`
	Err string `json:"error"`
}

// Report is the per-class outcome of a prune pass.
type Report struct {
	Deleted        []string  `json:"deleted"`
	Untagged       []string  `json:"untagged,omitempty"` // image prune only
	Failures       []Failure `json:"failures,omitempty"`
	SpaceReclaimed int64     `json:"space_reclaimed"`
}

// SystemReport aggregates a full `system prune`.
type SystemReport struct {
	Containers     *Report `json:"containers"`
	Networks       *Report `json:"networks"`
	Images         *Report `json:"images"`
	Volumes        *Report `json:"volumes,omitempty"`
	SpaceReclaimed int64   `json:"space_reclaimed"`
}

var pruneFilterKeys = map[string]bool{"until": true, "label": true}

// Service is the prune engine.
type Service struct {
	containers ContainerManager
	images     ImageManager
	volumes    VolumeManager
	networks   NetworkManager
	logger     *logger.Logger
	now        func() time.Time
}

// NewService wires the engine over the resource managers.
func NewService(containers ContainerManager, images ImageManager,
	volumes VolumeManager, networks NetworkManager, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		containers: containers,
		images:     images,
		volumes:    volumes,
		networks:   networks,
		logger:     log.Named("prune"),
		now:        time.Now,
	}
}

// cutoff resolves the `until` filter. The zero time means no age bound.
// Resources created at or after the cutoff are never eligible.
func (s *Service) cutoff(args filters.Args) (time.Time, error) {
	if err := args.Validate(pruneFilterKeys); err != nil {
		return time.Time{}, err
	}
	return args.UntilCutoff(s.now())
}

func eligible(createdAt, cutoff time.Time) bool {
	if cutoff.IsZero() {
		return true
	}
	return createdAt.Before(cutoff)
}

// ============================================================================
// Containers
// ============================================================================

// Containers removes every stopped container older than the cutoff.
func (s *Service) Containers(ctx context.Context, args filters.Args) (*Report, error) {
	cutoff, err := s.cutoff(args)
	if err != nil {
		return nil, err
	}
	all, err := s.containers.List(ctx, filters.NewArgs(), true)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for _, c := range all {
		switch c.State {
		case models.StateCreated, models.StateExited, models.StateDead:
		default:
			continue
		}
		if !eligible(c.CreatedAt, cutoff) || !args.MatchLabels(c.Labels) {
			continue
		}
		if err := s.containers.Remove(ctx, c.ID, false, false); err != nil {
			report.Failures = append(report.Failures, Failure{Ref: c.ShortID(), Err: err.Error()})
			continue
		}
		report.Deleted = append(report.Deleted, c.ID)
	}
	s.logger.Info("container prune complete",
		"deleted", len(report.Deleted), "failed", len(report.Failures))
	return report, nil
}

// ============================================================================
// Images
// ============================================================================

// Images removes unused images. By default only dangling images
// (untagged, childless) are eligible; all extends this to every image
// not referenced by any container, tagged or not.
func (s *Service) Images(ctx context.Context, args filters.Args, all bool) (*Report, error) {
	cutoff, err := s.cutoff(args)
	if err != nil {
		return nil, err
	}

	var candidates []*models.Image
	if all {
		imgs, err := s.images.List(ctx, filters.NewArgs())
		if err != nil {
			return nil, err
		}
		used, err := s.usedImageIDs(ctx)
		if err != nil {
			return nil, err
		}
		for _, img := range imgs {
			if !used[img.ID] {
				candidates = append(candidates, img)
			}
		}
	} else {
		dangling := filters.NewArgs()
		dangling.Add("dangling", "true")
		candidates, err = s.images.List(ctx, dangling)
		if err != nil {
			return nil, err
		}
	}

	var keep []*models.Image
	for _, img := range candidates {
		if eligible(img.CreatedAt, cutoff) && args.MatchLabels(img.Labels) {
			keep = append(keep, img)
		}
	}

	// Children before parents: an image is undeletable while a child
	// still builds on it, so the deepest descendants go first.
	byID := make(map[string]*models.Image, len(keep))
	for _, img := range keep {
		byID[img.ID] = img
	}
	depth := func(img *models.Image) int {
		d := 0
		for cur := img; cur.ParentID != ""; {
			parent, ok := byID[cur.ParentID]
			if !ok {
				break
			}
			d++
			cur = parent
		}
		return d
	}
	sort.SliceStable(keep, func(i, j int) bool { return depth(keep[i]) > depth(keep[j]) })

	report := &Report{}
	for _, img := range keep {
		res, err := s.images.Remove(ctx, img.ID, all)
		if err != nil {
			report.Failures = append(report.Failures, Failure{Ref: img.ShortID(), Err: err.Error()})
			continue
		}
		report.Untagged = append(report.Untagged, res.Untagged...)
		if len(res.Deleted) > 0 {
			report.Deleted = append(report.Deleted, img.ID)
			report.SpaceReclaimed += img.SizeBytes
		}
	}
	s.logger.Info("image prune complete",
		"deleted", len(report.Deleted), "failed", len(report.Failures),
		"reclaimed_bytes", report.SpaceReclaimed)
	return report, nil
}

func (s *Service) usedImageIDs(ctx context.Context) (map[string]bool, error) {
	ctrs, err := s.containers.List(ctx, filters.NewArgs(), true)
	if err != nil {
		return nil, err
	}
	used := make(map[string]bool, len(ctrs))
	for _, c := range ctrs {
		used[c.ImageID] = true
	}
	return used, nil
}

// ============================================================================
// Volumes
// ============================================================================

// Volumes removes every volume no container mounts.
func (s *Service) Volumes(ctx context.Context, args filters.Args) (*Report, error) {
	cutoff, err := s.cutoff(args)
	if err != nil {
		return nil, err
	}
	vols, err := s.volumes.List(ctx, filters.NewArgs())
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for _, v := range vols {
		if v.InUse() || !eligible(v.CreatedAt, cutoff) || !args.MatchLabels(v.Labels) {
			continue
		}
		size := dirSize(v.Mountpoint)
		if err := s.volumes.Remove(ctx, v.Name, false); err != nil {
			report.Failures = append(report.Failures, Failure{Ref: v.Name, Err: err.Error()})
			continue
		}
		report.Deleted = append(report.Deleted, v.Name)
		report.SpaceReclaimed += size
	}
	s.logger.Info("volume prune complete",
		"deleted", len(report.Deleted), "failed", len(report.Failures),
		"reclaimed_bytes", report.SpaceReclaimed)
	return report, nil
}

// dirSize sums regular-file sizes under root. Best effort: a vanished
// or unreadable path counts as zero.
func dirSize(root string) int64 {
	var total int64
	_ = filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total
}

// ============================================================================
// Networks
// ============================================================================

// Networks removes custom networks with no attached containers. Builtin
// networks are never touched.
func (s *Service) Networks(ctx context.Context, args filters.Args) (*Report, error) {
	cutoff, err := s.cutoff(args)
	if err != nil {
		return nil, err
	}
	nets, err := s.networks.List(ctx, filters.NewArgs())
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for _, n := range nets {
		if n.Builtin || len(n.Endpoints) > 0 {
			continue
		}
		if !eligible(n.CreatedAt, cutoff) || !args.MatchLabels(n.Labels) {
			continue
		}
		if err := s.networks.Remove(ctx, n.ID); err != nil {
			report.Failures = append(report.Failures, Failure{Ref: n.Name, Err: err.Error()})
			continue
		}
		report.Deleted = append(report.Deleted, n.Name)
	}
	s.logger.Info("network prune complete",
		"deleted", len(report.Deleted), "failed", len(report.Failures))
	return report, nil
}

// ============================================================================
// System
// ============================================================================

// SystemOptions configure a full prune pass.
type SystemOptions struct {
	Filters filters.Args
	// All extends image eligibility from dangling to unused.
	All bool
	// Volumes opts volumes in; they are excluded by default.
	Volumes bool
}

// System prunes containers, then networks, then images, then optionally
// volumes. Containers go first so the images and volumes they pinned
// become eligible within the same pass.
func (s *Service) System(ctx context.Context, opts SystemOptions) (*SystemReport, error) {
	report := &SystemReport{}

	var err error
	if report.Containers, err = s.Containers(ctx, opts.Filters); err != nil {
		return nil, err
	}
	if report.Networks, err = s.Networks(ctx, opts.Filters); err != nil {
		return nil, err
	}
	if report.Images, err = s.Images(ctx, opts.Filters, opts.All); err != nil {
		return nil, err
	}
	report.SpaceReclaimed = report.Containers.SpaceReclaimed +
		report.Networks.SpaceReclaimed + report.Images.SpaceReclaimed
	if opts.Volumes {
		if report.Volumes, err = s.Volumes(ctx, opts.Filters); err != nil {
			return nil, err
		}
		report.SpaceReclaimed += report.Volumes.SpaceReclaimed
	}
	return report, nil
}
