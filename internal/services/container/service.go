// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

// Package container implements the container lifecycle manager: creation,
// the running state machine, restart supervision and removal.
package container

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/filters"
	"github.com/stevedore-io/stevedore/internal/pkg/locker"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
	"github.com/stevedore-io/stevedore/internal/repository/postgres"
	"github.com/stevedore-io/stevedore/internal/runtime"
	"github.com/stevedore-io/stevedore/internal/services/volume"
	"github.com/stevedore-io/stevedore/internal/storage"
)

// ServiceConfig contains lifecycle manager configuration.
type ServiceConfig struct {
	// DefaultStopTimeout is the grace period between the stop signal and
	// SIGKILL when the container sets none.
	DefaultStopTimeout time.Duration

	// RestartBackoffBase seeds the exponential restart delay.
	RestartBackoffBase time.Duration

	// RestartBackoffMax caps the restart delay.
	RestartBackoffMax time.Duration

	// UsernsRemap is the daemon-level user namespace remapping setting,
	// empty when disabled. Privileged containers then require
	// userns-mode=host.
	UsernsRemap string
}

// DefaultConfig returns default service configuration.
func DefaultConfig() ServiceConfig {
	return ServiceConfig{
		DefaultStopTimeout: 10 * time.Second,
		RestartBackoffBase: 100 * time.Millisecond,
		RestartBackoffMax:  time.Minute,
	}
}

// Service is the container lifecycle manager. Operations on the same
// container serialize through a named lock; distinct containers proceed
// concurrently.
type Service struct {
	repo     ContainerRepository
	images   ImageResolver
	layers   *storage.LayerStore
	volumes  VolumeManager
	networks NetworkManager
	rt       runtime.Runtime
	events   EventRecorder
	config   ServiceConfig
	logger   *logger.Logger

	locks   *locker.Locker
	waiters *exitWaiters
}

// NewService creates the lifecycle manager.
func NewService(
	repo ContainerRepository,
	images ImageResolver,
	layers *storage.LayerStore,
	volumes VolumeManager,
	networks NetworkManager,
	rt runtime.Runtime,
	events EventRecorder,
	config ServiceConfig,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if config.DefaultStopTimeout <= 0 {
		config.DefaultStopTimeout = DefaultConfig().DefaultStopTimeout
	}
	if config.RestartBackoffBase <= 0 {
		config.RestartBackoffBase = DefaultConfig().RestartBackoffBase
	}
	if config.RestartBackoffMax <= 0 {
		config.RestartBackoffMax = DefaultConfig().RestartBackoffMax
	}
	return &Service{
		repo:     repo,
		images:   images,
		layers:   layers,
		volumes:  volumes,
		networks: networks,
		rt:       rt,
		events:   events,
		config:   config,
		logger:   log.Named("container"),
		locks:    locker.New(),
		waiters:  newExitWaiters(),
	}
}

// ============================================================================
// Create
// ============================================================================

// CreateOptions are the user-settable fields of a new container.
type CreateOptions struct {
	Name       string
	Image      string
	Command    []string
	Env        []string
	Labels     map[string]string
	Mounts     []models.Mount
	Networks   []string
	HostConfig models.HostConfig

	// ServiceID/TaskID are set by the orchestrator for task containers.
	ServiceID string
	TaskID    string
}

// Create validates the configuration, allocates the writable layer and
// records the container in created state. Nothing is started.
func (s *Service) Create(ctx context.Context, opts CreateOptions) (*models.Container, error) {
	if opts.Image == "" {
		return nil, apperrors.InvalidInput("image reference is required")
	}
	if err := s.validateHostConfig(&opts.HostConfig); err != nil {
		return nil, err
	}
	name := opts.Name
	if name == "" {
		name = randomName()
	} else if err := validateName(name); err != nil {
		return nil, err
	}

	img, err := s.images.Resolve(ctx, opts.Image)
	if err != nil {
		return nil, err
	}

	command := opts.Command
	if len(command) == 0 {
		return nil, apperrors.InvalidInput("no command specified")
	}

	id := models.GenerateID()
	c := &models.Container{
		ID:         id,
		Name:       name,
		ImageID:    img.ID,
		Image:      models.NormalizeImageRef(opts.Image),
		Command:    command,
		State:      models.StateCreated,
		HostConfig: opts.HostConfig,
		Labels:     opts.Labels,
		Env:        opts.Env,
		LayerID:    id,
		ServiceID:  opts.ServiceID,
		TaskID:     opts.TaskID,
		CreatedAt:  time.Now().UTC(),
	}

	createOpts := &storage.CreateOpts{}
	if size := opts.HostConfig.Resources.StorageSize; size > 0 {
		createOpts.StorageOpt = map[string]string{"size": fmt.Sprintf("%d", size)}
	}
	if err := s.layers.CreateLayer(c.LayerID, img.TopLayer(), createOpts); err != nil {
		return nil, err
	}

	rollback := func() {
		for _, m := range c.Mounts {
			if m.VolumeName != "" {
				if s.volumes.Release(m.VolumeName) == 0 && m.Anonymous {
					s.volumes.Remove(ctx, m.VolumeName, true)
				}
			}
		}
		s.networks.DisconnectAll(ctx, c.ID)
		s.layers.Release(c.LayerID)
		s.layers.Remove(c.LayerID)
		if img.TopLayer() != "" {
			s.layers.Release(img.TopLayer())
		}
	}

	if err := s.setupMounts(ctx, c, opts.Mounts); err != nil {
		rollback()
		return nil, err
	}
	if err := s.setupNetworks(ctx, c, opts.Networks); err != nil {
		rollback()
		return nil, err
	}

	if err := s.repo.Create(ctx, c); err != nil {
		rollback()
		return nil, err
	}

	s.emit(ctx, models.EventTypeContainer, "create", c)
	s.logger.Info("container created", "id", c.ShortID(), "name", name, "image", c.Image)
	return c, nil
}

// validateHostConfig enforces flag exclusivity and limit sanity.
func (s *Service) validateHostConfig(hc *models.HostConfig) error {
	res := &hc.Resources
	if res.IOMaxBandwidth > 0 && res.IOMaxIOps > 0 {
		return apperrors.InvalidInput("conflicting options: io-maxbandwidth and io-maxiops cannot both be set")
	}
	if res.IOMaxBandwidth < 0 || res.IOMaxIOps < 0 || res.NanoCPUs < 0 ||
		res.MemoryBytes < 0 || res.PidsLimit < 0 || res.StorageSize < 0 {
		return apperrors.InvalidInput("resource limits cannot be negative")
	}
	if res.MemorySwapBytes != 0 && res.MemorySwapBytes != -1 &&
		res.MemorySwapBytes < res.MemoryBytes {
		return apperrors.InvalidInput("memory-swap must be -1 or larger than memory")
	}
	if hc.Privileged && s.config.UsernsRemap != "" && hc.UsernsMode != "host" {
		return apperrors.InvalidInput("privileged mode requires userns=host when user namespace remapping is enabled")
	}
	if hc.UsernsMode != "" && hc.UsernsMode != "host" {
		return apperrors.InvalidInput(fmt.Sprintf("invalid userns mode %q", hc.UsernsMode))
	}
	if hc.StopTimeout != nil && *hc.StopTimeout < 0 {
		return apperrors.InvalidInput("stop-timeout cannot be negative")
	}
	if hc.StopSignal != "" {
		if _, err := runtime.ParseSignal(hc.StopSignal); err != nil {
			return err
		}
	}
	if p := hc.RestartPolicy; p.Condition != "" {
		switch p.Condition {
		case models.RestartNo, models.RestartAlways, models.RestartOnFailure, models.RestartUnlessStopped:
		default:
			return apperrors.InvalidInput(fmt.Sprintf("invalid restart policy %q", p.Condition))
		}
		if p.MaxRetries > 0 && p.Condition != models.RestartOnFailure {
			return apperrors.InvalidInput("max restart retries only apply to on-failure")
		}
		if hc.AutoRemove && p.Condition != models.RestartNo {
			return apperrors.InvalidInput("auto-remove conflicts with a restart policy")
		}
	}
	return nil
}

// setupMounts resolves volume mounts, creating anonymous volumes for
// sourceless volume mounts, and takes a reference on each.
func (s *Service) setupMounts(ctx context.Context, c *models.Container, mounts []models.Mount) error {
	for _, m := range mounts {
		if m.Target == "" {
			return apperrors.InvalidInput("mount target is required")
		}
		if m.Type == models.MountTypeVolume {
			v, err := s.volumes.Create(ctx, volume.CreateOptions{Name: m.Source})
			if err != nil {
				return err
			}
			m.VolumeName = v.Name
			m.Anonymous = m.Source == ""
			s.volumes.Retain(v.Name)
		}
		c.Mounts = append(c.Mounts, m)
	}
	return nil
}

// setupNetworks connects the container to the requested networks, bridge
// by default.
func (s *Service) setupNetworks(ctx context.Context, c *models.Container, refs []string) error {
	if len(refs) == 0 {
		refs = []string{"bridge"}
	}
	for _, ref := range refs {
		n, err := s.networks.Get(ctx, ref)
		if err != nil {
			return err
		}
		ep, err := s.networks.Connect(ctx, ref, c.ID)
		if err != nil {
			return err
		}
		c.Networks = append(c.Networks, models.NetworkAttachment{
			NetworkID:   n.ID,
			NetworkName: n.Name,
			EndpointID:  ep.ID,
			MacAddress:  ep.MacAddress,
			IPv4Address: ep.IPv4Address,
			IPv6Address: ep.IPv6Address,
		})
	}
	return nil
}

// ============================================================================
// Inspect / list / rename
// ============================================================================

// Get resolves a container by name, full ID, or ID prefix.
func (s *Service) Get(ctx context.Context, ref string) (*models.Container, error) {
	return s.repo.GetByNameOrPrefix(ctx, ref)
}

// List returns containers matching the filter args. Supported filters:
// status, name, id, label, ancestor. all=false keeps only running states.
func (s *Service) List(ctx context.Context, args filters.Args, all bool) ([]*models.Container, error) {
	if err := args.Validate(map[string]bool{
		"status": true, "name": true, "id": true, "label": true, "ancestor": true,
	}); err != nil {
		return nil, err
	}

	var opts postgres.ListOptions
	for _, st := range args.Get("status") {
		opts.States = append(opts.States, models.ContainerState(st))
	}
	if args.Contains("ancestor") {
		img, err := s.images.Resolve(ctx, args.Get("ancestor")[0])
		if err != nil {
			return nil, err
		}
		opts.ImageID = img.ID
	}

	containers, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Container, 0, len(containers))
	for _, c := range containers {
		if !all && len(opts.States) == 0 && !c.State.IsRunning() {
			continue
		}
		if args.Contains("name") && !matchAnySubstring(args.Get("name"), c.Name) {
			continue
		}
		if args.Contains("id") && !args.MatchPrefix("id", c.ID) {
			continue
		}
		if !args.MatchLabels(c.Labels) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Rename changes a container's name. The new name must be free.
func (s *Service) Rename(ctx context.Context, ref, newName string) error {
	if err := validateName(newName); err != nil {
		return err
	}
	c, err := s.repo.GetByNameOrPrefix(ctx, ref)
	if err != nil {
		return err
	}

	s.locks.Lock(c.ID)
	defer s.locks.Unlock(c.ID)

	c, err = s.repo.Get(ctx, c.ID)
	if err != nil {
		return err
	}
	old := c.Name
	c.Name = newName
	if err := s.repo.Update(ctx, c); err != nil {
		return err
	}
	s.emit(ctx, models.EventTypeContainer, "rename", c)
	s.logger.Info("container renamed", "id", c.ShortID(), "from", old, "to", newName)
	return nil
}

// ============================================================================
// Remove
// ============================================================================

// Remove deletes a container. Running containers require force, which
// kills them first. Anonymous volumes whose last reference this was are
// removed; named volumes persist unless removeVolumes is set and they
// are otherwise unused.
func (s *Service) Remove(ctx context.Context, ref string, force, removeVolumes bool) error {
	c, err := s.repo.GetByNameOrPrefix(ctx, ref)
	if err != nil {
		return err
	}

	if c.State.IsRunning() {
		if !force {
			return apperrors.Conflict(fmt.Sprintf(
				"cannot remove running container %s: stop it first or use force", c.ShortID()))
		}
		// Mark the stop explicit so no restart races the removal, then
		// kill outside the lock (the exit watcher needs it).
		s.locks.Lock(c.ID)
		c2, err := s.repo.Get(ctx, c.ID)
		if err != nil {
			s.locks.Unlock(c.ID)
			return err
		}
		if !c2.ExplicitStop {
			c2.ExplicitStop = true
			if err := s.repo.Update(ctx, c2); err != nil {
				s.locks.Unlock(c.ID)
				return err
			}
		}
		s.locks.Unlock(c.ID)
		if err := s.killAndWait(ctx, c2); err != nil {
			return err
		}
	}

	s.locks.Lock(c.ID)
	defer s.locks.Unlock(c.ID)

	c, err = s.repo.Get(ctx, c.ID)
	if err != nil {
		return err
	}
	return s.removeLocked(ctx, c, removeVolumes)
}

// removeLocked tears the container down. Caller holds the ID lock and the
// container is not running.
func (s *Service) removeLocked(ctx context.Context, c *models.Container, removeVolumes bool) error {
	if !c.State.CanTransition(models.StateRemoving) {
		return apperrors.Conflict(fmt.Sprintf(
			"container %s is %s and cannot be removed", c.ShortID(), c.State))
	}
	c.State = models.StateRemoving
	if err := s.repo.Update(ctx, c); err != nil {
		return err
	}

	if err := s.networks.DisconnectAll(ctx, c.ID); err != nil {
		return err
	}

	for _, m := range c.Mounts {
		if m.VolumeName == "" {
			continue
		}
		remaining := s.volumes.Release(m.VolumeName)
		if remaining == 0 && (m.Anonymous || removeVolumes) {
			if err := s.volumes.Remove(ctx, m.VolumeName, true); err != nil && !apperrors.IsNotFound(err) {
				s.logger.Warn("remove volume", "volume", m.VolumeName, "error", err)
			}
		}
	}

	s.layers.Release(c.LayerID)
	if err := s.layers.Remove(c.LayerID); err != nil {
		s.logger.Warn("remove layer", "container", c.ShortID(), "error", err)
	}
	if img, err := s.images.Resolve(ctx, c.ImageID); err == nil && img.TopLayer() != "" {
		s.layers.Release(img.TopLayer())
	}

	if err := s.repo.Delete(ctx, c.ID); err != nil {
		return err
	}
	s.emit(ctx, models.EventTypeContainer, "destroy", c)
	s.logger.Info("container removed", "id", c.ShortID(), "name", c.Name)
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

func (s *Service) emit(ctx context.Context, typ models.EventType, action string, c *models.Container) {
	if s.events == nil {
		return
	}
	ev := &models.Event{
		Type:   typ,
		Action: action,
		Actor:  c.ID,
		Attrs:  map[string]string{"name": c.Name, "image": c.Image},
		Time:   time.Now().UTC(),
	}
	if err := s.events.Append(ctx, ev); err != nil {
		s.logger.Warn("append event", "action", action, "error", err)
	}
}

func validateName(name string) error {
	if name == "" {
		return apperrors.InvalidInput("container name cannot be empty")
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') &&
			r != '_' && r != '-' && r != '.' {
			return apperrors.InvalidInput(fmt.Sprintf(
				"invalid container name %q: only [a-zA-Z0-9_.-] allowed", name))
		}
	}
	return nil
}

func matchAnySubstring(patterns []string, value string) bool {
	for _, p := range patterns {
		if strings.Contains(value, p) {
			return true
		}
	}
	return false
}
