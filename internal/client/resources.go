// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package client

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/stevedore-io/stevedore/internal/api/handlers"
	"github.com/stevedore-io/stevedore/internal/models"
	"github.com/stevedore-io/stevedore/internal/pkg/filters"
	"github.com/stevedore-io/stevedore/internal/services/image"
	"github.com/stevedore-io/stevedore/internal/services/prune"
	"github.com/stevedore-io/stevedore/internal/services/swarm"
)

func filterQuery(args filters.Args) url.Values {
	q := url.Values{}
	if args.Len() > 0 {
		if raw, err := args.ToJSON(); err == nil {
			q.Set("filters", raw)
		}
	}
	return q
}

// ============================================================================
// Containers
// ============================================================================

func (c *Client) ContainerCreate(ctx context.Context, req handlers.CreateContainerRequest) (*models.Container, error) {
	var out models.Container
	if err := c.post(ctx, "/containers", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ContainerList(ctx context.Context, args filters.Args, all bool) ([]*models.Container, error) {
	q := filterQuery(args)
	if all {
		q.Set("all", "true")
	}
	var out []*models.Container
	if err := c.get(ctx, "/containers", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ContainerInspect(ctx context.Context, ref string) (*models.Container, error) {
	var out models.Container
	if err := c.get(ctx, "/containers/"+url.PathEscape(ref), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ContainerStart(ctx context.Context, ref string) error {
	return c.post(ctx, "/containers/"+url.PathEscape(ref)+"/start", nil, nil, nil)
}

func (c *Client) ContainerStop(ctx context.Context, ref string, timeout *time.Duration) error {
	q := url.Values{}
	if timeout != nil {
		q.Set("timeout", strconv.Itoa(int(timeout.Seconds())))
	}
	return c.post(ctx, "/containers/"+url.PathEscape(ref)+"/stop", q, nil, nil)
}

func (c *Client) ContainerRestart(ctx context.Context, ref string, timeout *time.Duration) error {
	q := url.Values{}
	if timeout != nil {
		q.Set("timeout", strconv.Itoa(int(timeout.Seconds())))
	}
	return c.post(ctx, "/containers/"+url.PathEscape(ref)+"/restart", q, nil, nil)
}

func (c *Client) ContainerKill(ctx context.Context, ref, signal string) error {
	q := url.Values{}
	if signal != "" {
		q.Set("signal", signal)
	}
	return c.post(ctx, "/containers/"+url.PathEscape(ref)+"/kill", q, nil, nil)
}

func (c *Client) ContainerPause(ctx context.Context, ref string) error {
	return c.post(ctx, "/containers/"+url.PathEscape(ref)+"/pause", nil, nil, nil)
}

func (c *Client) ContainerUnpause(ctx context.Context, ref string) error {
	return c.post(ctx, "/containers/"+url.PathEscape(ref)+"/unpause", nil, nil, nil)
}

func (c *Client) ContainerRename(ctx context.Context, ref, name string) error {
	q := url.Values{"name": {name}}
	return c.post(ctx, "/containers/"+url.PathEscape(ref)+"/rename", q, nil, nil)
}

// ContainerWait blocks until the container exits. ctx bounds the wait.
func (c *Client) ContainerWait(ctx context.Context, ref string) (int, error) {
	var out handlers.WaitResponse
	if err := c.post(ctx, "/containers/"+url.PathEscape(ref)+"/wait", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.ExitCode, nil
}

func (c *Client) ContainerExec(ctx context.Context, ref string, cmd []string) (int, error) {
	var out handlers.WaitResponse
	req := handlers.ExecRequest{Cmd: cmd}
	if err := c.post(ctx, "/containers/"+url.PathEscape(ref)+"/exec", nil, req, &out); err != nil {
		return 0, err
	}
	return out.ExitCode, nil
}

func (c *Client) ContainerRemove(ctx context.Context, ref string, force, removeVolumes bool) error {
	q := url.Values{}
	if force {
		q.Set("force", "true")
	}
	if removeVolumes {
		q.Set("volumes", "true")
	}
	return c.delete(ctx, "/containers/"+url.PathEscape(ref), q)
}

func (c *Client) ContainersPrune(ctx context.Context, args filters.Args) (*prune.Report, error) {
	var out prune.Report
	if err := c.post(ctx, "/containers/prune", filterQuery(args), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ============================================================================
// Images
// ============================================================================

func refQuery(ref string) url.Values {
	return url.Values{"ref": {ref}}
}

func (c *Client) ImagePull(ctx context.Context, ref string) (*models.Image, error) {
	var out models.Image
	if err := c.post(ctx, "/images/pull", refQuery(ref), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ImagePush(ctx context.Context, ref string) error {
	return c.post(ctx, "/images/push", refQuery(ref), nil, nil)
}

func (c *Client) ImageList(ctx context.Context, args filters.Args) ([]*models.Image, error) {
	var out []*models.Image
	if err := c.get(ctx, "/images", filterQuery(args), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ImageInspect(ctx context.Context, ref string) (*models.Image, error) {
	var out models.Image
	if err := c.get(ctx, "/images/inspect", refQuery(ref), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ImageTag(ctx context.Context, ref, tag string) error {
	q := refQuery(ref)
	q.Set("tag", tag)
	return c.post(ctx, "/images/tag", q, nil, nil)
}

func (c *Client) ImageRemove(ctx context.Context, ref string, force bool) (*image.RemoveResult, error) {
	q := refQuery(ref)
	if force {
		q.Set("force", "true")
	}
	var out image.RemoveResult
	if err := c.do(ctx, "DELETE", "/images", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ImagesPrune(ctx context.Context, args filters.Args, all bool) (*prune.Report, error) {
	q := filterQuery(args)
	if all {
		q.Set("all", "true")
	}
	var out prune.Report
	if err := c.post(ctx, "/images/prune", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ============================================================================
// Volumes
// ============================================================================

func (c *Client) VolumeCreate(ctx context.Context, req handlers.CreateVolumeRequest) (*models.Volume, error) {
	var out models.Volume
	if err := c.post(ctx, "/volumes", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) VolumeList(ctx context.Context, args filters.Args) ([]*models.Volume, error) {
	var out []*models.Volume
	if err := c.get(ctx, "/volumes", filterQuery(args), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) VolumeInspect(ctx context.Context, name string) (*models.Volume, error) {
	var out models.Volume
	if err := c.get(ctx, "/volumes/"+url.PathEscape(name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) VolumeRemove(ctx context.Context, name string, force bool) error {
	q := url.Values{}
	if force {
		q.Set("force", "true")
	}
	return c.delete(ctx, "/volumes/"+url.PathEscape(name), q)
}

func (c *Client) VolumesPrune(ctx context.Context, args filters.Args) (*prune.Report, error) {
	var out prune.Report
	if err := c.post(ctx, "/volumes/prune", filterQuery(args), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ============================================================================
// Networks
// ============================================================================

func (c *Client) NetworkCreate(ctx context.Context, req handlers.CreateNetworkRequest) (*models.Network, error) {
	var out models.Network
	if err := c.post(ctx, "/networks", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) NetworkList(ctx context.Context, args filters.Args) ([]*models.Network, error) {
	var out []*models.Network
	if err := c.get(ctx, "/networks", filterQuery(args), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) NetworkInspect(ctx context.Context, ref string) (*models.Network, error) {
	var out models.Network
	if err := c.get(ctx, "/networks/"+url.PathEscape(ref), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) NetworkConnect(ctx context.Context, ref, container string) (*models.Endpoint, error) {
	var out models.Endpoint
	req := handlers.ConnectRequest{Container: container}
	if err := c.post(ctx, "/networks/"+url.PathEscape(ref)+"/connect", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) NetworkDisconnect(ctx context.Context, ref, container string, force bool) error {
	req := handlers.ConnectRequest{Container: container, Force: force}
	return c.post(ctx, "/networks/"+url.PathEscape(ref)+"/disconnect", nil, req, nil)
}

func (c *Client) NetworkRemove(ctx context.Context, ref string) error {
	return c.delete(ctx, "/networks/"+url.PathEscape(ref), nil)
}

func (c *Client) NetworksPrune(ctx context.Context, args filters.Args) (*prune.Report, error) {
	var out prune.Report
	if err := c.post(ctx, "/networks/prune", filterQuery(args), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ============================================================================
// Services and tasks
// ============================================================================

func (c *Client) ServiceCreate(ctx context.Context, spec models.ServiceSpec) (*models.Service, error) {
	var out models.Service
	if err := c.post(ctx, "/services", nil, spec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ServiceList(ctx context.Context) ([]*models.Service, error) {
	var out []*models.Service
	if err := c.get(ctx, "/services", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ServiceInspect(ctx context.Context, ref string) (*models.Service, error) {
	var out models.Service
	if err := c.get(ctx, "/services/"+url.PathEscape(ref), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ServiceUpdate submits a new spec against the version the caller read,
// for optimistic concurrency.
func (c *Client) ServiceUpdate(ctx context.Context, ref string, version uint64, spec models.ServiceSpec) (*models.Service, error) {
	q := url.Values{"version": {strconv.FormatUint(version, 10)}}
	var out models.Service
	if err := c.post(ctx, "/services/"+url.PathEscape(ref)+"/update", q, spec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ServiceRollback(ctx context.Context, ref string) (*models.Service, error) {
	var out models.Service
	if err := c.post(ctx, "/services/"+url.PathEscape(ref)+"/rollback", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ServiceScale(ctx context.Context, ref string, replicas uint64) (*models.Service, error) {
	var out models.Service
	req := handlers.ScaleRequest{Replicas: replicas}
	if err := c.post(ctx, "/services/"+url.PathEscape(ref)+"/scale", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ServiceRemove(ctx context.Context, ref string) error {
	return c.delete(ctx, "/services/"+url.PathEscape(ref), nil)
}

func (c *Client) ServiceTasks(ctx context.Context, ref string) ([]*models.Task, error) {
	var out []*models.Task
	if err := c.get(ctx, "/services/"+url.PathEscape(ref)+"/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ============================================================================
// Swarm and nodes
// ============================================================================

func (c *Client) SwarmInit(ctx context.Context, req handlers.InitSwarmRequest) (*swarm.InitResult, error) {
	var out swarm.InitResult
	if err := c.post(ctx, "/swarm/init", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SwarmJoin(ctx context.Context, req handlers.JoinSwarmRequest) (*models.Node, error) {
	var out models.Node
	if err := c.post(ctx, "/swarm/join", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SwarmLeave(ctx context.Context, force bool) error {
	q := url.Values{}
	if force {
		q.Set("force", "true")
	}
	return c.post(ctx, "/swarm/leave", q, nil, nil)
}

func (c *Client) SwarmUnlock(ctx context.Context, key string) error {
	return c.post(ctx, "/swarm/unlock", nil, handlers.UnlockRequest{Key: key}, nil)
}

func (c *Client) SwarmJoinToken(ctx context.Context, role models.NodeRole) (string, error) {
	var out handlers.JoinTokenResponse
	if err := c.get(ctx, "/swarm/join-token/"+string(role), nil, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *Client) NodeList(ctx context.Context) ([]*models.Node, error) {
	var out []*models.Node
	if err := c.get(ctx, "/nodes", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) NodeInspect(ctx context.Context, ref string) (*models.Node, error) {
	var out models.Node
	if err := c.get(ctx, "/nodes/"+url.PathEscape(ref), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) NodeUpdate(ctx context.Context, ref string, req handlers.UpdateNodeRequest) (*models.Node, error) {
	var out models.Node
	if err := c.post(ctx, "/nodes/"+url.PathEscape(ref)+"/update", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) NodePromote(ctx context.Context, ref string) error {
	return c.post(ctx, "/nodes/"+url.PathEscape(ref)+"/promote", nil, nil, nil)
}

func (c *Client) NodeDemote(ctx context.Context, ref string) error {
	return c.post(ctx, "/nodes/"+url.PathEscape(ref)+"/demote", nil, nil, nil)
}

func (c *Client) NodeRemove(ctx context.Context, ref string, force bool) error {
	q := url.Values{}
	if force {
		q.Set("force", "true")
	}
	return c.delete(ctx, "/nodes/"+url.PathEscape(ref), q)
}

// ============================================================================
// System
// ============================================================================

func (c *Client) Info(ctx context.Context) (*handlers.SystemInfoResponse, error) {
	var out handlers.SystemInfoResponse
	if err := c.get(ctx, "/system/info", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Version(ctx context.Context) (*handlers.VersionResponse, error) {
	var out handlers.VersionResponse
	if err := c.get(ctx, "/system/version", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DiskUsage(ctx context.Context) (*handlers.DiskUsageResponse, error) {
	var out handlers.DiskUsageResponse
	if err := c.get(ctx, "/system/df", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Events(ctx context.Context, since time.Time) ([]*models.Event, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.Format(time.RFC3339Nano))
	}
	var out []*models.Event
	if err := c.get(ctx, "/system/events", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SystemPrune(ctx context.Context, args filters.Args, all, volumes bool) (*prune.SystemReport, error) {
	q := filterQuery(args)
	if all {
		q.Set("all", "true")
	}
	if volumes {
		q.Set("volumes", "true")
	}
	var out prune.SystemReport
	if err := c.post(ctx, "/system/prune", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
