// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/stevedore-io/stevedore/internal/models"
	"github.com/stevedore-io/stevedore/internal/pkg/filters"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

// EventStreamer reads the daemon event stream.
type EventStreamer interface {
	ListSince(ctx context.Context, since time.Time, limit int) ([]*models.Event, error)
}

// HealthChecker reports the health of one daemon component.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// DiskUsageLister is the subset of resource listings disk-usage reporting
// needs.
type DiskUsageLister struct {
	Containers interface {
		List(ctx context.Context, args filters.Args, all bool) ([]*models.Container, error)
	}
	Images interface {
		List(ctx context.Context, args filters.Args) ([]*models.Image, error)
	}
	Volumes interface {
		List(ctx context.Context, args filters.Args) ([]*models.Volume, error)
	}
}

// SwarmInfoProvider reports cluster membership for system info.
type SwarmInfoProvider interface {
	Active() bool
	Locked() bool
}

// SystemHandler serves system-level endpoints: health, version, info,
// disk usage and the event stream.
type SystemHandler struct {
	BaseHandler

	version   string
	commit    string
	buildTime string
	startTime time.Time

	driverName   string
	driverStatus func() [][2]string

	usage   DiskUsageLister
	events  EventStreamer
	swarm   SwarmInfoProvider
	checks  map[string]HealthChecker
	dataDir string
}

// NewSystemHandler creates a new system handler.
func NewSystemHandler(version, commit, buildTime string, log *logger.Logger) *SystemHandler {
	return &SystemHandler{
		BaseHandler: NewBaseHandler(log),
		version:     version,
		commit:      commit,
		buildTime:   buildTime,
		startTime:   time.Now(),
		checks:      make(map[string]HealthChecker),
	}
}

// SetStorageInfo wires the storage driver's identity and status lines.
func (h *SystemHandler) SetStorageInfo(name string, status func() [][2]string) {
	h.driverName = name
	h.driverStatus = status
}

// SetDiskUsageLister wires the resource listings for /system/df.
func (h *SystemHandler) SetDiskUsageLister(usage DiskUsageLister) {
	h.usage = usage
}

// SetEventStreamer wires the event stream source.
func (h *SystemHandler) SetEventStreamer(events EventStreamer) {
	h.events = events
}

// SetSwarmInfo wires cluster membership reporting.
func (h *SystemHandler) SetSwarmInfo(swarm SwarmInfoProvider) {
	h.swarm = swarm
}

// SetDataDir records the daemon data root for info output.
func (h *SystemHandler) SetDataDir(dir string) {
	h.dataDir = dir
}

// RegisterHealthChecker registers a component health check.
func (h *SystemHandler) RegisterHealthChecker(name string, checker HealthChecker) {
	h.checks[name] = checker
}

// ============================================================================
// Health
// ============================================================================

// HealthResponse is the body for GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
	Uptime     string            `json:"uptime"`
}

// Health handles GET /health. Any failing component degrades the overall
// status to 503.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "healthy",
		Uptime: time.Since(h.startTime).Round(time.Second).String(),
	}
	if len(h.checks) > 0 {
		resp.Components = make(map[string]string, len(h.checks))
		for name, check := range h.checks {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			err := check.HealthCheck(ctx)
			cancel()
			if err != nil {
				resp.Components[name] = "unhealthy: " + err.Error()
				resp.Status = "degraded"
			} else {
				resp.Components[name] = "healthy"
			}
		}
	}
	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	h.JSON(w, status, resp)
}

// ============================================================================
// Version / Info
// ============================================================================

// VersionResponse is the body for GET /system/version.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Os        string `json:"os"`
	Arch      string `json:"arch"`
}

// Version handles GET /system/version.
func (h *SystemHandler) Version(w http.ResponseWriter, r *http.Request) {
	h.OK(w, VersionResponse{
		Version:   h.version,
		Commit:    h.commit,
		BuildTime: h.buildTime,
		GoVersion: runtime.Version(),
		Os:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	})
}

// SystemInfoResponse is the body for GET /system/info.
type SystemInfoResponse struct {
	Version           string      `json:"version"`
	StorageDriver     string      `json:"storage_driver"`
	DriverStatus      [][2]string `json:"driver_status,omitempty"`
	DataRoot          string      `json:"data_root,omitempty"`
	Containers        int         `json:"containers"`
	ContainersRunning int         `json:"containers_running"`
	ContainersPaused  int         `json:"containers_paused"`
	ContainersStopped int         `json:"containers_stopped"`
	Images            int         `json:"images"`
	SwarmActive       bool        `json:"swarm_active"`
	SwarmLocked       bool        `json:"swarm_locked,omitempty"`
	NumCPU            int         `json:"num_cpu"`
	NumGoroutines     int         `json:"num_goroutines"`
}

// Info handles GET /system/info.
func (h *SystemHandler) Info(w http.ResponseWriter, r *http.Request) {
	resp := SystemInfoResponse{
		Version:       h.version,
		StorageDriver: h.driverName,
		DataRoot:      h.dataDir,
		NumCPU:        runtime.NumCPU(),
		NumGoroutines: runtime.NumGoroutine(),
	}
	if h.driverStatus != nil {
		resp.DriverStatus = h.driverStatus()
	}
	if h.swarm != nil {
		resp.SwarmActive = h.swarm.Active()
		resp.SwarmLocked = h.swarm.Locked()
	}
	if h.usage.Containers != nil {
		if list, err := h.usage.Containers.List(r.Context(), filters.NewArgs(), true); err == nil {
			resp.Containers = len(list)
			for _, c := range list {
				switch c.State {
				case models.StateRunning:
					resp.ContainersRunning++
				case models.StatePaused:
					resp.ContainersPaused++
				case models.StateExited, models.StateDead, models.StateCreated:
					resp.ContainersStopped++
				}
			}
		}
	}
	if h.usage.Images != nil {
		if list, err := h.usage.Images.List(r.Context(), filters.NewArgs()); err == nil {
			resp.Images = len(list)
		}
	}
	h.OK(w, resp)
}

// ============================================================================
// Disk usage
// ============================================================================

// DiskUsageResponse is the body for GET /system/df.
type DiskUsageResponse struct {
	ImagesSize int64               `json:"images_size"`
	Images     []*models.Image     `json:"images"`
	Containers []*models.Container `json:"containers"`
	Volumes    []*models.Volume    `json:"volumes"`
}

// DiskUsage handles GET /system/df.
func (h *SystemHandler) DiskUsage(w http.ResponseWriter, r *http.Request) {
	resp := DiskUsageResponse{
		Images:     []*models.Image{},
		Containers: []*models.Container{},
		Volumes:    []*models.Volume{},
	}
	if h.usage.Images != nil {
		list, err := h.usage.Images.List(r.Context(), filters.NewArgs())
		if err != nil {
			h.HandleError(w, err)
			return
		}
		resp.Images = list
		for _, img := range list {
			resp.ImagesSize += img.SizeBytes
		}
	}
	if h.usage.Containers != nil {
		list, err := h.usage.Containers.List(r.Context(), filters.NewArgs(), true)
		if err != nil {
			h.HandleError(w, err)
			return
		}
		resp.Containers = list
	}
	if h.usage.Volumes != nil {
		list, err := h.usage.Volumes.List(r.Context(), filters.NewArgs())
		if err != nil {
			h.HandleError(w, err)
			return
		}
		resp.Volumes = list
	}
	h.OK(w, resp)
}

// ============================================================================
// Events
// ============================================================================

// Events handles GET /system/events?since=<RFC3339>. Returns the stored
// events at or after the cutoff; live streaming uses the websocket
// endpoint.
func (h *SystemHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		h.OK(w, []*models.Event{})
		return
	}
	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.BadRequest(w, "invalid since: expected RFC3339 timestamp")
			return
		}
		since = t
	}
	events, err := h.events.ListSince(r.Context(), since, 1000)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	if events == nil {
		events = []*models.Event{}
	}
	h.OK(w, events)
}
