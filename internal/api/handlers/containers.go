// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stevedore-io/stevedore/internal/models"
	"github.com/stevedore-io/stevedore/internal/pkg/filters"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
	"github.com/stevedore-io/stevedore/internal/services/container"
	"github.com/stevedore-io/stevedore/internal/services/prune"
)

// ContainerService is the lifecycle-manager surface the handler uses.
type ContainerService interface {
	Create(ctx context.Context, opts container.CreateOptions) (*models.Container, error)
	Get(ctx context.Context, ref string) (*models.Container, error)
	List(ctx context.Context, args filters.Args, all bool) ([]*models.Container, error)
	Start(ctx context.Context, ref string) error
	Stop(ctx context.Context, ref string, timeout *time.Duration) error
	Restart(ctx context.Context, ref string, timeout *time.Duration) error
	Kill(ctx context.Context, ref, signal string) error
	Pause(ctx context.Context, ref string) error
	Unpause(ctx context.Context, ref string) error
	Rename(ctx context.Context, ref, newName string) error
	Wait(ctx context.Context, ref string) (int, error)
	Exec(ctx context.Context, ref string, cmd []string) (int, error)
	Remove(ctx context.Context, ref string, force, removeVolumes bool) error
}

// ContainerPruner prunes stopped containers.
type ContainerPruner interface {
	Containers(ctx context.Context, args filters.Args) (*prune.Report, error)
}

// ContainerHandler serves the /containers API.
type ContainerHandler struct {
	BaseHandler
	containers ContainerService
	pruner     ContainerPruner
}

// NewContainerHandler creates a new container handler.
func NewContainerHandler(containers ContainerService, pruner ContainerPruner, log *logger.Logger) *ContainerHandler {
	return &ContainerHandler{
		BaseHandler: NewBaseHandler(log),
		containers:  containers,
		pruner:      pruner,
	}
}

// Routes returns the container routes.
func (h *ContainerHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Post("/prune", h.Prune)
	r.Route("/{ref}", func(r chi.Router) {
		r.Get("/", h.Inspect)
		r.Delete("/", h.Remove)
		r.Post("/start", h.Start)
		r.Post("/stop", h.Stop)
		r.Post("/restart", h.Restart)
		r.Post("/kill", h.Kill)
		r.Post("/pause", h.Pause)
		r.Post("/unpause", h.Unpause)
		r.Post("/rename", h.Rename)
		r.Post("/wait", h.Wait)
		r.Post("/exec", h.Exec)
	})
	return r
}

// CreateContainerRequest is the body for POST /containers.
type CreateContainerRequest struct {
	Name       string            `json:"name,omitempty"`
	Image      string            `json:"image"`
	Command    []string          `json:"command,omitempty"`
	Env        []string          `json:"env,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	Mounts     []models.Mount    `json:"mounts,omitempty"`
	Networks   []string          `json:"networks,omitempty"`
	HostConfig models.HostConfig `json:"host_config,omitempty"`
}

// Create handles POST /containers.
func (h *ContainerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateContainerRequest
	if err := h.ParseJSON(r, &req); err != nil {
		h.HandleError(w, err)
		return
	}

	c, err := h.containers.Create(r.Context(), container.CreateOptions{
		Name:       req.Name,
		Image:      req.Image,
		Command:    req.Command,
		Env:        req.Env,
		Labels:     req.Labels,
		Mounts:     req.Mounts,
		Networks:   req.Networks,
		HostConfig: req.HostConfig,
	})
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.Created(w, c)
}

// List handles GET /containers. Running containers only unless all=true.
func (h *ContainerHandler) List(w http.ResponseWriter, r *http.Request) {
	args, err := h.ParseFilters(r)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	list, err := h.containers.List(r.Context(), args, h.BoolParam(r, "all"))
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, list)
}

// Inspect handles GET /containers/{ref}.
func (h *ContainerHandler) Inspect(w http.ResponseWriter, r *http.Request) {
	c, err := h.containers.Get(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, c)
}

// Start handles POST /containers/{ref}/start.
func (h *ContainerHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.containers.Start(r.Context(), chi.URLParam(r, "ref")); err != nil {
		h.HandleError(w, err)
		return
	}
	h.NoContent(w)
}

// Stop handles POST /containers/{ref}/stop?timeout=10.
func (h *ContainerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	timeout, err := h.DurationParam(r, "timeout")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	if err := h.containers.Stop(r.Context(), chi.URLParam(r, "ref"), timeout); err != nil {
		h.HandleError(w, err)
		return
	}
	h.NoContent(w)
}

// Restart handles POST /containers/{ref}/restart?timeout=10.
func (h *ContainerHandler) Restart(w http.ResponseWriter, r *http.Request) {
	timeout, err := h.DurationParam(r, "timeout")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	if err := h.containers.Restart(r.Context(), chi.URLParam(r, "ref"), timeout); err != nil {
		h.HandleError(w, err)
		return
	}
	h.NoContent(w)
}

// Kill handles POST /containers/{ref}/kill?signal=SIGTERM.
func (h *ContainerHandler) Kill(w http.ResponseWriter, r *http.Request) {
	signal := r.URL.Query().Get("signal")
	if signal == "" {
		signal = "SIGKILL"
	}
	if err := h.containers.Kill(r.Context(), chi.URLParam(r, "ref"), signal); err != nil {
		h.HandleError(w, err)
		return
	}
	h.NoContent(w)
}

// Pause handles POST /containers/{ref}/pause.
func (h *ContainerHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.containers.Pause(r.Context(), chi.URLParam(r, "ref")); err != nil {
		h.HandleError(w, err)
		return
	}
	h.NoContent(w)
}

// Unpause handles POST /containers/{ref}/unpause.
func (h *ContainerHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	if err := h.containers.Unpause(r.Context(), chi.URLParam(r, "ref")); err != nil {
		h.HandleError(w, err)
		return
	}
	h.NoContent(w)
}

// Rename handles POST /containers/{ref}/rename?name=new.
func (h *ContainerHandler) Rename(w http.ResponseWriter, r *http.Request) {
	newName := r.URL.Query().Get("name")
	if newName == "" {
		h.BadRequest(w, "name query parameter is required")
		return
	}
	if err := h.containers.Rename(r.Context(), chi.URLParam(r, "ref"), newName); err != nil {
		h.HandleError(w, err)
		return
	}
	h.NoContent(w)
}

// WaitResponse carries a container's exit code.
type WaitResponse struct {
	ExitCode int `json:"exit_code"`
}

// Wait handles POST /containers/{ref}/wait. Blocks until the container
// exits; the request context bounds the wait.
func (h *ContainerHandler) Wait(w http.ResponseWriter, r *http.Request) {
	code, err := h.containers.Wait(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, WaitResponse{ExitCode: code})
}

// ExecRequest is the body for POST /containers/{ref}/exec.
type ExecRequest struct {
	Cmd []string `json:"cmd"`
}

// Exec handles POST /containers/{ref}/exec.
func (h *ContainerHandler) Exec(w http.ResponseWriter, r *http.Request) {
	var req ExecRequest
	if err := h.ParseJSON(r, &req); err != nil {
		h.HandleError(w, err)
		return
	}
	if len(req.Cmd) == 0 {
		h.BadRequest(w, "cmd is required")
		return
	}
	code, err := h.containers.Exec(r.Context(), chi.URLParam(r, "ref"), req.Cmd)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, WaitResponse{ExitCode: code})
}

// Remove handles DELETE /containers/{ref}?force=true&volumes=true.
func (h *ContainerHandler) Remove(w http.ResponseWriter, r *http.Request) {
	err := h.containers.Remove(r.Context(), chi.URLParam(r, "ref"),
		h.BoolParam(r, "force"), h.BoolParam(r, "volumes"))
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.NoContent(w)
}

// Prune handles POST /containers/prune.
func (h *ContainerHandler) Prune(w http.ResponseWriter, r *http.Request) {
	args, err := h.ParseFilters(r)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	report, err := h.pruner.Containers(r.Context(), args)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, report)
}
