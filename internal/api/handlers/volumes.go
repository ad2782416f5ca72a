// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stevedore-io/stevedore/internal/models"
	"github.com/stevedore-io/stevedore/internal/pkg/filters"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
	"github.com/stevedore-io/stevedore/internal/services/prune"
	"github.com/stevedore-io/stevedore/internal/services/volume"
)

// VolumeService is the volume-manager surface the handler uses.
type VolumeService interface {
	Create(ctx context.Context, opts volume.CreateOptions) (*models.Volume, error)
	Get(ctx context.Context, name string) (*models.Volume, error)
	List(ctx context.Context, args filters.Args) ([]*models.Volume, error)
	Remove(ctx context.Context, name string, force bool) error
}

// VolumePruner prunes unused volumes.
type VolumePruner interface {
	Volumes(ctx context.Context, args filters.Args) (*prune.Report, error)
}

// VolumeHandler serves the /volumes API.
type VolumeHandler struct {
	BaseHandler
	volumes VolumeService
	pruner  VolumePruner
}

// NewVolumeHandler creates a new volume handler.
func NewVolumeHandler(volumes VolumeService, pruner VolumePruner, log *logger.Logger) *VolumeHandler {
	return &VolumeHandler{
		BaseHandler: NewBaseHandler(log),
		volumes:     volumes,
		pruner:      pruner,
	}
}

// Routes returns the volume routes.
func (h *VolumeHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Post("/prune", h.Prune)
	r.Get("/{name}", h.Inspect)
	r.Delete("/{name}", h.Remove)
	return r
}

// CreateVolumeRequest is the body for POST /volumes.
type CreateVolumeRequest struct {
	Name    string            `json:"name,omitempty"`
	Driver  string            `json:"driver,omitempty"`
	Labels  map[string]string `json:"labels,omitempty"`
	Options map[string]string `json:"options,omitempty"`
}

// Create handles POST /volumes. An empty name creates an anonymous volume.
func (h *VolumeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateVolumeRequest
	if err := h.ParseJSON(r, &req); err != nil {
		h.HandleError(w, err)
		return
	}
	v, err := h.volumes.Create(r.Context(), volume.CreateOptions{
		Name:    req.Name,
		Driver:  req.Driver,
		Labels:  req.Labels,
		Options: req.Options,
	})
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.Created(w, v)
}

// List handles GET /volumes.
func (h *VolumeHandler) List(w http.ResponseWriter, r *http.Request) {
	args, err := h.ParseFilters(r)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	list, err := h.volumes.List(r.Context(), args)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, list)
}

// Inspect handles GET /volumes/{name}.
func (h *VolumeHandler) Inspect(w http.ResponseWriter, r *http.Request) {
	v, err := h.volumes.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, v)
}

// Remove handles DELETE /volumes/{name}?force=true.
func (h *VolumeHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.volumes.Remove(r.Context(), chi.URLParam(r, "name"), h.BoolParam(r, "force")); err != nil {
		h.HandleError(w, err)
		return
	}
	h.NoContent(w)
}

// Prune handles POST /volumes/prune.
func (h *VolumeHandler) Prune(w http.ResponseWriter, r *http.Request) {
	args, err := h.ParseFilters(r)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	report, err := h.pruner.Volumes(r.Context(), args)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, report)
}
