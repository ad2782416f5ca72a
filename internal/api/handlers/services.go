// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stevedore-io/stevedore/internal/models"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

// SwarmServiceManager is the orchestrator surface for service objects.
type SwarmServiceManager interface {
	CreateService(ctx context.Context, spec models.ServiceSpec) (*models.Service, error)
	UpdateService(ctx context.Context, ref string, version uint64, spec models.ServiceSpec) (*models.Service, error)
	RollbackService(ctx context.Context, ref string) (*models.Service, error)
	ScaleService(ctx context.Context, ref string, replicas uint64) (*models.Service, error)
	RemoveService(ctx context.Context, ref string) error
	GetService(ctx context.Context, ref string) (*models.Service, error)
	ListServices(ctx context.Context) ([]*models.Service, error)
	ListTasks(ctx context.Context, ref string) ([]*models.Task, error)
}

// ServiceHandler serves the /services API.
type ServiceHandler struct {
	BaseHandler
	swarm SwarmServiceManager
}

// NewServiceHandler creates a new service handler.
func NewServiceHandler(swarm SwarmServiceManager, log *logger.Logger) *ServiceHandler {
	return &ServiceHandler{
		BaseHandler: NewBaseHandler(log),
		swarm:       swarm,
	}
}

// Routes returns the service routes.
func (h *ServiceHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Route("/{ref}", func(r chi.Router) {
		r.Get("/", h.Inspect)
		r.Post("/update", h.Update)
		r.Post("/rollback", h.Rollback)
		r.Post("/scale", h.Scale)
		r.Delete("/", h.Remove)
		r.Get("/tasks", h.Tasks)
	})
	return r
}

// Create handles POST /services. The response returns once the spec is
// durably stored; convergence is observed via task listings.
func (h *ServiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var spec models.ServiceSpec
	if err := h.ParseJSON(r, &spec); err != nil {
		h.HandleError(w, err)
		return
	}
	svc, err := h.swarm.CreateService(r.Context(), spec)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.Created(w, svc)
}

// List handles GET /services.
func (h *ServiceHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.swarm.ListServices(r.Context())
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, list)
}

// Inspect handles GET /services/{ref}.
func (h *ServiceHandler) Inspect(w http.ResponseWriter, r *http.Request) {
	svc, err := h.swarm.GetService(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, svc)
}

// Update handles POST /services/{ref}/update?version=N. The version guards
// against concurrent spec updates; a stale version is a conflict.
func (h *ServiceHandler) Update(w http.ResponseWriter, r *http.Request) {
	versionStr := r.URL.Query().Get("version")
	version, err := strconv.ParseUint(versionStr, 10, 64)
	if err != nil {
		h.BadRequest(w, "version query parameter is required and must be an integer")
		return
	}
	var spec models.ServiceSpec
	if err := h.ParseJSON(r, &spec); err != nil {
		h.HandleError(w, err)
		return
	}
	svc, err := h.swarm.UpdateService(r.Context(), chi.URLParam(r, "ref"), version, spec)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, svc)
}

// Rollback handles POST /services/{ref}/rollback.
func (h *ServiceHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	svc, err := h.swarm.RollbackService(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, svc)
}

// ScaleRequest is the body for POST /services/{ref}/scale.
type ScaleRequest struct {
	Replicas uint64 `json:"replicas"`
}

// Scale handles POST /services/{ref}/scale.
func (h *ServiceHandler) Scale(w http.ResponseWriter, r *http.Request) {
	var req ScaleRequest
	if err := h.ParseJSON(r, &req); err != nil {
		h.HandleError(w, err)
		return
	}
	svc, err := h.swarm.ScaleService(r.Context(), chi.URLParam(r, "ref"), req.Replicas)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, svc)
}

// Remove handles DELETE /services/{ref}.
func (h *ServiceHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.swarm.RemoveService(r.Context(), chi.URLParam(r, "ref")); err != nil {
		h.HandleError(w, err)
		return
	}
	h.NoContent(w)
}

// Tasks handles GET /services/{ref}/tasks (service ps).
func (h *ServiceHandler) Tasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.swarm.ListTasks(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, tasks)
}
