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
	"github.com/stevedore-io/stevedore/internal/services/network"
	"github.com/stevedore-io/stevedore/internal/services/prune"
)

// NetworkService is the network-manager surface the handler uses.
type NetworkService interface {
	Create(ctx context.Context, opts network.CreateOptions) (*models.Network, error)
	Get(ctx context.Context, ref string) (*models.Network, error)
	List(ctx context.Context, args filters.Args) ([]*models.Network, error)
	Remove(ctx context.Context, ref string) error
	Connect(ctx context.Context, ref, containerID string) (*models.Endpoint, error)
	Disconnect(ctx context.Context, ref, containerID string, force bool) error
}

// NetworkPruner prunes unused custom networks.
type NetworkPruner interface {
	Networks(ctx context.Context, args filters.Args) (*prune.Report, error)
}

// NetworkHandler serves the /networks API.
type NetworkHandler struct {
	BaseHandler
	networks NetworkService
	pruner   NetworkPruner
}

// NewNetworkHandler creates a new network handler.
func NewNetworkHandler(networks NetworkService, pruner NetworkPruner, log *logger.Logger) *NetworkHandler {
	return &NetworkHandler{
		BaseHandler: NewBaseHandler(log),
		networks:    networks,
		pruner:      pruner,
	}
}

// Routes returns the network routes.
func (h *NetworkHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Post("/prune", h.Prune)
	r.Route("/{ref}", func(r chi.Router) {
		r.Get("/", h.Inspect)
		r.Delete("/", h.Remove)
		r.Post("/connect", h.Connect)
		r.Post("/disconnect", h.Disconnect)
	})
	return r
}

// CreateNetworkRequest is the body for POST /networks.
type CreateNetworkRequest struct {
	Name     string              `json:"name"`
	Driver   string              `json:"driver,omitempty"`
	Scope    models.NetworkScope `json:"scope,omitempty"`
	Subnet   string              `json:"subnet,omitempty"`
	Gateway  string              `json:"gateway,omitempty"`
	Internal bool                `json:"internal,omitempty"`
	Labels   map[string]string   `json:"labels,omitempty"`
}

// Create handles POST /networks.
func (h *NetworkHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateNetworkRequest
	if err := h.ParseJSON(r, &req); err != nil {
		h.HandleError(w, err)
		return
	}
	n, err := h.networks.Create(r.Context(), network.CreateOptions{
		Name:     req.Name,
		Driver:   req.Driver,
		Scope:    req.Scope,
		Subnet:   req.Subnet,
		Gateway:  req.Gateway,
		Internal: req.Internal,
		Labels:   req.Labels,
	})
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.Created(w, n)
}

// List handles GET /networks.
func (h *NetworkHandler) List(w http.ResponseWriter, r *http.Request) {
	args, err := h.ParseFilters(r)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	list, err := h.networks.List(r.Context(), args)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, list)
}

// Inspect handles GET /networks/{ref}.
func (h *NetworkHandler) Inspect(w http.ResponseWriter, r *http.Request) {
	n, err := h.networks.Get(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, n)
}

// Remove handles DELETE /networks/{ref}.
func (h *NetworkHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.networks.Remove(r.Context(), chi.URLParam(r, "ref")); err != nil {
		h.HandleError(w, err)
		return
	}
	h.NoContent(w)
}

// ConnectRequest is the body for connect/disconnect operations.
type ConnectRequest struct {
	Container string `json:"container"`
	Force     bool   `json:"force,omitempty"`
}

// Connect handles POST /networks/{ref}/connect.
func (h *NetworkHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := h.ParseJSON(r, &req); err != nil {
		h.HandleError(w, err)
		return
	}
	if req.Container == "" {
		h.BadRequest(w, "container is required")
		return
	}
	ep, err := h.networks.Connect(r.Context(), chi.URLParam(r, "ref"), req.Container)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, ep)
}

// Disconnect handles POST /networks/{ref}/disconnect.
func (h *NetworkHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := h.ParseJSON(r, &req); err != nil {
		h.HandleError(w, err)
		return
	}
	if req.Container == "" {
		h.BadRequest(w, "container is required")
		return
	}
	if err := h.networks.Disconnect(r.Context(), chi.URLParam(r, "ref"), req.Container, req.Force); err != nil {
		h.HandleError(w, err)
		return
	}
	h.NoContent(w)
}

// Prune handles POST /networks/prune.
func (h *NetworkHandler) Prune(w http.ResponseWriter, r *http.Request) {
	args, err := h.ParseFilters(r)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	report, err := h.pruner.Networks(r.Context(), args)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, report)
}
