// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/stevedore-io/stevedore/internal/api/errors"
	"github.com/stevedore-io/stevedore/internal/models"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
	"github.com/stevedore-io/stevedore/internal/services/swarm"
)

// ClusterManager is the swarm membership surface the handler uses.
type ClusterManager interface {
	Active() bool
	Locked() bool
	Init(ctx context.Context, opts swarm.InitOptions) (*swarm.InitResult, error)
	Join(ctx context.Context, req swarm.JoinRequest) (*models.Node, error)
	JoinToken(role models.NodeRole) (string, error)
	Leave(ctx context.Context, force bool) error
	Unlock(key string) error
	ListNodes(ctx context.Context) ([]*models.Node, error)
	UpdateNodeAvailability(ctx context.Context, id uuid.UUID, av models.NodeAvailability) error
	UpdateNodeLabels(ctx context.Context, id uuid.UUID, labels map[string]string) error
	PromoteNode(ctx context.Context, id uuid.UUID) error
	DemoteNode(ctx context.Context, id uuid.UUID) error
	RemoveNode(ctx context.Context, id uuid.UUID, force bool) error
}

// SwarmHandler serves the /swarm and /nodes APIs.
type SwarmHandler struct {
	BaseHandler
	cluster ClusterManager
}

// NewSwarmHandler creates a new swarm handler.
func NewSwarmHandler(cluster ClusterManager, log *logger.Logger) *SwarmHandler {
	return &SwarmHandler{
		BaseHandler: NewBaseHandler(log),
		cluster:     cluster,
	}
}

// Routes returns the swarm membership routes.
func (h *SwarmHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/init", h.Init)
	r.Post("/join", h.Join)
	r.Post("/leave", h.Leave)
	r.Post("/unlock", h.Unlock)
	r.Get("/join-token/{role}", h.GetJoinToken)
	return r
}

// NodeRoutes returns the node management routes.
func (h *SwarmHandler) NodeRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListNodes)
	r.Route("/{ref}", func(r chi.Router) {
		r.Get("/", h.InspectNode)
		r.Post("/update", h.UpdateNode)
		r.Post("/promote", h.PromoteNode)
		r.Post("/demote", h.DemoteNode)
		r.Delete("/", h.RemoveNode)
	})
	return r
}

// InitSwarmRequest is the body for POST /swarm/init.
type InitSwarmRequest struct {
	AdvertiseAddr string `json:"advertise_addr,omitempty"`
	Hostname      string `json:"hostname,omitempty"`
	Autolock      bool   `json:"autolock,omitempty"`
}

// Init handles POST /swarm/init.
func (h *SwarmHandler) Init(w http.ResponseWriter, r *http.Request) {
	var req InitSwarmRequest
	if err := h.ParseJSON(r, &req); err != nil {
		h.HandleError(w, err)
		return
	}
	result, err := h.cluster.Init(r.Context(), swarm.InitOptions{
		AdvertiseAddr: req.AdvertiseAddr,
		Hostname:      req.Hostname,
		Autolock:      req.Autolock,
	})
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, result)
}

// JoinSwarmRequest is the body for POST /swarm/join.
type JoinSwarmRequest struct {
	Token        string            `json:"token"`
	Hostname     string            `json:"hostname,omitempty"`
	Addr         string            `json:"addr,omitempty"`
	EngineLabels map[string]string `json:"engine_labels,omitempty"`
}

// Join handles POST /swarm/join.
func (h *SwarmHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req JoinSwarmRequest
	if err := h.ParseJSON(r, &req); err != nil {
		h.HandleError(w, err)
		return
	}
	if req.Token == "" {
		h.BadRequest(w, "token is required")
		return
	}
	node, err := h.cluster.Join(r.Context(), swarm.JoinRequest{
		Token:        req.Token,
		Hostname:     req.Hostname,
		Addr:         req.Addr,
		EngineLabels: req.EngineLabels,
	})
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, node)
}

// Leave handles POST /swarm/leave?force=true.
func (h *SwarmHandler) Leave(w http.ResponseWriter, r *http.Request) {
	if err := h.cluster.Leave(r.Context(), h.BoolParam(r, "force")); err != nil {
		h.HandleError(w, err)
		return
	}
	h.NoContent(w)
}

// UnlockRequest is the body for POST /swarm/unlock.
type UnlockRequest struct {
	Key string `json:"key"`
}

// Unlock handles POST /swarm/unlock.
func (h *SwarmHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if err := h.ParseJSON(r, &req); err != nil {
		h.HandleError(w, err)
		return
	}
	if err := h.cluster.Unlock(req.Key); err != nil {
		h.HandleError(w, err)
		return
	}
	h.NoContent(w)
}

// JoinTokenResponse carries a role-scoped join token.
type JoinTokenResponse struct {
	Role  models.NodeRole `json:"role"`
	Token string          `json:"token"`
}

// GetJoinToken handles GET /swarm/join-token/{role}.
func (h *SwarmHandler) GetJoinToken(w http.ResponseWriter, r *http.Request) {
	role := models.NodeRole(chi.URLParam(r, "role"))
	if role != models.RoleManager && role != models.RoleWorker {
		h.BadRequest(w, "role must be manager or worker")
		return
	}
	token, err := h.cluster.JoinToken(role)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, JoinTokenResponse{Role: role, Token: token})
}

// ============================================================================
// Node management
// ============================================================================

// ListNodes handles GET /nodes.
func (h *SwarmHandler) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.cluster.ListNodes(r.Context())
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, nodes)
}

// resolveNode maps a node reference (UUID or hostname) to its ID.
func (h *SwarmHandler) resolveNode(ctx context.Context, ref string) (uuid.UUID, *models.Node, error) {
	nodes, err := h.cluster.ListNodes(ctx)
	if err != nil {
		return uuid.Nil, nil, err
	}
	if id, err := uuid.Parse(ref); err == nil {
		for _, n := range nodes {
			if n.ID == id {
				return id, n, nil
			}
		}
	}
	for _, n := range nodes {
		if n.Hostname == ref {
			return n.ID, n, nil
		}
	}
	return uuid.Nil, nil, apierrors.NotFound("node " + ref)
}

// InspectNode handles GET /nodes/{ref}.
func (h *SwarmHandler) InspectNode(w http.ResponseWriter, r *http.Request) {
	_, node, err := h.resolveNode(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, node)
}

// UpdateNodeRequest is the body for POST /nodes/{ref}/update. Nil fields
// are left unchanged.
type UpdateNodeRequest struct {
	Availability *models.NodeAvailability `json:"availability,omitempty"`
	Labels       map[string]string        `json:"labels,omitempty"`
}

// UpdateNode handles POST /nodes/{ref}/update.
func (h *SwarmHandler) UpdateNode(w http.ResponseWriter, r *http.Request) {
	var req UpdateNodeRequest
	if err := h.ParseJSON(r, &req); err != nil {
		h.HandleError(w, err)
		return
	}
	id, _, err := h.resolveNode(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.HandleError(w, err)
		return
	}
	if req.Availability != nil {
		if err := h.cluster.UpdateNodeAvailability(r.Context(), id, *req.Availability); err != nil {
			h.HandleError(w, err)
			return
		}
	}
	if req.Labels != nil {
		if err := h.cluster.UpdateNodeLabels(r.Context(), id, req.Labels); err != nil {
			h.HandleError(w, err)
			return
		}
	}
	h.NoContent(w)
}

// PromoteNode handles POST /nodes/{ref}/promote.
func (h *SwarmHandler) PromoteNode(w http.ResponseWriter, r *http.Request) {
	id, _, err := h.resolveNode(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.HandleError(w, err)
		return
	}
	if err := h.cluster.PromoteNode(r.Context(), id); err != nil {
		h.HandleError(w, err)
		return
	}
	h.NoContent(w)
}

// DemoteNode handles POST /nodes/{ref}/demote.
func (h *SwarmHandler) DemoteNode(w http.ResponseWriter, r *http.Request) {
	id, _, err := h.resolveNode(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.HandleError(w, err)
		return
	}
	if err := h.cluster.DemoteNode(r.Context(), id); err != nil {
		h.HandleError(w, err)
		return
	}
	h.NoContent(w)
}

// RemoveNode handles DELETE /nodes/{ref}?force=true.
func (h *SwarmHandler) RemoveNode(w http.ResponseWriter, r *http.Request) {
	id, _, err := h.resolveNode(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.HandleError(w, err)
		return
	}
	if err := h.cluster.RemoveNode(r.Context(), id, h.BoolParam(r, "force")); err != nil {
		h.HandleError(w, err)
		return
	}
	h.NoContent(w)
}
