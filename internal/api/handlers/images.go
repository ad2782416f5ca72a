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
	"github.com/stevedore-io/stevedore/internal/services/image"
	"github.com/stevedore-io/stevedore/internal/services/prune"
)

// ImageService is the image-store surface the handler uses.
type ImageService interface {
	Pull(ctx context.Context, ref string) (*models.Image, error)
	Push(ctx context.Context, ref string) error
	Tag(ctx context.Context, ref, newTag string) error
	Get(ctx context.Context, ref string) (*models.Image, error)
	List(ctx context.Context, args filters.Args) ([]*models.Image, error)
	Remove(ctx context.Context, ref string, force bool) (*image.RemoveResult, error)
}

// ImagePruner prunes unused images.
type ImagePruner interface {
	Images(ctx context.Context, args filters.Args, all bool) (*prune.Report, error)
}

// ImageHandler serves the /images API.
type ImageHandler struct {
	BaseHandler
	images ImageService
	pruner ImagePruner
}

// NewImageHandler creates a new image handler.
func NewImageHandler(images ImageService, pruner ImagePruner, log *logger.Logger) *ImageHandler {
	return &ImageHandler{
		BaseHandler: NewBaseHandler(log),
		images:      images,
		pruner:      pruner,
	}
}

// Routes returns the image routes.
func (h *ImageHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/pull", h.Pull)
	r.Post("/prune", h.Prune)
	// Image refs contain slashes and colons (registry/repo:tag), so they
	// ride in a query parameter rather than the path.
	r.Get("/inspect", h.Inspect)
	r.Post("/tag", h.Tag)
	r.Post("/push", h.Push)
	r.Delete("/", h.Remove)
	return r
}

// List handles GET /images.
func (h *ImageHandler) List(w http.ResponseWriter, r *http.Request) {
	args, err := h.ParseFilters(r)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	list, err := h.images.List(r.Context(), args)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, list)
}

// Inspect handles GET /images/inspect?ref=nginx:latest.
func (h *ImageHandler) Inspect(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		h.BadRequest(w, "ref query parameter is required")
		return
	}
	img, err := h.images.Get(r.Context(), ref)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, img)
}

// Pull handles POST /images/pull?ref=nginx:latest. Blocks until the pull
// completes; concurrency is bounded daemon-side.
func (h *ImageHandler) Pull(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		h.BadRequest(w, "ref query parameter is required")
		return
	}
	img, err := h.images.Pull(r.Context(), ref)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, img)
}

// Push handles POST /images/push?ref=nginx:latest.
func (h *ImageHandler) Push(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		h.BadRequest(w, "ref query parameter is required")
		return
	}
	if err := h.images.Push(r.Context(), ref); err != nil {
		h.HandleError(w, err)
		return
	}
	h.NoContent(w)
}

// Tag handles POST /images/tag?ref=abc123&tag=myrepo:v2.
func (h *ImageHandler) Tag(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("ref")
	tag := r.URL.Query().Get("tag")
	if ref == "" || tag == "" {
		h.BadRequest(w, "ref and tag query parameters are required")
		return
	}
	if err := h.images.Tag(r.Context(), ref, tag); err != nil {
		h.HandleError(w, err)
		return
	}
	h.NoContent(w)
}

// Remove handles DELETE /images?ref=nginx:latest&force=true.
func (h *ImageHandler) Remove(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		h.BadRequest(w, "ref query parameter is required")
		return
	}
	result, err := h.images.Remove(r.Context(), ref, h.BoolParam(r, "force"))
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, result)
}

// Prune handles POST /images/prune?all=true.
func (h *ImageHandler) Prune(w http.ResponseWriter, r *http.Request) {
	args, err := h.ParseFilters(r)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	report, err := h.pruner.Images(r.Context(), args, h.BoolParam(r, "all"))
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, report)
}
