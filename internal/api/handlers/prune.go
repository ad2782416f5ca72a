// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package handlers

import (
	"context"
	"net/http"

	"github.com/stevedore-io/stevedore/internal/pkg/logger"
	"github.com/stevedore-io/stevedore/internal/services/prune"
)

// SystemPruner runs the cross-resource prune pass.
type SystemPruner interface {
	System(ctx context.Context, opts prune.SystemOptions) (*prune.SystemReport, error)
}

// PruneHandler serves the system-wide prune endpoint. Per-resource prune
// endpoints live on the resource handlers.
type PruneHandler struct {
	BaseHandler
	pruner SystemPruner
}

// NewPruneHandler creates a new prune handler.
func NewPruneHandler(pruner SystemPruner, log *logger.Logger) *PruneHandler {
	return &PruneHandler{
		BaseHandler: NewBaseHandler(log),
		pruner:      pruner,
	}
}

// System handles POST /system/prune?all=true&volumes=true.
func (h *PruneHandler) System(w http.ResponseWriter, r *http.Request) {
	args, err := h.ParseFilters(r)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	report, err := h.pruner.System(r.Context(), prune.SystemOptions{
		Filters: args,
		All:     h.BoolParam(r, "all"),
		Volumes: h.BoolParam(r, "volumes"),
	})
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.OK(w, report)
}
