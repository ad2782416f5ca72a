// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

// Package handlers provides HTTP handlers for the daemon API.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/stevedore-io/stevedore/internal/api/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/filters"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

// maxBodyBytes bounds request bodies; specs are small JSON documents.
const maxBodyBytes = 10 * 1024 * 1024

// BaseHandler provides common functionality for all handlers.
type BaseHandler struct {
	logger *logger.Logger
}

// NewBaseHandler creates a new base handler.
func NewBaseHandler(log *logger.Logger) BaseHandler {
	if log == nil {
		log = logger.Nop()
	}
	return BaseHandler{logger: log}
}

// ============================================================================
// Response helpers
// ============================================================================

// JSON writes a JSON response with the given status code.
func (h *BaseHandler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.logger.Error("failed to encode JSON response", "error", err)
		}
	}
}

// OK writes a 200 OK response with the given data.
func (h *BaseHandler) OK(w http.ResponseWriter, data any) {
	h.JSON(w, http.StatusOK, data)
}

// Created writes a 201 Created response with the given data.
func (h *BaseHandler) Created(w http.ResponseWriter, data any) {
	h.JSON(w, http.StatusCreated, data)
}

// NoContent writes a 204 No Content response.
func (h *BaseHandler) NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// Error helpers
// ============================================================================

// BadRequest writes a 400 Bad Request error.
func (h *BaseHandler) BadRequest(w http.ResponseWriter, message string) {
	apierrors.WriteError(w, apierrors.InvalidInput(message))
}

// HandleError converts a service error to an API error response.
func (h *BaseHandler) HandleError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	apiErr := apierrors.FromError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	apierrors.WriteError(w, apiErr)
}

// ============================================================================
// Request parsing helpers
// ============================================================================

// ParseJSON decodes the request body as JSON into the given value.
func (h *BaseHandler) ParseJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return apierrors.InvalidInput("request body is empty")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apierrors.InvalidInput("request body is empty")
		}
		return apierrors.InvalidInput("invalid JSON: " + err.Error())
	}
	return nil
}

// ParseFilters decodes the `filters` query parameter, a JSON-encoded
// map[key][]value produced by the CLI from repeated --filter flags.
func (h *BaseHandler) ParseFilters(r *http.Request) (filters.Args, error) {
	raw := r.URL.Query().Get("filters")
	if raw == "" {
		return filters.NewArgs(), nil
	}
	args, err := filters.FromJSON(raw)
	if err != nil {
		return filters.Args{}, apierrors.InvalidInput("invalid filters: " + err.Error())
	}
	return args, nil
}

// BoolParam parses a boolean query parameter, defaulting to false when
// absent. "1", "t", "true" (any case) are true per strconv.ParseBool.
func (h *BaseHandler) BoolParam(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

// DurationParam parses an optional duration query parameter given in whole
// seconds (the wire encoding for stop/restart timeouts). Nil means unset.
func (h *BaseHandler) DurationParam(r *http.Request, name string) (*time.Duration, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return nil, apierrors.InvalidInput("invalid " + name + ": must be a non-negative integer (seconds)")
	}
	d := time.Duration(secs) * time.Second
	return &d, nil
}
