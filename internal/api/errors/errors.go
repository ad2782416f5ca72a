// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

// Package errors provides standardized HTTP error responses for the API.
// All API handlers should use these functions to return consistent error
// responses.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
)

// APIError represents a standardized API error response.
type APIError struct {
	// HTTP status code
	Status int `json:"status"`

	// Machine-readable error code
	Code string `json:"code"`

	// Human-readable error message
	Message string `json:"message"`

	// Optional detailed information about the error
	Details any `json:"details,omitempty"`

	// Request ID for tracing (populated by middleware)
	RequestID string `json:"request_id,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// WriteError writes a JSON error response to the http.ResponseWriter.
func WriteError(w http.ResponseWriter, err *APIError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(err.Status)
	json.NewEncoder(w).Encode(err)
}

// NewError creates a new APIError.
func NewError(status int, code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

// InvalidInput returns a 400 Bad Request error.
func InvalidInput(message string) *APIError {
	if message == "" {
		message = "invalid input"
	}
	return NewError(http.StatusBadRequest, apperrors.CodeBadRequest, message)
}

// NotFound returns a 404 Not Found error.
func NotFound(resource string) *APIError {
	return NewError(http.StatusNotFound, apperrors.CodeNotFound, resource+" not found")
}

// Conflict returns a 409 Conflict error.
func Conflict(message string) *APIError {
	return NewError(http.StatusConflict, apperrors.CodeConflict, message)
}

// Internal returns a 500 Internal Server Error. The message is intentionally
// generic; details belong in the daemon log, not the response.
func Internal(message string) *APIError {
	if message == "" {
		message = "internal server error"
	}
	return NewError(http.StatusInternalServerError, apperrors.CodeInternal, message)
}

// FromError converts an application error into an APIError using the
// AppError code and HTTP status mapping.
func FromError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		e := NewError(apperrors.HTTPStatus(appErr), appErr.Code, appErr.Message)
		if len(appErr.Details) > 0 {
			e.Details = appErr.Details
		}
		return e
	}

	return Internal("")
}
