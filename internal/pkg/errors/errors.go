// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

// Package errors defines the daemon's structured error type and code
// taxonomy. Every error that crosses a component boundary is an *AppError so
// the API layer can map it to an HTTP status and callers can distinguish
// fatal configuration problems from retryable resource-state conditions.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes grouped by class.
const (
	// Configuration errors. Fatal at startup: the daemon refuses to run.
	CodeInvalidConfig = "INVALID_CONFIG"
	CodeUnsupported   = "UNSUPPORTED"

	// Resource-state errors. The operation is rejected, the daemon keeps
	// running.
	CodeNotFound   = "NOT_FOUND"
	CodeConflict   = "CONFLICT"
	CodeInUse      = "IN_USE"
	CodeBadRequest = "BAD_REQUEST"

	// Transient errors. Retryable after operator action or deferred cleanup.
	CodeNoSpace    = "NO_SPACE"
	CodeDeviceBusy = "DEVICE_BUSY"
	CodeTimeout    = "TIMEOUT"

	CodeInternal = "INTERNAL"
)

// AppError is a structured error with a stable code, a human-readable
// message, an optional wrapped cause and optional detail fields.
type AppError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error, if any.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail attaches a single detail field, initializing the map if needed.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithDetails attaches a detail map.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithHTTPStatus overrides the HTTP status for this error.
func (e *AppError) WithHTTPStatus(status int) *AppError {
	e.HTTPStatus = status
	return e
}

// New creates an AppError with the given code and message.
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: defaultStatus(code)}
}

// Newf creates an AppError with a formatted message.
func Newf(code, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates an AppError wrapping an underlying cause.
func Wrap(err error, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err, HTTPStatus: defaultStatus(code)}
}

// Wrapf creates a wrapping AppError with a formatted message.
func Wrapf(err error, code, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

func defaultStatus(code string) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeInUse, CodeDeviceBusy:
		return http.StatusConflict
	case CodeBadRequest, CodeInvalidConfig, CodeUnsupported:
		return http.StatusBadRequest
	case CodeNoSpace:
		return http.StatusInsufficientStorage
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ============================================================================
// Convenience constructors
// ============================================================================

// NotFound reports a missing resource by type and identifier.
func NotFound(resource, id string) *AppError {
	return Newf(CodeNotFound, "no such %s: %s", resource, id)
}

// Conflict reports a state conflict (duplicate name, invalid transition).
func Conflict(message string) *AppError {
	return New(CodeConflict, message)
}

// InUse reports a resource that cannot be removed while referenced.
func InUse(resource, id, by string) *AppError {
	return Newf(CodeInUse, "%s %s is in use by %s", resource, id, by).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

// InvalidInput reports a rejected request parameter.
func InvalidInput(message string) *AppError {
	return New(CodeBadRequest, message)
}

// InvalidConfig reports a fatal daemon configuration error.
func InvalidConfig(message string) *AppError {
	return New(CodeInvalidConfig, message)
}

// NoSpace reports an allocation rejected for lack of space. The operation
// may be retried after the operator frees space or grows the pool.
func NoSpace(message string) *AppError {
	return New(CodeNoSpace, message)
}

// DeviceBusy reports a device or layer that is still referenced. Deferred
// removal retries it asynchronously.
func DeviceBusy(id string) *AppError {
	return Newf(CodeDeviceBusy, "device %s is busy", id)
}

// Unsupported reports a configuration the current platform cannot honor.
func Unsupported(message string) *AppError {
	return New(CodeUnsupported, message)
}

// Internal reports an unexpected daemon-side failure.
func Internal(message string) *AppError {
	return New(CodeInternal, message)
}

// ============================================================================
// Classification helpers
// ============================================================================

// CodeOf extracts the error code, or CodeInternal for foreign errors.
func CodeOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// HTTPStatus extracts the HTTP status for an error.
func HTTPStatus(err error) int {
	var ae *AppError
	if errors.As(err, &ae) {
		if ae.HTTPStatus != 0 {
			return ae.HTTPStatus
		}
		return defaultStatus(ae.Code)
	}
	return http.StatusInternalServerError
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsConflict reports whether err is a CONFLICT or IN_USE error.
func IsConflict(err error) bool {
	code := CodeOf(err)
	return code == CodeConflict || code == CodeInUse
}

// IsRetryable reports whether the operation may succeed on retry after
// operator action or deferred cleanup.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeNoSpace, CodeDeviceBusy, CodeTimeout:
		return true
	}
	return false
}

// IsFatal reports whether the error must abort daemon startup.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidConfig, CodeUnsupported:
		return true
	}
	return false
}
