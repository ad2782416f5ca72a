// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

// ============================================================================
// AppError basics
// ============================================================================

func TestAppError_Error_WithWrapped(t *testing.T) {
	inner := fmt.Errorf("pool exhausted")
	ae := Wrap(inner, CodeNoSpace, "thin pool allocation failed")

	got := ae.Error()
	if !strings.Contains(got, CodeNoSpace) {
		t.Errorf("Error() missing code, got: %s", got)
	}
	if !strings.Contains(got, "thin pool allocation failed") {
		t.Errorf("Error() missing message, got: %s", got)
	}
	if !strings.Contains(got, "pool exhausted") {
		t.Errorf("Error() missing wrapped error, got: %s", got)
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("original error")
	ae := Wrap(inner, CodeInternal, "wrapped")

	if ae.Unwrap() != inner {
		t.Error("Unwrap() did not return the wrapped error")
	}
	if !errors.Is(ae, inner) {
		t.Error("errors.Is should see through AppError")
	}
}

func TestAppError_Unwrap_Nil(t *testing.T) {
	ae := New(CodeInternal, "no inner")
	if ae.Unwrap() != nil {
		t.Error("Unwrap() should return nil when no wrapped error")
	}
}

// ============================================================================
// Constructors and status mapping
// ============================================================================

func TestNew_DefaultStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{CodeNotFound, http.StatusNotFound},
		{CodeConflict, http.StatusConflict},
		{CodeInUse, http.StatusConflict},
		{CodeDeviceBusy, http.StatusConflict},
		{CodeBadRequest, http.StatusBadRequest},
		{CodeInvalidConfig, http.StatusBadRequest},
		{CodeNoSpace, http.StatusInsufficientStorage},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		ae := New(tt.code, "msg")
		if ae.HTTPStatus != tt.want {
			t.Errorf("New(%s) HTTPStatus = %d, want %d", tt.code, ae.HTTPStatus, tt.want)
		}
	}
}

func TestNewf(t *testing.T) {
	ae := Newf(CodeBadRequest, "option %s is %s", "dm.basesize", "invalid")
	want := "option dm.basesize is invalid"
	if ae.Message != want {
		t.Errorf("Message = %q, want %q", ae.Message, want)
	}
}

func TestNotFound(t *testing.T) {
	ae := NotFound("container", "abc123")
	if ae.Code != CodeNotFound {
		t.Errorf("Code = %q, want %q", ae.Code, CodeNotFound)
	}
	if !strings.Contains(ae.Message, "container") || !strings.Contains(ae.Message, "abc123") {
		t.Errorf("Message should name resource and id, got: %s", ae.Message)
	}
}

func TestInUse_Details(t *testing.T) {
	ae := InUse("network", "frontend", "container web1")
	if ae.Code != CodeInUse {
		t.Errorf("Code = %q, want %q", ae.Code, CodeInUse)
	}
	if ae.Details["resource"] != "network" {
		t.Errorf("Details[resource] = %v, want network", ae.Details["resource"])
	}
}

func TestWithDetail_InitializesMap(t *testing.T) {
	ae := New(CodeBadRequest, "bad")
	if ae.Details != nil {
		t.Fatal("Details should be nil initially")
	}
	ae.WithDetail("key", "value")
	if ae.Details["key"] != "value" {
		t.Errorf("Details[key] = %v, want value", ae.Details["key"])
	}
}

// ============================================================================
// Classification
// ============================================================================

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NoSpace("pool full")) {
		t.Error("NoSpace should be retryable")
	}
	if !IsRetryable(DeviceBusy("dev1")) {
		t.Error("DeviceBusy should be retryable")
	}
	if IsRetryable(InvalidConfig("bad key")) {
		t.Error("InvalidConfig should not be retryable")
	}
	if IsRetryable(fmt.Errorf("plain")) {
		t.Error("foreign errors should not be retryable")
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(InvalidConfig("unknown storage-opt")) {
		t.Error("InvalidConfig should be fatal")
	}
	if !IsFatal(Unsupported("overlay2 size requires xfs pquota")) {
		t.Error("Unsupported should be fatal")
	}
	if IsFatal(NotFound("image", "x")) {
		t.Error("NotFound should not be fatal")
	}
}

func TestHTTPStatus_WrappedDeep(t *testing.T) {
	inner := NotFound("volume", "data")
	wrapped := fmt.Errorf("remove: %w", inner)

	if HTTPStatus(wrapped) != http.StatusNotFound {
		t.Errorf("HTTPStatus should see through fmt wrapping, got %d", HTTPStatus(wrapped))
	}
	if !IsNotFound(wrapped) {
		t.Error("IsNotFound should see through fmt wrapping")
	}
}

func TestHTTPStatus_Foreign(t *testing.T) {
	if HTTPStatus(fmt.Errorf("boom")) != http.StatusInternalServerError {
		t.Error("foreign errors should map to 500")
	}
}
