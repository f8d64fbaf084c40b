// Package errors tests for error code definitions and error handling.
package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

// TestNew tests creating an error without a cause.
func TestNew(t *testing.T) {
	err := New(ErrStore, "failed to open store")

	if err.Code != ErrStore {
		t.Errorf("Expected code %s, got %s", ErrStore, err.Code)
	}

	msg := err.Error()
	if !strings.Contains(msg, string(ErrStore)) {
		t.Errorf("Expected message to contain code, got %q", msg)
	}
	if !strings.Contains(msg, "failed to open store") {
		t.Errorf("Expected message to contain description, got %q", msg)
	}
}

// TestWrap tests wrapping an underlying error.
func TestWrap(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(ErrStore, "put failed", cause)

	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Expected wrapped message to contain cause, got %q", err.Error())
	}

	if !stderrors.Is(err, cause) {
		t.Error("Expected errors.Is to find the wrapped cause")
	}
}

// TestIs tests code matching.
func TestIs(t *testing.T) {
	err := New(ErrRetryExhausted, "operation discarded")

	if !Is(err, ErrRetryExhausted) {
		t.Error("Expected Is to match the error code")
	}

	if Is(err, ErrRemote) {
		t.Error("Expected Is to reject a different code")
	}

	if Is(stderrors.New("plain"), ErrRemote) {
		t.Error("Expected Is to reject a non-AppError")
	}
}
