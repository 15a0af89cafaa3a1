// Package errors provides unit tests for error codes.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

// TestNew tests AppError creation without an underlying error.
func TestNew(t *testing.T) {
	err := New(ErrDatabase, "write failed")

	if err.Code != ErrDatabase {
		t.Errorf("Expected code %s, got %s", ErrDatabase, err.Code)
	}

	msg := err.Error()
	if !strings.Contains(msg, "DATABASE_ERROR") {
		t.Errorf("Expected code in message, got %q", msg)
	}
	if !strings.Contains(msg, "write failed") {
		t.Errorf("Expected message text, got %q", msg)
	}
}

// TestWrap tests wrapping and unwrapping an underlying error.
func TestWrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(ErrEnqueue, "failed to enqueue mutation", cause)

	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Expected cause in message, got %q", err.Error())
	}

	if !stderrors.Is(err, cause) {
		t.Error("Expected errors.Is to find the wrapped cause")
	}
}

// TestIs tests code matching.
func TestIs(t *testing.T) {
	err := New(ErrRemoteAuth, "token expired")

	if !Is(err, ErrRemoteAuth) {
		t.Error("Expected Is to match the code")
	}
	if Is(err, ErrRemoteTransient) {
		t.Error("Expected Is to reject a different code")
	}
	if Is(fmt.Errorf("plain error"), ErrRemoteAuth) {
		t.Error("Expected Is to reject a non-AppError")
	}
}
