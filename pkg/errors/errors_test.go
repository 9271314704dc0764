package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorStringIncludesTypeOpAndCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewConnectionError("127.0.0.1:9000", cause)

	got := err.Error()
	if !strings.Contains(got, "[connection]") || !strings.Contains(got, "127.0.0.1:9000") || !strings.Contains(got, "connection refused") {
		t.Fatalf("unexpected error string: %s", got)
	}
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := stderrors.New("boom")
	err := NewIOError("read payload", cause)
	if stderrors.Unwrap(err) != cause {
		t.Fatal("expected Unwrap to return the wrapped cause")
	}
}

func TestIsMatchesByType(t *testing.T) {
	a := NewTimeoutError("dial", 0)
	b := NewTimeoutError("read-header", 0)
	if !stderrors.Is(a, b) {
		t.Fatal("expected two timeout errors to be Is-equivalent by type")
	}

	c := NewAuthError("handshake", "bad key", nil)
	if stderrors.Is(a, c) {
		t.Fatal("expected a timeout and an auth error not to match")
	}
}

func TestIsTimeoutErrorRecognizesSyncTimeout(t *testing.T) {
	err := NewSyncTimeoutError("conv-1")
	if !IsTimeoutError(err) {
		t.Fatal("expected a sync-timeout error to be classified as a timeout")
	}
}

func TestIsTimeoutErrorRejectsUnrelatedError(t *testing.T) {
	if IsTimeoutError(NewValidationError("bad config")) {
		t.Fatal("a validation error must not be classified as a timeout")
	}
}

func TestGetErrorType(t *testing.T) {
	if GetErrorType(NewDesyncError("op", "msg")) != ErrorTypeDesync {
		t.Fatal("expected ErrorTypeDesync")
	}
	if GetErrorType(stderrors.New("plain")) != "" {
		t.Fatal("expected empty type for a non-structured error")
	}
}
