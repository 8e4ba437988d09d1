package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestIsPrecondition(t *testing.T) {
	err := Precondition("tab for %s is not open", "profile")
	if !IsPrecondition(err) {
		t.Error("expected precondition error to be detected")
	}

	// Detection must survive wrapping.
	wrapped := fmt.Errorf("dispatch failed: %w", err)
	if !IsPrecondition(wrapped) {
		t.Error("expected wrapped precondition error to be detected")
	}

	if IsPrecondition(stderrors.New("page is not open")) {
		t.Error("plain error mentioning a page must not classify as precondition")
	}
	if IsPrecondition(nil) {
		t.Error("nil is not a precondition error")
	}
}

func TestTypeOf(t *testing.T) {
	if got := TypeOf(New(ErrorTypeNetwork, "connection reset")); got != ErrorTypeNetwork {
		t.Errorf("TypeOf = %s, want network", got)
	}
	if got := TypeOf(stderrors.New("boom")); got != ErrorTypeUnknown {
		t.Errorf("TypeOf = %s, want unknown", got)
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(ErrorTypeNetwork, cause, "fetch failed")
	if !stderrors.Is(err, cause) {
		t.Error("wrapped cause should be reachable via errors.Is")
	}
}

func TestIsRetryableStatusCode(t *testing.T) {
	for _, code := range []int{0, 429, 500, 502, 503, 504, 599} {
		if !IsRetryableStatusCode(code) {
			t.Errorf("expected %d to be retryable", code)
		}
	}
	for _, code := range []int{200, 401, 403, 404} {
		if IsRetryableStatusCode(code) {
			t.Errorf("expected %d not to be retryable", code)
		}
	}
}
