package providers

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorReason
	}{
		{"nil", nil, ReasonUnknown},
		{"rate limit text", errors.New("429 too many requests"), ReasonRateLimit},
		{"timeout", errors.New("context deadline exceeded"), ReasonTimeout},
		{"auth", errors.New("401 unauthorized"), ReasonAuth},
		{"billing", errors.New("insufficient quota for request"), ReasonBilling},
		{"server", errors.New("502 bad gateway"), ReasonServerError},
		{"model", errors.New("model not found: gpt-9"), ReasonModelUnavailable},
		{"unknown", errors.New("something odd"), ReasonUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReasonRetryable(t *testing.T) {
	retryable := []ErrorReason{ReasonRateLimit, ReasonTimeout, ReasonServerError}
	for _, r := range retryable {
		if !r.Retryable() {
			t.Errorf("%v should be retryable", r)
		}
	}
	permanent := []ErrorReason{ReasonAuth, ReasonBilling, ReasonInvalidRequest, ReasonModelUnavailable, ReasonContentFilter, ReasonUnknown}
	for _, r := range permanent {
		if r.Retryable() {
			t.Errorf("%v should not be retryable", r)
		}
	}
}

func TestRequestErrorFormatting(t *testing.T) {
	err := NewRequestError("anthropic", "claude-sonnet-4-6", errors.New("boom")).
		WithStatus(429).
		WithCode("rate_limit_error").
		WithRequestID("req_123")

	msg := err.Error()
	for _, want := range []string{"[rate_limit]", "anthropic", "model=claude-sonnet-4-6", "status=429", "code=rate_limit_error"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if err.RequestID != "req_123" {
		t.Errorf("RequestID = %q, want req_123", err.RequestID)
	}
}

func TestRequestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := fmt.Errorf("outer: %w", NewRequestError("openai", "gpt-4o", cause))

	var reqErr *RequestError
	if !errors.As(wrapped, &reqErr) {
		t.Fatal("errors.As failed to find RequestError")
	}
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is failed to find the root cause")
	}
}

func TestIsRetryablePrefersStructuredReason(t *testing.T) {
	// Text says timeout, structured reason says auth; the structured
	// reason wins.
	err := NewRequestError("anthropic", "m", errors.New("timeout")).WithStatus(401)
	if IsRetryable(err) {
		t.Error("structured auth error should not be retryable")
	}

	if !IsRetryable(errors.New("503 service unavailable")) {
		t.Error("raw 503 error should be retryable")
	}
}
