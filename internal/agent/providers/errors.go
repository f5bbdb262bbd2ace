package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorReason categorizes why a provider request failed, driving retry
// decisions and error metrics.
type ErrorReason string

const (
	// ReasonRateLimit indicates rate limiting (HTTP 429).
	ReasonRateLimit ErrorReason = "rate_limit"

	// ReasonAuth indicates authentication failure (HTTP 401, 403).
	ReasonAuth ErrorReason = "auth"

	// ReasonBilling indicates payment or quota issues (HTTP 402).
	ReasonBilling ErrorReason = "billing"

	// ReasonTimeout indicates a request timeout.
	ReasonTimeout ErrorReason = "timeout"

	// ReasonServerError indicates server-side issues (HTTP 5xx).
	ReasonServerError ErrorReason = "server_error"

	// ReasonInvalidRequest indicates client-side issues (HTTP 400).
	ReasonInvalidRequest ErrorReason = "invalid_request"

	// ReasonModelUnavailable indicates the requested model does not exist.
	ReasonModelUnavailable ErrorReason = "model_unavailable"

	// ReasonContentFilter indicates content was blocked by safety filters.
	ReasonContentFilter ErrorReason = "content_filter"

	// ReasonUnknown indicates an unclassified error.
	ReasonUnknown ErrorReason = "unknown"
)

// Retryable returns true if the reason suggests retrying may succeed.
func (r ErrorReason) Retryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// RequestError is a structured error from an LLM provider request. It
// captures the context needed for retry logic and debugging.
type RequestError struct {
	// Reason categorizes the error for retry decisions.
	Reason ErrorReason

	// Provider is the adapter name ("anthropic", "openai").
	Provider string

	// Model is the model that was requested.
	Model string

	// Status is the HTTP status code, if known.
	Status int

	// Code is the provider-specific error code.
	Code string

	// Message is the human-readable error message.
	Message string

	// RequestID is the provider's request ID for debugging.
	RequestID string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))

	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *RequestError) Unwrap() error {
	return e.Cause
}

// NewRequestError wraps cause with provider context and classifies it.
func NewRequestError(provider, model string, cause error) *RequestError {
	err := &RequestError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   ReasonUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}
	return err
}

// WithStatus adds the HTTP status and reclassifies from it.
func (e *RequestError) WithStatus(status int) *RequestError {
	e.Status = status
	e.Reason = classifyStatusCode(status)
	return e
}

// WithCode adds a provider-specific error code and reclassifies if the
// code is recognized.
func (e *RequestError) WithCode(code string) *RequestError {
	e.Code = code
	if reason := classifyErrorCode(code); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// WithRequestID records the provider's request ID.
func (e *RequestError) WithRequestID(id string) *RequestError {
	e.RequestID = id
	return e
}

// WithMessage sets the error message.
func (e *RequestError) WithMessage(msg string) *RequestError {
	e.Message = msg
	return e
}

// ClassifyError inspects an error's text and returns the matching reason.
func ClassifyError(err error) ErrorReason {
	if err == nil {
		return ReasonUnknown
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context deadline") {
		return ReasonTimeout
	}

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return ReasonRateLimit
	}

	if strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "invalid_api_key") ||
		strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") {
		return ReasonAuth
	}

	if strings.Contains(errStr, "billing") ||
		strings.Contains(errStr, "payment") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "402") {
		return ReasonBilling
	}

	if strings.Contains(errStr, "content_filter") ||
		strings.Contains(errStr, "content policy") ||
		strings.Contains(errStr, "safety") {
		return ReasonContentFilter
	}

	if strings.Contains(errStr, "model not found") ||
		strings.Contains(errStr, "model_not_found") ||
		strings.Contains(errStr, "does not exist") {
		return ReasonModelUnavailable
	}

	if strings.Contains(errStr, "internal server") ||
		strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return ReasonServerError
	}

	return ReasonUnknown
}

func classifyStatusCode(status int) ErrorReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusBadRequest:
		return ReasonInvalidRequest
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func classifyErrorCode(code string) ErrorReason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return ReasonRateLimit
	case "authentication_error", "invalid_api_key":
		return ReasonAuth
	case "billing_error", "insufficient_quota":
		return ReasonBilling
	case "model_not_found", "model_not_available":
		return ReasonModelUnavailable
	case "content_policy_violation", "content_filter":
		return ReasonContentFilter
	case "overloaded_error", "server_error", "internal_error":
		return ReasonServerError
	case "invalid_request_error":
		return ReasonInvalidRequest
	default:
		return ReasonUnknown
	}
}

// IsRetryable reports whether an error is worth retrying, using the
// structured reason when available and text classification otherwise.
func IsRetryable(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Reason.Retryable()
	}
	return ClassifyError(err).Retryable()
}
