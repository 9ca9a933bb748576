package errors

import "fmt"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Well-known error codes produced by the resilience layer.
const (
	CodeTimeout     = "TIMEOUT"
	CodeNetwork     = "NETWORK_ERROR"
	CodeValidation  = "VALIDATION_ERROR"
	CodeCircuitOpen = "CIRCUIT_OPEN"
	CodeRateLimited = "RATE_LIMITED"
)

// AppError is the structured error carried across the admission and
// resilience layer. UserMessage is safe to surface to API consumers.
type AppError struct {
	Code        string
	Message     string
	UserMessage string
	StatusCode  int
	Severity    Severity
	Retryable   bool
	Details     map[string]any
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

// HTTPCode builds the HTTP_<status> code used for non-retryable upstream responses.
func HTTPCode(status int) string {
	return fmt.Sprintf("HTTP_%d", status)
}

// NewUpstreamError wraps a terminal upstream HTTP failure. Retryable is set
// for the transport-transient statuses so callers composing their own retry
// loops can tell the classes apart.
func NewUpstreamError(status int, message string, retryable bool) *AppError {
	if message == "" {
		message = fmt.Sprintf("upstream returned status %d", status)
	}

	return &AppError{
		Code:        HTTPCode(status),
		Message:     message,
		UserMessage: "The upstream service rejected the request.",
		StatusCode:  status,
		Severity:    SeverityMedium,
		Retryable:   retryable,
	}
}

// NewTimeoutError marks a call that exceeded its per-attempt deadline.
func NewTimeoutError(cause error) *AppError {
	return &AppError{
		Code:        CodeTimeout,
		Message:     "request timed out",
		UserMessage: "The service took too long to respond. Please try again.",
		StatusCode:  504,
		Severity:    SeverityMedium,
		Retryable:   true,
		cause:       cause,
	}
}

// NewNetworkError marks a connection-level failure.
func NewNetworkError(cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Code:        CodeNetwork,
		Message:     fmt.Sprintf("network error: %s", underlyingMsg),
		UserMessage: "The service is temporarily unreachable. Please try again.",
		StatusCode:  502,
		Severity:    SeverityHigh,
		Retryable:   true,
		cause:       cause,
	}
}

// NewValidationError marks a response whose shape did not match expectations.
func NewValidationError(msg string, cause error) *AppError {
	return &AppError{
		Code:        CodeValidation,
		Message:     msg,
		UserMessage: "The service returned an unexpected response.",
		StatusCode:  502,
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       cause,
	}
}

// NewCircuitOpenError signals a call rejected without attempting the
// operation. Distinct from any failure of the wrapped dependency.
func NewCircuitOpenError(dependency string) *AppError {
	return &AppError{
		Code:        CodeCircuitOpen,
		Message:     fmt.Sprintf("circuit open for %s", dependency),
		UserMessage: "The service is temporarily unavailable. Please try again shortly.",
		StatusCode:  503,
		Severity:    SeverityMedium,
		Retryable:   false,
	}
}

// NewRateLimitError reports an admission rejection with a retry hint.
func NewRateLimitError(retryAfter int) *AppError {
	return &AppError{
		Code:        CodeRateLimited,
		Message:     fmt.Sprintf("rate limit exceeded: retry after %d seconds", retryAfter),
		UserMessage: fmt.Sprintf("Too many requests. Try again in %d seconds.", retryAfter),
		StatusCode:  429,
		Severity:    SeverityLow,
		Retryable:   false,
	}
}
