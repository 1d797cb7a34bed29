// Package gwerr defines the shared error taxonomy used across all gateway
// layers. Every check on the request path (authentication, rate limiting,
// policy evaluation, routing, provider invocation) returns one of these typed
// errors; the HTTP layer maps them to status codes via HTTPStatus.
package gwerr

import (
	"errors"
	"fmt"
	"time"
)

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatus() int
}

// AuthenticationError — missing, malformed, unknown, or revoked API key, or
// an upstream credential failure. Maps to 401.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string   { return "authentication failed: " + e.Message }
func (e *AuthenticationError) HTTPStatus() int { return 401 }

// RateLimitExceeded — the per-key sliding-window limit was hit, or an
// upstream provider throttled us. Maps to 429. RetryAfter is the remaining
// window time and is surfaced as a Retry-After header.
type RateLimitExceeded struct {
	RetryAfter time.Duration
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}
func (e *RateLimitExceeded) HTTPStatus() int { return 429 }

// PolicyViolation — the request was denied by a key allowlist, org-level
// model-access policy, or daily spend cap. Maps to 403.
type PolicyViolation struct {
	Reason string
}

func (e *PolicyViolation) Error() string   { return "policy violation: " + e.Reason }
func (e *PolicyViolation) HTTPStatus() int { return 403 }

// ValidationError — the request itself is malformed, or the routing policy
// has no usable configuration. Maps to 400.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string   { return e.Message }
func (e *ValidationError) HTTPStatus() int { return 400 }

// UpstreamError — a provider invocation failed after retries were exhausted.
// Maps to 502 (504 when the underlying cause is a timeout).
type UpstreamError struct {
	Provider string
	Message  string
	// StatusCode is the upstream HTTP status when known, 0 otherwise.
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (upstream status %d)", e.Provider, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *UpstreamError) HTTPStatus() int { return 502 }
func (e *UpstreamError) Unwrap() error   { return e.Err }

// IsRetryable reports whether an invocation error should trigger an
// automatic retry against the same (provider, model) pair.
//
//   - RateLimitExceeded → retryable (upstream throttle, backs off)
//   - UpstreamError      → retryable (5xx / timeout / connectivity)
//   - everything else    → not retryable (auth and validation won't change)
func IsRetryable(err error) bool {
	var rl *RateLimitExceeded
	if errors.As(err, &rl) {
		return true
	}
	var up *UpstreamError
	return errors.As(err, &up)
}

// Classify converts an error into a short category label for log fields and
// metrics. Unknown errors report "unknown".
func Classify(err error) string {
	switch {
	case err == nil:
		return "success"
	case isType[*AuthenticationError](err):
		return "auth"
	case isType[*RateLimitExceeded](err):
		return "rate_limit"
	case isType[*PolicyViolation](err):
		return "policy"
	case isType[*ValidationError](err):
		return "validation"
	case isType[*UpstreamError](err):
		return "upstream"
	default:
		return "unknown"
	}
}

func isType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
