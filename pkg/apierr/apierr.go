// Package apierr provides structured API error responses and HTTP status
// mapping compatible with the OpenAI error format.
package apierr

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/valyala/fasthttp"

	"github.com/modelgrid/gateway/pkg/gwerr"
)

// ErrorType constants.
const (
	TypeAuthenticationErr = "authentication_error"
	TypeRateLimitError    = "rate_limit_error"
	TypePermissionError   = "permission_error"
	TypeInvalidRequest    = "invalid_request_error"
	TypeProviderError     = "provider_error"
	TypeServerError       = "server_error"
)

// Code constants.
const (
	CodeInvalidAPIKey     = "invalid_api_key"
	CodeRateLimitExceeded = "rate_limit_exceeded"
	CodePolicyViolation   = "policy_violation"
	CodeInvalidRequest    = "invalid_request"
	CodeProviderError     = "provider_error"
	CodeRequestTimeout    = "request_timeout"
	CodeInternalError     = "internal_error"
)

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON to the fasthttp response with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteAuth writes a 401 authentication error.
func WriteAuth(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusUnauthorized, message, TypeAuthenticationErr, CodeInvalidAPIKey)
}

// WriteRateLimit writes a 429 with a Retry-After header of the given seconds.
func WriteRateLimit(ctx *fasthttp.RequestCtx, retryAfterSeconds int) {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	ctx.Response.Header.Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	Write(ctx, fasthttp.StatusTooManyRequests,
		"rate limit exceeded", TypeRateLimitError, CodeRateLimitExceeded)
}

// WritePolicy writes a 403 with the structured violation reason.
func WritePolicy(ctx *fasthttp.RequestCtx, reason string) {
	Write(ctx, fasthttp.StatusForbidden, reason, TypePermissionError, CodePolicyViolation)
}

// WriteValidation writes a 400 invalid-request error.
func WriteValidation(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusBadRequest, message, TypeInvalidRequest, CodeInvalidRequest)
}

// WriteTimeout writes a 504 timeout error.
func WriteTimeout(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusGatewayTimeout,
		"provider request timed out", TypeProviderError, CodeRequestTimeout)
}

// WriteFromError maps a gateway taxonomy error to the appropriate response.
//
//	AuthenticationError      → 401
//	RateLimitExceeded        → 429 + Retry-After
//	PolicyViolation          → 403
//	ValidationError          → 400
//	context.DeadlineExceeded → 504
//	UpstreamError            → 502
//	anything else            → 502 provider error
func WriteFromError(ctx *fasthttp.RequestCtx, err error) {
	var (
		authErr *gwerr.AuthenticationError
		rlErr   *gwerr.RateLimitExceeded
		polErr  *gwerr.PolicyViolation
		valErr  *gwerr.ValidationError
		upErr   *gwerr.UpstreamError
	)

	switch {
	case errors.As(err, &authErr):
		WriteAuth(ctx, authErr.Message)
	case errors.As(err, &rlErr):
		WriteRateLimit(ctx, int(rlErr.RetryAfter.Seconds()))
	case errors.As(err, &polErr):
		WritePolicy(ctx, polErr.Reason)
	case errors.As(err, &valErr):
		WriteValidation(ctx, valErr.Message)
	case errors.Is(err, context.DeadlineExceeded):
		WriteTimeout(ctx)
	case errors.As(err, &upErr):
		Write(ctx, fasthttp.StatusBadGateway, upErr.Error(), TypeProviderError, CodeProviderError)
	default:
		Write(ctx, fasthttp.StatusBadGateway, err.Error(), TypeProviderError, CodeProviderError)
	}
}
