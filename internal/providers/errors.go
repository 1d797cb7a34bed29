package providers

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/modelgrid/gateway/pkg/gwerr"
)

// MapStatus converts an upstream HTTP status into the shared error taxonomy:
// 401/403 (bad upstream credential) to AuthenticationError, 429 to
// RateLimitExceeded, 400 to ValidationError, everything else to
// UpstreamError.
func MapStatus(provider string, status int, message string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &gwerr.AuthenticationError{Message: provider + ": " + message}
	case status == http.StatusTooManyRequests:
		return &gwerr.RateLimitExceeded{}
	case status == http.StatusBadRequest:
		return &gwerr.ValidationError{Message: provider + ": " + message}
	default:
		return &gwerr.UpstreamError{
			Provider:   provider,
			Message:    message,
			StatusCode: status,
		}
	}
}

// MapTransportError converts a transport-level failure (no HTTP status) into
// the taxonomy: timeouts and connection failures are upstream faults.
func MapTransportError(provider string, err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &gwerr.UpstreamError{Provider: provider, Message: "request timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return err
	case errors.As(err, &netErr) && netErr.Timeout():
		return &gwerr.UpstreamError{Provider: provider, Message: "request timed out", Err: err}
	default:
		return &gwerr.UpstreamError{Provider: provider, Message: err.Error(), Err: err}
	}
}
