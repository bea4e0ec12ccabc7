package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// StatusError carries a provider HTTP error verbatim:
// status code plus response body, surfaced unmodified to
// the caller.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf(
		"provider returned status %d: %s",
		e.StatusCode, e.Body,
	)
}

// IsNetworkError reports whether err represents a
// transport failure (unreachable host, timeout) as
// opposed to a reachable server rejecting the request.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}
