package common

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrNoPosition is returned by venues that report a missing position as an error.
var ErrNoPosition = errors.New("no open position")

// APIError is a non-2xx venue response.
type APIError struct {
	HTTPStatus int
	Code       int
	Msg        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("venue error: http=%d code=%d msg=%s", e.HTTPStatus, e.Code, e.Msg)
}

// Temporary reports whether the request may succeed if repeated later.
func (e *APIError) Temporary() bool {
	switch {
	case e.HTTPStatus == http.StatusTooManyRequests, e.HTTPStatus == http.StatusTeapot:
		return true
	case e.HTTPStatus >= 500:
		return true
	}
	switch e.Code {
	case -1001, -1003, -1007: // disconnected, too many requests, timeout waiting for backend
		return true
	}
	return false
}

// IsTransient classifies an error as retryable: timeouts, rate limits and 5xx.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// IsRejection reports a definitive venue refusal (4xx that is not a rate limit).
func IsRejection(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.Temporary() && apiErr.HTTPStatus >= 400 && apiErr.HTTPStatus < 500
	}
	return false
}
