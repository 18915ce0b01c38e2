// Package graphapi provides an HTTP client for the Microsoft Graph drive
// API surface this tool needs: drive resolution, delta paging, and
// content download. Requests are retried with exponential backoff and
// failures are classified into sentinel errors.
package graphapi

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, graphapi.ErrGone) to check.
var (
	ErrBadRequest   = errors.New("graphapi: bad request")
	ErrUnauthorized = errors.New("graphapi: unauthorized")
	ErrForbidden    = errors.New("graphapi: forbidden")
	ErrNotFound     = errors.New("graphapi: not found")
	ErrGone         = errors.New("graphapi: resource gone")
	ErrThrottled    = errors.New("graphapi: throttled")
	ErrServerError  = errors.New("graphapi: server error")
)

// APIError wraps a sentinel error with the HTTP status code, request ID,
// and the API error body for debugging.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("graphapi: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("graphapi: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusGone:
		return ErrGone
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return fmt.Errorf("graphapi: unexpected status %d", code)
	}
}

// isRetryable reports whether a status code is worth retrying.
func isRetryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
