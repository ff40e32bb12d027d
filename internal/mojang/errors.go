// Package mojang talks to the Mojang launcher-metadata services: the
// top-level version manifest, per-version descriptors, and asset indexes.
// It provides a retrying HTTP client with error classification and a
// resolver that expands a version id into the platform-filtered artifact
// set needed to run that version.
package mojang

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, mojang.ErrNotFound) to check.
var (
	ErrBadRequest  = errors.New("mojang: bad request")
	ErrNotFound    = errors.New("mojang: not found")
	ErrThrottled   = errors.New("mojang: throttled")
	ErrServerError = errors.New("mojang: server error")
)

// Domain sentinels surfaced by the resolver.
var (
	// ErrVersionNotFound means the requested version id does not appear in
	// the version manifest.
	ErrVersionNotFound = errors.New("mojang: unknown version")

	// ErrMalformed means a fetched document was not valid JSON or is
	// missing fields the resolver requires. Never retried.
	ErrMalformed = errors.New("mojang: malformed metadata")
)

// APIError wraps a sentinel error with the HTTP status code, the request
// URL, and the response body for debugging.
type APIError struct {
	StatusCode int
	URL        string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mojang: HTTP %d from %s: %s", e.StatusCode, e.URL, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
