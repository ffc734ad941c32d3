// Package nasapi provides an HTTP client for the BaluHost NAS file API with
// token refresh, error classification, and the chunked upload protocol.
package nasapi

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status classification.
// Use errors.Is(err, nasapi.ErrNotFound) to check.
var (
	ErrBadRequest     = errors.New("nasapi: bad request")
	ErrUnauthorized   = errors.New("nasapi: unauthorized")
	ErrForbidden      = errors.New("nasapi: forbidden")
	ErrNotFound       = errors.New("nasapi: not found")
	ErrConflict       = errors.New("nasapi: conflict")
	ErrChunkIntegrity = errors.New("nasapi: chunk hash mismatch")
	ErrQuotaExceeded  = errors.New("nasapi: quota exceeded")
	ErrThrottled      = errors.New("nasapi: throttled")
	ErrServerError    = errors.New("nasapi: server error")

	// ErrNetwork wraps transport-level failures (dial, timeout, reset).
	ErrNetwork = errors.New("nasapi: network error")
)

// APIError wraps a sentinel with the HTTP status, server request ID, and
// response body for debugging.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("nasapi: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("nasapi: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// statusUnprocessable is returned by the upload endpoint when a chunk body
// does not match its declared hash.
const statusUnprocessable = http.StatusUnprocessableEntity

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
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
	case http.StatusConflict:
		return ErrConflict
	case statusUnprocessable:
		return ErrChunkIntegrity
	case http.StatusInsufficientStorage:
		return ErrQuotaExceeded
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// Retryable reports whether an error from this package is worth retrying on a
// later drain pass (as opposed to permanent failures like quota exhaustion).
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrNetwork),
		errors.Is(err, ErrThrottled),
		errors.Is(err, ErrServerError),
		errors.Is(err, ErrChunkIntegrity):
		return true
	default:
		return false
	}
}
