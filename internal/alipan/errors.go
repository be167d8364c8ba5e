// Package alipan provides an HTTP client for the Alipan drive API with
// automatic retry, transparent access-token refresh, and error
// classification.
package alipan

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for API error classification.
// Use errors.Is(err, alipan.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("alipan: bad request")
	ErrTokenExpired = errors.New("alipan: access token expired")
	ErrForbidden    = errors.New("alipan: forbidden")
	ErrNotFound     = errors.New("alipan: not found")
	ErrAlreadyExist = errors.New("alipan: already exists")
	ErrThrottled    = errors.New("alipan: throttled")
	ErrServerError  = errors.New("alipan: server error")

	// ErrPreHashMatched is returned by CreateFile when the server
	// recognizes the 1 KiB pre-hash and invites a rapid-upload attempt
	// with the full content hash. It is a negotiation signal, not a
	// failure.
	ErrPreHashMatched = errors.New("alipan: pre-hash matched")

	// ErrURLExpired is returned when a capability URL (pre-signed
	// download or part-upload URL) is past its validity window.
	ErrURLExpired = errors.New("alipan: capability URL expired")
)

// APIError wraps a sentinel error with the HTTP status, the server error
// code and the response message for debugging.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("alipan: HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}

	return fmt.Sprintf("alipan: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Server error codes with dedicated handling.
const (
	codeAccessTokenInvalid = "AccessTokenInvalid"
	codePreHashMatched     = "PreHashMatched"
	codeNotFound           = "NotFound.File"
	codeAlreadyExist       = "AlreadyExist.File"
)

// classify maps a server error code and HTTP status to a sentinel error.
func classify(code string, status int) error {
	switch code {
	case codeAccessTokenInvalid:
		return ErrTokenExpired
	case codePreHashMatched:
		return ErrPreHashMatched
	case codeNotFound:
		return ErrNotFound
	case codeAlreadyExist:
		return ErrAlreadyExist
	}

	switch status {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrTokenExpired
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrAlreadyExist
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if status >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the HTTP status code should be retried.
func isRetryable(status int) bool {
	switch status {
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
