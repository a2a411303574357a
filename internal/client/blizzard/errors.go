package blizzard

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrNotAuthenticated is returned by every fetch issued before Authenticate.
	ErrNotAuthenticated = errors.New("blizzard client: not authenticated")
	// ErrMalformedPayload marks a response body that does not match the expected shape.
	ErrMalformedPayload = errors.New("blizzard client: malformed payload")
)

type APIError struct {
	Status     int
	Body       string
	retryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

// Retryable is true for throttling and server-side failures.
func (e *APIError) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (e *APIError) RetryAfter() time.Duration {
	if e == nil {
		return 0
	}
	return e.retryAfter
}

// CredentialError wraps a failed client-credentials exchange. It is fatal for a run.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential exchange failed: %v", e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// transportError is a connection level failure (reset, timeout) worth another attempt.
type transportError struct {
	err error
}

func (e *transportError) Error() string   { return fmt.Sprintf("request failed: %v", e.err) }
func (e *transportError) Unwrap() error   { return e.err }
func (e *transportError) Retryable() bool { return true }
