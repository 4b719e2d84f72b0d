package vastai

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the failure classes a caller may want to branch on.
// Every error returned by the client wraps one of these (or is a
// *SchemaError / *query.MalformedQueryError).
var (
	// ErrAuthentication means the API key was rejected (HTTP 401/403).
	ErrAuthentication = errors.New("vastai: authentication failed")

	// ErrNotFound means the referenced offer or instance does not exist
	// (HTTP 404).
	ErrNotFound = errors.New("vastai: not found")

	// ErrRateLimited means the marketplace throttled the request (HTTP
	// 429). The client performs no retries; backing off is the caller's
	// decision.
	ErrRateLimited = errors.New("vastai: rate limited")

	// ErrRemoteService covers all other non-2xx responses.
	ErrRemoteService = errors.New("vastai: remote service error")

	// ErrTransport covers connection-level failures: DNS, timeouts,
	// refused connections.
	ErrTransport = errors.New("vastai: transport failure")
)

// APIError carries the context of a failed API call: the operation, the
// HTTP status (0 for transport failures), and a snippet of the response
// body. It wraps one of the sentinel errors above.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("vastai: %s failed (HTTP %d): %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("vastai: %s failed: %s", e.Operation, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func newAPIError(operation string, statusCode int, message string, err error) *APIError {
	return &APIError{
		Operation:  operation,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// SchemaError reports a response payload that does not match the expected
// shape: a required field is missing or a field has the wrong JSON type.
// It indicates API drift rather than a transient failure.
type SchemaError struct {
	Kind   string // "offer" or "instance"
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("vastai: %s payload: field %q: %s", e.Kind, e.Field, e.Reason)
	}
	return fmt.Sprintf("vastai: %s payload: %s", e.Kind, e.Reason)
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	if errors.Is(err, ErrAuthentication) {
		return true
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode == http.StatusUnauthorized || ae.StatusCode == http.StatusForbidden
	}
	return false
}

// IsNotFound reports whether err means the referenced resource is gone.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode == http.StatusNotFound
	}
	return false
}

// IsRateLimited reports whether err is a throttling response.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// IsRetryable reports whether repeating the call later could succeed:
// throttling, server-side failures, and transport failures qualify.
func IsRetryable(err error) bool {
	if IsRateLimited(err) || errors.Is(err, ErrTransport) {
		return true
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode >= 500 && ae.StatusCode < 600
	}
	return false
}
