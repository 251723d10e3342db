package transport

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInvalidCredentials indicates the cloud rejected our bearer token and a
// retry will not help without external re-authentication.
var ErrInvalidCredentials = errors.New("invalid credentials")

// StatusError is returned for a non-2xx response on an individual attempt.
type StatusError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// RequestError wraps the final failure after the retry budget is exhausted.
// The retry bookkeeping is lost but the original cause is preserved.
type RequestError struct {
	cause error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed: %v", e.cause)
}

func (e *RequestError) Unwrap() error {
	return e.cause
}

// IsAuthError reports whether err is credential-shaped (401/403 or an
// explicit invalid-credentials classification).
func IsAuthError(err error) bool {
	if errors.Is(err, ErrInvalidCredentials) {
		return true
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == 401 || se.StatusCode == 403
	}
	return false
}
