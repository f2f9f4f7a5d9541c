package remote

import (
	"errors"
	"fmt"
)

// ErrNoCredential is returned before any request is made when no token is
// configured.
var ErrNoCredential = errors.New("no API token configured")

// AuthError is returned for a 401 response. The token is assumed invalid
// until the user replaces it; callers must not retry.
type AuthError struct {
	Op string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: unauthorized (check the API token)", e.Op)
}

// StatusError is returned for any other unexpected status.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Code, e.Body)
}

// IsUnauthorized reports whether err wraps an AuthError.
func IsUnauthorized(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsClientError reports whether err is a 4xx StatusError.
func IsClientError(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 400 && se.Code < 500
	}
	return false
}
