package registry

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMalformedResponse is returned when a 2xx response cannot be decoded.
var ErrMalformedResponse = errors.New("registry: malformed response")

// StatusError is a non-2xx answer from the registry.
type StatusError struct {
	StatusCode int
	Action     string
	Message    string
}

func (e *StatusError) Error() string {
	target := e.Action
	if target == "" {
		target = "request"
	}
	if e.Message != "" {
		return fmt.Sprintf("registry %s: HTTP %d: %s", target, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("registry %s: HTTP %d", target, e.StatusCode)
}

// IsUnauthorized reports whether err is a 401 or 403 from the registry.
func IsUnauthorized(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden
}

// IsStatus reports whether err is a registry StatusError.
func IsStatus(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}
