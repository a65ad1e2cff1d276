package forge

import (
	"errors"
	"fmt"
)

// APIError is a non-2xx response from the hosting service. Call sites that
// can tolerate the failure (merge, branch delete, branch create, comment)
// branch on it with errors.As and degrade; anywhere else it aborts the run.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsAPIError reports whether err is or wraps an *APIError.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// PayloadError reports a response payload missing a field the sweeper cannot
// proceed without. Deliberately distinct from APIError: a malformed payload is
// never recovered and aborts the run.
type PayloadError struct {
	Op    string
	Field string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s: response missing required field %q", e.Op, e.Field)
}
