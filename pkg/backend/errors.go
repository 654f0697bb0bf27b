package backend

import (
	"errors"
	"fmt"
)

// ErrAccessDenied is returned when the backend rejects the configured
// credential.
var ErrAccessDenied = errors.New("backend: access denied")

// NotFoundError reports that no object exists at the requested path.
type NotFoundError struct {
	Path string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("backend: object %q not found", e.Path)
}

// InvalidRequestError reports that the backend rejected a request as
// malformed, for example a bad path or a checksum mismatch on upload.
type InvalidRequestError struct {
	Reason string
}

func (e InvalidRequestError) Error() string {
	return "backend: invalid request: " + e.Reason
}

// APIError carries any other non-2xx backend response.
type APIError struct {
	Op         string
	StatusCode int
}

func (e APIError) Error() string {
	return fmt.Sprintf("backend: %s returned unexpected status %d", e.Op, e.StatusCode)
}
