package authmethods

import (
	"fmt"
	"net/http"

	"github.com/ternarybob/credsync/internal/models"
)

// RemoteRejectedError is returned when the backend answered with success=false.
// Message is the backend's text, passed through verbatim.
type RemoteRejectedError struct {
	Operation string
	Message   string
}

func (e *RemoteRejectedError) Error() string {
	return fmt.Sprintf("backend rejected %s: %s", e.Operation, e.Message)
}

// APIError represents an unexpected HTTP status from the backend
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend API error: %s (status %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Unwrap maps authentication failures to models.ErrNoSession
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return models.ErrNoSession
	}
	return nil
}
