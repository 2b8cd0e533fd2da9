package interfaces

import (
	"context"

	"github.com/ternarybob/credsync/internal/models"
)

// AuthMethodClient is the backend CRUD contract for auth methods.
// Update and Delete are idempotent for the same id; Create is not.
type AuthMethodClient interface {
	List(ctx context.Context) ([]models.RemoteAuthMethod, error)

	// Create provisions a new auth method. The returned id is zero when the
	// backend does not echo it.
	Create(ctx context.Context, platform models.Platform, value string) (int64, error)

	Update(ctx context.Context, id int64, platform models.Platform, value string) error
	Delete(ctx context.Context, id int64, platform models.Platform) error
}

// SessionClient covers the backend session endpoints
type SessionClient interface {
	Login(ctx context.Context, creds models.LoginCredentials) error
	Logout(ctx context.Context) error
	Session(ctx context.Context) (*models.Session, error)
}

// BackendClient is the full remote client
type BackendClient interface {
	AuthMethodClient
	SessionClient
}
