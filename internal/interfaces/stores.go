package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/credsync/internal/models"
)

// CredentialStore holds captured cookies, the CSRF token and derived tokens.
// The capture agent is its only writer.
type CredentialStore interface {
	SaveCookies(ctx context.Context, domain string, cookies []models.Cookie) error
	Cookies(ctx context.Context, domain string) ([]models.Cookie, error)
	AllCookies(ctx context.Context) (map[string][]models.Cookie, error)

	SetCSRFToken(ctx context.Context, token string) error
	CSRFToken(ctx context.Context) (string, error)

	SetToken(ctx context.Context, platform models.Platform, token string) error
	Token(ctx context.Context, platform models.Platform) (string, error)
	Tokens(ctx context.Context) (map[string]string, error)

	// Credential returns the value to push to the backend for platform
	Credential(ctx context.Context, platform models.Platform) (string, error)

	PruneStale(ctx context.Context, maxAge time.Duration) (int, error)
}

// LinkStore is the per-profile Platform -> auth method id mapping
type LinkStore interface {
	Load(ctx context.Context, profile string) (models.LinkState, error)
	Get(ctx context.Context, profile string, platform models.Platform) (int64, bool, error)
	Link(ctx context.Context, profile string, platform models.Platform, id int64) error
	Unlink(ctx context.Context, profile string, platform models.Platform) error

	// Reconcile drops entries whose (platform, id) is absent from remote and
	// returns the platforms removed
	Reconcile(ctx context.Context, profile string, remote []models.RemoteAuthMethod) ([]models.Platform, error)
}

// ProfileResolver names the active host profile used to scope link state.
// It returns an error wrapping models.ErrProfileUnavailable rather than
// guess a profile, so link writes never land under another account.
type ProfileResolver interface {
	Profile(ctx context.Context) (string, error)
}
