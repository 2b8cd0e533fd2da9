package interfaces

import (
	"context"

	"github.com/ternarybob/credsync/internal/models"
)

// CaptureHost is the browser surface the capture agent reads from.
// Implementations return errors wrapping models.ErrCaptureUnavailable when
// access is denied or fails.
type CaptureHost interface {
	// ActiveTabURL resolves the URL of the active tab: the focused (most
	// recently active) tab first, any open tab as fallback.
	ActiveTabURL(ctx context.Context) (string, error)

	// CookiesForDomain enumerates cookies whose domain is domain or a subdomain of it
	CookiesForDomain(ctx context.Context, domain string) ([]models.Cookie, error)

	// LookupCookie performs a targeted lookup of one cookie by name for a URL.
	// Returns nil without error when the cookie does not exist.
	LookupCookie(ctx context.Context, url string, name string) (*models.Cookie, error)
}

// CaptureEventSink receives host events. The capture agent implements it.
type CaptureEventSink interface {
	HandleRequest(ctx context.Context, obs models.RequestObservation)
	HandleNavigation(ctx context.Context, url string)
}

// CaptureService is the capture agent surface used by handlers and the scheduler
type CaptureService interface {
	CaptureEventSink
	FetchNow(ctx context.Context) (*models.CaptureReport, error)
}
