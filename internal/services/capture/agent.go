// Package capture harvests platform session credentials from the browser.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credsync/internal/interfaces"
	"github.com/ternarybob/credsync/internal/models"
	"github.com/ternarybob/credsync/internal/services/classifier"
)

// DefaultCSRFHeader is the request header whose value is kept as the CSRF token
const DefaultCSRFHeader = "csrftoken"

// Agent is the Credential Capture Agent. Host failures never escape it as
// panics or fatal errors; they are logged and the cycle yields no data.
type Agent struct {
	host        interfaces.CaptureHost
	classifier  *classifier.Classifier
	store       interfaces.CredentialStore
	descriptors map[models.Platform]models.PlatformDescriptor
	events      interfaces.EventService
	csrfHeader  string
	logger      arbor.ILogger

	mu  sync.Mutex // one capture cycle at a time
	now func() time.Time
}

// NewAgent creates a capture agent. events may be nil.
func NewAgent(
	host interfaces.CaptureHost,
	cls *classifier.Classifier,
	store interfaces.CredentialStore,
	descriptors map[models.Platform]models.PlatformDescriptor,
	events interfaces.EventService,
	csrfHeader string,
	logger arbor.ILogger,
) *Agent {
	if csrfHeader == "" {
		csrfHeader = DefaultCSRFHeader
	}
	return &Agent{
		host:        host,
		classifier:  cls,
		store:       store,
		descriptors: descriptors,
		events:      events,
		csrfHeader:  csrfHeader,
		logger:      logger,
		now:         time.Now,
	}
}

var _ interfaces.CaptureService = (*Agent)(nil)

// HandleRequest is the outbound-request hook. Only requests matching a
// platform's request patterns are considered. The CSRF header is kept from
// every such request; a capture cycle then runs unless one is in flight.
func (a *Agent) HandleRequest(ctx context.Context, obs models.RequestObservation) {
	if _, ok := a.classifier.MatchesRequestPattern(obs.URL); !ok {
		return
	}

	if value, ok := obs.Header(a.csrfHeader); ok && value != "" {
		if err := a.store.SetCSRFToken(ctx, value); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to store csrf token")
		} else {
			a.publish(ctx, interfaces.EventCSRFTokenCaptured, map[string]interface{}{})
		}
	}

	// Request bursts coalesce into the cycle already running
	if !a.mu.TryLock() {
		return
	}
	defer a.mu.Unlock()
	_, _ = a.capture(ctx)
}

// HandleNavigation is the tab-navigation-complete hook, a fallback trigger for
// platforms whose token cookie is not seen on the request path
func (a *Agent) HandleNavigation(ctx context.Context, url string) {
	if _, ok := a.classifier.ClassifyURL(url); !ok {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = a.capture(ctx)
}

// FetchNow runs a capture cycle on explicit request
func (a *Agent) FetchNow(ctx context.Context) (*models.CaptureReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capture(ctx)
}

// capture runs one cycle against the active tab. Callers hold a.mu.
// An unsupported domain yields a report without a platform and no error.
func (a *Agent) capture(ctx context.Context) (*models.CaptureReport, error) {
	tabURL, err := a.host.ActiveTabURL(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Active tab unavailable")
		return nil, wrapUnavailable(err)
	}

	domain := classifier.Hostname(tabURL)
	if domain == "" {
		a.logger.Debug().Str("url", tabURL).Msg("No active tab domain resolved")
		return nil, models.ErrNoActiveTab
	}

	report := &models.CaptureReport{Domain: domain, CapturedAt: a.now()}

	platform, ok := a.classifier.Classify(domain)
	if !ok {
		a.logger.Debug().Str("domain", domain).Msg("Domain not supported")
		return report, nil
	}
	report.Platform = platform

	cookies, err := a.host.CookiesForDomain(ctx, domain)
	if err != nil {
		a.logger.Warn().Err(err).Str("domain", domain).Msg("Cookie enumeration failed")
		return nil, wrapUnavailable(err)
	}

	if err := a.store.SaveCookies(ctx, domain, cookies); err != nil {
		a.logger.Error().Err(err).Str("domain", domain).Msg("Failed to store cookies")
		return nil, err
	}
	report.CookieCount = len(cookies)

	source, err := a.captureToken(ctx, platform, cookies)
	if err != nil {
		a.logger.Error().Err(err).Str("platform", platform.String()).Msg("Failed to store derived token")
		return report, err
	}
	report.TokenSource = source
	report.TokenCaptured = source != models.TokenSourceNone

	a.logger.Debug().
		Str("domain", domain).
		Str("platform", platform.String()).
		Int("cookies", report.CookieCount).
		Str("token_source", string(source)).
		Msg("Captured credentials")

	a.publish(ctx, interfaces.EventCredentialsCaptured, map[string]interface{}{
		"domain":         domain,
		"platform":       platform.String(),
		"cookie_count":   report.CookieCount,
		"token_captured": report.TokenCaptured,
	})

	return report, nil
}

// captureToken stores the platform's bearer cookie. The bulk set is tried
// first; targeted lookups run only when it lacks the cookie, and an empty
// result never overwrites a stored token.
func (a *Agent) captureToken(ctx context.Context, platform models.Platform, cookies []models.Cookie) (models.TokenSource, error) {
	d := a.descriptors[platform]
	if d.TokenCookie == "" {
		return models.TokenSourceNone, nil
	}

	if c := models.FindCookie(cookies, d.TokenCookie); c != nil && c.Value != "" {
		return models.TokenSourceBulk, a.store.SetToken(ctx, platform, c.Value)
	}

	for _, lookupURL := range d.LookupURLs {
		c, err := a.host.LookupCookie(ctx, lookupURL, d.TokenCookie)
		if err != nil {
			a.logger.Debug().Err(err).Str("url", lookupURL).Str("cookie", d.TokenCookie).Msg("Targeted cookie lookup failed")
			continue
		}
		if c != nil && c.Value != "" {
			return models.TokenSourceLookup, a.store.SetToken(ctx, platform, c.Value)
		}
	}
	return models.TokenSourceNone, nil
}

func (a *Agent) publish(ctx context.Context, eventType interfaces.EventType, payload map[string]interface{}) {
	if a.events == nil {
		return
	}
	if err := a.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		a.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("Event not published")
	}
}

func wrapUnavailable(err error) error {
	if errors.Is(err, models.ErrCaptureUnavailable) || errors.Is(err, models.ErrNoActiveTab) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrCaptureUnavailable, err)
}
