package authmethods

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credsync/internal/interfaces"
	"github.com/ternarybob/credsync/internal/models"
)

// SessionProfile resolves the active profile from the backend session email,
// or the configured fallback when nobody is signed in. Lookups are cached for
// ttl. While the backend is unreachable the last resolved profile is kept;
// without one the lookup fails instead of guessing.
type SessionProfile struct {
	sessions interfaces.SessionClient
	fallback string
	ttl      time.Duration
	logger   arbor.ILogger

	mu        sync.Mutex
	cached    string
	fetchedAt time.Time
	last      string // survives ttl expiry, cleared by Reset
	now       func() time.Time
}

// NewSessionProfile creates a profile resolver
func NewSessionProfile(sessions interfaces.SessionClient, fallback string, ttl time.Duration, logger arbor.ILogger) *SessionProfile {
	return &SessionProfile{
		sessions: sessions,
		fallback: fallback,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

var _ interfaces.ProfileResolver = (*SessionProfile)(nil)

// Profile returns the active profile id
func (p *SessionProfile) Profile(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" && p.now().Sub(p.fetchedAt) < p.ttl {
		return p.cached, nil
	}

	var profile string
	session, err := p.sessions.Session(ctx)
	switch {
	case err == nil && session.Valid():
		profile = session.User.Email
	case err == nil, errors.Is(err, models.ErrNoSession):
		profile = p.fallback
	default:
		// Not cached: the next call asks the backend again
		if p.last != "" {
			p.logger.Debug().Err(err).Str("profile", p.last).Msg("Session lookup failed, keeping last profile")
			return p.last, nil
		}
		return "", fmt.Errorf("%w: %w", models.ErrProfileUnavailable, err)
	}

	p.cached = profile
	p.last = profile
	p.fetchedAt = p.now()
	return profile, nil
}

// Reset forgets the resolved profile; call after login or logout
func (p *SessionProfile) Reset() {
	p.mu.Lock()
	p.cached = ""
	p.last = ""
	p.mu.Unlock()
}
