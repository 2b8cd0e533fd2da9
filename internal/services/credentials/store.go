package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credsync/internal/interfaces"
	"github.com/ternarybob/credsync/internal/models"
)

const (
	cookiesPrefix = "cookies_"
	tokenSuffix   = "_jwt"
	csrfTokenKey  = "csrfToken"
)

// CookiesKey is the storage key of a domain's cookie set
func CookiesKey(domain string) string {
	return cookiesPrefix + strings.ToLower(strings.TrimSpace(domain))
}

// TokenKey is the storage key of a platform's derived token
func TokenKey(platform models.Platform) string {
	return platform.Key() + tokenSuffix
}

// Store persists captured credentials in the key/value store. Values are JSON.
type Store struct {
	kv          interfaces.KeyValueStorage
	descriptors map[models.Platform]models.PlatformDescriptor
	logger      arbor.ILogger
	now         func() time.Time
}

// NewStore creates a credential store
func NewStore(kv interfaces.KeyValueStorage, descriptors map[models.Platform]models.PlatformDescriptor, logger arbor.ILogger) *Store {
	return &Store{
		kv:          kv,
		descriptors: descriptors,
		logger:      logger,
		now:         time.Now,
	}
}

var _ interfaces.CredentialStore = (*Store)(nil)

// SaveCookies overwrites the cookie set of domain
func (s *Store) SaveCookies(ctx context.Context, domain string, cookies []models.Cookie) error {
	if cookies == nil {
		cookies = []models.Cookie{}
	}
	return s.setJSON(ctx, CookiesKey(domain), cookies, "captured cookies for "+domain)
}

// Cookies returns the stored cookie set of domain, nil when none was captured
func (s *Store) Cookies(ctx context.Context, domain string) ([]models.Cookie, error) {
	var cookies []models.Cookie
	found, err := s.getJSON(ctx, CookiesKey(domain), &cookies)
	if err != nil || !found {
		return nil, err
	}
	return cookies, nil
}

// AllCookies returns every stored cookie set keyed by domain
func (s *Store) AllCookies(ctx context.Context) (map[string][]models.Cookie, error) {
	pairs, err := s.kv.ListByPrefix(ctx, cookiesPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list cookie sets: %w", err)
	}

	result := make(map[string][]models.Cookie, len(pairs))
	for _, pair := range pairs {
		var cookies []models.Cookie
		if err := json.Unmarshal([]byte(pair.Value), &cookies); err != nil {
			s.logger.Warn().Err(err).Str("key", pair.Key).Msg("Skipping unreadable cookie set")
			continue
		}
		result[strings.TrimPrefix(pair.Key, cookiesPrefix)] = cookies
	}
	return result, nil
}

// SetCSRFToken overwrites the latest observed CSRF header value
func (s *Store) SetCSRFToken(ctx context.Context, token string) error {
	return s.setJSON(ctx, csrfTokenKey, token, "latest csrf header value")
}

// CSRFToken returns the latest observed CSRF header value, "" when none
func (s *Store) CSRFToken(ctx context.Context) (string, error) {
	var token string
	_, err := s.getJSON(ctx, csrfTokenKey, &token)
	return token, err
}

// SetToken stores the derived token of platform. Empty tokens are ignored so
// a failed capture never clears a good one.
func (s *Store) SetToken(ctx context.Context, platform models.Platform, token string) error {
	if token == "" {
		return nil
	}
	return s.setJSON(ctx, TokenKey(platform), token, "derived token for "+platform.String())
}

// Token returns the derived token of platform, "" when none
func (s *Store) Token(ctx context.Context, platform models.Platform) (string, error) {
	var token string
	_, err := s.getJSON(ctx, TokenKey(platform), &token)
	return token, err
}

// Tokens returns every stored derived token keyed by lowercase platform
func (s *Store) Tokens(ctx context.Context) (map[string]string, error) {
	result := make(map[string]string)
	for _, platform := range models.AllPlatforms {
		token, err := s.Token(ctx, platform)
		if err != nil {
			return nil, err
		}
		if token != "" {
			result[platform.Key()] = token
		}
	}
	return result, nil
}

// Credential returns the value to push to the backend for platform. Platforms
// that compose with the CSRF token need both parts; "" means nothing to sync.
func (s *Store) Credential(ctx context.Context, platform models.Platform) (string, error) {
	token, err := s.Token(ctx, platform)
	if err != nil || token == "" {
		return "", err
	}

	if !s.descriptors[platform].ComposeWithCSRF {
		return token, nil
	}

	csrf, err := s.CSRFToken(ctx)
	if err != nil {
		return "", err
	}
	if csrf == "" {
		s.logger.Debug().Str("platform", platform.String()).Msg("Token captured but csrf header not seen yet")
		return "", nil
	}
	return ComposeCredential(csrf, token), nil
}

// ComposeCredential builds the csrf-qualified credential value
func ComposeCredential(csrf, token string) string {
	return "csrfToken=" + csrf + "&p20t=" + token
}

// PruneStale deletes cookie sets not refreshed within maxAge and returns how many were removed
func (s *Store) PruneStale(ctx context.Context, maxAge time.Duration) (int, error) {
	pairs, err := s.kv.ListByPrefix(ctx, cookiesPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list cookie sets: %w", err)
	}

	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, pair := range pairs {
		if !pair.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := s.kv.Delete(ctx, pair.Key); err != nil && !errors.Is(err, interfaces.ErrKeyNotFound) {
			return removed, fmt.Errorf("failed to evict %s: %w", pair.Key, err)
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Dur("max_age", maxAge).Msg("Evicted stale cookie sets")
	}
	return removed, nil
}

func (s *Store) setJSON(ctx context.Context, key string, value interface{}, description string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, string(data), description); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (s *Store) getJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		// Plain strings written by older releases
		if sp, ok := out.(*string); ok {
			*sp = raw
			return true, nil
		}
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}
