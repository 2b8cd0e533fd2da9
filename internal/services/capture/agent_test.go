package capture

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credsync/internal/common"
	"github.com/ternarybob/credsync/internal/models"
	"github.com/ternarybob/credsync/internal/services/classifier"
	"github.com/ternarybob/credsync/internal/services/credentials"
	"github.com/ternarybob/credsync/internal/storage/badger"
)

type fakeHost struct {
	mu        sync.Mutex
	tabURL    string
	tabErr    error
	cookies   map[string][]models.Cookie
	cookieErr error
	lookups   map[string]*models.Cookie // url -> cookie
	lookedUp  []string
	enumCalls int
}

func (h *fakeHost) ActiveTabURL(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tabURL, h.tabErr
}

func (h *fakeHost) CookiesForDomain(ctx context.Context, domain string) ([]models.Cookie, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enumCalls++
	if h.cookieErr != nil {
		return nil, h.cookieErr
	}
	return h.cookies[domain], nil
}

func (h *fakeHost) LookupCookie(ctx context.Context, url string, name string) (*models.Cookie, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lookedUp = append(h.lookedUp, url)
	return h.lookups[url], nil
}

func newTestAgent(t *testing.T, host *fakeHost) (*Agent, *credentials.Store) {
	t.Helper()
	logger := arbor.NewLogger()
	manager, err := badger.NewManager(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	descriptors := models.DefaultPlatformDescriptors()
	store := credentials.NewStore(manager.KeyValueStorage(), descriptors, logger)
	agent := NewAgent(host, classifier.New(descriptors), store, descriptors, nil, "", logger)
	return agent, store
}

func TestFetchNow_StoresCookiesAndBulkToken(t *testing.T) {
	host := &fakeHost{
		tabURL: "https://www.okx.com/account",
		cookies: map[string][]models.Cookie{
			"www.okx.com": {
				{Name: "token", Value: "abc123", Domain: ".okx.com", Path: "/"},
				{Name: "locale", Value: "en", Domain: "www.okx.com", Path: "/"},
			},
		},
	}
	agent, store := newTestAgent(t, host)
	ctx := context.Background()

	report, err := agent.FetchNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PlatformOKX, report.Platform)
	assert.Equal(t, 2, report.CookieCount)
	assert.True(t, report.TokenCaptured)
	assert.Equal(t, models.TokenSourceBulk, report.TokenSource)

	cookies, err := store.Cookies(ctx, "www.okx.com")
	require.NoError(t, err)
	assert.Len(t, cookies, 2)

	token, err := store.Token(ctx, models.PlatformOKX)
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)
	assert.Empty(t, host.lookedUp)
}

func TestFetchNow_FallsBackToTargetedLookup(t *testing.T) {
	host := &fakeHost{
		tabURL: "https://www.bybit.com/trade",
		cookies: map[string][]models.Cookie{
			"www.bybit.com": {{Name: "lang", Value: "en", Domain: "www.bybit.com"}},
		},
		lookups: map[string]*models.Cookie{
			"https://api2.bybit.com/": {Name: "secure-token", Value: "sub-domain-token", Domain: ".bybit.com"},
		},
	}
	agent, store := newTestAgent(t, host)
	ctx := context.Background()

	report, err := agent.FetchNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.TokenSourceLookup, report.TokenSource)
	assert.Equal(t, []string{"https://www.bybit.com/", "https://api2.bybit.com/"}, host.lookedUp)

	token, err := store.Token(ctx, models.PlatformBybit)
	require.NoError(t, err)
	assert.Equal(t, "sub-domain-token", token)
}

func TestFetchNow_EmptyLookupKeepsStoredToken(t *testing.T) {
	host := &fakeHost{
		tabURL:  "https://www.bybit.com/trade",
		cookies: map[string][]models.Cookie{},
	}
	agent, store := newTestAgent(t, host)
	ctx := context.Background()
	require.NoError(t, store.SetToken(ctx, models.PlatformBybit, "previous"))

	report, err := agent.FetchNow(ctx)
	require.NoError(t, err)
	assert.False(t, report.TokenCaptured)
	assert.Len(t, host.lookedUp, 3)

	token, err := store.Token(ctx, models.PlatformBybit)
	require.NoError(t, err)
	assert.Equal(t, "previous", token)
}

func TestFetchNow_EmptyEnumerationOverwritesCookies(t *testing.T) {
	host := &fakeHost{
		tabURL: "https://www.okx.com/",
		cookies: map[string][]models.Cookie{
			"www.okx.com": {{Name: "token", Value: "abc123", Domain: ".okx.com"}},
		},
	}
	agent, store := newTestAgent(t, host)
	ctx := context.Background()

	_, err := agent.FetchNow(ctx)
	require.NoError(t, err)

	host.cookies = map[string][]models.Cookie{}
	_, err = agent.FetchNow(ctx)
	require.NoError(t, err)

	cookies, err := store.Cookies(ctx, "www.okx.com")
	require.NoError(t, err)
	assert.Empty(t, cookies)

	// the derived token is left alone
	token, err := store.Token(ctx, models.PlatformOKX)
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)
}

func TestFetchNow_UnsupportedDomain(t *testing.T) {
	host := &fakeHost{tabURL: "https://example.com/"}
	agent, store := newTestAgent(t, host)

	report, err := agent.FetchNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "example.com", report.Domain)
	assert.Empty(t, report.Platform)
	assert.Zero(t, host.enumCalls)

	all, err := store.AllCookies(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestFetchNow_HostFailures(t *testing.T) {
	t.Run("tab", func(t *testing.T) {
		agent, _ := newTestAgent(t, &fakeHost{tabErr: errors.New("permission denied")})
		_, err := agent.FetchNow(context.Background())
		assert.ErrorIs(t, err, models.ErrCaptureUnavailable)
	})

	t.Run("no tab", func(t *testing.T) {
		agent, _ := newTestAgent(t, &fakeHost{tabErr: models.ErrNoActiveTab})
		_, err := agent.FetchNow(context.Background())
		assert.ErrorIs(t, err, models.ErrNoActiveTab)
	})

	t.Run("cookies", func(t *testing.T) {
		agent, store := newTestAgent(t, &fakeHost{
			tabURL:    "https://www.okx.com/",
			cookieErr: errors.New("cookie api failed"),
		})
		_, err := agent.FetchNow(context.Background())
		assert.ErrorIs(t, err, models.ErrCaptureUnavailable)

		all, err := store.AllCookies(context.Background())
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}

func TestHandleRequest_KeepsCSRFHeaderFromMatchingRequests(t *testing.T) {
	host := &fakeHost{tabURL: "https://www.binance.com/en", cookies: map[string][]models.Cookie{}}
	agent, store := newTestAgent(t, host)
	ctx := context.Background()

	agent.HandleRequest(ctx, models.RequestObservation{
		URL:     "https://www.binance.com/bapi/accounts/v1/private/account/user/base-detail",
		Method:  "POST",
		Headers: map[string]string{"CSRFToken": "csrf-1"},
	})

	csrf, err := store.CSRFToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "csrf-1", csrf)
	assert.Equal(t, 1, host.enumCalls)

	// requests outside the patterns are ignored entirely
	agent.HandleRequest(ctx, models.RequestObservation{
		URL:     "https://example.com/api",
		Headers: map[string]string{"csrftoken": "other"},
	})
	csrf, err = store.CSRFToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "csrf-1", csrf)
	assert.Equal(t, 1, host.enumCalls)
}

func TestHandleNavigation_OnlySupportedURLs(t *testing.T) {
	host := &fakeHost{tabURL: "https://www.gate.io/", cookies: map[string][]models.Cookie{}}
	agent, _ := newTestAgent(t, host)

	agent.HandleNavigation(context.Background(), "https://example.com/")
	assert.Zero(t, host.enumCalls)

	agent.HandleNavigation(context.Background(), "https://www.gate.io/myaccount")
	assert.Equal(t, 1, host.enumCalls)
}
