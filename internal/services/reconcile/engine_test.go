package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credsync/internal/common"
	"github.com/ternarybob/credsync/internal/interfaces"
	"github.com/ternarybob/credsync/internal/models"
	"github.com/ternarybob/credsync/internal/services/authmethods"
	"github.com/ternarybob/credsync/internal/services/credentials"
	"github.com/ternarybob/credsync/internal/services/links"
	"github.com/ternarybob/credsync/internal/storage/badger"
)

// fakeClient is an in-memory backend. Create never echoes the id unless echo is set.
type fakeClient struct {
	mu      sync.Mutex
	methods []models.RemoteAuthMethod
	nextID  int64
	echo    bool
	clock   int64

	creates, updates, lists, deletes int
	updateErr, createErr, listErr    error
}

func (f *fakeClient) List(ctx context.Context) ([]models.RemoteAuthMethod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.RemoteAuthMethod, len(f.methods))
	copy(out, f.methods)
	return out, nil
}

func (f *fakeClient) Create(ctx context.Context, platform models.Platform, value string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.clock++
	id := f.nextID
	f.nextID++
	f.methods = append(f.methods, models.RemoteAuthMethod{ID: id, Platform: platform, Value: value, Active: true, CreatedAt: f.clock})
	if f.echo {
		return id, nil
	}
	return 0, nil
}

func (f *fakeClient) Update(ctx context.Context, id int64, platform models.Platform, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return f.updateErr
	}
	for i := range f.methods {
		if f.methods[i].ID == id {
			f.methods[i].Value = value
		}
	}
	return nil
}

func (f *fakeClient) Delete(ctx context.Context, id int64, platform models.Platform) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	for i := range f.methods {
		if f.methods[i].ID == id {
			f.methods = append(f.methods[:i], f.methods[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeClient) remoteCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates + f.updates
}

type staticProfile string

func (p staticProfile) Profile(context.Context) (string, error) { return string(p), nil }

type fixture struct {
	engine *Engine
	client *fakeClient
	links  *links.Store
	creds  *credentials.Store
	kv     interfaces.KeyValueStorage
}

const testProfile = "alice@example.com"

func newFixture(t *testing.T, config Config) *fixture {
	t.Helper()
	logger := arbor.NewLogger()
	manager, err := badger.NewManager(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	kv := manager.KeyValueStorage()
	f := &fixture{
		client: &fakeClient{nextID: 77},
		links:  links.NewStore(kv, logger),
		creds:  credentials.NewStore(kv, models.DefaultPlatformDescriptors(), logger),
		kv:     kv,
	}
	if config.DebounceWindow == 0 {
		config.DebounceWindow = time.Second
	}
	f.engine = NewEngine(f.client, f.links, f.creds, staticProfile(testProfile), nil, config, logger)
	return f
}

// noDebounce lets sequential calls in one test pass the window
func (f *fixture) noDebounce() {
	f.engine.debounce = NewDebouncer(0)
}

func TestSync_NotLinkedMakesNoRemoteCall(t *testing.T) {
	f := newFixture(t, Config{})

	result := f.engine.Sync(context.Background(), models.SyncRequest{Platform: models.PlatformOKX, Token: "abc123"})

	assert.False(t, result.Success)
	assert.Equal(t, models.SyncOutcomeNotLinked, result.Outcome)
	assert.Equal(t, 0, f.client.remoteCalls())
	assert.Equal(t, 0, f.client.lists)
}

func TestSync_WithIDUpdatesAndLeavesLinkState(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.client.methods = []models.RemoteAuthMethod{{ID: 5, Platform: models.PlatformOKX}}
	require.NoError(t, f.links.Link(ctx, testProfile, models.PlatformOKX, 5))

	result := f.engine.Sync(ctx, models.SyncRequest{Platform: models.PlatformOKX, Token: "new", LinkedID: 5})

	require.True(t, result.Success, result.Message)
	assert.Equal(t, models.SyncOutcomeOK, result.Outcome)
	assert.Equal(t, int64(5), result.AuthMethodID)
	assert.False(t, result.Created)
	assert.Equal(t, 1, f.client.updates)
	assert.Equal(t, 0, f.client.creates)
	assert.Equal(t, "new", f.client.methods[0].Value)

	state, err := f.links.Load(ctx, testProfile)
	require.NoError(t, err)
	assert.Equal(t, models.LinkState{models.PlatformOKX: 5}, state)
}

func TestSync_ResolvesIDFromLinkState(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.client.methods = []models.RemoteAuthMethod{{ID: 9, Platform: models.PlatformBitget}}
	require.NoError(t, f.links.Link(ctx, testProfile, models.PlatformBitget, 9))

	result := f.engine.Sync(ctx, models.SyncRequest{Platform: models.PlatformBitget, Token: "v"})

	require.True(t, result.Success)
	assert.Equal(t, int64(9), result.AuthMethodID)
	assert.Equal(t, 1, f.client.updates)
}

func TestSync_CreateRecoversIDFromList(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	// an older OKX method exists; the new one must win
	f.client.methods = []models.RemoteAuthMethod{{ID: 3, Platform: models.PlatformOKX, CreatedAt: -1}}

	result := f.engine.Sync(ctx, models.SyncRequest{Platform: models.PlatformOKX, Token: "abc123", AllowCreate: true})

	require.True(t, result.Success, result.Message)
	assert.True(t, result.Created)
	assert.Equal(t, int64(77), result.AuthMethodID)
	assert.Equal(t, 1, f.client.creates)

	id, ok, err := f.links.Get(ctx, testProfile, models.PlatformOKX)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(77), id)
}

func TestSync_CreatePrunesLinksMissingFromRelist(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	// BITGET points at a method deleted out of band
	require.NoError(t, f.links.Link(ctx, testProfile, models.PlatformBitget, 5))

	result := f.engine.Sync(ctx, models.SyncRequest{Platform: models.PlatformOKX, Token: "abc123", AllowCreate: true})
	require.True(t, result.Success, result.Message)
	assert.Equal(t, 1, f.client.lists)

	state, err := f.links.Load(ctx, testProfile)
	require.NoError(t, err)
	assert.Equal(t, models.LinkState{models.PlatformOKX: 77}, state)

	// The cached list serves later reads without resurrecting the link
	_, err = f.engine.AuthMethods(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, f.client.lists)
	_, ok, err := f.links.Get(ctx, testProfile, models.PlatformBitget)
	require.NoError(t, err)
	assert.False(t, ok)
}

// flakySessions signs alice in, then fails every lookup once down is set
type flakySessions struct {
	mu   sync.Mutex
	down bool
}

func (s *flakySessions) Login(context.Context, models.LoginCredentials) error { return nil }
func (s *flakySessions) Logout(context.Context) error                         { return nil }
func (s *flakySessions) Session(context.Context) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, errors.New("dial tcp: i/o timeout")
	}
	return &models.Session{User: &models.SessionUser{Email: testProfile}}, nil
}

func (s *flakySessions) setDown() {
	s.mu.Lock()
	s.down = true
	s.mu.Unlock()
}

func TestSync_SessionOutageKeepsSignedInProfile(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.client.methods = []models.RemoteAuthMethod{{ID: 9, Platform: models.PlatformOKX}}
	require.NoError(t, f.links.Link(ctx, testProfile, models.PlatformOKX, 9))

	sessions := &flakySessions{}
	profiles := authmethods.NewSessionProfile(sessions, "default", 0, arbor.NewLogger())
	f.engine.profiles = profiles

	profile, err := f.engine.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, testProfile, profile)

	sessions.setDown()
	result := f.engine.Sync(ctx, models.SyncRequest{Platform: models.PlatformOKX, Token: "fresh"})

	require.True(t, result.Success, result.Message)
	assert.Equal(t, int64(9), result.AuthMethodID)
	assert.Equal(t, "fresh", f.client.methods[0].Value)
}

func TestSync_UnresolvableProfileWritesNothing(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	sessions := &flakySessions{down: true}
	f.engine.profiles = authmethods.NewSessionProfile(sessions, "default", time.Minute, arbor.NewLogger())

	result := f.engine.Sync(ctx, models.SyncRequest{Platform: models.PlatformOKX, Token: "abc123", AllowCreate: true})

	assert.False(t, result.Success)
	assert.Equal(t, models.SyncOutcomeNetworkError, result.Outcome)
	assert.Equal(t, 0, f.client.remoteCalls())

	state, err := f.links.Load(ctx, "default")
	require.NoError(t, err)
	assert.Empty(t, state)

	_, err = f.engine.Links(ctx)
	assert.ErrorIs(t, err, models.ErrProfileUnavailable)
}

func TestSync_CreatePrefersEchoedID(t *testing.T) {
	f := newFixture(t, Config{})
	f.client.echo = true

	result := f.engine.Sync(context.Background(), models.SyncRequest{Platform: models.PlatformBybit, Token: "t", AllowCreate: true})
	require.True(t, result.Success)
	assert.Equal(t, int64(77), result.AuthMethodID)
}

func TestSync_CreateWithUnrecoverableIDDoesNotRetry(t *testing.T) {
	f := newFixture(t, Config{})
	f.client.listErr = errors.New("list down")

	result := f.engine.Sync(context.Background(), models.SyncRequest{Platform: models.PlatformOKX, Token: "t", AllowCreate: true})

	assert.True(t, result.Success)
	assert.True(t, result.Created)
	assert.Zero(t, result.AuthMethodID)
	assert.NotEmpty(t, result.Message)
	assert.Equal(t, 1, f.client.creates)

	_, ok, err := f.links.Get(context.Background(), testProfile, models.PlatformOKX)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSync_DebounceDiscardsSecondCall(t *testing.T) {
	f := newFixture(t, Config{DebounceWindow: time.Minute})
	ctx := context.Background()
	require.NoError(t, f.links.Link(ctx, testProfile, models.PlatformOKX, 77))

	first := f.engine.Sync(ctx, models.SyncRequest{Platform: models.PlatformOKX, Token: "a"})
	second := f.engine.Sync(ctx, models.SyncRequest{Platform: models.PlatformOKX, Token: "b"})

	assert.True(t, first.Success)
	assert.False(t, second.Success)
	assert.Equal(t, models.SyncOutcomeRateLimited, second.Outcome)
	assert.Equal(t, 1, f.client.remoteCalls())

	// other platforms have their own window
	require.NoError(t, f.links.Link(ctx, testProfile, models.PlatformBitget, 78))
	third := f.engine.Sync(ctx, models.SyncRequest{Platform: models.PlatformBitget, Token: "c"})
	assert.True(t, third.Success)
}

func TestSync_ConcurrentCallsReachBackendOnce(t *testing.T) {
	f := newFixture(t, Config{DebounceWindow: time.Minute})
	ctx := context.Background()
	require.NoError(t, f.links.Link(ctx, testProfile, models.PlatformOKX, 77))

	var wg sync.WaitGroup
	results := make([]models.SyncResult, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.engine.Sync(ctx, models.SyncRequest{Platform: models.PlatformOKX, Token: "a"})
		}(i)
	}
	wg.Wait()

	limited := 0
	for _, r := range results {
		if r.Outcome == models.SyncOutcomeRateLimited {
			limited++
		}
	}
	assert.Equal(t, 9, limited)
	assert.Equal(t, 1, f.client.remoteCalls())
}

func TestSync_FailureOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome models.SyncOutcome
		message string
	}{
		{"rejected", &authmethods.RemoteRejectedError{Operation: "update", Message: "Token expired"}, models.SyncOutcomeRemoteRejected, "Token expired"},
		{"transport", errors.New("dial tcp: refused"), models.SyncOutcomeNetworkError, msgNetworkError},
		{"no session", &authmethods.APIError{StatusCode: 401}, models.SyncOutcomeNetworkError, msgSessionExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			ctx := context.Background()
			require.NoError(t, f.links.Link(ctx, testProfile, models.PlatformOKX, 77))
			f.client.updateErr = tt.err

			result := f.engine.Sync(ctx, models.SyncRequest{Platform: models.PlatformOKX, Token: "x"})
			assert.False(t, result.Success)
			assert.Equal(t, tt.outcome, result.Outcome)
			assert.Equal(t, tt.message, result.Message)

			state, err := f.links.Load(ctx, testProfile)
			require.NoError(t, err)
			assert.Equal(t, models.LinkState{models.PlatformOKX: 77}, state)
		})
	}
}

func TestSync_CreateFailureLeavesLinkStateUntouched(t *testing.T) {
	f := newFixture(t, Config{})
	f.client.createErr = &authmethods.RemoteRejectedError{Operation: "create", Message: "Limit reached"}

	result := f.engine.Sync(context.Background(), models.SyncRequest{Platform: models.PlatformOKX, Token: "x", AllowCreate: true})
	assert.Equal(t, models.SyncOutcomeRemoteRejected, result.Outcome)
	assert.Equal(t, "Limit reached", result.Message)

	state, err := f.links.Load(context.Background(), testProfile)
	require.NoError(t, err)
	assert.Empty(t, state)
}

func TestSync_InvalidRequests(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	r := f.engine.Sync(ctx, models.SyncRequest{Platform: "KRAKEN", Token: "x"})
	assert.Equal(t, models.SyncOutcomeInvalid, r.Outcome)

	r = f.engine.Sync(ctx, models.SyncRequest{Token: "x"})
	assert.Equal(t, models.SyncOutcomeInvalid, r.Outcome)

	r = f.engine.Sync(ctx, models.SyncRequest{Platform: models.PlatformOKX, LinkedID: 5})
	assert.Equal(t, models.SyncOutcomeMissingToken, r.Outcome)

	// legacy spelling is accepted
	r = f.engine.Sync(ctx, models.SyncRequest{Platform: "Okx", Token: "x"})
	assert.Equal(t, models.SyncOutcomeNotLinked, r.Outcome)
	assert.Equal(t, models.PlatformOKX, r.Platform)

	assert.Equal(t, 0, f.client.remoteCalls())
}

func TestScenario_CaptureThenCreateLinksNewID(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.creds.SetToken(ctx, models.PlatformOKX, "abc123"))

	result := f.engine.SyncCaptured(ctx, models.PlatformOKX, true)
	require.True(t, result.Success, result.Message)

	methods, err := f.client.List(ctx)
	require.NoError(t, err)
	require.Len(t, methods, 1)
	assert.Equal(t, int64(77), methods[0].ID)
	assert.Equal(t, "abc123", methods[0].Value)

	links, err := f.engine.Links(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(77), links[models.PlatformOKX])
}

func TestScenario_EmptyCaptureDisablesSync(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.creds.SaveCookies(ctx, "www.okx.com", []models.Cookie{}))
	require.NoError(t, f.links.Link(ctx, testProfile, models.PlatformOKX, 77))

	result := f.engine.SyncCaptured(ctx, models.PlatformOKX, true)
	assert.Equal(t, models.SyncOutcomeMissingToken, result.Outcome)
	assert.Equal(t, 0, f.client.remoteCalls())
}

func TestAutoSync_PushesChangedValuesOnly(t *testing.T) {
	f := newFixture(t, Config{})
	f.noDebounce()
	ctx := context.Background()

	require.NoError(t, f.links.Link(ctx, testProfile, models.PlatformOKX, 77))
	require.NoError(t, f.creds.SetToken(ctx, models.PlatformOKX, "v1"))
	// captured but unlinked: never auto-created
	require.NoError(t, f.creds.SetToken(ctx, models.PlatformBitget, "b1"))

	results := f.engine.AutoSync(ctx)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)

	assert.Empty(t, f.engine.AutoSync(ctx))

	require.NoError(t, f.creds.SetToken(ctx, models.PlatformOKX, "v2"))
	assert.Len(t, f.engine.AutoSync(ctx), 1)
	assert.Equal(t, 2, f.client.updates)
	assert.Equal(t, 0, f.client.creates)
}

func TestLink_ValidatesAgainstRemoteList(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.client.methods = []models.RemoteAuthMethod{{ID: 12, Platform: models.PlatformBitget}}

	err := f.engine.Link(ctx, models.PlatformOKX, 12)
	assert.ErrorIs(t, err, models.ErrUnknownAuthMethod)

	require.NoError(t, f.engine.Link(ctx, "Bitget", 12))
	state, err := f.engine.Links(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.LinkState{models.PlatformBitget: 12}, state)

	require.NoError(t, f.engine.Unlink(ctx, models.PlatformBitget))
	state, err = f.engine.Links(ctx)
	require.NoError(t, err)
	assert.Empty(t, state)
}

func TestAuthMethods_CachesAndPrunes(t *testing.T) {
	f := newFixture(t, Config{CacheTTL: time.Minute})
	ctx := context.Background()
	f.client.methods = []models.RemoteAuthMethod{{ID: 1, Platform: models.PlatformOKX}}
	require.NoError(t, f.links.Link(ctx, testProfile, models.PlatformBitget, 99))

	_, err := f.engine.AuthMethods(ctx, false)
	require.NoError(t, err)
	_, err = f.engine.AuthMethods(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, f.client.lists)

	_, err = f.engine.AuthMethods(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, f.client.lists)

	state, err := f.engine.Links(ctx)
	require.NoError(t, err)
	assert.Empty(t, state, "fetching the list prunes stale links")
}

func TestDeleteAuthMethod_PrunesMatchingLink(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.client.methods = []models.RemoteAuthMethod{{ID: 77, Platform: models.PlatformOKX}, {ID: 78, Platform: models.PlatformOKX}}
	require.NoError(t, f.links.Link(ctx, testProfile, models.PlatformOKX, 77))

	require.NoError(t, f.engine.DeleteAuthMethod(ctx, 78, models.PlatformOKX))
	state, err := f.engine.Links(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.LinkState{models.PlatformOKX: 77}, state)

	require.NoError(t, f.engine.DeleteAuthMethod(ctx, 77, models.PlatformOKX))
	state, err = f.engine.Links(ctx)
	require.NoError(t, err)
	assert.Empty(t, state)
	assert.Equal(t, 2, f.client.deletes)
}
