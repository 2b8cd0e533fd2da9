package handlers

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credsync/internal/common"
	"github.com/ternarybob/credsync/internal/models"
	"github.com/ternarybob/credsync/internal/services/credentials"
	"github.com/ternarybob/credsync/internal/services/events"
	"github.com/ternarybob/credsync/internal/services/links"
	"github.com/ternarybob/credsync/internal/services/reconcile"
	"github.com/ternarybob/credsync/internal/services/scheduler"
	"github.com/ternarybob/credsync/internal/storage/badger"
)

const testProfile = "alice@example.com"

// fakeBackend is an in-memory auth method and session backend
type fakeBackend struct {
	mu       sync.Mutex
	methods  []models.RemoteAuthMethod
	nextID   int64
	clock    int64
	session  *models.Session
	password string
}

func (b *fakeBackend) List(ctx context.Context) ([]models.RemoteAuthMethod, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.RemoteAuthMethod(nil), b.methods...), nil
}

func (b *fakeBackend) Create(ctx context.Context, platform models.Platform, value string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock++
	id := b.nextID
	b.nextID++
	b.methods = append(b.methods, models.RemoteAuthMethod{ID: id, Platform: platform, Value: value, Active: true, CreatedAt: b.clock})
	return 0, nil
}

func (b *fakeBackend) Update(ctx context.Context, id int64, platform models.Platform, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.methods {
		if b.methods[i].ID == id {
			b.methods[i].Value = value
		}
	}
	return nil
}

func (b *fakeBackend) Delete(ctx context.Context, id int64, platform models.Platform) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.methods {
		if b.methods[i].ID == id {
			b.methods = append(b.methods[:i], b.methods[i+1:]...)
			break
		}
	}
	return nil
}

func (b *fakeBackend) Login(ctx context.Context, creds models.LoginCredentials) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if creds.Password != b.password {
		return models.ErrNoSession
	}
	b.session = &models.Session{User: &models.SessionUser{ID: 1, Email: creds.Email}}
	return nil
}

func (b *fakeBackend) Logout(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.session = nil
	return nil
}

func (b *fakeBackend) Session(ctx context.Context) (*models.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil, models.ErrNoSession
	}
	return b.session, nil
}

type staticProfile string

func (p staticProfile) Profile(context.Context) (string, error) { return string(p), nil }

type resetCounter struct{ resets int }

func (r *resetCounter) Reset() { r.resets++ }

type fixture struct {
	handler  *MessageHandler
	backend  *fakeBackend
	creds    *credentials.Store
	links    *links.Store
	profiles *resetCounter
	engine   *reconcile.Engine
	jobs     *scheduler.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := arbor.NewLogger()
	manager, err := badger.NewManager(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	kv := manager.KeyValueStorage()
	f := &fixture{
		backend:  &fakeBackend{nextID: 77, password: "hunter2"},
		creds:    credentials.NewStore(kv, models.DefaultPlatformDescriptors(), logger),
		links:    links.NewStore(kv, logger),
		profiles: &resetCounter{},
	}

	bus := events.NewService(logger)
	t.Cleanup(func() { _ = bus.Close() })

	f.engine = reconcile.NewEngine(f.backend, f.links, f.creds, staticProfile(testProfile), bus, reconcile.Config{}, logger)
	f.jobs = scheduler.NewService(kv, logger)
	t.Cleanup(func() { _ = f.jobs.Stop() })

	f.handler = NewMessageHandler(f.creds, nil, f.engine, f.backend, f.profiles, f.jobs, logger)
	return f
}
