package links

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credsync/internal/common"
	"github.com/ternarybob/credsync/internal/interfaces"
	"github.com/ternarybob/credsync/internal/models"
	"github.com/ternarybob/credsync/internal/storage/badger"
)

func newTestStore(t *testing.T) (*Store, interfaces.KeyValueStorage) {
	t.Helper()
	logger := arbor.NewLogger()
	manager, err := badger.NewManager(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	kv := manager.KeyValueStorage()
	return NewStore(kv, logger), kv
}

func TestStore_LinkGetUnlink(t *testing.T) {
	store, kv := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Link(ctx, "alice@example.com", models.PlatformOKX, 77))

	id, ok, err := store.Get(ctx, "alice@example.com", models.PlatformOKX)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(77), id)

	raw, err := kv.Get(ctx, "alice@example.com:linkedAuthMethods")
	require.NoError(t, err)
	assert.JSONEq(t, `{"OKX":77}`, raw)

	require.NoError(t, store.Unlink(ctx, "alice@example.com", models.PlatformOKX))
	require.NoError(t, store.Unlink(ctx, "alice@example.com", models.PlatformOKX))

	_, ok, err = store.Get(ctx, "alice@example.com", models.PlatformOKX)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ProfilesAreIsolated(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Link(ctx, "alice", models.PlatformOKX, 1))
	require.NoError(t, store.Link(ctx, "bob", models.PlatformOKX, 2))

	alice, err := store.Load(ctx, "alice")
	require.NoError(t, err)
	bob, err := store.Load(ctx, "bob")
	require.NoError(t, err)

	assert.Equal(t, models.LinkState{models.PlatformOKX: 1}, alice)
	assert.Equal(t, models.LinkState{models.PlatformOKX: 2}, bob)
}

func TestStore_LinkRejectsInvalidInput(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	err := store.Link(ctx, "alice", models.Platform("KRAKEN"), 1)
	assert.ErrorIs(t, err, models.ErrUnknownPlatform)

	assert.Error(t, store.Link(ctx, "alice", models.PlatformOKX, 0))
}

func TestStore_MigratesLegacySpellings(t *testing.T) {
	store, kv := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, Key("alice"), `{"Okx":5,"Gate.io":9,"kraken":3}`, ""))

	state, err := store.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.LinkState{models.PlatformOKX: 5, models.PlatformGateIO: 9}, state)

	raw, err := kv.Get(ctx, Key("alice"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"OKX":5,"GATEIO":9}`, raw)
}

func TestStore_AdoptsUnscopedLegacyKey(t *testing.T) {
	store, kv := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "linkedAuthMethods", `{"BITGET":12}`, ""))

	state, err := store.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.LinkState{models.PlatformBitget: 12}, state)

	_, err = kv.Get(ctx, "linkedAuthMethods")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}

func TestStore_Reconcile(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Link(ctx, "alice", models.PlatformOKX, 77))
	require.NoError(t, store.Link(ctx, "alice", models.PlatformBitget, 12))
	require.NoError(t, store.Link(ctx, "alice", models.PlatformBybit, 30))

	remote := []models.RemoteAuthMethod{
		{ID: 77, Platform: models.PlatformOKX},
		// same id, different platform: still stale
		{ID: 12, Platform: models.PlatformBinance},
		{ID: 30, Platform: "Bybit"},
	}

	removed, err := store.Reconcile(ctx, "alice", remote)
	require.NoError(t, err)
	assert.Equal(t, []models.Platform{models.PlatformBitget}, removed)

	state, err := store.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.LinkState{models.PlatformOKX: 77, models.PlatformBybit: 30}, state)

	removed, err = store.Reconcile(ctx, "alice", nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.Platform{models.PlatformOKX, models.PlatformBybit}, removed)
}

func TestStore_ConcurrentLinksDoNotLoseUpdates(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i, platform := range models.AllPlatforms {
		wg.Add(1)
		go func(p models.Platform, id int64) {
			defer wg.Done()
			assert.NoError(t, store.Link(ctx, "alice", p, id))
		}(platform, int64(i+1))
	}
	wg.Wait()

	state, err := store.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, state, len(models.AllPlatforms))
}
