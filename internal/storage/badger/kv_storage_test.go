package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/credsync/internal/common"
	"github.com/ternarybob/credsync/internal/interfaces"
)

func newTestKV(t *testing.T) interfaces.KeyValueStorage {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := NewBadgerDB(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewKVStorage(db, logger)
}

func TestKVStorage_SetGetCaseInsensitive(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "csrfToken", `"abc"`, "csrf"))

	v, err := kv.Get(ctx, "CSRFTOKEN")
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, v)

	v, err = kv.Get(ctx, " csrftoken ")
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, v)
}

func TestKVStorage_GetMissing(t *testing.T) {
	kv := newTestKV(t)

	_, err := kv.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	err = kv.Delete(context.Background(), "nope")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}

func TestKVStorage_OverwritePreservesCreatedAt(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "k", "1", ""))
	first, err := kv.GetPair(ctx, "k")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, kv.Set(ctx, "k", "2", ""))
	second, err := kv.GetPair(ctx, "k")
	require.NoError(t, err)

	assert.Equal(t, "2", second.Value)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
}

func TestKVStorage_ListByPrefix(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "cookies_www.okx.com", "[]", ""))
	require.NoError(t, kv.Set(ctx, "cookies_www.binance.com", "[]", ""))
	require.NoError(t, kv.Set(ctx, "okx_jwt", `"t"`, ""))
	require.NoError(t, kv.Set(ctx, "cookies.not", "x", ""))

	pairs, err := kv.ListByPrefix(ctx, "COOKIES_")
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, "cookies_www.binance.com", pairs[0].Key)
	assert.Equal(t, "cookies_www.okx.com", pairs[1].Key)
}

func TestKVStorage_DeleteIsCaseInsensitive(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "a", "1", ""))
	require.NoError(t, kv.Set(ctx, "b", "2", ""))
	require.NoError(t, kv.Delete(ctx, "A"))

	pairs, err := kv.ListByPrefix(ctx, "")
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "b", pairs[0].Key)

	assert.ErrorIs(t, kv.Delete(ctx, "a"), interfaces.ErrKeyNotFound)
}
