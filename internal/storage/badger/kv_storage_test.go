package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/hereiam510/MyAPI/internal/common"
	"github.com/hereiam510/MyAPI/internal/interfaces"
)

func newTestKV(t *testing.T) interfaces.KeyValueStorage {
	t.Helper()

	db, err := NewBadgerDB(arbor.NewLogger(), &common.StorageConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewKVStorage(db, arbor.NewLogger())
}

func TestSetAndGet(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "hku_token", "tok-123", "bearer token"))

	value, err := kv.Get(ctx, "hku_token")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", value)
}

func TestGetMissingKey(t *testing.T) {
	kv := newTestKV(t)

	_, err := kv.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}

func TestKeysAreCaseInsensitive(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "HKU_Token", "tok-case", ""))

	value, err := kv.Get(ctx, "hku_token")
	require.NoError(t, err)
	assert.Equal(t, "tok-case", value)
}

func TestSetPreservesCreatedAt(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "key", "first", ""))
	first, err := kv.GetPair(ctx, "key")
	require.NoError(t, err)

	require.NoError(t, kv.Set(ctx, "key", "second", ""))
	second, err := kv.GetPair(ctx, "key")
	require.NoError(t, err)

	assert.Equal(t, "second", second.Value)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestDelete(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "key", "value", ""))
	require.NoError(t, kv.Delete(ctx, "key"))

	_, err := kv.Get(ctx, "key")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}

func TestDeleteMissingKey(t *testing.T) {
	kv := newTestKV(t)
	assert.ErrorIs(t, kv.Delete(context.Background(), "absent"), interfaces.ErrKeyNotFound)
}

func TestList(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "a", "1", ""))
	require.NoError(t, kv.Set(ctx, "b", "2", ""))

	pairs, err := kv.List(ctx)
	require.NoError(t, err)
	assert.Len(t, pairs, 2)
}
