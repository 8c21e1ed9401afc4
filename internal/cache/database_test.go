package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sungwoon-dev/mealpass/internal/database/testutil"
)

func TestDatabaseStoreSetGet(t *testing.T) {
	store := NewDatabaseStore(testutil.MustOpenTestDB(t))

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "greeting", []byte("hello"), time.Minute))

	value, ok, err := store.Get(ctx, "greeting")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), value)

	// Overwrite through the upsert path.
	require.NoError(t, store.Set(ctx, "greeting", []byte("bye"), time.Minute))
	value, ok, err = store.Get(ctx, "greeting")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("bye"), value)
}

func TestDatabaseStoreGetMissing(t *testing.T) {
	store := NewDatabaseStore(testutil.MustOpenTestDB(t))

	_, ok, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDatabaseStoreExpiredEntry(t *testing.T) {
	store := NewDatabaseStore(testutil.MustOpenTestDB(t))

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "ephemeral", []byte("x"), -time.Second))

	_, ok, err := store.Get(ctx, "ephemeral")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDatabaseStoreIncrementWithTTL(t *testing.T) {
	store := NewDatabaseStore(testutil.MustOpenTestDB(t))

	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		count, ttl, err := store.IncrementWithTTL(ctx, "rate:login", time.Minute)
		require.NoError(t, err)
		require.Equal(t, i, count)
		require.Greater(t, ttl, time.Duration(0))
	}
}

func TestDatabaseStoreDelete(t *testing.T) {
	store := NewDatabaseStore(testutil.MustOpenTestDB(t))

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "b", []byte("2"), time.Minute))

	require.NoError(t, store.Delete(ctx, "a", "b"))

	_, ok, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)
}
