package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/aelexs/embedded-checkout/internal/redis"
	"github.com/aelexs/embedded-checkout/internal/session"
	"github.com/aelexs/embedded-checkout/internal/storage"
)

func newTestRedis(t *testing.T, ttl time.Duration) (*storage.Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redisclient.NewClient(redisclient.Config{
		Addr:         mr.Addr(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})

	return storage.NewRedis(client.RDB, "checkout:session:", ttl), mr
}

// storageContract exercises the behaviour every session.Storage must share.
func storageContract(t *testing.T, s session.Storage) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "accessToken")
	require.NoError(t, err)
	assert.False(t, ok, "missing key reports ok=false")

	require.NoError(t, s.Set(ctx, "accessToken", "tok-1"))
	v, ok, err := s.Get(ctx, "accessToken")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok-1", v)

	require.NoError(t, s.Set(ctx, "accessToken", "tok-2"))
	v, _, err = s.Get(ctx, "accessToken")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", v, "set overwrites")

	require.NoError(t, s.Delete(ctx, "accessToken"))
	_, ok, err = s.Get(ctx, "accessToken")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, s.Delete(ctx, "accessToken"), "deleting a missing key succeeds")
}

func TestMemory(t *testing.T) {
	storageContract(t, storage.NewMemory())
}

func TestRedis(t *testing.T) {
	t.Run("contract", func(t *testing.T) {
		s, _ := newTestRedis(t, time.Hour)
		storageContract(t, s)
	})

	t.Run("keys are prefixed", func(t *testing.T) {
		s, mr := newTestRedis(t, time.Hour)

		require.NoError(t, s.Set(context.Background(), "inApp", "true"))

		val, err := mr.Get("checkout:session:inApp")
		require.NoError(t, err)
		assert.Equal(t, "true", val)
	})

	t.Run("writes set the record TTL", func(t *testing.T) {
		s, mr := newTestRedis(t, 30*time.Minute)

		require.NoError(t, s.Set(context.Background(), "accessToken", "tok"))

		assert.Equal(t, 30*time.Minute, mr.TTL("checkout:session:accessToken"))
	})

	t.Run("record expires with the session", func(t *testing.T) {
		s, mr := newTestRedis(t, time.Minute)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "accessToken", "tok"))

		mr.FastForward(2 * time.Minute)

		_, ok, err := s.Get(ctx, "accessToken")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("backend failure surfaces as error", func(t *testing.T) {
		s, mr := newTestRedis(t, time.Hour)
		mr.SetError("LOADING")

		_, _, err := s.Get(context.Background(), "accessToken")

		assert.Error(t, err)
	})
}
