package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	defer client.Close()

	repo := NewRedisStore(client)
	ctx := context.Background()

	t.Run("MarkAndCheckEvent", func(t *testing.T) {
		done, err := repo.IsProcessed(ctx, "evt_1")
		require.NoError(t, err)
		assert.False(t, done)

		require.NoError(t, repo.MarkProcessed(ctx, "evt_1", time.Hour))

		done, err = repo.IsProcessed(ctx, "evt_1")
		require.NoError(t, err)
		assert.True(t, done)
		assert.True(t, s.Exists("slotbook:event:evt_1"))
	})

	t.Run("RepeatedMarkKeepsTTL", func(t *testing.T) {
		require.NoError(t, repo.MarkProcessed(ctx, "evt_2", time.Hour))
		s.FastForward(30 * time.Minute)
		require.NoError(t, repo.MarkProcessed(ctx, "evt_2", time.Hour))
		assert.Equal(t, 30*time.Minute, s.TTL("slotbook:event:evt_2"))
	})

	t.Run("EventExpires", func(t *testing.T) {
		require.NoError(t, repo.MarkProcessed(ctx, "evt_3", time.Minute))
		s.FastForward(2 * time.Minute)

		done, err := repo.IsProcessed(ctx, "evt_3")
		require.NoError(t, err)
		assert.False(t, done)
	})

	t.Run("RateLimit", func(t *testing.T) {
		key := "booking:cust-1"
		limit := 2
		window := time.Second

		allowed, err := repo.CheckRateLimit(ctx, key, limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)

		allowed, err = repo.CheckRateLimit(ctx, key, limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)

		allowed, err = repo.CheckRateLimit(ctx, key, limit, window)
		require.NoError(t, err)
		assert.False(t, allowed)

		s.FastForward(window + time.Millisecond)

		allowed, err = repo.CheckRateLimit(ctx, key, limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("NilClient", func(t *testing.T) {
		repo := NewRedisStore(nil)
		_, err := repo.IsProcessed(ctx, "evt_1")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis client is nil")
	})

	t.Run("ServerDown", func(t *testing.T) {
		s.SetError("LOADING")
		defer s.SetError("")
		_, err := repo.IsProcessed(ctx, "evt_1")
		assert.Error(t, err)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, Ping(ctx, client))
	})

	t.Run("Close", func(t *testing.T) {
		assert.NoError(t, Close(client))
	})
}
