package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	now := time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC)
	repo := NewMemoryStore()
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("MarkAndCheckEvent", func(t *testing.T) {
		done, err := repo.IsProcessed(ctx, "evt_1")
		require.NoError(t, err)
		assert.False(t, done)

		require.NoError(t, repo.MarkProcessed(ctx, "evt_1", time.Hour))
		done, err = repo.IsProcessed(ctx, "evt_1")
		require.NoError(t, err)
		assert.True(t, done)
	})

	t.Run("ExpiryAndPurge", func(t *testing.T) {
		require.NoError(t, repo.MarkProcessed(ctx, "evt_2", time.Minute))
		now = now.Add(2 * time.Minute)

		assert.Equal(t, 1, repo.Purge())
		done, _ := repo.IsProcessed(ctx, "evt_2")
		assert.False(t, done)
		done, _ = repo.IsProcessed(ctx, "evt_1")
		assert.True(t, done)
	})

	t.Run("RateLimit", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			allowed, err := repo.CheckRateLimit(ctx, "k", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, allowed)
		}
		allowed, _ := repo.CheckRateLimit(ctx, "k", 3, time.Minute)
		assert.False(t, allowed)

		now = now.Add(time.Minute + time.Second)
		allowed, _ = repo.CheckRateLimit(ctx, "k", 3, time.Minute)
		assert.True(t, allowed)
	})
}
