package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) error {
	args := m.Called(ctx, key, ttl)
	return args.Error(0)
}

func (m *mockStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func TestFailoverStore(t *testing.T) {
	primary := new(mockStore)
	fallback := new(mockStore)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverStore(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimaryHit", func(t *testing.T) {
		primary.On("IsProcessed", ctx, "evt_1").Return(true, nil).Once()

		done, err := repo.IsProcessed(ctx, "evt_1")
		assert.NoError(t, err)
		assert.True(t, done)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryMissChecksFallback", func(t *testing.T) {
		primary.On("IsProcessed", ctx, "evt_2").Return(false, nil).Once()
		fallback.On("IsProcessed", ctx, "evt_2").Return(true, nil).Once()

		done, err := repo.IsProcessed(ctx, "evt_2")
		assert.NoError(t, err)
		assert.True(t, done)
		fallback.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("MarkProcessed", ctx, "evt_3", time.Hour).Return(errors.New("fail")).Once()
		fallback.On("MarkProcessed", ctx, "evt_3", time.Hour).Return(nil).Once()

		err := repo.MarkProcessed(ctx, "evt_3", time.Hour)
		assert.NoError(t, err)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("AlreadyDownSkipsPrimary", func(t *testing.T) {
		fallback.On("CheckRateLimit", ctx, "k", 10, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "k", 10, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		repo.mu.Lock()
		repo.lastCheck = time.Now().Add(-2 * time.Minute)
		repo.mu.Unlock()

		primary.On("IsProcessed", ctx, "evt_4").Return(true, nil).Once()

		done, err := repo.IsProcessed(ctx, "evt_4")
		assert.NoError(t, err)
		assert.True(t, done)
		assert.False(t, repo.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("RecoveryAttemptFail", func(t *testing.T) {
		repo.isDown.Store(true)
		repo.mu.Lock()
		repo.lastCheck = time.Now().Add(-2 * time.Minute)
		repo.mu.Unlock()

		primary.On("IsProcessed", ctx, "evt_5").Return(false, errors.New("still fail")).Once()
		fallback.On("IsProcessed", ctx, "evt_5").Return(false, nil).Once()

		done, err := repo.IsProcessed(ctx, "evt_5")
		assert.NoError(t, err)
		assert.False(t, done)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("RateLimitFailover", func(t *testing.T) {
		repo.isDown.Store(false)
		primary.On("CheckRateLimit", ctx, "k2", 5, time.Minute).Return(false, errors.New("fail")).Once()
		fallback.On("CheckRateLimit", ctx, "k2", 5, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "k2", 5, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.True(t, repo.isDown.Load())
	})
}

func TestFailoverStoreWithMemory(t *testing.T) {
	logger := zerolog.New(io.Discard)
	primary := NewRedisStore(nil)
	fallback := NewMemoryStore()
	repo := NewFailoverStore(primary, fallback, &logger)
	ctx := context.Background()

	assert.NoError(t, repo.MarkProcessed(ctx, "evt_1", time.Hour))
	done, err := repo.IsProcessed(ctx, "evt_1")
	assert.NoError(t, err)
	assert.True(t, done)
}
