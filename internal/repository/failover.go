package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Store is what both the Redis and memory implementations provide.
type Store interface {
	IsProcessed(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// FailoverStore uses primary until it errors, then serves from fallback and
// retries primary once per recoverAfter.
type FailoverStore struct {
	primary      Store
	fallback     Store
	logger       *zerolog.Logger
	isDown       atomic.Bool
	recoverAfter time.Duration

	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverStore(primary, fallback Store, logger *zerolog.Logger) *FailoverStore {
	return &FailoverStore{
		primary:      primary,
		fallback:     fallback,
		logger:       logger,
		recoverAfter: time.Minute,
	}
}

func (r *FailoverStore) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary store failed, falling back to memory")
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

// usePrimary reports whether the primary should be tried for this call.
func (r *FailoverStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) > r.recoverAfter {
		r.lastCheck = time.Now()
		return true
	}
	return false
}

func (r *FailoverStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	if r.usePrimary() {
		done, err := r.primary.IsProcessed(ctx, key)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("Primary store recovered")
			}
			if done {
				return true, nil
			}
			// Keys marked while the primary was down only live in the fallback.
			return r.fallback.IsProcessed(ctx, key)
		}
		r.markDown(err)
	}
	return r.fallback.IsProcessed(ctx, key)
}

func (r *FailoverStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) error {
	if r.usePrimary() {
		err := r.primary.MarkProcessed(ctx, key, ttl)
		if err == nil {
			r.isDown.Store(false)
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.MarkProcessed(ctx, key, ttl)
}

func (r *FailoverStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.isDown.Store(false)
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
