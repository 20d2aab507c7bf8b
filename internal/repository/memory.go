package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process fallback for RedisStore. Entries are lost on
// restart, so duplicate webhook deliveries after a restart rely on the
// payment state machine being idempotent.
type MemoryStore struct {
	mu         sync.Mutex
	events     map[string]time.Time
	rateLimits map[string]*rateLimitEntry
	now        func() time.Time
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:     make(map[string]time.Time),
		rateLimits: make(map[string]*rateLimitEntry),
		now:        time.Now,
	}
}

func (r *MemoryStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiresAt, ok := r.events[key]
	if !ok {
		return false, nil
	}
	if r.now().After(expiresAt) {
		delete(r.events, key)
		return false, nil
	}
	return true, nil
}

func (r *MemoryStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if expiresAt, ok := r.events[key]; ok && now.Before(expiresAt) {
		return nil
	}
	r.events[key] = now.Add(ttl)
	return nil
}

func (r *MemoryStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.rateLimits[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.rateLimits[key] = entry
	}
	entry.count++

	return entry.count <= limit, nil
}

// Purge drops expired entries. The sweeper calls it so long-running
// processes do not accumulate event ids forever.
func (r *MemoryStore) Purge() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for k, exp := range r.events {
		if now.After(exp) {
			delete(r.events, k)
			removed++
		}
	}
	for k, e := range r.rateLimits {
		if now.After(e.expiresAt) {
			delete(r.rateLimits, k)
		}
	}
	return removed
}
