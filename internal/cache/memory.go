package cache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore is an in-process Store backed by go-cache, which handles
// per-entry TTL and runs its own expiry janitor.
type MemoryStore struct {
	inner *gocache.Cache
}

// NewMemoryStore creates a new in-process store. Entries without an explicit
// TTL never expire; the janitor purges expired entries every minute.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		inner: gocache.New(gocache.NoExpiration, time.Minute),
	}
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// Get retrieves the value for key. Returns ErrMiss when absent or expired.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := s.inner.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	return v.([]byte), nil
}

// Set stores the value under key with the given TTL.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	s.inner.Set(key, value, ttl)
	return nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.inner.Delete(key)
	return nil
}

// Keys lists keys starting with the given prefix.
func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	items := s.inner.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
