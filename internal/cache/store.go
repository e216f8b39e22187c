// Package cache provides the windowed transaction cache: a pluggable
// key/value store with per-entry TTL, and a Manager layering partition
// bookkeeping, the time sweep and emergency eviction on top of it.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Store.Get when a key is absent or expired.
// Readers must tolerate a key disappearing between Keys and Get.
var ErrMiss = errors.New("cache miss")

// Store is a key/value store with per-entry TTL. Implementations may be
// purely in-process or backed by a networked cache; the engine must not
// depend on which.
type Store interface {
	// Get retrieves the value for key. Returns ErrMiss when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores the value under key with the given TTL.
	// A zero TTL means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists keys starting with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
