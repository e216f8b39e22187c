package memory

import (
	"context"
	"sync"

	"github.com/Rengon0x/confluence-bot-sub000/internal/domain"
	"github.com/Rengon0x/confluence-bot-sub000/internal/storage"
)

// ConfluenceStore is an in-memory implementation of storage.ConfluenceStore.
type ConfluenceStore struct {
	mu   sync.RWMutex
	data map[domain.TokenKey]*domain.Confluence
}

// NewConfluenceStore creates a new in-memory confluence store.
func NewConfluenceStore() *ConfluenceStore {
	return &ConfluenceStore{
		data: make(map[domain.TokenKey]*domain.Confluence),
	}
}

// Upsert writes a snapshot, replacing any previous row for its key.
func (s *ConfluenceStore) Upsert(_ context.Context, c *domain.Confluence) error {
	if c == nil || c.GroupID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[c.TokenKey()] = c.Clone()
	return nil
}

// GetActive retrieves the active confluence for a key, ErrNotFound if absent.
func (s *ConfluenceStore) GetActive(_ context.Context, key domain.TokenKey) (*domain.Confluence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data[key]
	if !ok || !c.Active {
		return nil, storage.ErrNotFound
	}
	return c.Clone(), nil
}

// AppendWallet atomically appends a wallet and bumps totals, guarded by a
// wallet-not-present filter. The whole operation runs under one lock, which
// is the in-memory analogue of a single filtered update statement.
func (s *ConfluenceStore) AppendWallet(_ context.Context, key domain.TokenKey, w domain.WalletAggregate, now int64) (*domain.Confluence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.data[key]
	if !ok || !c.Active {
		return nil, storage.ErrNotFound
	}
	if c.Wallet(w.WalletID) != nil {
		// Filter miss: wallet already present.
		return nil, storage.ErrNotFound
	}

	c.Wallets = append(c.Wallets, w)
	c.RecomputeTotals()
	c.LastUpdatedAt = now

	return c.Clone(), nil
}

// ListActive retrieves active confluences, scoped to a group when non-empty.
func (s *ConfluenceStore) ListActive(_ context.Context, groupID string) ([]*domain.Confluence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Confluence
	for _, c := range s.data {
		if !c.Active {
			continue
		}
		if groupID != "" && c.GroupID != groupID {
			continue
		}
		result = append(result, c.Clone())
	}
	return result, nil
}

// DeactivateOlderThan marks stale active confluences inactive.
func (s *ConfluenceStore) DeactivateOlderThan(_ context.Context, cutoff int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, c := range s.data {
		if c.Active && c.LastUpdatedAt < cutoff {
			c.Active = false
			n++
		}
	}
	return n, nil
}

var _ storage.ConfluenceStore = (*ConfluenceStore)(nil)
