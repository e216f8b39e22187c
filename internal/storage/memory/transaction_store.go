package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Rengon0x/confluence-bot-sub000/internal/domain"
	"github.com/Rengon0x/confluence-bot-sub000/internal/storage"
)

// TransactionStore is an in-memory implementation of storage.TransactionStore.
type TransactionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Transaction // keyed by composite key
}

// NewTransactionStore creates a new in-memory transaction store.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{
		data: make(map[string]*domain.Transaction),
	}
}

// txKey generates a unique key for a transaction.
func txKey(tx *domain.Transaction) string {
	identifier, kind := tx.TokenIdentity()
	return fmt.Sprintf("%s|%s|%s|%s|%d", tx.GroupID, tx.WalletIdentity(), kind, identifier, tx.Timestamp)
}

// Insert adds a new transaction. Returns ErrDuplicateKey if exists.
func (s *TransactionStore) Insert(_ context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.GroupID == "" || tx.WalletIdentity() == "" {
		return storage.ErrInvalidInput
	}

	key := txKey(tx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	dup := *tx
	s.data[key] = &dup
	return nil
}

// GetByTokenAddress retrieves a group's transactions for a token address
// within [since, until], ordered by timestamp ASC.
func (s *TransactionStore) GetByTokenAddress(_ context.Context, groupID, address string, since, until int64) ([]*domain.Transaction, error) {
	return s.filter(func(tx *domain.Transaction) bool {
		return tx.GroupID == groupID && tx.TokenAddress == address &&
			tx.Timestamp >= since && tx.Timestamp <= until
	}), nil
}

// GetByTokenSymbol retrieves a group's transactions for a token symbol
// within [since, until], ordered by timestamp ASC.
func (s *TransactionStore) GetByTokenSymbol(_ context.Context, groupID, symbol string, since, until int64) ([]*domain.Transaction, error) {
	return s.filter(func(tx *domain.Transaction) bool {
		return tx.GroupID == groupID && tx.TokenSymbol == symbol &&
			tx.Timestamp >= since && tx.Timestamp <= until
	}), nil
}

// DistinctTokens lists token identities the group traded since the timestamp.
func (s *TransactionStore) DistinctTokens(_ context.Context, groupID string, since int64) ([]domain.TokenKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[domain.TokenKey]struct{})
	var keys []domain.TokenKey
	for _, tx := range s.data {
		if tx.GroupID != groupID || tx.Timestamp < since {
			continue
		}
		key := domain.TokenKeyFor(groupID, tx)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].Identifier < keys[j].Identifier })
	return keys, nil
}

func (s *TransactionStore) filter(match func(*domain.Transaction) bool) []*domain.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Transaction
	for _, tx := range s.data {
		if match(tx) {
			dup := *tx
			result = append(result, &dup)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})

	return result
}

var _ storage.TransactionStore = (*TransactionStore)(nil)
