package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Rengon0x/confluence-bot-sub000/internal/domain"
	"github.com/Rengon0x/confluence-bot-sub000/internal/observability"
)

// InstrumentTransactionStore wraps a TransactionStore so every query reports
// its duration and failures under the given database label.
func InstrumentTransactionStore(database string, inner TransactionStore) TransactionStore {
	return &timedTransactionStore{database: database, inner: inner}
}

// InstrumentConfluenceStore wraps a ConfluenceStore with query metrics.
func InstrumentConfluenceStore(database string, inner ConfluenceStore) ConfluenceStore {
	return &timedConfluenceStore{database: database, inner: inner}
}

// queryErr filters expected outcomes out of the error counter: a duplicate
// insert or a missing row is an answer, not a query failure.
func queryErr(err error) error {
	if errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

type timedTransactionStore struct {
	database string
	inner    TransactionStore
}

var _ TransactionStore = (*timedTransactionStore)(nil)

func (s *timedTransactionStore) Insert(ctx context.Context, tx *domain.Transaction) error {
	start := time.Now()
	err := s.inner.Insert(ctx, tx)
	observability.RecordDBQuery(s.database, "insert_transaction", time.Since(start).Seconds(), queryErr(err))
	return err
}

func (s *timedTransactionStore) GetByTokenAddress(ctx context.Context, groupID, address string, since, until int64) ([]*domain.Transaction, error) {
	start := time.Now()
	txs, err := s.inner.GetByTokenAddress(ctx, groupID, address, since, until)
	observability.RecordDBQuery(s.database, "get_by_token_address", time.Since(start).Seconds(), queryErr(err))
	return txs, err
}

func (s *timedTransactionStore) GetByTokenSymbol(ctx context.Context, groupID, symbol string, since, until int64) ([]*domain.Transaction, error) {
	start := time.Now()
	txs, err := s.inner.GetByTokenSymbol(ctx, groupID, symbol, since, until)
	observability.RecordDBQuery(s.database, "get_by_token_symbol", time.Since(start).Seconds(), queryErr(err))
	return txs, err
}

func (s *timedTransactionStore) DistinctTokens(ctx context.Context, groupID string, since int64) ([]domain.TokenKey, error) {
	start := time.Now()
	keys, err := s.inner.DistinctTokens(ctx, groupID, since)
	observability.RecordDBQuery(s.database, "distinct_tokens", time.Since(start).Seconds(), queryErr(err))
	return keys, err
}

type timedConfluenceStore struct {
	database string
	inner    ConfluenceStore
}

var _ ConfluenceStore = (*timedConfluenceStore)(nil)

func (s *timedConfluenceStore) Upsert(ctx context.Context, c *domain.Confluence) error {
	start := time.Now()
	err := s.inner.Upsert(ctx, c)
	observability.RecordDBQuery(s.database, "upsert_confluence", time.Since(start).Seconds(), queryErr(err))
	return err
}

func (s *timedConfluenceStore) GetActive(ctx context.Context, key domain.TokenKey) (*domain.Confluence, error) {
	start := time.Now()
	c, err := s.inner.GetActive(ctx, key)
	observability.RecordDBQuery(s.database, "get_active", time.Since(start).Seconds(), queryErr(err))
	return c, err
}

func (s *timedConfluenceStore) AppendWallet(ctx context.Context, key domain.TokenKey, w domain.WalletAggregate, now int64) (*domain.Confluence, error) {
	start := time.Now()
	c, err := s.inner.AppendWallet(ctx, key, w, now)
	observability.RecordDBQuery(s.database, "append_wallet", time.Since(start).Seconds(), queryErr(err))
	return c, err
}

func (s *timedConfluenceStore) ListActive(ctx context.Context, groupID string) ([]*domain.Confluence, error) {
	start := time.Now()
	cs, err := s.inner.ListActive(ctx, groupID)
	observability.RecordDBQuery(s.database, "list_active", time.Since(start).Seconds(), queryErr(err))
	return cs, err
}

func (s *timedConfluenceStore) DeactivateOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	start := time.Now()
	n, err := s.inner.DeactivateOlderThan(ctx, cutoff)
	observability.RecordDBQuery(s.database, "deactivate_older_than", time.Since(start).Seconds(), queryErr(err))
	return n, err
}
