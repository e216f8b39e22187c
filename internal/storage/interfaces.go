package storage

import (
	"context"

	"github.com/Rengon0x/confluence-bot-sub000/internal/domain"
)

// TransactionStore provides durable access to raw transactions.
// The durable store is the source of truth: ingestion writes here before
// touching the cache, and detection backfills from here when the cache is
// too thin to decide.
type TransactionStore interface {
	// Insert adds a new transaction. Returns ErrDuplicateKey when the
	// (group, wallet, token, timestamp) identity already exists.
	Insert(ctx context.Context, tx *domain.Transaction) error

	// GetByTokenAddress retrieves a group's transactions for a token
	// address within [since, until], ordered by timestamp ASC.
	GetByTokenAddress(ctx context.Context, groupID, address string, since, until int64) ([]*domain.Transaction, error)

	// GetByTokenSymbol retrieves a group's transactions for a token symbol
	// within [since, until], ordered by timestamp ASC. Used when no address
	// is known for the token.
	GetByTokenSymbol(ctx context.Context, groupID, symbol string, since, until int64) ([]*domain.Transaction, error)

	// DistinctTokens lists the token identities a group traded since the
	// given timestamp. Feeds the full group scan.
	DistinctTokens(ctx context.Context, groupID string, since int64) ([]domain.TokenKey, error)
}

// ConfluenceStore provides durable access to confluence snapshots,
// one live row per (group, token).
type ConfluenceStore interface {
	// Upsert writes a snapshot, replacing any previous row for its key.
	Upsert(ctx context.Context, c *domain.Confluence) error

	// GetActive retrieves the active confluence for a (group, token) key.
	// Returns ErrNotFound when none exists. Indexed point lookup.
	GetActive(ctx context.Context, key domain.TokenKey) (*domain.Confluence, error)

	// AppendWallet atomically appends a wallet aggregate to an active
	// confluence and bumps its counters and sums, guarded by a
	// wallet-not-present filter. Returns the updated snapshot, or
	// ErrNotFound when no active row matched (missing row, or the wallet
	// was added concurrently).
	AppendWallet(ctx context.Context, key domain.TokenKey, w domain.WalletAggregate, now int64) (*domain.Confluence, error)

	// ListActive retrieves all active confluences, optionally scoped to a
	// group (empty groupID means all groups).
	ListActive(ctx context.Context, groupID string) ([]*domain.Confluence, error)

	// DeactivateOlderThan marks active confluences last updated before the
	// cutoff as inactive. Rows are never deleted. Returns how many rows
	// changed.
	DeactivateOlderThan(ctx context.Context, cutoff int64) (int64, error)
}
