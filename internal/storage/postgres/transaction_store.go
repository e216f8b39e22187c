package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Rengon0x/confluence-bot-sub000/internal/domain"
	"github.com/Rengon0x/confluence-bot-sub000/internal/storage"
)

// TransactionStore implements storage.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *Pool
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(pool *Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TransactionStore = (*TransactionStore)(nil)

const txColumns = `
	group_id, wallet_id, wallet_name, token_address, token_symbol, side,
	token_amount, quote_value, base_amount, base_symbol, market_cap_at_time,
	timestamp, synthesized
`

// Insert adds a new transaction. Returns ErrDuplicateKey when the
// (group, wallet, token, timestamp) identity already exists.
func (s *TransactionStore) Insert(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.GroupID == "" || tx.WalletIdentity() == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO transactions (` + txColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.pool.Exec(ctx, query,
		tx.GroupID,
		tx.WalletID,
		tx.WalletName,
		tx.TokenAddress,
		tx.TokenSymbol,
		tx.Side,
		tx.TokenAmount,
		tx.QuoteValue,
		tx.BaseAmount,
		tx.BaseSymbol,
		tx.MarketCapAtTime,
		tx.Timestamp,
		tx.Synthesized,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByTokenAddress retrieves a group's transactions for a token address
// within [since, until], ordered by timestamp ASC.
func (s *TransactionStore) GetByTokenAddress(ctx context.Context, groupID, address string, since, until int64) ([]*domain.Transaction, error) {
	query := `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE group_id = $1 AND token_address = $2 AND timestamp >= $3 AND timestamp <= $4
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, groupID, address, since, until)
	if err != nil {
		return nil, fmt.Errorf("get transactions by token address: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// GetByTokenSymbol retrieves a group's transactions for a token symbol
// within [since, until], ordered by timestamp ASC.
func (s *TransactionStore) GetByTokenSymbol(ctx context.Context, groupID, symbol string, since, until int64) ([]*domain.Transaction, error) {
	query := `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE group_id = $1 AND token_symbol = $2 AND timestamp >= $3 AND timestamp <= $4
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, groupID, symbol, since, until)
	if err != nil {
		return nil, fmt.Errorf("get transactions by token symbol: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// DistinctTokens lists the token identities a group traded since the
// given timestamp.
func (s *TransactionStore) DistinctTokens(ctx context.Context, groupID string, since int64) ([]domain.TokenKey, error) {
	query := `
		SELECT DISTINCT token_address, token_symbol
		FROM transactions
		WHERE group_id = $1 AND timestamp >= $2
		ORDER BY token_address, token_symbol
	`

	rows, err := s.pool.Query(ctx, query, groupID, since)
	if err != nil {
		return nil, fmt.Errorf("get distinct tokens: %w", err)
	}
	defer rows.Close()

	var keys []domain.TokenKey
	for rows.Next() {
		var address, symbol string
		if err := rows.Scan(&address, &symbol); err != nil {
			return nil, fmt.Errorf("scan token row: %w", err)
		}
		key := domain.TokenKey{GroupID: groupID, Kind: domain.IDKindAddr, Identifier: address}
		if address == "" {
			key.Kind = domain.IDKindName
			key.Identifier = symbol
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token rows: %w", err)
	}

	return keys, nil
}

// scanTransactions scans multiple rows into a slice of Transaction.
func scanTransactions(rows pgx.Rows) ([]*domain.Transaction, error) {
	var txs []*domain.Transaction

	for rows.Next() {
		var tx domain.Transaction

		err := rows.Scan(
			&tx.GroupID,
			&tx.WalletID,
			&tx.WalletName,
			&tx.TokenAddress,
			&tx.TokenSymbol,
			&tx.Side,
			&tx.TokenAmount,
			&tx.QuoteValue,
			&tx.BaseAmount,
			&tx.BaseSymbol,
			&tx.MarketCapAtTime,
			&tx.Timestamp,
			&tx.Synthesized,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}

		txs = append(txs, &tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}

	return txs, nil
}
