package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Rengon0x/confluence-bot-sub000/internal/domain"
	"github.com/Rengon0x/confluence-bot-sub000/internal/storage"
)

// ConfluenceStore implements storage.ConfluenceStore using PostgreSQL.
// Wallet aggregates live in a JSONB column so the fast path can append a
// wallet and bump counters in a single filtered update.
type ConfluenceStore struct {
	pool *Pool
}

// NewConfluenceStore creates a new ConfluenceStore.
func NewConfluenceStore(pool *Pool) *ConfluenceStore {
	return &ConfluenceStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ConfluenceStore = (*ConfluenceStore)(nil)

const confluenceColumns = `
	group_id, token_address, token_symbol, primary_side, wallets,
	total_wallets, buy_wallet_count, sell_wallet_count, non_metadata_count,
	total_amount, total_quote_value, total_base_amount, avg_market_cap,
	first_detected_at, last_updated_at, is_active, relies_on_backfill
`

// Upsert writes a snapshot, replacing any previous row for its key.
func (s *ConfluenceStore) Upsert(ctx context.Context, c *domain.Confluence) error {
	if c == nil || c.GroupID == "" {
		return storage.ErrInvalidInput
	}

	wallets, err := json.Marshal(c.Wallets)
	if err != nil {
		return fmt.Errorf("marshal wallets: %w", err)
	}

	query := `
		INSERT INTO confluences (
			group_id, token_key, token_address, token_symbol, primary_side, wallets,
			total_wallets, buy_wallet_count, sell_wallet_count, non_metadata_count,
			total_amount, total_quote_value, total_base_amount, avg_market_cap,
			first_detected_at, last_updated_at, is_active, relies_on_backfill
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (group_id, token_key) DO UPDATE SET
			primary_side = EXCLUDED.primary_side,
			wallets = EXCLUDED.wallets,
			total_wallets = EXCLUDED.total_wallets,
			buy_wallet_count = EXCLUDED.buy_wallet_count,
			sell_wallet_count = EXCLUDED.sell_wallet_count,
			non_metadata_count = EXCLUDED.non_metadata_count,
			total_amount = EXCLUDED.total_amount,
			total_quote_value = EXCLUDED.total_quote_value,
			total_base_amount = EXCLUDED.total_base_amount,
			avg_market_cap = EXCLUDED.avg_market_cap,
			first_detected_at = EXCLUDED.first_detected_at,
			last_updated_at = EXCLUDED.last_updated_at,
			is_active = EXCLUDED.is_active,
			relies_on_backfill = EXCLUDED.relies_on_backfill
	`

	_, err = s.pool.Exec(ctx, query,
		c.GroupID,
		c.TokenKey().StoreKey(),
		c.TokenAddress,
		c.TokenSymbol,
		c.PrimarySide,
		wallets,
		c.TotalWallets,
		c.BuyWalletCount,
		c.SellWalletCount,
		c.NonMetadataCount,
		c.TotalAmount,
		c.TotalQuoteValue,
		c.TotalBaseAmount,
		c.AvgMarketCap,
		c.FirstDetectedAt,
		c.LastUpdatedAt,
		c.Active,
		c.ReliesOnBackfill,
	)
	if err != nil {
		return fmt.Errorf("upsert confluence: %w", err)
	}
	return nil
}

// GetActive retrieves the active confluence for a (group, token) key.
// Indexed point lookup on (group_id, token_key).
func (s *ConfluenceStore) GetActive(ctx context.Context, key domain.TokenKey) (*domain.Confluence, error) {
	query := `
		SELECT ` + confluenceColumns + `
		FROM confluences
		WHERE group_id = $1 AND token_key = $2 AND is_active
	`

	row := s.pool.QueryRow(ctx, query, key.GroupID, key.StoreKey())
	c, err := scanConfluence(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get active confluence: %w", err)
	}
	return c, nil
}

// AppendWallet atomically appends a wallet aggregate and bumps counters in a
// single update, guarded by a wallet-not-present containment filter. The
// average market cap is advanced as a running mean; the next full rebuild
// recomputes it exactly.
func (s *ConfluenceStore) AppendWallet(ctx context.Context, key domain.TokenKey, w domain.WalletAggregate, now int64) (*domain.Confluence, error) {
	walletJSON, err := json.Marshal([]domain.WalletAggregate{w})
	if err != nil {
		return nil, fmt.Errorf("marshal wallet: %w", err)
	}
	identFilter, err := json.Marshal([]map[string]string{{"wallet_id": w.WalletID}})
	if err != nil {
		return nil, fmt.Errorf("marshal wallet filter: %w", err)
	}

	buyInc, sellInc := 0, 0
	if w.CurrentSide == domain.SideBuy {
		buyInc = 1
	} else {
		sellInc = 1
	}
	metaInc := 1
	if w.FromMetadata {
		metaInc = 0
	}

	query := `
		UPDATE confluences SET
			wallets = wallets || $3::jsonb,
			total_wallets = total_wallets + 1,
			buy_wallet_count = buy_wallet_count + $4,
			sell_wallet_count = sell_wallet_count + $5,
			non_metadata_count = non_metadata_count + $6,
			total_amount = total_amount + $7,
			total_quote_value = total_quote_value + $8,
			total_base_amount = total_base_amount + $9,
			avg_market_cap = CASE
				WHEN $10::double precision <= 0 THEN avg_market_cap
				WHEN avg_market_cap <= 0 THEN $10::double precision
				ELSE (avg_market_cap * total_wallets + $10::double precision) / (total_wallets + 1)
			END,
			primary_side = CASE
				WHEN buy_wallet_count + $4 >= sell_wallet_count + $5 THEN 'buy'
				ELSE 'sell'
			END,
			last_updated_at = $11
		WHERE group_id = $1 AND token_key = $2 AND is_active
			AND NOT wallets @> $12::jsonb
		RETURNING ` + confluenceColumns

	row := s.pool.QueryRow(ctx, query,
		key.GroupID,
		key.StoreKey(),
		walletJSON,
		buyInc,
		sellInc,
		metaInc,
		w.CumulativeAmount,
		w.CumulativeQuote,
		w.CumulativeBase,
		w.WeightedMarketCap,
		now,
		identFilter,
	)

	c, err := scanConfluence(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("append wallet: %w", err)
	}
	return c, nil
}

// ListActive retrieves active confluences, scoped to a group when non-empty.
func (s *ConfluenceStore) ListActive(ctx context.Context, groupID string) ([]*domain.Confluence, error) {
	query := `
		SELECT ` + confluenceColumns + `
		FROM confluences
		WHERE is_active AND ($1::text = '' OR group_id = $1::text)
		ORDER BY last_updated_at DESC
	`

	rows, err := s.pool.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("list active confluences: %w", err)
	}
	defer rows.Close()

	var result []*domain.Confluence
	for rows.Next() {
		c, err := scanConfluence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan confluence row: %w", err)
		}
		result = append(result, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate confluence rows: %w", err)
	}

	return result, nil
}

// DeactivateOlderThan marks active confluences last updated before the
// cutoff as inactive. Rows are never deleted.
func (s *ConfluenceStore) DeactivateOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE confluences SET is_active = FALSE
		WHERE is_active AND last_updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deactivate stale confluences: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanConfluence scans one row into a Confluence.
func scanConfluence(row pgx.Row) (*domain.Confluence, error) {
	var c domain.Confluence
	var wallets []byte

	err := row.Scan(
		&c.GroupID,
		&c.TokenAddress,
		&c.TokenSymbol,
		&c.PrimarySide,
		&wallets,
		&c.TotalWallets,
		&c.BuyWalletCount,
		&c.SellWalletCount,
		&c.NonMetadataCount,
		&c.TotalAmount,
		&c.TotalQuoteValue,
		&c.TotalBaseAmount,
		&c.AvgMarketCap,
		&c.FirstDetectedAt,
		&c.LastUpdatedAt,
		&c.Active,
		&c.ReliesOnBackfill,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(wallets, &c.Wallets); err != nil {
		return nil, fmt.Errorf("unmarshal wallets: %w", err)
	}

	return &c, nil
}
