package clickhouse

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Rengon0x/confluence-bot-sub000/internal/domain"
)

// EventArchive appends emitted confluence events to ClickHouse for offline
// analytics. Detection never reads from it; every write is best-effort and
// the caller treats failures as soft.
type EventArchive struct {
	conn *Conn
}

// NewEventArchive creates a new EventArchive.
func NewEventArchive(conn *Conn) *EventArchive {
	return &EventArchive{conn: conn}
}

// Record appends one row per emitted confluence, stamped with a fresh
// event ID and the emission timestamp (ms).
func (a *EventArchive) Record(ctx context.Context, events []*domain.Confluence, emittedAt int64) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO confluence_events (
			event_id, group_id, token_address, token_symbol, primary_side,
			total_wallets, buy_wallet_count, sell_wallet_count,
			total_amount, total_quote_value, total_base_amount, avg_market_cap,
			relies_on_backfill, first_detected_at, emitted_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range events {
		backfill := uint8(0)
		if c.ReliesOnBackfill {
			backfill = 1
		}
		err = batch.Append(
			uuid.NewString(),
			c.GroupID,
			c.TokenAddress,
			c.TokenSymbol,
			c.PrimarySide,
			uint32(c.TotalWallets),
			uint32(c.BuyWalletCount),
			uint32(c.SellWalletCount),
			c.TotalAmount,
			c.TotalQuoteValue,
			c.TotalBaseAmount,
			c.AvgMarketCap,
			backfill,
			uint64(c.FirstDetectedAt),
			uint64(emittedAt),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}
