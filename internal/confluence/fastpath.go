package confluence

import (
	"context"
	"errors"
	"time"

	"github.com/Rengon0x/confluence-bot-sub000/internal/domain"
	"github.com/Rengon0x/confluence-bot-sub000/internal/observability"
	"github.com/Rengon0x/confluence-bot-sub000/internal/storage"
)

// DetectWithTransaction is the preferred entry point after each accepted
// ingestion: an O(1) incremental update against the existing confluence for
// the transaction's token, falling back to the full-rebuild detector when
// no confluence exists yet or the durable store misbehaves.
func (e *Engine) DetectWithTransaction(ctx context.Context, groupID string, tx *domain.Transaction) []*domain.Confluence {
	if tx == nil || !domain.ValidSide(tx.Side) {
		return nil
	}

	start := time.Now()
	defer func() {
		e.metrics.DetectionLatency.WithLabelValues("fast").Observe(time.Since(start).Seconds())
	}()

	key := domain.TokenKeyFor(groupID, tx)

	sctx, cancel := e.boundedCtx(ctx)
	existing, err := e.confStore.GetActive(sctx, key)
	cancel()

	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// No confluence yet for this token: scan the whole group so a
			// newly-qualified partition gets persisted for future fast-path
			// lookups.
			observability.RecordFastPathFallback("no_confluence")
			return e.Detect(ctx, groupID)
		}
		observability.RecordFastPathFallback("lookup_error")
		e.logger.Printf("fast path %s: lookup failed, falling back to rebuild: %v", key, err)
		return e.Detect(ctx, groupID)
	}

	walletID := tx.WalletIdentity()
	current := existing.Wallet(walletID)

	switch {
	case current == nil:
		return e.fastAppend(ctx, key, tx)
	case current.CurrentSide != tx.Side:
		return e.fastSideFlip(ctx, key, existing, tx)
	default:
		// Same wallet, same side: no qualifying change.
		return nil
	}
}

// fastAppend adds a brand-new wallet to an existing confluence via the
// durable store's filtered atomic append, avoiding any partition re-read.
func (e *Engine) fastAppend(ctx context.Context, key domain.TokenKey, tx *domain.Transaction) []*domain.Confluence {
	w := domain.WalletAggregate{
		WalletID:    tx.WalletIdentity(),
		DisplayName: tx.WalletName,
		Updated:     true,
	}
	w.Accumulate(tx)

	sctx, cancel := e.boundedCtx(ctx)
	updated, err := e.confStore.AppendWallet(sctx, key, w, e.now().UnixMilli())
	cancel()

	if err != nil {
		// A filter miss means the wallet landed concurrently; anything else
		// is a store fault. Both degrade to the rebuild, which reconciles
		// from raw transactions.
		if errors.Is(err, storage.ErrNotFound) {
			observability.RecordFastPathFallback("append_race")
		} else {
			observability.RecordFastPathFallback("append_error")
			e.logger.Printf("fast path %s: atomic append failed, rebuilding: %v", key, err)
		}
		return e.rebuildAndCollect(ctx, key)
	}

	e.metrics.FastPathHits.Inc()

	if err := e.cache.SetConfluence(ctx, updated); err != nil {
		e.logger.Printf("fast path %s: cache update failed: %v", key, err)
	}

	observability.RecordEmitted("fast", 1)
	return []*domain.Confluence{updated}
}

// fastSideFlip applies an incremental update when a known wallet changes
// side: accumulate into its side-specific totals, recompute the primary
// side and persist the superseded snapshot in place.
func (e *Engine) fastSideFlip(ctx context.Context, key domain.TokenKey, existing *domain.Confluence, tx *domain.Transaction) []*domain.Confluence {
	updated := existing.Clone()
	for i := range updated.Wallets {
		updated.Wallets[i].Updated = false
	}

	w := updated.Wallet(tx.WalletIdentity())
	if w == nil {
		return e.rebuildAndCollect(ctx, key)
	}
	w.Accumulate(tx)
	w.Updated = true

	updated.RecomputeTotals()
	updated.LastUpdatedAt = e.now().UnixMilli()

	sctx, cancel := e.boundedCtx(ctx)
	err := e.confStore.Upsert(sctx, updated)
	cancel()
	if err != nil {
		observability.RecordFastPathFallback("upsert_error")
		e.logger.Printf("fast path %s: side-flip upsert failed, rebuilding: %v", key, err)
		return e.rebuildAndCollect(ctx, key)
	}

	e.metrics.FastPathHits.Inc()

	if err := e.cache.SetConfluence(ctx, updated); err != nil {
		e.logger.Printf("fast path %s: cache update failed: %v", key, err)
	}

	observability.RecordEmitted("fast", 1)
	return []*domain.Confluence{updated}
}

// rebuildAndCollect runs the full rebuild for one partition under its key
// lock and wraps the result in the fast path's return shape.
func (e *Engine) rebuildAndCollect(ctx context.Context, key domain.TokenKey) []*domain.Confluence {
	unlock := e.locks.Lock(key.String())
	c, changed := e.rebuildPartition(ctx, key)
	unlock()

	if !changed || c == nil {
		return nil
	}
	observability.RecordEmitted("full", 1)
	return []*domain.Confluence{c}
}
