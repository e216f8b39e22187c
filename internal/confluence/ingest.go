package confluence

import (
	"context"
	"errors"
	"math"

	"github.com/Rengon0x/confluence-bot-sub000/internal/domain"
	"github.com/Rengon0x/confluence-bot-sub000/internal/observability"
	"github.com/Rengon0x/confluence-bot-sub000/internal/storage"
)

// Ingest validates, deduplicates, persists and caches one transaction on
// behalf of groupID. Returns false with no side effects on validation
// failure or duplicate, and false with the cache untouched when the durable
// write fails. The durable store is the source of truth: it is written
// first.
//
// Ingestion does not decide confluence membership; callers follow a
// successful Ingest with DetectWithTransaction for the same group.
func (e *Engine) Ingest(ctx context.Context, groupID string, tx *domain.Transaction) bool {
	if tx == nil || groupID == "" {
		observability.RecordRejected("missing_group")
		return false
	}
	if !domain.ValidSide(tx.Side) {
		observability.RecordRejected("bad_side")
		return false
	}
	if tx.WalletIdentity() == "" {
		observability.RecordRejected("missing_wallet")
		return false
	}
	if id, _ := tx.TokenIdentity(); id == "" {
		observability.RecordRejected("missing_token")
		return false
	}

	// The group owns the transaction from here on, whatever the message
	// claimed.
	tx.GroupID = groupID
	key := domain.NewPartitionKey(groupID, tx)

	cached, err := e.cache.Transactions(ctx, key)
	if err != nil {
		// Soft failure: without the cached list we cannot consult recent
		// history, so rely on the durable store's unique constraint alone.
		e.logger.Printf("ingest: reading cache for %s failed: %v", key, err)
		cached = nil
	}
	for i := range cached {
		if isDuplicate(&cached[i], tx) {
			observability.RecordDuplicate()
			return false
		}
	}

	sctx, cancel := e.boundedCtx(ctx)
	err = e.txStore.Insert(sctx, tx)
	cancel()
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			observability.RecordDuplicate()
			return false
		}
		e.logger.Printf("ingest: durable write for %s failed: %v", key, err)
		return false
	}

	if err := e.cache.Append(ctx, key, *tx); err != nil {
		// The durable row exists; detection will backfill this partition
		// until the cache recovers.
		e.logger.Printf("ingest: cache append for %s failed: %v", key, err)
	}

	observability.RecordIngested()
	return true
}

// isDuplicate reports whether candidate repeats existing within the same
// partition: base amounts within 1% relative (or 0.01 absolute when the
// baseline is zero) and timestamps within 30 seconds. Wallet identity is
// deliberately not compared; the same upstream trade frequently arrives
// attributed to more than one tracked wallet.
func isDuplicate(existing, candidate *domain.Transaction) bool {
	deltaMs := candidate.Timestamp - existing.Timestamp
	if deltaMs < 0 {
		deltaMs = -deltaMs
	}
	if deltaMs > dupWindow.Milliseconds() {
		return false
	}

	diff := math.Abs(candidate.BaseAmount - existing.BaseAmount)
	if existing.BaseAmount == 0 {
		return diff < dupAbsTolerance
	}
	return diff/math.Abs(existing.BaseAmount) < dupRelTolerance
}
