package confluence

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/Rengon0x/confluence-bot-sub000/internal/domain"
	"github.com/Rengon0x/confluence-bot-sub000/internal/observability"
	"github.com/Rengon0x/confluence-bot-sub000/internal/storage"
)

// Detect runs a full-rebuild scan over every token the group is known to
// have traded inside its window, returning the confluences whose state
// changed. Re-running with no new transactions emits nothing.
func (e *Engine) Detect(ctx context.Context, groupID string) []*domain.Confluence {
	start := time.Now()
	defer func() {
		e.metrics.DetectionLatency.WithLabelValues("full").Observe(time.Since(start).Seconds())
	}()

	tokens := e.groupTokens(ctx, groupID)

	var emitted []*domain.Confluence
	for _, key := range tokens {
		unlock := e.locks.Lock(key.String())
		c, changed := e.rebuildPartition(ctx, key)
		unlock()

		if changed && c != nil {
			emitted = append(emitted, c)
		}
	}

	observability.RecordEmitted("full", len(emitted))
	return emitted
}

// groupTokens unions the token identities present in the cache with those
// the durable store saw inside the group's window. Either source failing
// degrades to the other.
func (e *Engine) groupTokens(ctx context.Context, groupID string) []domain.TokenKey {
	seen := make(map[domain.TokenKey]struct{})
	var tokens []domain.TokenKey

	keys, err := e.cache.KeysForGroup(ctx, groupID)
	if err != nil {
		e.logger.Printf("detect: listing cache keys for group %s failed: %v", groupID, err)
	}
	for _, pk := range keys {
		tk := domain.TokenKey{GroupID: pk.GroupID, Kind: pk.Kind, Identifier: pk.Identifier}
		if _, ok := seen[tk]; !ok {
			seen[tk] = struct{}{}
			tokens = append(tokens, tk)
		}
	}

	since := e.now().Add(-e.settings.Window(ctx, groupID)).UnixMilli()
	sctx, cancel := e.boundedCtx(ctx)
	stored, err := e.txStore.DistinctTokens(sctx, groupID, since)
	cancel()
	if err != nil {
		e.logger.Printf("detect: listing stored tokens for group %s failed: %v", groupID, err)
	}
	for _, tk := range stored {
		if _, ok := seen[tk]; !ok {
			seen[tk] = struct{}{}
			tokens = append(tokens, tk)
		}
	}

	return tokens
}

// rebuildPartition recomputes one (group, token) confluence from all known
// transactions. Returns the persisted snapshot and whether it should be
// emitted as a detection event. Callers hold the partition's key lock.
func (e *Engine) rebuildPartition(ctx context.Context, key domain.TokenKey) (*domain.Confluence, bool) {
	e.metrics.FullRebuilds.Inc()

	groupID := key.GroupID
	minWallets := e.settings.MinWallets(ctx, groupID)
	window := e.settings.Window(ctx, groupID)
	now := e.now()

	buyKey := domain.PartitionKey{GroupID: groupID, Side: domain.SideBuy, Kind: key.Kind, Identifier: key.Identifier}
	sellKey := buyKey.OppositeSide()

	var cached []domain.Transaction
	for _, pk := range []domain.PartitionKey{buyKey, sellKey} {
		txs, err := e.cache.Transactions(ctx, pk)
		if err != nil {
			// Cache trouble reduces recall, not correctness: backfill below
			// covers the gap.
			e.logger.Printf("rebuild %s: reading cache failed: %v", pk, err)
			continue
		}
		cached = append(cached, txs...)
	}

	var rollups []*domain.OlderTransactionMetadata
	for _, pk := range []domain.PartitionKey{buyKey, sellKey} {
		if md := e.cache.Metadata(pk); md != nil {
			rollups = append(rollups, md)
		}
	}

	// Gate on the distinct-wallet union across cache and rollups before
	// doing any durable-store work.
	union := make(map[string]struct{})
	for i := range cached {
		union[cached[i].WalletIdentity()] = struct{}{}
	}
	for _, md := range rollups {
		for _, id := range md.WalletIDs {
			union[id] = struct{}{}
		}
	}
	if len(union) < minWallets {
		return nil, false
	}

	merged := cached
	if len(cached) < backfillMinCached {
		merged = mergeTransactions(cached, e.backfill(ctx, key, now.Add(-window).UnixMilli(), now.UnixMilli()))
	}

	if len(merged) == 0 {
		for _, md := range rollups {
			merged = append(merged, md.Synthesize()...)
		}
	}
	if len(merged) == 0 {
		return nil, false
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })

	prev := e.previousSnapshot(ctx, key)

	next := e.foldTransactions(key, merged, prev, now)
	if next.TotalWallets < minWallets {
		return nil, false
	}

	next.ReliesOnBackfill = next.NonMetadataCount < minWallets && next.TotalWallets >= minWallets

	e.persistSnapshot(ctx, next)

	emit := prev == nil || next.HasUpdates()
	return next, emit
}

// backfill pulls the partition's transactions for the full window from the
// durable store. Failures degrade to cache-only data.
func (e *Engine) backfill(ctx context.Context, key domain.TokenKey, since, until int64) []domain.Transaction {
	e.metrics.BackfillQueries.Inc()

	sctx, cancel := e.boundedCtx(ctx)
	defer cancel()

	var (
		rows []*domain.Transaction
		err  error
	)
	if key.Kind == domain.IDKindAddr {
		rows, err = e.txStore.GetByTokenAddress(sctx, key.GroupID, key.Identifier, since, until)
	} else {
		rows, err = e.txStore.GetByTokenSymbol(sctx, key.GroupID, key.Identifier, since, until)
	}
	if err != nil {
		e.logger.Printf("rebuild %s: backfill failed, continuing cache-only: %v", key, err)
		return nil
	}

	out := make([]domain.Transaction, 0, len(rows))
	for _, tx := range rows {
		out = append(out, *tx)
	}
	return out
}

// mergeTransactions unions cache and backfill rows, discarding exact
// duplicates (same wallet, timestamp and amount).
func mergeTransactions(cached, backfilled []domain.Transaction) []domain.Transaction {
	type identity struct {
		wallet string
		ts     int64
		amount float64
	}

	seen := make(map[identity]struct{}, len(cached)+len(backfilled))
	merged := make([]domain.Transaction, 0, len(cached)+len(backfilled))
	for _, group := range [][]domain.Transaction{cached, backfilled} {
		for _, tx := range group {
			id := identity{wallet: tx.WalletIdentity(), ts: tx.Timestamp, amount: tx.TokenAmount}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, tx)
		}
	}
	return merged
}

// previousSnapshot loads the partition's current confluence, preferring the
// durable store and falling back to the cached copy.
func (e *Engine) previousSnapshot(ctx context.Context, key domain.TokenKey) *domain.Confluence {
	sctx, cancel := e.boundedCtx(ctx)
	prev, err := e.confStore.GetActive(sctx, key)
	cancel()
	if err == nil {
		return prev
	}
	if !errors.Is(err, storage.ErrNotFound) {
		e.logger.Printf("rebuild %s: durable snapshot lookup failed: %v", key, err)
		if snap, cerr := e.cache.Confluence(ctx, key); cerr == nil && snap != nil {
			return snap
		}
	}
	return nil
}

// foldTransactions builds the new wallet-level view: aggregates seeded from
// the previous snapshot (identity and order preserved, accumulators
// zeroed), each transaction folded in timestamp order, and the final list
// ordered previous-wallets-first then new wallets by earliest appearance.
func (e *Engine) foldTransactions(key domain.TokenKey, txs []domain.Transaction, prev *domain.Confluence, now time.Time) *domain.Confluence {
	aggregates := make(map[string]*domain.WalletAggregate)
	earliest := make(map[string]int64)
	touched := make(map[string]struct{})

	if prev != nil {
		for i := range prev.Wallets {
			w := prev.Wallets[i]
			aggregates[w.WalletID] = &domain.WalletAggregate{
				WalletID:    w.WalletID,
				DisplayName: w.DisplayName,
			}
		}
	}

	next := &domain.Confluence{GroupID: key.GroupID, Active: true}
	if key.Kind == domain.IDKindAddr {
		next.TokenAddress = key.Identifier
	} else {
		next.TokenSymbol = key.Identifier
	}

	for i := range txs {
		tx := &txs[i]
		id := tx.WalletIdentity()

		agg, ok := aggregates[id]
		if !ok {
			agg = &domain.WalletAggregate{WalletID: id, DisplayName: tx.WalletName}
			aggregates[id] = agg
			earliest[id] = tx.Timestamp
		}
		if agg.DisplayName == "" && tx.WalletName != "" {
			agg.DisplayName = tx.WalletName
		}
		agg.Accumulate(tx)
		touched[id] = struct{}{}

		if next.TokenAddress == "" && tx.TokenAddress != "" {
			next.TokenAddress = tx.TokenAddress
		}
		if next.TokenSymbol == "" && tx.TokenSymbol != "" {
			next.TokenSymbol = tx.TokenSymbol
		}
	}

	// Previous wallets that still have at least one transaction keep their
	// original order; genuinely new wallets follow, by first appearance.
	if prev != nil {
		for i := range prev.Wallets {
			id := prev.Wallets[i].WalletID
			if _, ok := touched[id]; !ok {
				continue
			}
			agg := aggregates[id]
			markUpdated(agg, prev.Wallet(id))
			next.Wallets = append(next.Wallets, *agg)
			delete(aggregates, id)
		}
	}

	var fresh []string
	for id := range aggregates {
		if _, ok := touched[id]; ok {
			fresh = append(fresh, id)
		}
	}
	sort.Slice(fresh, func(i, j int) bool {
		if earliest[fresh[i]] != earliest[fresh[j]] {
			return earliest[fresh[i]] < earliest[fresh[j]]
		}
		return fresh[i] < fresh[j]
	})
	for _, id := range fresh {
		agg := aggregates[id]
		agg.Updated = true
		next.Wallets = append(next.Wallets, *agg)
	}

	next.RecomputeTotals()

	next.FirstDetectedAt = now.UnixMilli()
	if prev != nil && prev.FirstDetectedAt > 0 {
		next.FirstDetectedAt = prev.FirstDetectedAt
	}
	next.LastUpdatedAt = now.UnixMilli()

	return next
}

// markUpdated flags a previously-seen wallet as materially changed when its
// side flipped or its cumulative base amount moved past the epsilon.
func markUpdated(agg *domain.WalletAggregate, prev *domain.WalletAggregate) {
	if prev == nil {
		agg.Updated = true
		return
	}
	if agg.CurrentSide != prev.CurrentSide {
		agg.Updated = true
		return
	}
	if math.Abs(agg.CumulativeBase-prev.CumulativeBase) > updateEpsilon {
		agg.Updated = true
	}
}

// persistSnapshot writes the snapshot to the durable store and the cache.
// A durable-store failure is logged and left for reconciliation to repair
// from the cached copy.
func (e *Engine) persistSnapshot(ctx context.Context, c *domain.Confluence) {
	sctx, cancel := e.boundedCtx(ctx)
	err := e.confStore.Upsert(sctx, c)
	cancel()
	if err != nil {
		e.logger.Printf("persist %s: durable upsert failed: %v", c.TokenKey(), err)
	}

	if err := e.cache.SetConfluence(ctx, c); err != nil {
		e.logger.Printf("persist %s: cache write failed: %v", c.TokenKey(), err)
	}
}
