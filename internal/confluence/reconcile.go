package confluence

import (
	"context"

	"github.com/Rengon0x/confluence-bot-sub000/internal/domain"
)

// Reconcile synchronizes cached confluence snapshots with the durable
// store. Where both hold a snapshot for the same key, the later
// LastUpdatedAt wins and overwrites the other; where only one side holds
// it, the snapshot is copied across. Runs periodically, independent of
// ingestion.
//
// Conflict resolution compares wall-clock timestamps, so under clock skew
// between writers a slightly stale snapshot can win. Accepted trade-off.
func (e *Engine) Reconcile(ctx context.Context) {
	sctx, cancel := e.boundedCtx(ctx)
	stored, err := e.confStore.ListActive(sctx, "")
	cancel()
	if err != nil {
		e.logger.Printf("reconcile: listing durable snapshots failed: %v", err)
		e.metrics.ReconcileRuns.WithLabelValues("error").Inc()
		return
	}

	storedByKey := make(map[domain.TokenKey]*domain.Confluence, len(stored))
	for _, c := range stored {
		storedByKey[c.TokenKey()] = c
	}

	cachedKeys, err := e.cache.ConfluenceKeys(ctx)
	if err != nil {
		e.logger.Printf("reconcile: listing cached snapshots failed: %v", err)
		e.metrics.ReconcileRuns.WithLabelValues("error").Inc()
		return
	}

	cachedSeen := make(map[domain.TokenKey]struct{}, len(cachedKeys))
	for _, key := range cachedKeys {
		snap, err := e.cache.Confluence(ctx, key)
		if err != nil || snap == nil {
			// Key vanished between listing and read; treat as absent.
			continue
		}
		cachedSeen[key] = struct{}{}

		durable, ok := storedByKey[key]
		switch {
		case !ok:
			// Cache-only snapshot: the durable write that should have
			// accompanied it was lost. Restore it.
			sctx, cancel := e.boundedCtx(ctx)
			err := e.confStore.Upsert(sctx, snap)
			cancel()
			if err != nil {
				e.logger.Printf("reconcile %s: restoring durable snapshot failed: %v", key, err)
				continue
			}
			e.metrics.ReconcileCopies.WithLabelValues("cache_to_durable").Inc()

		case durable.LastUpdatedAt > snap.LastUpdatedAt:
			if err := e.cache.SetConfluence(ctx, durable); err != nil {
				e.logger.Printf("reconcile %s: refreshing cached snapshot failed: %v", key, err)
				continue
			}
			e.metrics.ReconcileCopies.WithLabelValues("durable_to_cache").Inc()

		case durable.LastUpdatedAt < snap.LastUpdatedAt:
			sctx, cancel := e.boundedCtx(ctx)
			err := e.confStore.Upsert(sctx, snap)
			cancel()
			if err != nil {
				e.logger.Printf("reconcile %s: pushing cached snapshot failed: %v", key, err)
				continue
			}
			e.metrics.ReconcileCopies.WithLabelValues("cache_to_durable").Inc()
		}
	}

	// Durable-only snapshots: warm the cache so the fast path's cache
	// readers and emitters see them.
	for key, durable := range storedByKey {
		if _, ok := cachedSeen[key]; ok {
			continue
		}
		if err := e.cache.SetConfluence(ctx, durable); err != nil {
			e.logger.Printf("reconcile %s: warming cache failed: %v", key, err)
			continue
		}
		e.metrics.ReconcileCopies.WithLabelValues("durable_to_cache").Inc()
	}

	e.metrics.ReconcileRuns.WithLabelValues("ok").Inc()
	e.metrics.LastSuccessfulReconcile.SetToCurrentTime()
}
