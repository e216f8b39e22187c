// Package confluence implements the detection engine: windowed ingestion
// with duplicate suppression, full-rebuild and fast-path detection, and the
// reconciliation protocol keeping the cache and the durable store in sync.
package confluence

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/Rengon0x/confluence-bot-sub000/internal/cache"
	"github.com/Rengon0x/confluence-bot-sub000/internal/domain"
	"github.com/Rengon0x/confluence-bot-sub000/internal/observability"
	"github.com/Rengon0x/confluence-bot-sub000/internal/settings"
	"github.com/Rengon0x/confluence-bot-sub000/internal/storage"
)

const (
	// defaultStoreTimeout bounds every durable-store call issued by the
	// engine. On timeout, ingestion aborts and detection degrades to
	// cache-only data.
	defaultStoreTimeout = 10 * time.Second

	// backfillMinCached: below this many cached transactions for a token,
	// the rebuild consults the durable store for the full window.
	backfillMinCached = 10

	// updateEpsilon is the minimum cumulative base-amount change that
	// counts as a material wallet update.
	updateEpsilon = 0.01

	// Duplicate suppression: two transactions in the same partition are
	// duplicates when their base amounts differ by less than 1% relative
	// (or dupAbsTolerance absolute when the baseline is zero) and their
	// timestamps fall within dupWindow.
	dupRelTolerance = 0.01
	dupAbsTolerance = 0.01
	dupWindow       = 30 * time.Second
)

// Engine is the confluence detection core. All public operations are safe
// for concurrent use; detection serializes per (group, token) key.
type Engine struct {
	txStore   storage.TransactionStore
	confStore storage.ConfluenceStore
	cache     *cache.Manager
	settings  *settings.Resolver
	logger    *log.Logger
	metrics   *observability.Metrics

	locks        *keyLocks
	storeTimeout time.Duration
	now          func() time.Time
}

// Config configures an Engine.
type Config struct {
	TransactionStore storage.TransactionStore
	ConfluenceStore  storage.ConfluenceStore
	Cache            *cache.Manager
	Settings         *settings.Resolver
	// Logger receives recovery and fallback reports. Nil discards.
	Logger *log.Logger
	// Metrics defaults to observability.DefaultMetrics.
	Metrics *observability.Metrics
	// StoreTimeout bounds durable-store calls. Zero means the default.
	StoreTimeout time.Duration
}

// NewEngine wires a detection engine from its stores and resolver.
func NewEngine(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.DefaultMetrics
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	return &Engine{
		txStore:      cfg.TransactionStore,
		confStore:    cfg.ConfluenceStore,
		cache:        cfg.Cache,
		settings:     cfg.Settings,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		locks:        newKeyLocks(),
		storeTimeout: cfg.StoreTimeout,
		now:          time.Now,
	}
}

// boundedCtx derives a deadline-bounded context for a durable-store call.
func (e *Engine) boundedCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.storeTimeout)
}

// SweepExpired runs one cache sweep pass. Invoked periodically by the host.
func (e *Engine) SweepExpired(ctx context.Context) {
	e.cache.SweepExpired(ctx)
	e.metrics.LastSuccessfulSweep.SetToCurrentTime()

	fp := e.cache.EstimateFootprint()
	observability.UpdateCacheFootprint(fp.KeyCount, fp.EntryCount, fp.EstimatedSizeMB*(1<<20))
}

// EstimateCacheFootprint reports the cache's key count, transaction count
// and estimated serialized size.
func (e *Engine) EstimateCacheFootprint() cache.Footprint {
	return e.cache.EstimateFootprint()
}

// DeactivateStale marks confluences untouched past the retention horizon
// as inactive in the durable store and drops their cached snapshots.
// Rows are never deleted. Invoked on a long period by the host.
func (e *Engine) DeactivateStale(ctx context.Context) {
	cutoff := e.now().Add(-domain.RetentionHorizon).UnixMilli()

	sctx, cancel := e.boundedCtx(ctx)
	n, err := e.confStore.DeactivateOlderThan(sctx, cutoff)
	cancel()
	if err != nil {
		e.logger.Printf("deactivation pass failed: %v", err)
		return
	}
	if n > 0 {
		e.metrics.ConfluencesDeactivated.Add(float64(n))
		e.logger.Printf("deactivated %d stale confluences", n)
	}

	keys, err := e.cache.ConfluenceKeys(ctx)
	if err != nil {
		e.logger.Printf("deactivation: listing cached snapshots failed: %v", err)
		return
	}
	for _, key := range keys {
		snap, err := e.cache.Confluence(ctx, key)
		if err != nil || snap == nil {
			continue
		}
		if snap.LastUpdatedAt < cutoff {
			if err := e.cache.DeleteConfluence(ctx, key); err != nil {
				e.logger.Printf("deactivation: dropping cached snapshot %s failed: %v", key, err)
			}
		}
	}
}
