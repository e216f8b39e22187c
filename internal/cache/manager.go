package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/Rengon0x/confluence-bot-sub000/internal/domain"
	"github.com/Rengon0x/confluence-bot-sub000/internal/observability"
	"github.com/Rengon0x/confluence-bot-sub000/internal/settings"
)

const (
	// txKeyPrefix namespaces cached transaction lists.
	txKeyPrefix = "txs:"
	// confKeyPrefix namespaces cached confluence snapshots.
	confKeyPrefix = "conf:"

	// DefaultMaxBytes is the emergency eviction threshold.
	DefaultMaxBytes = 100 << 20 // 100MB

	// evictFraction is the share of keys dropped per emergency eviction,
	// worst score first.
	evictFraction = 0.30

	// Removal score weights: a key scores higher the more transactions it
	// holds and the longer since its newest transaction.
	scoreCountWeight = 0.3
	scoreAgeWeight   = 0.7
)

// partitionMeta is lightweight per-key bookkeeping kept alongside the
// store so sweeps and eviction can score keys without deserializing them.
type partitionMeta struct {
	key         domain.PartitionKey
	count       int
	newest      int64 // newest transaction timestamp (ms)
	size        int64 // serialized bytes
	lastUpdated int64 // wall clock of last write (ms)
}

// Manager is the windowed cache: bounded-lifetime transaction lists keyed
// by partition, confluence snapshots keyed by (group, token), a periodic
// time sweep, and size-bounded emergency eviction. Evicted transactions
// still inside the detection horizon are rolled up into
// OlderTransactionMetadata for the detector.
type Manager struct {
	store    Store
	settings *settings.Resolver
	logger   *log.Logger
	maxBytes int64

	mu      sync.Mutex
	meta    map[string]partitionMeta
	rollups map[string]*domain.OlderTransactionMetadata

	// locks serializes list rewrites per key; m.mu guards only the maps.
	locks *keyLocks

	now func() time.Time
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// MaxBytes is the emergency eviction threshold. Zero means DefaultMaxBytes.
	MaxBytes int64
	// Logger receives sweep and eviction reports. Nil discards.
	Logger *log.Logger
}

// NewManager creates a windowed cache manager over the given store.
func NewManager(store Store, resolver *settings.Resolver, cfg ManagerConfig) *Manager {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	return &Manager{
		store:    store,
		settings: resolver,
		logger:   cfg.Logger,
		maxBytes: cfg.MaxBytes,
		meta:     make(map[string]partitionMeta),
		rollups:  make(map[string]*domain.OlderTransactionMetadata),
		locks:    newKeyLocks(),
		now:      time.Now,
	}
}

// Transactions returns the cached list for a partition. A missing key is
// an empty partition, not an error.
func (m *Manager) Transactions(ctx context.Context, key domain.PartitionKey) ([]domain.Transaction, error) {
	data, err := m.store.Get(ctx, txKeyPrefix+key.String())
	if err != nil {
		if err == ErrMiss {
			return nil, nil
		}
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}

	var txs []domain.Transaction
	if err := json.Unmarshal(data, &txs); err != nil {
		return nil, fmt.Errorf("decode cached partition %s: %w", key, err)
	}
	return txs, nil
}

// SetTransactions replaces the cached list for a partition.
func (m *Manager) SetTransactions(ctx context.Context, key domain.PartitionKey, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return m.Delete(ctx, key)
	}

	data, err := json.Marshal(txs)
	if err != nil {
		return fmt.Errorf("encode partition %s: %w", key, err)
	}
	if err := m.store.Set(ctx, txKeyPrefix+key.String(), data, domain.RetentionHorizon); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}

	var newest int64
	for i := range txs {
		if txs[i].Timestamp > newest {
			newest = txs[i].Timestamp
		}
	}

	m.mu.Lock()
	m.meta[key.String()] = partitionMeta{
		key:         key,
		count:       len(txs),
		newest:      newest,
		size:        int64(len(data)),
		lastUpdated: m.now().UnixMilli(),
	}
	m.mu.Unlock()

	return nil
}

// Append adds one transaction to a partition, lazily creating the list,
// and triggers emergency eviction when the cache outgrows its budget.
// The get/append/set cycle holds the key's lock so concurrent appenders
// and the sweep cannot clobber each other's rewrite.
func (m *Manager) Append(ctx context.Context, key domain.PartitionKey, tx domain.Transaction) error {
	unlock := m.locks.Lock(key.String())
	txs, err := m.Transactions(ctx, key)
	if err != nil {
		unlock()
		return err
	}
	txs = append(txs, tx)
	err = m.SetTransactions(ctx, key, txs)
	unlock()
	if err != nil {
		return err
	}

	if m.estimatedBytes() > m.maxBytes {
		m.evictOversize(ctx)
	}
	return nil
}

// Delete removes a partition and its bookkeeping.
func (m *Manager) Delete(ctx context.Context, key domain.PartitionKey) error {
	if err := m.store.Delete(ctx, txKeyPrefix+key.String()); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	m.mu.Lock()
	delete(m.meta, key.String())
	m.mu.Unlock()
	return nil
}

// Keys lists all cached partition keys.
func (m *Manager) Keys(ctx context.Context) ([]domain.PartitionKey, error) {
	raw, err := m.store.Keys(ctx, txKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("cache keys: %w", err)
	}

	keys := make([]domain.PartitionKey, 0, len(raw))
	for _, s := range raw {
		key, err := domain.ParsePartitionKey(s[len(txKeyPrefix):])
		if err != nil {
			m.logger.Printf("skipping unparseable cache key %q: %v", s, err)
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

// KeysForGroup lists cached partition keys for one group.
func (m *Manager) KeysForGroup(ctx context.Context, groupID string) ([]domain.PartitionKey, error) {
	keys, err := m.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var scoped []domain.PartitionKey
	for _, key := range keys {
		if key.GroupID == groupID {
			scoped = append(scoped, key)
		}
	}
	return scoped, nil
}

// Metadata returns the eviction rollup for a partition, or nil.
func (m *Manager) Metadata(key domain.PartitionKey) *domain.OlderTransactionMetadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rollups[key.String()]
}

// SweepExpired drops transactions older than their group's window,
// deleting keys that become empty, then prunes rollups that fell out of
// the detection horizon.
func (m *Manager) SweepExpired(ctx context.Context) {
	keys, err := m.Keys(ctx)
	if err != nil {
		m.logger.Printf("sweep: listing keys failed: %v", err)
		return
	}

	byGroup := make(map[string][]domain.PartitionKey)
	for _, key := range keys {
		byGroup[key.GroupID] = append(byGroup[key.GroupID], key)
	}

	now := m.now()
	var dropped, deleted int
	for groupID, groupKeys := range byGroup {
		window := time.Duration(m.settings.WindowMinutes(ctx, groupID)) * time.Minute
		cutoff := now.Add(-window).UnixMilli()

		for _, key := range groupKeys {
			unlock := m.locks.Lock(key.String())
			txs, err := m.Transactions(ctx, key)
			if err != nil {
				unlock()
				m.logger.Printf("sweep: reading %s failed: %v", key, err)
				continue
			}

			kept := txs[:0]
			for _, tx := range txs {
				if tx.Timestamp >= cutoff {
					kept = append(kept, tx)
				}
			}
			if len(kept) == len(txs) {
				unlock()
				continue
			}

			dropped += len(txs) - len(kept)
			if len(kept) == 0 {
				deleted++
			}
			if err := m.SetTransactions(ctx, key, kept); err != nil {
				m.logger.Printf("sweep: rewriting %s failed: %v", key, err)
			}
			unlock()
		}
	}

	m.pruneRollups(now)

	if dropped > 0 {
		observability.RecordSweepDropped(dropped)
		m.logger.Printf("sweep: dropped %d expired transactions, deleted %d empty keys", dropped, deleted)
	}

	if m.estimatedBytes() > m.maxBytes {
		m.evictOversize(ctx)
	}
}

// evictOversize is the emergency eviction: scores every key, deletes the
// worst 30%, and rolls evicted transactions still inside the detection
// horizon into per-partition metadata. Best-effort data loss; evicted
// partitions fall back to durable-store backfill.
func (m *Manager) evictOversize(ctx context.Context) {
	now := m.now()

	type scored struct {
		key   domain.PartitionKey
		score float64
	}

	m.mu.Lock()
	candidates := make([]scored, 0, len(m.meta))
	for _, pm := range m.meta {
		ageSeconds := float64(now.UnixMilli()-pm.newest) / 1000
		if ageSeconds < 0 {
			ageSeconds = 0
		}
		candidates = append(candidates, scored{
			key:   pm.key,
			score: scoreCountWeight*float64(pm.count) + scoreAgeWeight*ageSeconds,
		})
	}
	m.mu.Unlock()

	if len(candidates) == 0 {
		return
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	evictCount := int(float64(len(candidates)) * evictFraction)
	if evictCount == 0 {
		evictCount = 1
	}

	horizonCutoff := now.Add(-domain.RetentionHorizon).UnixMilli()
	var rolledUp int
	for _, c := range candidates[:evictCount] {
		unlock := m.locks.Lock(c.key.String())
		txs, err := m.Transactions(ctx, c.key)
		if err == nil && len(txs) > 0 {
			m.mu.Lock()
			rollup := m.rollups[c.key.String()]
			if rollup == nil {
				rollup = domain.NewOlderTransactionMetadata(c.key)
				m.rollups[c.key.String()] = rollup
			}
			for i := range txs {
				if txs[i].Timestamp >= horizonCutoff {
					rollup.Add(&txs[i])
					rolledUp++
				}
			}
			m.mu.Unlock()
		}

		if err := m.Delete(ctx, c.key); err != nil {
			m.logger.Printf("eviction: deleting %s failed: %v", c.key, err)
		}
		unlock()
	}

	observability.RecordEviction(evictCount)
	m.logger.Printf("emergency eviction: removed %d of %d keys, rolled up %d transactions", evictCount, len(candidates), rolledUp)
}

// pruneRollups drops rollups whose newest transaction left the horizon.
func (m *Manager) pruneRollups(now time.Time) {
	cutoff := now.Add(-domain.RetentionHorizon).UnixMilli()
	m.mu.Lock()
	for k, rollup := range m.rollups {
		if rollup.NewestTimestamp < cutoff {
			delete(m.rollups, k)
		}
	}
	m.mu.Unlock()
}

// Footprint summarizes the cache for monitoring.
type Footprint struct {
	KeyCount        int
	EntryCount      int
	EstimatedSizeMB float64
}

// EstimateFootprint reports key count, transaction count and estimated size.
func (m *Manager) EstimateFootprint() Footprint {
	m.mu.Lock()
	defer m.mu.Unlock()

	fp := Footprint{KeyCount: len(m.meta)}
	var bytes int64
	for _, pm := range m.meta {
		fp.EntryCount += pm.count
		bytes += pm.size
	}
	fp.EstimatedSizeMB = float64(bytes) / (1 << 20)
	return fp
}

func (m *Manager) estimatedBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var bytes int64
	for _, pm := range m.meta {
		bytes += pm.size
	}
	return bytes
}

// SetConfluence caches a confluence snapshot for its (group, token) key.
func (m *Manager) SetConfluence(ctx context.Context, c *domain.Confluence) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode confluence snapshot: %w", err)
	}
	key := confKeyPrefix + c.TokenKey().String()
	if err := m.store.Set(ctx, key, data, domain.RetentionHorizon); err != nil {
		return fmt.Errorf("cache confluence %s: %w", c.TokenKey(), err)
	}
	return nil
}

// Confluence returns the cached snapshot for a (group, token) key, or nil.
func (m *Manager) Confluence(ctx context.Context, key domain.TokenKey) (*domain.Confluence, error) {
	data, err := m.store.Get(ctx, confKeyPrefix+key.String())
	if err != nil {
		if err == ErrMiss {
			return nil, nil
		}
		return nil, fmt.Errorf("cache get confluence %s: %w", key, err)
	}

	var c domain.Confluence
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode confluence snapshot %s: %w", key, err)
	}
	return &c, nil
}

// ConfluenceKeys lists all cached confluence snapshot keys.
func (m *Manager) ConfluenceKeys(ctx context.Context) ([]domain.TokenKey, error) {
	raw, err := m.store.Keys(ctx, confKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("cache confluence keys: %w", err)
	}

	keys := make([]domain.TokenKey, 0, len(raw))
	for _, s := range raw {
		key, err := domain.ParseTokenKey(s[len(confKeyPrefix):])
		if err != nil {
			m.logger.Printf("skipping unparseable snapshot key %q: %v", s, err)
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

// DeleteConfluence removes a cached snapshot.
func (m *Manager) DeleteConfluence(ctx context.Context, key domain.TokenKey) error {
	return m.store.Delete(ctx, confKeyPrefix+key.String())
}
