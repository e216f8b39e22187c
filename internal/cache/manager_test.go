package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rengon0x/confluence-bot-sub000/internal/domain"
	"github.com/Rengon0x/confluence-bot-sub000/internal/observability"
	"github.com/Rengon0x/confluence-bot-sub000/internal/settings"
)

func newTestManager(t *testing.T, cfg ManagerConfig) *Manager {
	t.Helper()
	provider := settings.NewStaticProvider(map[string]domain.GroupSettings{
		"g1": {GroupID: "g1", MinWallets: 2, WindowMinutes: 60},
	})
	return NewManager(NewMemoryStore(), settings.NewResolver(provider, nil), cfg)
}

func testTx(wallet string, ts int64) domain.Transaction {
	return domain.Transaction{
		WalletID:     wallet,
		TokenAddress: "So11111111111111111111111111111111111111112",
		Side:         domain.SideBuy,
		TokenAmount:  100,
		BaseAmount:   1.5,
		Timestamp:    ts,
		GroupID:      "g1",
	}
}

func testKey() domain.PartitionKey {
	return domain.PartitionKey{
		GroupID:    "g1",
		Side:       domain.SideBuy,
		Kind:       domain.IDKindAddr,
		Identifier: "So11111111111111111111111111111111111111112",
	}
}

func TestManagerAppendAndRead(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	ctx := context.Background()
	key := testKey()

	txs, err := m.Transactions(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, txs, "missing key reads as empty partition")

	now := time.Now().UnixMilli()
	require.NoError(t, m.Append(ctx, key, testTx("w1", now)))
	require.NoError(t, m.Append(ctx, key, testTx("w2", now+1)))

	txs, err = m.Transactions(ctx, key)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "w1", txs[0].WalletID, "insertion order preserved")
	assert.Equal(t, "w2", txs[1].WalletID)
}

func TestManagerConcurrentAppendsRetainAll(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	ctx := context.Background()
	key := testKey()
	now := time.Now().UnixMilli()

	const writers = 64
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, m.Append(ctx, key, testTx(fmt.Sprintf("w%d", i), now+int64(i))))
		}(i)
	}
	wg.Wait()

	txs, err := m.Transactions(ctx, key)
	require.NoError(t, err)
	assert.Len(t, txs, writers, "no append may overwrite another")
}

func TestManagerSweepDoesNotClobberConcurrentAppends(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	ctx := context.Background()
	key := testKey()
	now := time.Now().UnixMilli()
	stale := now - (2 * time.Hour).Milliseconds()

	// Sweeps rewrite the list while appends extend it; interleaving stale
	// transactions keeps every sweep pass busy dropping something.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			m.SweepExpired(ctx)
		}
	}()

	const fresh = 32
	for i := 0; i < fresh; i++ {
		assert.NoError(t, m.Append(ctx, key, testTx(fmt.Sprintf("fresh%d", i), now+int64(i))))
		assert.NoError(t, m.Append(ctx, key, testTx(fmt.Sprintf("stale%d", i), stale+int64(i))))
	}
	<-done
	m.SweepExpired(ctx)

	txs, err := m.Transactions(ctx, key)
	require.NoError(t, err)
	require.Len(t, txs, fresh, "every in-window transaction survives a concurrent sweep")
	for _, tx := range txs {
		assert.GreaterOrEqual(t, tx.Timestamp, now)
	}
}

func TestManagerSetEmptyDeletes(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	ctx := context.Background()
	key := testKey()

	require.NoError(t, m.Append(ctx, key, testTx("w1", time.Now().UnixMilli())))
	require.NoError(t, m.SetTransactions(ctx, key, nil))

	keys, err := m.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestManagerKeysForGroup(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	ctx := context.Background()
	now := time.Now().UnixMilli()

	k1 := testKey()
	k2 := testKey()
	k2.GroupID = "g2"
	tx2 := testTx("w1", now)
	tx2.GroupID = "g2"

	require.NoError(t, m.Append(ctx, k1, testTx("w1", now)))
	require.NoError(t, m.Append(ctx, k2, tx2))

	keys, err := m.KeysForGroup(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "g1", keys[0].GroupID)

	all, err := m.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestManagerSweepDropsExpired(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	ctx := context.Background()
	key := testKey()

	base := time.Now()
	m.now = func() time.Time { return base }

	// Window for g1 is 60 minutes: one transaction inside, one outside.
	fresh := testTx("w1", base.Add(-10*time.Minute).UnixMilli())
	stale := testTx("w2", base.Add(-2*time.Hour).UnixMilli())
	require.NoError(t, m.SetTransactions(ctx, key, []domain.Transaction{stale, fresh}))

	droppedBefore := testutil.ToFloat64(observability.DefaultMetrics.SweepDroppedTotal)

	m.SweepExpired(ctx)

	txs, err := m.Transactions(ctx, key)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "w1", txs[0].WalletID)
	assert.Equal(t, droppedBefore+1, testutil.ToFloat64(observability.DefaultMetrics.SweepDroppedTotal))
}

func TestManagerSweepDeletesEmptyKeys(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	ctx := context.Background()
	key := testKey()

	base := time.Now()
	m.now = func() time.Time { return base }

	stale := testTx("w1", base.Add(-3*time.Hour).UnixMilli())
	require.NoError(t, m.SetTransactions(ctx, key, []domain.Transaction{stale}))

	m.SweepExpired(ctx)

	keys, err := m.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys, "fully expired key removed")
}

func TestManagerSweepUsesGroupWindow(t *testing.T) {
	provider := settings.NewStaticProvider(map[string]domain.GroupSettings{
		"short": {GroupID: "short", MinWallets: 2, WindowMinutes: 5},
		"long":  {GroupID: "long", MinWallets: 2, WindowMinutes: 240},
	})
	m := NewManager(NewMemoryStore(), settings.NewResolver(provider, nil), ManagerConfig{})
	ctx := context.Background()

	base := time.Now()
	m.now = func() time.Time { return base }

	ts := base.Add(-30 * time.Minute).UnixMilli()
	for _, group := range []string{"short", "long"} {
		key := testKey()
		key.GroupID = group
		tx := testTx("w1", ts)
		tx.GroupID = group
		require.NoError(t, m.SetTransactions(ctx, key, []domain.Transaction{tx}))
	}

	m.SweepExpired(ctx)

	short, err := m.KeysForGroup(ctx, "short")
	require.NoError(t, err)
	assert.Empty(t, short, "30m-old transaction is out of a 5m window")

	long, err := m.KeysForGroup(ctx, "long")
	require.NoError(t, err)
	assert.Len(t, long, 1, "still inside the 240m window")
}

func TestManagerEmergencyEviction(t *testing.T) {
	// Tiny budget so the second append tips the cache over.
	m := newTestManager(t, ManagerConfig{MaxBytes: 1})
	ctx := context.Background()

	base := time.Now()
	m.now = func() time.Time { return base }

	// Ten keys with ascending staleness: key i's newest transaction is
	// i minutes old, so higher i scores higher and is evicted first.
	keys := make([]domain.PartitionKey, 10)
	for i := range keys {
		keys[i] = testKey()
		keys[i].Identifier = keys[i].Identifier[:40] + string(rune('a'+i))

		ts := base.Add(-time.Duration(i) * time.Minute).UnixMilli()
		require.NoError(t, m.SetTransactions(ctx, keys[i], []domain.Transaction{testTx("w1", ts)}))
	}

	passes := testutil.ToFloat64(observability.DefaultMetrics.EmergencyEvictions)
	evicted := testutil.ToFloat64(observability.DefaultMetrics.EvictedKeysTotal)

	m.evictOversize(ctx)

	remaining, err := m.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, 7, "worst-scoring 30 percent evicted")
	assert.Equal(t, passes+1, testutil.ToFloat64(observability.DefaultMetrics.EmergencyEvictions))
	assert.Equal(t, evicted+3, testutil.ToFloat64(observability.DefaultMetrics.EvictedKeysTotal))

	// The three stalest keys are gone, the freshest survive.
	for _, key := range remaining {
		for i := 7; i < 10; i++ {
			assert.NotEqual(t, keys[i].String(), key.String())
		}
	}
}

func TestManagerEvictionBuildsRollup(t *testing.T) {
	m := newTestManager(t, ManagerConfig{MaxBytes: 1})
	ctx := context.Background()
	key := testKey()

	base := time.Now()
	m.now = func() time.Time { return base }

	inHorizon := testTx("w1", base.Add(-1*time.Hour).UnixMilli())
	outHorizon := testTx("w2", base.Add(-72*time.Hour).UnixMilli())
	require.NoError(t, m.SetTransactions(ctx, key, []domain.Transaction{inHorizon, outHorizon}))

	m.evictOversize(ctx)

	rollup := m.Metadata(key)
	require.NotNil(t, rollup)
	assert.Equal(t, 1, rollup.Count, "only in-horizon transactions rolled up")
	assert.Equal(t, []string{"w1"}, rollup.WalletIDs)

	txs, err := m.Transactions(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, txs, "evicted key is gone from the store")
}

func TestManagerSweepPrunesStaleRollups(t *testing.T) {
	m := newTestManager(t, ManagerConfig{MaxBytes: 1})
	ctx := context.Background()
	key := testKey()

	base := time.Now()
	m.now = func() time.Time { return base }

	tx := testTx("w1", base.Add(-47*time.Hour).UnixMilli())
	require.NoError(t, m.SetTransactions(ctx, key, []domain.Transaction{tx}))
	m.evictOversize(ctx)
	require.NotNil(t, m.Metadata(key))

	// Advance past the horizon: the rollup's newest entry is now too old.
	m.now = func() time.Time { return base.Add(2 * time.Hour) }
	m.SweepExpired(ctx)

	assert.Nil(t, m.Metadata(key))
}

func TestManagerFootprint(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	ctx := context.Background()
	key := testKey()

	fp := m.EstimateFootprint()
	assert.Zero(t, fp.KeyCount)

	now := time.Now().UnixMilli()
	require.NoError(t, m.Append(ctx, key, testTx("w1", now)))
	require.NoError(t, m.Append(ctx, key, testTx("w2", now+1)))

	fp = m.EstimateFootprint()
	assert.Equal(t, 1, fp.KeyCount)
	assert.Equal(t, 2, fp.EntryCount)
	assert.Greater(t, fp.EstimatedSizeMB, 0.0)
}

func TestManagerConfluenceSnapshots(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	ctx := context.Background()

	key := domain.TokenKey{GroupID: "g1", Kind: domain.IDKindAddr, Identifier: "So11111111111111111111111111111111111111112"}

	got, err := m.Confluence(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got, "missing snapshot is nil, not an error")

	c := &domain.Confluence{
		GroupID:      "g1",
		TokenAddress: key.Identifier,
		Wallets: []domain.WalletAggregate{
			{WalletID: "w1", CurrentSide: domain.SideBuy},
			{WalletID: "w2", CurrentSide: domain.SideBuy},
		},
		Active: true,
	}
	require.NoError(t, m.SetConfluence(ctx, c))

	got, err = m.Confluence(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "g1", got.GroupID)
	require.Len(t, got.Wallets, 2)
	assert.Equal(t, "w1", got.Wallets[0].WalletID)

	keys, err := m.ConfluenceKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key, keys[0])

	require.NoError(t, m.DeleteConfluence(ctx, key))
	got, err = m.Confluence(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)
}
