package confluence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rengon0x/confluence-bot-sub000/internal/domain"
	"github.com/Rengon0x/confluence-bot-sub000/internal/storage"
)

func snapshot(lastUpdated int64, wallets ...string) *domain.Confluence {
	c := &domain.Confluence{
		GroupID:      testGroup,
		TokenAddress: testToken,
		Active:       true,
	}
	for _, w := range wallets {
		c.Wallets = append(c.Wallets, domain.WalletAggregate{
			WalletID:       w,
			CurrentSide:    domain.SideBuy,
			CumulativeBase: 1,
		})
	}
	c.RecomputeTotals()
	c.FirstDetectedAt = lastUpdated
	c.LastUpdatedAt = lastUpdated
	return c
}

func TestReconcileRestoresDurableFromCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, env.cache.SetConfluence(ctx, snapshot(now, "w1", "w2")))

	env.engine.Reconcile(ctx)

	stored, err := env.confStore.GetActive(ctx, tokenKey())
	require.NoError(t, err)
	assert.Equal(t, 2, stored.TotalWallets)
}

func TestReconcileWarmsCacheFromDurable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, env.confStore.Upsert(ctx, snapshot(now, "w1", "w2")))

	env.engine.Reconcile(ctx)

	cached, err := env.cache.Confluence(ctx, tokenKey())
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 2, cached.TotalWallets)
}

func TestReconcileLaterWriterWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	// Cache is newer and holds an extra wallet.
	require.NoError(t, env.confStore.Upsert(ctx, snapshot(now-60_000, "w1", "w2")))
	require.NoError(t, env.cache.SetConfluence(ctx, snapshot(now, "w1", "w2", "w3")))

	env.engine.Reconcile(ctx)

	stored, err := env.confStore.GetActive(ctx, tokenKey())
	require.NoError(t, err)
	assert.Equal(t, 3, stored.TotalWallets, "newer cached snapshot overwrote the durable one")
}

func TestReconcileDurableNewerOverwritesCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, env.cache.SetConfluence(ctx, snapshot(now-60_000, "w1", "w2")))
	require.NoError(t, env.confStore.Upsert(ctx, snapshot(now, "w1", "w2", "w3")))

	env.engine.Reconcile(ctx)

	cached, err := env.cache.Confluence(ctx, tokenKey())
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 3, cached.TotalWallets)
}

func TestReconcileEqualTimestampsLeaveBothAlone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, env.confStore.Upsert(ctx, snapshot(now, "w1", "w2")))
	require.NoError(t, env.cache.SetConfluence(ctx, snapshot(now, "w1", "w2")))

	env.engine.Reconcile(ctx)

	stored, err := env.confStore.GetActive(ctx, tokenKey())
	require.NoError(t, err)
	assert.Equal(t, 2, stored.TotalWallets)
}

func TestDeactivateStaleMarksInactiveNeverDeletes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now()

	stale := snapshot(now.Add(-72*time.Hour).UnixMilli(), "w1", "w2")
	fresh := snapshot(now.UnixMilli(), "w1", "w2")
	fresh.TokenAddress = ""
	fresh.TokenSymbol = "FRESH"

	require.NoError(t, env.confStore.Upsert(ctx, stale))
	require.NoError(t, env.confStore.Upsert(ctx, fresh))
	require.NoError(t, env.cache.SetConfluence(ctx, stale))

	env.engine.DeactivateStale(ctx)

	_, err := env.confStore.GetActive(ctx, tokenKey())
	assert.ErrorIs(t, err, storage.ErrNotFound, "stale confluence no longer active")

	freshKey := domain.TokenKey{GroupID: testGroup, Kind: domain.IDKindName, Identifier: "FRESH"}
	kept, err := env.confStore.GetActive(ctx, freshKey)
	require.NoError(t, err)
	assert.True(t, kept.Active)

	cached, err := env.cache.Confluence(ctx, tokenKey())
	require.NoError(t, err)
	assert.Nil(t, cached, "stale cached snapshot dropped")
}

func TestSweepExpiredRemovesOnlyOutOfWindowTransactions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	key := domain.PartitionKey{GroupID: testGroup, Side: domain.SideBuy, Kind: domain.IDKindAddr, Identifier: testToken}
	fresh := *buyTx("w1", now-10*60*1000, 1.0)
	stale := *buyTx("w2", now-2*60*60*1000, 2.0)
	require.NoError(t, env.cache.SetTransactions(ctx, key, []domain.Transaction{stale, fresh}))

	env.engine.SweepExpired(ctx)

	remaining, err := env.cache.Transactions(ctx, key)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "w1", remaining[0].WalletID)
}
