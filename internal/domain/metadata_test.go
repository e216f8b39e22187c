package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOlderTransactionMetadata_AddAndSynthesize(t *testing.T) {
	key := PartitionKey{GroupID: "g1", Side: SideBuy, Kind: IDKindName, Identifier: "TOK"}
	meta := NewOlderTransactionMetadata(key)

	meta.Add(&Transaction{WalletID: "a", TokenAmount: 10, BaseAmount: 1, Timestamp: 1000})
	meta.Add(&Transaction{WalletID: "b", TokenAmount: 20, BaseAmount: 2, Timestamp: 3000})
	meta.Add(&Transaction{WalletID: "a", TokenAmount: 30, BaseAmount: 3, Timestamp: 2000})

	assert.Equal(t, 3, meta.Count)
	assert.Equal(t, []string{"a", "b"}, meta.WalletIDs)
	assert.Equal(t, int64(1000), meta.OldestTimestamp)
	assert.Equal(t, int64(3000), meta.NewestTimestamp)
	assert.Equal(t, 60.0, meta.TotalAmount)

	txs := meta.Synthesize()
	require.Len(t, txs, 2)
	for _, tx := range txs {
		assert.True(t, tx.Synthesized)
		assert.Equal(t, SideBuy, tx.Side)
		assert.Equal(t, "TOK", tx.TokenSymbol)
		assert.InDelta(t, 20.0, tx.TokenAmount, 1e-9) // 60 total over 3 transactions
		assert.Equal(t, int64(3000), tx.Timestamp)
	}
}

func TestOlderTransactionMetadata_SynthesizeEmpty(t *testing.T) {
	key := PartitionKey{GroupID: "g1", Side: SideSell, Kind: IDKindName, Identifier: "TOK"}
	meta := NewOlderTransactionMetadata(key)
	assert.Nil(t, meta.Synthesize())
}
