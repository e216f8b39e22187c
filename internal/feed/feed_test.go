package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rengon0x/confluence-bot-sub000/internal/domain"
)

func TestDecodeFullMessage(t *testing.T) {
	data := []byte(`{
		"wallet_id": "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
		"wallet_name": "whale-3",
		"token_address": "So11111111111111111111111111111111111111112",
		"token_symbol": "SOL",
		"side": "buy",
		"token_amount": 1500.5,
		"quote_value": 225.25,
		"base_amount": 1.5,
		"base_symbol": "SOL",
		"market_cap": 1000000,
		"timestamp": 1756700000000,
		"group_id": "g1"
	}`)

	tx, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", tx.WalletID)
	assert.Equal(t, "whale-3", tx.WalletName)
	assert.Equal(t, domain.SideBuy, tx.Side)
	assert.InDelta(t, 1500.5, tx.TokenAmount, 1e-9)
	assert.InDelta(t, 1.5, tx.BaseAmount, 1e-9)
	assert.Equal(t, int64(1756700000000), tx.Timestamp)
	assert.Equal(t, "g1", tx.GroupID)
	assert.False(t, tx.Synthesized)
}

func TestDecodeSymbolOnlyToken(t *testing.T) {
	data := []byte(`{"wallet_id":"w1","token_symbol":"TOK","side":"sell","base_amount":2,"timestamp":1,"group_id":"g1"}`)

	tx, err := Decode(data)
	require.NoError(t, err)

	id, kind := tx.TokenIdentity()
	assert.Equal(t, "TOK", id)
	assert.Equal(t, domain.IDKindName, kind)
}

func TestDecodeClassifiesTokenIdentifiers(t *testing.T) {
	// Mint pasted into the symbol field becomes the token address.
	data := []byte(`{"wallet_id":"w1","token_symbol":"So11111111111111111111111111111111111111112","side":"buy","base_amount":1,"timestamp":1,"group_id":"g1"}`)
	tx, err := Decode(data)
	require.NoError(t, err)
	id, kind := tx.TokenIdentity()
	assert.Equal(t, domain.IDKindAddr, kind)
	assert.Equal(t, "So11111111111111111111111111111111111111112", id)
	assert.Empty(t, tx.TokenSymbol)

	// A ticker in the address field is demoted to symbol.
	data = []byte(`{"wallet_id":"w1","token_address":"TOK","side":"buy","base_amount":1,"timestamp":1,"group_id":"g1"}`)
	tx, err = Decode(data)
	require.NoError(t, err)
	id, kind = tx.TokenIdentity()
	assert.Equal(t, domain.IDKindName, kind)
	assert.Equal(t, "TOK", id)
	assert.Empty(t, tx.TokenAddress)
}

func TestDecodeClassifiesWalletIdentifiers(t *testing.T) {
	// A display name in the id field keeps the name as identity.
	data := []byte(`{"wallet_id":"whale-3","token_symbol":"TOK","side":"buy","base_amount":1,"timestamp":1,"group_id":"g1"}`)
	tx, err := Decode(data)
	require.NoError(t, err)
	assert.Empty(t, tx.WalletID)
	assert.Equal(t, "whale-3", tx.WalletIdentity())

	// A wallet address in the name field is promoted to the id.
	data = []byte(`{"wallet_name":"11111111111111111111111111111111","token_symbol":"TOK","side":"buy","base_amount":1,"timestamp":1,"group_id":"g1"}`)
	tx, err = Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "11111111111111111111111111111111", tx.WalletID)
	assert.Empty(t, tx.WalletName)
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"wallet_id": `))
	assert.Error(t, err)
}

func TestDecodeUnknownFieldsIgnored(t *testing.T) {
	data := []byte(`{"wallet_id":"w1","token_symbol":"TOK","side":"buy","timestamp":1,"group_id":"g1","exchange":"jupiter"}`)

	tx, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "w1", tx.WalletIdentity())
}
