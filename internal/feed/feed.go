// Package feed delivers raw transaction events from external transports
// (WebSocket stream, Kafka topic) as decoded domain transactions. Feeds do
// not judge transactions; validation and dedup belong to the engine.
package feed

import (
	"encoding/json"
	"fmt"

	"github.com/Rengon0x/confluence-bot-sub000/internal/domain"
)

// TransactionMessage is the wire format both transports carry.
type TransactionMessage struct {
	WalletID        string  `json:"wallet_id"`
	WalletName      string  `json:"wallet_name,omitempty"`
	TokenAddress    string  `json:"token_address,omitempty"`
	TokenSymbol     string  `json:"token_symbol,omitempty"`
	Side            string  `json:"side"`
	TokenAmount     float64 `json:"token_amount"`
	QuoteValue      float64 `json:"quote_value"`
	BaseAmount      float64 `json:"base_amount"`
	BaseSymbol      string  `json:"base_symbol,omitempty"`
	MarketCapAtTime float64 `json:"market_cap,omitempty"`
	Timestamp       int64   `json:"timestamp"`
	GroupID         string  `json:"group_id"`
}

// Decode parses a wire message into a domain transaction.
func Decode(data []byte) (*domain.Transaction, error) {
	var msg TransactionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode transaction message: %w", err)
	}
	return msg.ToDomain(), nil
}

// ToDomain converts the wire message to its domain form. Upstream bots are
// loose about which field carries which identifier, so identities are
// classified by shape rather than trusted from the field names.
func (m *TransactionMessage) ToDomain() *domain.Transaction {
	tx := &domain.Transaction{
		WalletID:        m.WalletID,
		WalletName:      m.WalletName,
		TokenAddress:    m.TokenAddress,
		TokenSymbol:     m.TokenSymbol,
		Side:            m.Side,
		TokenAmount:     m.TokenAmount,
		QuoteValue:      m.QuoteValue,
		BaseAmount:      m.BaseAmount,
		BaseSymbol:      m.BaseSymbol,
		MarketCapAtTime: m.MarketCapAtTime,
		Timestamp:       m.Timestamp,
		GroupID:         m.GroupID,
	}

	// A mint pasted into the symbol field is really the token address;
	// a ticker in the address field is really a symbol.
	if tx.TokenAddress == "" && domain.IsAddressLike(tx.TokenSymbol) {
		tx.TokenAddress = tx.TokenSymbol
		tx.TokenSymbol = ""
	}
	if tx.TokenAddress != "" && !domain.IsAddressLike(tx.TokenAddress) {
		if tx.TokenSymbol == "" {
			tx.TokenSymbol = tx.TokenAddress
		}
		tx.TokenAddress = ""
	}

	// A display name in the id field must not masquerade as an address.
	// Promotion out of the name field is curve-checked: token mints may be
	// off-curve, wallet pubkeys never are.
	if tx.WalletID != "" && !domain.IsAddressLike(tx.WalletID) {
		if tx.WalletName == "" {
			tx.WalletName = tx.WalletID
		}
		tx.WalletID = ""
	}
	if tx.WalletID == "" && domain.IsWalletAddress(tx.WalletName) {
		tx.WalletID = tx.WalletName
		tx.WalletName = ""
	}

	return tx
}
