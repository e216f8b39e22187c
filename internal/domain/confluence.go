package domain

// WalletAggregate is one wallet's accumulated position inside a confluence.
// Unique per wallet identity (address if known, else display name).
type WalletAggregate struct {
	WalletID          string  `json:"wallet_id"`
	DisplayName       string  `json:"display_name,omitempty"`
	CumulativeAmount  float64 `json:"cumulative_amount"`
	CumulativeQuote   float64 `json:"cumulative_quote"`
	CumulativeBase    float64 `json:"cumulative_base"`
	BuyAmount         float64 `json:"buy_amount"`
	BuyBaseAmount     float64 `json:"buy_base_amount"`
	SellAmount        float64 `json:"sell_amount"`
	SellBaseAmount    float64 `json:"sell_base_amount"`
	WeightedMarketCap float64 `json:"weighted_market_cap"`
	CurrentSide       string  `json:"current_side"`
	Updated           bool    `json:"updated,omitempty"`
	FromMetadata      bool    `json:"from_metadata,omitempty"`
}

// Accumulate folds one transaction into the aggregate.
// CurrentSide always reflects the most recent transaction; buy/sell
// sub-totals accumulate independently. WeightedMarketCap is a running
// average weighted by each transaction's base amount.
func (w *WalletAggregate) Accumulate(tx *Transaction) {
	prevWeight := w.CumulativeBase

	w.CumulativeAmount += tx.TokenAmount
	w.CumulativeQuote += tx.QuoteValue
	w.CumulativeBase += tx.BaseAmount

	switch tx.Side {
	case SideBuy:
		w.BuyAmount += tx.TokenAmount
		w.BuyBaseAmount += tx.BaseAmount
	case SideSell:
		w.SellAmount += tx.TokenAmount
		w.SellBaseAmount += tx.BaseAmount
	}

	if tx.MarketCapAtTime > 0 {
		totalWeight := prevWeight + tx.BaseAmount
		if totalWeight > 0 {
			w.WeightedMarketCap = (w.WeightedMarketCap*prevWeight + tx.MarketCapAtTime*tx.BaseAmount) / totalWeight
		} else {
			w.WeightedMarketCap = tx.MarketCapAtTime
		}
	}

	w.CurrentSide = tx.Side
	if tx.Synthesized {
		w.FromMetadata = true
	}
}

// Confluence is a detected event: at least minWallets distinct wallets
// transacting the same token within the group's window.
// One live instance per (group, token); superseded in place on update.
type Confluence struct {
	GroupID          string            `json:"group_id"`
	TokenAddress     string            `json:"token_address,omitempty"`
	TokenSymbol      string            `json:"token_symbol,omitempty"`
	PrimarySide      string            `json:"primary_side"`
	Wallets          []WalletAggregate `json:"wallets"` // first-appearance order, stable across updates
	TotalWallets     int               `json:"total_wallets"`
	BuyWalletCount   int               `json:"buy_wallet_count"`
	SellWalletCount  int               `json:"sell_wallet_count"`
	NonMetadataCount int               `json:"non_metadata_count"`
	TotalAmount      float64           `json:"total_amount"`
	TotalQuoteValue  float64           `json:"total_quote_value"`
	TotalBaseAmount  float64           `json:"total_base_amount"`
	AvgMarketCap     float64           `json:"avg_market_cap"`
	FirstDetectedAt  int64             `json:"first_detected_at"`
	LastUpdatedAt    int64             `json:"last_updated_at"`
	Active           bool              `json:"active"`
	ReliesOnBackfill bool              `json:"relies_on_backfill"`
}

// TokenKey returns the confluence's (group, token) identity.
func (c *Confluence) TokenKey() TokenKey {
	if c.TokenAddress != "" {
		return TokenKey{GroupID: c.GroupID, Kind: IDKindAddr, Identifier: c.TokenAddress}
	}
	return TokenKey{GroupID: c.GroupID, Kind: IDKindName, Identifier: c.TokenSymbol}
}

// Wallet returns a pointer to the aggregate for the given wallet identity,
// or nil when absent.
func (c *Confluence) Wallet(walletID string) *WalletAggregate {
	for i := range c.Wallets {
		if c.Wallets[i].WalletID == walletID {
			return &c.Wallets[i]
		}
	}
	return nil
}

// HasUpdates reports whether any wallet changed materially in the last pass.
func (c *Confluence) HasUpdates() bool {
	for i := range c.Wallets {
		if c.Wallets[i].Updated {
			return true
		}
	}
	return false
}

// RecomputeTotals rebuilds counters, sums and primary side from the wallet
// list, keeping the aggregate invariant: totals always equal the sum over
// current wallets. Tie on side counts resolves to buy.
func (c *Confluence) RecomputeTotals() {
	c.TotalWallets = len(c.Wallets)
	c.BuyWalletCount = 0
	c.SellWalletCount = 0
	c.NonMetadataCount = 0
	c.TotalAmount = 0
	c.TotalQuoteValue = 0
	c.TotalBaseAmount = 0

	var capSum float64
	var capCount int
	for i := range c.Wallets {
		w := &c.Wallets[i]
		switch w.CurrentSide {
		case SideBuy:
			c.BuyWalletCount++
		case SideSell:
			c.SellWalletCount++
		}
		if !w.FromMetadata {
			c.NonMetadataCount++
		}
		c.TotalAmount += w.CumulativeAmount
		c.TotalQuoteValue += w.CumulativeQuote
		c.TotalBaseAmount += w.CumulativeBase
		if w.WeightedMarketCap > 0 {
			capSum += w.WeightedMarketCap
			capCount++
		}
	}

	if capCount > 0 {
		c.AvgMarketCap = capSum / float64(capCount)
	} else {
		c.AvgMarketCap = 0
	}

	if c.BuyWalletCount >= c.SellWalletCount {
		c.PrimarySide = SideBuy
	} else {
		c.PrimarySide = SideSell
	}
}

// Clone returns a deep copy. Stores hand out copies so callers can mutate
// freely.
func (c *Confluence) Clone() *Confluence {
	dup := *c
	dup.Wallets = make([]WalletAggregate, len(c.Wallets))
	copy(dup.Wallets, c.Wallets)
	return &dup
}
