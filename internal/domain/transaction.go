package domain

// Transaction represents a single wallet trade for a token inside a group.
// Corresponds to the transactions table in PostgreSQL and to cache entries.
// Immutable once created.
type Transaction struct {
	WalletID        string  // wallet address, or display name when no address is known
	WalletName      string  // human-readable wallet name (may be empty)
	TokenAddress    string  // token mint/contract address (preferred identity)
	TokenSymbol     string  // token ticker symbol (fallback identity)
	Side            string  // "buy" | "sell"
	TokenAmount     float64 // token units traded
	QuoteValue      float64 // fiat-equivalent value of the trade
	BaseAmount      float64 // base currency amount (e.g. SOL)
	BaseSymbol      string  // base currency symbol
	MarketCapAtTime float64 // token market cap at trade time
	Timestamp       int64   // Unix timestamp in milliseconds
	GroupID         string  // owning group
	Synthesized     bool    // true when reconstructed from an eviction rollup
}

// Transaction side constants
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// ValidSide reports whether s is a recognized transaction side.
func ValidSide(s string) bool {
	return s == SideBuy || s == SideSell
}

// WalletIdentity returns the identity used for wallet dedup: the address
// when one is known, otherwise the display name.
func (t *Transaction) WalletIdentity() string {
	if t.WalletID != "" {
		return t.WalletID
	}
	return t.WalletName
}

// TokenIdentity returns the token identity: address when present,
// otherwise symbol.
func (t *Transaction) TokenIdentity() (identifier string, kind IDKind) {
	if t.TokenAddress != "" {
		return t.TokenAddress, IDKindAddr
	}
	return t.TokenSymbol, IDKindName
}
