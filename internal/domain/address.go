package domain

import (
	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// IsAddressLike reports whether s looks like an on-chain address:
// a base58 string decoding to exactly 32 bytes.
// Token mints and wallet pubkeys both satisfy this; tickers and display
// names do not.
func IsAddressLike(s string) bool {
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	decoded, err := base58.Decode(s)
	if err != nil {
		return false
	}
	return len(decoded) == 32
}

// IsWalletAddress reports whether s is a plausible wallet address:
// address-like and a valid ed25519 curve point. PDAs and token mints may
// be off-curve, so this is stricter than IsAddressLike.
func IsWalletAddress(s string) bool {
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	decoded, err := base58.Decode(s)
	if err != nil || len(decoded) != 32 {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(decoded)
	return err == nil
}
