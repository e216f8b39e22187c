package domain

import "testing"

func TestIsAddressLike(t *testing.T) {
	cases := []struct {
		input string
		want  bool
	}{
		{"So11111111111111111111111111111111111111112", true},
		{"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", true},
		{"TOK", false},
		{"", false},
		{"not-base58-0OIl!!", false},
		{"whale.sol", false},
	}

	for _, tc := range cases {
		if got := IsAddressLike(tc.input); got != tc.want {
			t.Errorf("IsAddressLike(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestIsWalletAddress(t *testing.T) {
	// System program ID is a valid curve point.
	if !IsWalletAddress("11111111111111111111111111111111") {
		t.Error("system program ID should pass the curve check")
	}
	if IsWalletAddress("shrimp #4") {
		t.Error("display names should not classify as wallet addresses")
	}
}
