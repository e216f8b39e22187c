package domain

import (
	"testing"
)

func TestPartitionKey_RoundTrip(t *testing.T) {
	cases := []PartitionKey{
		{GroupID: "g1", Side: SideBuy, Kind: IDKindAddr, Identifier: "So11111111111111111111111111111111111111112"},
		{GroupID: "g2", Side: SideSell, Kind: IDKindName, Identifier: "TOK"},
		{GroupID: "g3", Side: SideBuy, Kind: IDKindName, Identifier: "WITH_UNDERSCORE"},
	}

	for _, key := range cases {
		parsed, err := ParsePartitionKey(key.String())
		if err != nil {
			t.Fatalf("ParsePartitionKey(%q) failed: %v", key.String(), err)
		}
		if parsed != key {
			t.Errorf("round trip mismatch: expected %+v, got %+v", key, parsed)
		}
	}
}

func TestPartitionKey_WireFormat(t *testing.T) {
	key := PartitionKey{GroupID: "group9", Side: SideBuy, Kind: IDKindName, Identifier: "TOK"}
	if got := key.String(); got != "group9_buy_name_TOK" {
		t.Errorf("unexpected wire format: %s", got)
	}
}

func TestParsePartitionKey_Invalid(t *testing.T) {
	invalid := []string{
		"",
		"g1_buy_name",       // too few segments
		"g1_hold_name_TOK",  // bad side
		"g1_buy_symbol_TOK", // bad id kind
	}
	for _, s := range invalid {
		if _, err := ParsePartitionKey(s); err == nil {
			t.Errorf("expected error for %q", s)
		}
	}
}

func TestPartitionKey_OppositeSide(t *testing.T) {
	key := PartitionKey{GroupID: "g1", Side: SideBuy, Kind: IDKindName, Identifier: "TOK"}
	flipped := key.OppositeSide()
	if flipped.Side != SideSell {
		t.Errorf("expected sell, got %s", flipped.Side)
	}
	if flipped.OppositeSide() != key {
		t.Error("double flip should restore the original key")
	}
}

func TestTokenKeyFor_PrefersAddress(t *testing.T) {
	tx := &Transaction{
		TokenAddress: "So11111111111111111111111111111111111111112",
		TokenSymbol:  "SOL",
		Side:         SideBuy,
	}
	key := TokenKeyFor("g1", tx)
	if key.Kind != IDKindAddr || key.Identifier != tx.TokenAddress {
		t.Errorf("expected address identity, got %+v", key)
	}

	tx.TokenAddress = ""
	key = TokenKeyFor("g1", tx)
	if key.Kind != IDKindName || key.Identifier != "SOL" {
		t.Errorf("expected symbol identity, got %+v", key)
	}
}
