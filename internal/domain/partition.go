package domain

import (
	"fmt"
	"strings"
)

// IDKind discriminates how a token is identified inside a partition key.
type IDKind string

const (
	// IDKindAddr means the identifier is a token address.
	IDKindAddr IDKind = "addr"
	// IDKindName means the identifier is a token symbol.
	IDKindName IDKind = "name"
)

// PartitionKey is the aggregation unit for raw transactions:
// one key per (group, side, token identity).
// The struct is the in-memory identity; String produces the stable
// wire encoding used at the cache/store boundary.
type PartitionKey struct {
	GroupID    string
	Side       string
	Kind       IDKind
	Identifier string
}

// NewPartitionKey computes the partition key for a transaction.
func NewPartitionKey(groupID string, tx *Transaction) PartitionKey {
	identifier, kind := tx.TokenIdentity()
	return PartitionKey{
		GroupID:    groupID,
		Side:       tx.Side,
		Kind:       kind,
		Identifier: identifier,
	}
}

// String encodes the key in the stable wire format:
// {groupId}_{side}_{addr|name}_{identifier}
func (k PartitionKey) String() string {
	return fmt.Sprintf("%s_%s_%s_%s", k.GroupID, k.Side, k.Kind, k.Identifier)
}

// OppositeSide returns the same key with the side flipped.
func (k PartitionKey) OppositeSide() PartitionKey {
	flipped := k
	if k.Side == SideBuy {
		flipped.Side = SideSell
	} else {
		flipped.Side = SideBuy
	}
	return flipped
}

// ParsePartitionKey is the inverse of PartitionKey.String.
// Identifiers may themselves contain underscores, so the split is bounded
// to the first three separators.
func ParsePartitionKey(s string) (PartitionKey, error) {
	parts := strings.SplitN(s, "_", 4)
	if len(parts) != 4 {
		return PartitionKey{}, fmt.Errorf("malformed partition key: %q", s)
	}

	key := PartitionKey{
		GroupID:    parts[0],
		Side:       parts[1],
		Kind:       IDKind(parts[2]),
		Identifier: parts[3],
	}

	if !ValidSide(key.Side) {
		return PartitionKey{}, fmt.Errorf("partition key %q: unknown side %q", s, key.Side)
	}
	if key.Kind != IDKindAddr && key.Kind != IDKindName {
		return PartitionKey{}, fmt.Errorf("partition key %q: unknown id kind %q", s, key.Kind)
	}

	return key, nil
}

// TokenKey is the aggregation unit for confluences: one per (group, token),
// sides merged.
type TokenKey struct {
	GroupID    string
	Kind       IDKind
	Identifier string
}

// TokenKeyFor computes the confluence key for a transaction.
func TokenKeyFor(groupID string, tx *Transaction) TokenKey {
	identifier, kind := tx.TokenIdentity()
	return TokenKey{GroupID: groupID, Kind: kind, Identifier: identifier}
}

// String encodes the token key as {groupId}_{addr|name}_{identifier}.
func (k TokenKey) String() string {
	return fmt.Sprintf("%s_%s_%s", k.GroupID, k.Kind, k.Identifier)
}

// StoreKey encodes the token identity without the group, used as the
// token_key column value in the durable store.
func (k TokenKey) StoreKey() string {
	return fmt.Sprintf("%s_%s", k.Kind, k.Identifier)
}

// ParseTokenKey is the inverse of TokenKey.String.
func ParseTokenKey(s string) (TokenKey, error) {
	parts := strings.SplitN(s, "_", 3)
	if len(parts) != 3 {
		return TokenKey{}, fmt.Errorf("malformed token key: %q", s)
	}

	key := TokenKey{
		GroupID:    parts[0],
		Kind:       IDKind(parts[1]),
		Identifier: parts[2],
	}
	if key.Kind != IDKindAddr && key.Kind != IDKindName {
		return TokenKey{}, fmt.Errorf("token key %q: unknown id kind %q", s, key.Kind)
	}

	return key, nil
}
