package domain

// OlderTransactionMetadata is a per-partition rollup of transactions that
// were evicted from the fast cache but are still inside the detection
// horizon. Built during eviction, read-only during detection.
type OlderTransactionMetadata struct {
	GroupID         string              `json:"group_id"`
	Side            string              `json:"side"`
	Kind            IDKind              `json:"kind"`
	Identifier      string              `json:"identifier"`
	Wallets         map[string]struct{} `json:"-"`
	WalletIDs       []string            `json:"wallet_ids"` // serialized form of Wallets
	OldestTimestamp int64               `json:"oldest_timestamp"`
	NewestTimestamp int64               `json:"newest_timestamp"`
	Count           int                 `json:"count"`
	TotalAmount     float64             `json:"total_amount"`
	TotalBaseAmount float64             `json:"total_base_amount"`
}

// NewOlderTransactionMetadata creates an empty rollup for a partition.
func NewOlderTransactionMetadata(key PartitionKey) *OlderTransactionMetadata {
	return &OlderTransactionMetadata{
		GroupID:    key.GroupID,
		Side:       key.Side,
		Kind:       key.Kind,
		Identifier: key.Identifier,
		Wallets:    make(map[string]struct{}),
	}
}

// Add folds one evicted transaction into the rollup.
func (m *OlderTransactionMetadata) Add(tx *Transaction) {
	wallet := tx.WalletIdentity()
	if _, seen := m.Wallets[wallet]; !seen {
		m.Wallets[wallet] = struct{}{}
		m.WalletIDs = append(m.WalletIDs, wallet)
	}
	if m.OldestTimestamp == 0 || tx.Timestamp < m.OldestTimestamp {
		m.OldestTimestamp = tx.Timestamp
	}
	if tx.Timestamp > m.NewestTimestamp {
		m.NewestTimestamp = tx.Timestamp
	}
	m.Count++
	m.TotalAmount += tx.TokenAmount
	m.TotalBaseAmount += tx.BaseAmount
}

// Synthesize reconstructs one placeholder transaction per rolled-up wallet
// using averaged amounts. Used when no raw records survive for a partition.
func (m *OlderTransactionMetadata) Synthesize() []Transaction {
	if m.Count == 0 || len(m.WalletIDs) == 0 {
		return nil
	}

	avgAmount := m.TotalAmount / float64(m.Count)
	avgBase := m.TotalBaseAmount / float64(m.Count)

	txs := make([]Transaction, 0, len(m.WalletIDs))
	for _, wallet := range m.WalletIDs {
		tx := Transaction{
			WalletID:    wallet,
			Side:        m.Side,
			TokenAmount: avgAmount,
			BaseAmount:  avgBase,
			Timestamp:   m.NewestTimestamp,
			GroupID:     m.GroupID,
			Synthesized: true,
		}
		if m.Kind == IDKindAddr {
			tx.TokenAddress = m.Identifier
		} else {
			tx.TokenSymbol = m.Identifier
		}
		txs = append(txs, tx)
	}
	return txs
}
