package model

import "time"

// ScoreBreakdown explains how a confidence score was reached.
type ScoreBreakdown struct {
	AmountSimilarity       float64 `json:"amount_similarity"`
	DateProximity          float64 `json:"date_proximity"`
	CounterpartySimilarity float64 `json:"counterparty_similarity"`
	AmountWeight           float64 `json:"amount_weight"`
	DateWeight             float64 `json:"date_weight"`
	CounterpartyWeight     float64 `json:"counterparty_weight"`
	ExactReference         bool    `json:"exact_reference"`
	Capped                 bool    `json:"capped,omitempty"`
	Score                  float64 `json:"score"`
}

// MatchCandidate is a single open item, or a split set of 2-3 items of one customer.
type MatchCandidate struct {
	ItemIDs      []string       `json:"item_ids"`
	CustomerID   string         `json:"customer_id"`
	Score        float64        `json:"score"`
	Breakdown    ScoreBreakdown `json:"breakdown"`
	Split        bool           `json:"split"`
	DueDate      time.Time      `json:"due_date"`
	TotalAmount  int64          `json:"total_amount"`
	ItemKind     OpenItemKind   `json:"item_kind,omitempty"`
	ItemCurrency string         `json:"item_currency"`
}

// PrimaryID returns the first item id; for single candidates it is the item itself.
func (c MatchCandidate) PrimaryID() string {
	if len(c.ItemIDs) == 0 {
		return ""
	}
	return c.ItemIDs[0]
}

// MatchResult is published after every status change of a bank transaction.
type MatchResult struct {
	TransactionID    string           `json:"transaction_id"`
	Status           MatchStatus      `json:"status"`
	Confidence       *float64         `json:"confidence"`
	MatchedEntityIDs []string         `json:"matched_entity_ids"`
	Candidates       []MatchCandidate `json:"candidates"`
	LedgerPending    bool             `json:"ledger_apply_pending"`
}

// SweepResult summarizes one sweep run over a bank connection.
type SweepResult struct {
	BankConnectionID string `json:"bank_connection_id"`
	Processed        int    `json:"processed"`
	Matched          int    `json:"matched"`
	Suggested        int    `json:"suggested"`
	Unmatched        int    `json:"unmatched"`
	Failed           int    `json:"failed"`
	Interrupted      bool   `json:"interrupted"`
	LastTransaction  string `json:"last_transaction_id"`
}
