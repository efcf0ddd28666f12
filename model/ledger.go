package model

import "time"

type ApplyOutcome string

const (
	ApplyOutcomeSuccess        ApplyOutcome = "success"
	ApplyOutcomeAlreadyApplied ApplyOutcome = "already_applied"
	ApplyOutcomeFailed         ApplyOutcome = "failed"
)

// Applied reports whether the ledger holds the application after this outcome.
func (o ApplyOutcome) Applied() bool {
	return o == ApplyOutcomeSuccess || o == ApplyOutcomeAlreadyApplied
}

// LedgerApplication is both the command sent to the ledger and the local record of it.
type LedgerApplication struct {
	IdempotencyKey string       `json:"idempotency_key"`
	TransactionID  string       `json:"transaction_id"`
	InvoiceID      string       `json:"invoice_id"`
	Amount         int64        `json:"amount"`
	Currency       string       `json:"currency"`
	Outcome        ApplyOutcome `json:"outcome,omitempty"`
	Attempts       int          `json:"attempts,omitempty"`
	AppliedAt      *time.Time   `json:"applied_at,omitempty"`
}
