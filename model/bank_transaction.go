/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import (
	"encoding/json"
	"time"
)

// MatchStatus is the matching state of a bank transaction.
type MatchStatus string

const (
	MatchStatusUnmatched       MatchStatus = "unmatched"
	MatchStatusSuggested       MatchStatus = "suggested"
	MatchStatusMatched         MatchStatus = "matched"
	MatchStatusManuallyMatched MatchStatus = "manually_matched"
	MatchStatusIgnored         MatchStatus = "ignored"
)

// MatchStatuses lists every match status in lifecycle order.
var MatchStatuses = []MatchStatus{
	MatchStatusUnmatched,
	MatchStatusSuggested,
	MatchStatusMatched,
	MatchStatusManuallyMatched,
	MatchStatusIgnored,
}

// Valid reports whether s is one of the known statuses.
func (s MatchStatus) Valid() bool {
	switch s {
	case MatchStatusUnmatched, MatchStatusSuggested, MatchStatusMatched, MatchStatusManuallyMatched, MatchStatusIgnored:
		return true
	}
	return false
}

// IsResolved reports whether the status counts as matched for period aggregates.
// Ignored transactions were dispositioned by a person and count as resolved.
func (s MatchStatus) IsResolved() bool {
	switch s {
	case MatchStatusMatched, MatchStatusManuallyMatched, MatchStatusIgnored:
		return true
	case MatchStatusUnmatched, MatchStatusSuggested:
		return false
	}
	return false
}

// IsLedgerBacked reports whether the status carries ledger applications.
func (s MatchStatus) IsLedgerBacked() bool {
	return s == MatchStatusMatched || s == MatchStatusManuallyMatched
}

// BankConnection is a bank account feed owned by the banking subsystem.
type BankConnection struct {
	ID               string     `json:"id"`
	AccountNumber    string     `json:"account_number"`
	BankName         string     `json:"bank_name"`
	Currency         string     `json:"currency"`
	RunningBalance   int64      `json:"running_balance"`
	AvailableBalance int64      `json:"available_balance"`
	SyncStatus       string     `json:"sync_status"`
	LastSyncedAt     *time.Time `json:"last_synced_at,omitempty"`
}

// BankTransaction is a normalized bank feed entry together with its match state.
type BankTransaction struct {
	ID                  string           `json:"id"`
	BankConnectionID    string           `json:"bank_connection_id"`
	Amount              int64            `json:"amount"`
	Currency            string           `json:"currency"`
	TransactionDate     time.Time        `json:"transaction_date"`
	ValueDate           time.Time        `json:"value_date"`
	CounterpartyName    string           `json:"counterparty_name"`
	CounterpartyAccount string           `json:"counterparty_account"`
	Description         string           `json:"description"`
	TransactionRef      string           `json:"transaction_ref"`
	MatchStatus         MatchStatus      `json:"match_status"`
	MatchConfidence     *float64         `json:"match_confidence"`
	MatchedInvoiceID    *string          `json:"matched_invoice_id"`
	MatchedReceivableID *string          `json:"matched_receivable_id"`
	SplitItemIDs        []string         `json:"split_item_ids,omitempty"`
	Candidates          []MatchCandidate `json:"candidates,omitempty"`
	LedgerApplyPending  bool             `json:"ledger_apply_pending"`
	ReconciledAt        *time.Time       `json:"reconciled_at"`
	ReconciledBy        *string          `json:"reconciled_by"`
	RawData             json.RawMessage  `json:"raw_data,omitempty"`
	Version             int64            `json:"version"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// IsCredit reports whether money came into the account.
func (t *BankTransaction) IsCredit() bool {
	return t.Amount > 0
}

// Direction returns the open-item direction this transaction can settle.
func (t *BankTransaction) Direction() Direction {
	if t.Amount < 0 {
		return DirectionDebit
	}
	return DirectionCredit
}

// IsReconciled reports whether the transaction belongs to an approved period.
func (t *BankTransaction) IsReconciled() bool {
	return t.ReconciledAt != nil
}

// MatchedItemIDs returns the ids of every open item the transaction is matched to.
func (t *BankTransaction) MatchedItemIDs() []string {
	if len(t.SplitItemIDs) > 0 {
		return t.SplitItemIDs
	}
	if t.MatchedInvoiceID != nil {
		return []string{*t.MatchedInvoiceID}
	}
	if t.MatchedReceivableID != nil {
		return []string{*t.MatchedReceivableID}
	}
	return nil
}

// ClearMatch resets every match field except the status.
func (t *BankTransaction) ClearMatch() {
	t.MatchConfidence = nil
	t.MatchedInvoiceID = nil
	t.MatchedReceivableID = nil
	t.SplitItemIDs = nil
	t.Candidates = nil
	t.LedgerApplyPending = false
}

// SetMatchedItem records a single-item match, keeping the invoice and receivable
// references mutually exclusive with each other and with a split set.
func (t *BankTransaction) SetMatchedItem(item *OpenItem) {
	t.MatchedInvoiceID = nil
	t.MatchedReceivableID = nil
	t.SplitItemIDs = nil
	id := item.ID
	if item.Kind == OpenItemKindReceivable {
		t.MatchedReceivableID = &id
		return
	}
	t.MatchedInvoiceID = &id
}

// SetSplitItems records a split match over several open items.
func (t *BankTransaction) SetSplitItems(ids []string) {
	t.MatchedInvoiceID = nil
	t.MatchedReceivableID = nil
	t.SplitItemIDs = append([]string(nil), ids...)
}
