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

type PeriodStatus string

const (
	PeriodStatusDraft      PeriodStatus = "draft"
	PeriodStatusInProgress PeriodStatus = "in_progress"
	PeriodStatusCompleted  PeriodStatus = "completed"
	PeriodStatusApproved   PeriodStatus = "approved"
)

// CanTransitionTo reports whether next is the single legal forward edge from s.
func (s PeriodStatus) CanTransitionTo(next PeriodStatus) bool {
	switch s {
	case PeriodStatusDraft:
		return next == PeriodStatusInProgress
	case PeriodStatusInProgress:
		return next == PeriodStatusCompleted
	case PeriodStatusCompleted:
		return next == PeriodStatusApproved
	case PeriodStatusApproved:
		return false
	}
	return false
}

// IsOpen reports whether the period still accepts recomputation.
func (s PeriodStatus) IsOpen() bool {
	return s == PeriodStatusDraft || s == PeriodStatusInProgress
}

type ReconciliationPeriod struct {
	ID                       string       `json:"id"`
	BankConnectionID         string       `json:"bank_connection_id"`
	PeriodStart              time.Time    `json:"period_start"`
	PeriodEnd                time.Time    `json:"period_end"`
	BankOpeningBalance       int64        `json:"bank_opening_balance"`
	BankClosingBalance       int64        `json:"bank_closing_balance"`
	BookOpeningBalance       int64        `json:"book_opening_balance"`
	BookClosingBalance       int64        `json:"book_closing_balance"`
	TotalCredits             int64        `json:"total_credits"`
	TotalDebits              int64        `json:"total_debits"`
	MatchedCount             int          `json:"matched_count"`
	UnmatchedCount           int          `json:"unmatched_count"`
	DiscrepancyAmount        int64        `json:"discrepancy_amount"`
	Status                   PeriodStatus `json:"status"`
	CompletionOverrideReason *string      `json:"completion_override_reason"`
	CreatedBy                string       `json:"created_by"`
	CompletedBy              *string      `json:"completed_by"`
	CompletedAt              *time.Time   `json:"completed_at"`
	ApprovedBy               *string      `json:"approved_by"`
	ApprovedAt               *time.Time   `json:"approved_at"`
	LastRecomputedAt         *time.Time   `json:"last_recomputed_at"`
	Version                  int64        `json:"version"`
	CreatedAt                time.Time    `json:"created_at"`
}

// Encloses reports whether date falls on a calendar day inside [PeriodStart, PeriodEnd].
func (p *ReconciliationPeriod) Encloses(date time.Time) bool {
	d := TruncateDay(date)
	return !d.Before(TruncateDay(p.PeriodStart)) && !d.After(TruncateDay(p.PeriodEnd))
}

// PeriodFigures is the part of a period that recomputation derives.
type PeriodFigures struct {
	BankClosingBalance int64 `json:"bank_closing_balance"`
	BookClosingBalance int64 `json:"book_closing_balance"`
	TotalCredits       int64 `json:"total_credits"`
	TotalDebits        int64 `json:"total_debits"`
	MatchedCount       int   `json:"matched_count"`
	UnmatchedCount     int   `json:"unmatched_count"`
	DiscrepancyAmount  int64 `json:"discrepancy_amount"`
}

func (p *ReconciliationPeriod) Figures() PeriodFigures {
	return PeriodFigures{
		BankClosingBalance: p.BankClosingBalance,
		BookClosingBalance: p.BookClosingBalance,
		TotalCredits:       p.TotalCredits,
		TotalDebits:        p.TotalDebits,
		MatchedCount:       p.MatchedCount,
		UnmatchedCount:     p.UnmatchedCount,
		DiscrepancyAmount:  p.DiscrepancyAmount,
	}
}

func (p *ReconciliationPeriod) SetFigures(f PeriodFigures) {
	p.BankClosingBalance = f.BankClosingBalance
	p.BookClosingBalance = f.BookClosingBalance
	p.TotalCredits = f.TotalCredits
	p.TotalDebits = f.TotalDebits
	p.MatchedCount = f.MatchedCount
	p.UnmatchedCount = f.UnmatchedCount
	p.DiscrepancyAmount = f.DiscrepancyAmount
}

type PeriodAction string

const (
	PeriodActionOpened     PeriodAction = "opened"
	PeriodActionRecomputed PeriodAction = "recomputed"
	PeriodActionCompleted  PeriodAction = "completed"
	PeriodActionApproved   PeriodAction = "approved"
	PeriodActionAdjusted   PeriodAction = "adjusted"
)

type PeriodAuditRecord struct {
	ID        string          `json:"id"`
	PeriodID  string          `json:"period_id"`
	Action    PeriodAction    `json:"action"`
	User      string          `json:"user"`
	Timestamp time.Time       `json:"timestamp"`
	Detail    json.RawMessage `json:"detail,omitempty"`
}

// Adjustment corrects a reconciled transaction without touching its match fields.
type Adjustment struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	PeriodID      string    `json:"period_id"`
	NewItemID     *string   `json:"new_item_id,omitempty"`
	Amount        int64     `json:"amount"`
	Reason        string    `json:"reason"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

type SweepProgress struct {
	LastProcessedTransactionID string `json:"last_processed_transaction_id"`
	ProcessedCount             int    `json:"processed_count"`
}

// TruncateDay returns the UTC calendar day of t.
func TruncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
