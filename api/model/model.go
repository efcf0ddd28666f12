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
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/freightline/recon"
	"github.com/freightline/recon/model"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const dateLayout = "2006-01-02"

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

// RecordBankTransaction is a normalized entry from a bank feed. Amount is a display
// amount in the currency's major unit, negative for debits.
type RecordBankTransaction struct {
	BankConnectionID    string          `json:"bank_connection_id"`
	Amount              string          `json:"amount"`
	Currency            string          `json:"currency"`
	TransactionDate     string          `json:"transaction_date"`
	ValueDate           string          `json:"value_date"`
	CounterpartyName    string          `json:"counterparty_name"`
	CounterpartyAccount string          `json:"counterparty_account"`
	Description         string          `json:"description"`
	TransactionRef      string          `json:"transaction_ref"`
	RawData             json.RawMessage `json:"raw_data"`
}

type OverrideMatch struct {
	ItemIDs []string `json:"item_ids"`
	User    string   `json:"user"`
	Reason  string   `json:"reason"`
}

type RecordAdjustment struct {
	NewItemID *string `json:"new_item_id"`
	Amount    int64   `json:"amount"`
	Reason    string  `json:"reason"`
	User      string  `json:"user"`
}

type StartSweep struct {
	BankConnectionID string `json:"bank_connection_id"`
}

// OpenPeriod opens a reconciliation period. Balances are in minor units.
type OpenPeriod struct {
	BankConnectionID   string `json:"bank_connection_id"`
	PeriodStart        string `json:"period_start"`
	PeriodEnd          string `json:"period_end"`
	BankOpeningBalance int64  `json:"bank_opening_balance"`
	BookOpeningBalance int64  `json:"book_opening_balance"`
	User               string `json:"user"`
}

type CompletePeriod struct {
	User           string `json:"user"`
	OverrideReason string `json:"override_reason"`
}

type ApprovePeriod struct {
	User string `json:"user"`
}

func validateDate(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := parseDate(s); err != nil {
		return errors.New("please format the date as 'YYYY-MM-DD' or RFC 3339 (e.g., 2026-03-14 or 2026-03-14T10:00:00Z)")
	}
	return nil
}

func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

func (t *RecordBankTransaction) ValidateRecordBankTransaction() error {
	t.Currency = strings.ToUpper(strings.TrimSpace(t.Currency))
	return validation.ValidateStruct(t,
		validation.Field(&t.BankConnectionID, validation.Required),
		validation.Field(&t.Amount, validation.Required, validation.By(func(value interface{}) error {
			_, err := model.ParseAmount(t.Amount, t.Currency)
			return err
		})),
		validation.Field(&t.Currency, validation.Required, validation.Match(currencyCode).Error("must be an ISO 4217 code")),
		validation.Field(&t.TransactionDate, validation.Required, validation.By(validateDate)),
		validation.Field(&t.ValueDate, validation.By(validateDate)),
		validation.Field(&t.TransactionRef, validation.Required),
	)
}

func (o *OverrideMatch) ValidateOverrideMatch() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.User, validation.Required),
		validation.Field(&o.ItemIDs, validation.Length(0, 3), validation.Each(validation.Required)),
	)
}

func (a *RecordAdjustment) ValidateRecordAdjustment() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.User, validation.Required),
		validation.Field(&a.Reason, validation.Required),
		validation.Field(&a.Amount, validation.When(a.NewItemID == nil, validation.Required.Error("amount or new_item_id is required"))),
	)
}

func (s *StartSweep) ValidateStartSweep() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.BankConnectionID, validation.Required),
	)
}

func (p *OpenPeriod) ValidateOpenPeriod() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.BankConnectionID, validation.Required),
		validation.Field(&p.PeriodStart, validation.Required, validation.Date(dateLayout)),
		validation.Field(&p.PeriodEnd, validation.Required, validation.Date(dateLayout)),
		validation.Field(&p.User, validation.Required),
	)
}

func (c *CompletePeriod) ValidateCompletePeriod() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.User, validation.Required),
	)
}

func (a *ApprovePeriod) ValidateApprovePeriod() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.User, validation.Required),
	)
}

// ToBankTransaction converts a validated request.
func (t *RecordBankTransaction) ToBankTransaction() (*model.BankTransaction, error) {
	amount, err := model.ParseAmount(t.Amount, t.Currency)
	if err != nil {
		return nil, err
	}
	txnDate, err := parseDate(t.TransactionDate)
	if err != nil {
		return nil, err
	}
	txn := &model.BankTransaction{
		BankConnectionID:    t.BankConnectionID,
		Amount:              amount,
		Currency:            t.Currency,
		TransactionDate:     txnDate,
		CounterpartyName:    t.CounterpartyName,
		CounterpartyAccount: t.CounterpartyAccount,
		Description:         t.Description,
		TransactionRef:      t.TransactionRef,
		RawData:             t.RawData,
	}
	if t.ValueDate != "" {
		if txn.ValueDate, err = parseDate(t.ValueDate); err != nil {
			return nil, err
		}
	}
	return txn, nil
}

func (p *OpenPeriod) ToOpenPeriodRequest() recon.OpenPeriodRequest {
	start, _ := time.Parse(dateLayout, p.PeriodStart)
	end, _ := time.Parse(dateLayout, p.PeriodEnd)
	return recon.OpenPeriodRequest{
		BankConnectionID:   p.BankConnectionID,
		PeriodStart:        start,
		PeriodEnd:          end,
		BankOpeningBalance: p.BankOpeningBalance,
		BookOpeningBalance: p.BookOpeningBalance,
		User:               p.User,
	}
}

func (a *RecordAdjustment) ToAdjustmentRequest(transactionID string) recon.AdjustmentRequest {
	return recon.AdjustmentRequest{
		TransactionID: transactionID,
		NewItemID:     a.NewItemID,
		Amount:        a.Amount,
		Reason:        a.Reason,
		User:          a.User,
	}
}
