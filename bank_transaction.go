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

package recon

import (
	"context"
	"regexp"
	"strings"

	"github.com/freightline/recon/internal/apierror"
	"github.com/freightline/recon/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

func validateBankTransaction(txn *model.BankTransaction) error {
	return validation.ValidateStruct(txn,
		validation.Field(&txn.BankConnectionID, validation.Required),
		validation.Field(&txn.Amount, validation.Required),
		validation.Field(&txn.Currency, validation.Required, validation.Match(currencyCode)),
		validation.Field(&txn.TransactionDate, validation.Required),
		validation.Field(&txn.TransactionRef, validation.Required),
	)
}

// RecordBankTransaction stores a normalized bank feed entry as unmatched and queues
// it for resolution when a queue is available. A second entry with the same
// reference on the same connection is rejected with CONFLICT.
func (r *Recon) RecordBankTransaction(ctx context.Context, txn *model.BankTransaction) (*model.BankTransaction, error) {
	ctx, span := otel.Tracer("recon.matching").Start(ctx, "RecordBankTransaction")
	defer span.End()

	txn.Currency = strings.ToUpper(strings.TrimSpace(txn.Currency))
	txn.TransactionRef = strings.TrimSpace(txn.TransactionRef)
	if err := validateBankTransaction(txn); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	if txn.ValueDate.IsZero() {
		txn.ValueDate = txn.TransactionDate
	}

	saved, err := r.datasource.RecordBankTransaction(ctx, txn)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if r.queue != nil {
		if err := r.queue.EnqueueResolve(ctx, saved.ID); err != nil {
			logrus.WithError(err).WithField("transaction_id", saved.ID).Warn("failed to queue resolve")
		}
	}
	return saved, nil
}

// GetBankTransaction returns a bank transaction with its match state.
func (r *Recon) GetBankTransaction(ctx context.Context, id string) (*model.BankTransaction, error) {
	return r.datasource.GetBankTransaction(ctx, id)
}

// LedgerApplications returns the recorded ledger applications of a transaction.
func (r *Recon) LedgerApplications(ctx context.Context, transactionID string) ([]*model.LedgerApplication, error) {
	return r.datasource.GetLedgerApplications(ctx, transactionID)
}
