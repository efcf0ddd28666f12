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
	"fmt"

	"github.com/freightline/recon/internal/apierror"
	"github.com/freightline/recon/model"
	"github.com/sirupsen/logrus"
)

// applyToLedger posts one application per matched item and records every outcome.
// items may be nil when the transaction's recorded applications cover every item.
// It reports whether the ledger now holds all of them.
func (r *Recon) applyToLedger(ctx context.Context, txn *model.BankTransaction, items []*model.OpenItem) bool {
	plan, previous, err := r.ledgerPlan(ctx, txn, items)
	if err != nil {
		logrus.WithError(err).WithField("transaction_id", txn.ID).Error("failed to plan ledger applications")
		r.alertLedgerPending(ctx, txn, "", err)
		return false
	}

	allApplied := true
	for _, app := range plan {
		outcome, attempts, err := r.applyOnce(ctx, app)
		if err != nil {
			outcome = model.ApplyOutcomeFailed
		}

		prev, hasPrev := previous[app.IdempotencyKey]
		if hasPrev && prev.Outcome.Applied() && !outcome.Applied() {
			// The ledger already holds this application; a failed re-confirmation
			// cannot undo it.
			logrus.WithError(err).WithFields(logrus.Fields{
				"transaction_id":  txn.ID,
				"idempotency_key": app.IdempotencyKey,
			}).Warn("ledger re-confirmation failed; keeping recorded outcome")
			outcome = prev.Outcome
		}

		app.Outcome = outcome
		app.Attempts = attempts
		if hasPrev {
			app.Attempts += prev.Attempts
			app.AppliedAt = prev.AppliedAt
		}
		if outcome.Applied() && app.AppliedAt == nil {
			now := r.clock.Now()
			app.AppliedAt = &now
		}
		if recErr := r.datasource.RecordLedgerApplication(ctx, &app); recErr != nil {
			logrus.WithError(recErr).WithField("idempotency_key", app.IdempotencyKey).Error("failed to record ledger application")
		}

		if !outcome.Applied() {
			allApplied = false
			r.alertLedgerPending(ctx, txn, app.InvoiceID, err)
		}
	}
	return allApplied
}

// ledgerPlan builds the applications for every matched item. Recorded applications
// keep their amounts so re-confirmation posts exactly what was posted before.
func (r *Recon) ledgerPlan(ctx context.Context, txn *model.BankTransaction, items []*model.OpenItem) ([]model.LedgerApplication, map[string]*model.LedgerApplication, error) {
	recorded, err := r.datasource.GetLedgerApplications(ctx, txn.ID)
	if err != nil {
		return nil, nil, err
	}
	previous := make(map[string]*model.LedgerApplication, len(recorded))
	for _, app := range recorded {
		previous[app.IdempotencyKey] = app
	}

	ids := txn.MatchedItemIDs()
	if len(ids) == 0 {
		return nil, previous, nil
	}

	missing := false
	for _, id := range ids {
		if _, ok := previous[model.IdempotencyKey(txn.TransactionRef, id)]; !ok {
			missing = true
			break
		}
	}
	if missing && items == nil {
		items, err = r.datasource.GetOpenItemsByIDs(ctx, ids)
		if err != nil {
			return nil, nil, err
		}
	}
	if missing && len(items) != len(ids) {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer,
			fmt.Sprintf("matched items of transaction '%s' are out of sync", txn.ID), nil)
	}

	var shares []int64
	if missing {
		shares = allocate(model.AbsAmount(txn.Amount), items)
	}

	plan := make([]model.LedgerApplication, 0, len(ids))
	for i, id := range ids {
		key := model.IdempotencyKey(txn.TransactionRef, id)
		app := model.LedgerApplication{
			IdempotencyKey: key,
			TransactionID:  txn.ID,
			InvoiceID:      id,
			Currency:       txn.Currency,
		}
		if prev, ok := previous[key]; ok {
			app.Amount = prev.Amount
		} else {
			app.Amount = shares[i]
		}
		plan = append(plan, app)
	}
	return plan, previous, nil
}

func (r *Recon) applyOnce(ctx context.Context, app model.LedgerApplication) (model.ApplyOutcome, int, error) {
	if counted, ok := r.ledger.(attemptCounter); ok {
		return counted.ApplyCounted(ctx, app)
	}
	outcome, err := r.ledger.Apply(ctx, app)
	return outcome, 1, err
}

func (r *Recon) alertLedgerPending(ctx context.Context, txn *model.BankTransaction, itemID string, cause error) {
	payload := map[string]interface{}{
		"transaction_id":  txn.ID,
		"transaction_ref": txn.TransactionRef,
		"item_id":         itemID,
	}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	r.alert(ctx, model.AlertLedgerApplyPending, model.SeverityCritical, txn.ID,
		fmt.Sprintf("Ledger application for transaction %s is pending; resolve it again to retry", txn.TransactionRef),
		payload)
}

// clearLedgerPending drops the pending flag once every application is held by the
// ledger. A concurrent writer only forces a re-read while the match is unchanged.
func (r *Recon) clearLedgerPending(ctx context.Context, txn *model.BankTransaction) {
	matched := fmt.Sprint(txn.MatchedItemIDs())
	current := txn
	for attempt := 0; attempt < maxResolveAttempts; attempt++ {
		if !current.LedgerApplyPending || fmt.Sprint(current.MatchedItemIDs()) != matched || current.IsReconciled() {
			break
		}
		expected := current.Version
		current.LedgerApplyPending = false
		err := r.datasource.UpdateBankTransactionMatch(ctx, current, expected)
		if err == nil {
			break
		}
		current.LedgerApplyPending = true
		if !apierror.IsCode(err, apierror.ErrConflict) {
			logrus.WithError(err).WithField("transaction_id", txn.ID).Warn("failed to clear ledger pending flag")
			break
		}
		fresh, err := r.datasource.GetBankTransaction(ctx, txn.ID)
		if err != nil {
			logrus.WithError(err).WithField("transaction_id", txn.ID).Warn("failed to re-read transaction")
			break
		}
		current = fresh
	}
	if current != txn {
		*txn = *current
	}
}
