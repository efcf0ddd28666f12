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
	"sort"
	"strings"
	"time"

	"github.com/freightline/recon/internal/apierror"
	"github.com/freightline/recon/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// maxResolveAttempts bounds how often Resolve re-reads a transaction after losing a
// compare-and-swap to a concurrent writer.
const maxResolveAttempts = 3

// resolveMode controls the side effects of a single resolve pass.
type resolveMode struct {
	// reconfirm re-posts the ledger applications of an already matched transaction.
	reconfirm bool
	// recompute refreshes enclosing open periods after a status change.
	recompute bool
}

// FindCandidates returns the ranked candidates for a bank transaction without
// changing its state.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - transactionID string: The ID of the bank transaction.
//
// Returns:
// - []model.MatchCandidate: Candidates ordered by score, due-date distance and item ID.
// - error: An error if the transaction or the open items could not be loaded.
func (r *Recon) FindCandidates(ctx context.Context, transactionID string) ([]model.MatchCandidate, error) {
	ctx, span := otel.Tracer("recon.matching").Start(ctx, "FindCandidates")
	defer span.End()

	txn, err := r.datasource.GetBankTransaction(ctx, transactionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return r.findCandidates(ctx, txn)
}

func (r *Recon) findCandidates(ctx context.Context, txn *model.BankTransaction) ([]model.MatchCandidate, error) {
	exact, err := r.exactReferenceItems(ctx, txn)
	if err != nil {
		return nil, err
	}
	if len(exact) == 1 {
		return []model.MatchCandidate{r.newSingleCandidate(txn, exact[0])}, nil
	}

	window := time.Duration(r.matching.DateWindowDays) * 24 * time.Hour
	items, err := r.datasource.GetOpenItems(ctx, model.OpenItemQuery{
		Currency:  txn.Currency,
		Direction: txn.Direction(),
		DueFrom:   model.TruncateDay(txn.TransactionDate.Add(-window)),
		DueTo:     model.TruncateDay(txn.TransactionDate.Add(window)),
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(items)+len(exact))
	candidates := make([]model.MatchCandidate, 0, len(items)+len(exact))
	for _, item := range exact {
		seen[item.ID] = true
		candidates = append(candidates, r.newSingleCandidate(txn, item))
	}

	target := model.AbsAmount(txn.Amount)
	amountHit := false
	for _, item := range items {
		if withinEpsilon(item.OutstandingAmount, target, r.matching.AmountEpsilon) {
			amountHit = true
		}
		if seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		c := r.newSingleCandidate(txn, item)
		if c.Score < r.matching.MinCandidateScore {
			continue
		}
		candidates = append(candidates, c)
	}

	if !amountHit && len(exact) == 0 {
		splits, err := r.splitCandidates(ctx, txn, items)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, splits...)
	}

	sortCandidates(txn, candidates)
	return candidates, nil
}

// exactReferenceItems returns the open items whose reference string appears as a
// whole token in the transaction's description or counterparty fields, ordered by ID.
func (r *Recon) exactReferenceItems(ctx context.Context, txn *model.BankTransaction) ([]*model.OpenItem, error) {
	byID := make(map[string]*model.OpenItem)
	for _, text := range []string{txn.Description, txn.CounterpartyAccount, txn.CounterpartyName} {
		if strings.TrimSpace(text) == "" {
			continue
		}
		items, err := r.datasource.FindOpenItemsReferencedIn(ctx, text, txn.Currency, txn.Direction())
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if HasExactReference(txn, item) {
				byID[item.ID] = item
			}
		}
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*model.OpenItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out, nil
}

// Resolve runs the matching decision for a bank transaction and persists the outcome.
// A high-confidence unambiguous single candidate is auto-applied and posted to the
// ledger; otherwise the top candidates are stored as suggestions. Resolving a matched
// transaction again re-confirms its ledger applications under the same keys.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - transactionID string: The ID of the bank transaction to resolve.
//
// Returns:
// - *model.MatchResult: The state of the transaction after resolution.
// - error: A CONFLICT error if the transaction kept changing underneath, or any datasource error.
func (r *Recon) Resolve(ctx context.Context, transactionID string) (*model.MatchResult, error) {
	return r.resolveTransaction(ctx, transactionID, resolveMode{reconfirm: true, recompute: true})
}

func (r *Recon) resolveTransaction(ctx context.Context, transactionID string, mode resolveMode) (*model.MatchResult, error) {
	ctx, span := otel.Tracer("recon.matching").Start(ctx, "Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", transactionID))

	for attempt := 0; attempt < maxResolveAttempts; attempt++ {
		txn, err := r.datasource.GetBankTransaction(ctx, transactionID)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		// After losing a race the winner owns the ledger call.
		if attempt > 0 {
			mode.reconfirm = false
		}
		result, err := r.resolve(ctx, txn, mode)
		if apierror.IsCode(err, apierror.ErrConflict) {
			logrus.WithFields(logrus.Fields{
				"transaction_id": transactionID,
				"attempt":        attempt + 1,
			}).Debug("transaction changed during resolve, re-reading")
			continue
		}
		if err != nil {
			span.RecordError(err)
		}
		return result, err
	}
	return nil, apierror.NewAPIError(apierror.ErrConflict,
		fmt.Sprintf("Bank transaction '%s' kept changing during resolve; retry later", transactionID), nil)
}

func (r *Recon) resolve(ctx context.Context, txn *model.BankTransaction, mode resolveMode) (*model.MatchResult, error) {
	if txn.IsReconciled() {
		return resultOf(txn), nil
	}

	switch txn.MatchStatus {
	case model.MatchStatusIgnored:
		return resultOf(txn), nil
	case model.MatchStatusMatched, model.MatchStatusManuallyMatched:
		if !mode.reconfirm {
			return resultOf(txn), nil
		}
		return r.confirmLedger(ctx, txn)
	}

	closed, err := r.inClosedPeriod(ctx, txn)
	if err != nil {
		return nil, err
	}
	if closed {
		return resultOf(txn), nil
	}

	candidates, err := r.findCandidates(ctx, txn)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return r.markUnmatched(ctx, txn, mode)
	}
	if r.canAutoApply(txn, candidates) {
		return r.autoApply(ctx, txn, candidates[0], mode)
	}
	return r.suggest(ctx, txn, candidates, mode)
}

// canAutoApply reports whether the top candidate may be applied without review:
// a single item in the transaction currency, at or above the threshold and strictly
// ahead of the runner-up.
func (r *Recon) canAutoApply(txn *model.BankTransaction, candidates []model.MatchCandidate) bool {
	top := candidates[0]
	if top.Split || len(top.ItemIDs) != 1 {
		return false
	}
	if top.Score < r.matching.AutoApplyThreshold {
		return false
	}
	if top.ItemCurrency != txn.Currency {
		return false
	}
	if len(candidates) > 1 && candidates[1].Score >= top.Score {
		return false
	}
	return true
}

func (r *Recon) autoApply(ctx context.Context, txn *model.BankTransaction, top model.MatchCandidate, mode resolveMode) (*model.MatchResult, error) {
	item := &model.OpenItem{
		ID:                top.PrimaryID(),
		Kind:              top.ItemKind,
		CustomerID:        top.CustomerID,
		Currency:          top.ItemCurrency,
		OutstandingAmount: top.TotalAmount,
		DueDate:           top.DueDate,
	}

	expected := txn.Version
	score := top.Score
	txn.MatchStatus = model.MatchStatusMatched
	txn.ClearMatch()
	txn.SetMatchedItem(item)
	txn.MatchConfidence = &score
	txn.LedgerApplyPending = true
	if err := r.datasource.UpdateBankTransactionMatch(ctx, txn, expected); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"transaction_id": txn.ID,
		"item_id":        item.ID,
		"score":          score,
	}).Info("bank transaction auto-matched")

	if r.applyToLedger(ctx, txn, []*model.OpenItem{item}) {
		r.clearLedgerPending(ctx, txn)
	}

	result := resultOf(txn)
	r.publishMatchResult(ctx, result, "", "")
	if mode.recompute {
		r.recomputeEnclosing(ctx, txn)
	}
	return result, nil
}

func (r *Recon) suggest(ctx context.Context, txn *model.BankTransaction, candidates []model.MatchCandidate, mode resolveMode) (*model.MatchResult, error) {
	top := candidates
	if len(top) > r.matching.SuggestionLimit {
		top = top[:r.matching.SuggestionLimit]
	}
	if txn.MatchStatus == model.MatchStatusSuggested && sameCandidates(txn.Candidates, top) {
		return resultOf(txn), nil
	}

	expected := txn.Version
	score := top[0].Score
	txn.MatchStatus = model.MatchStatusSuggested
	txn.ClearMatch()
	txn.Candidates = append([]model.MatchCandidate(nil), top...)
	txn.MatchConfidence = &score
	if err := r.datasource.UpdateBankTransactionMatch(ctx, txn, expected); err != nil {
		return nil, err
	}

	r.alert(ctx, model.AlertMatchSuggested, model.SeverityInfo, txn.ID,
		fmt.Sprintf("Transaction %s needs review: %d candidate(s), best score %.2f", txn.TransactionRef, len(top), score),
		map[string]interface{}{
			"transaction_id":  txn.ID,
			"transaction_ref": txn.TransactionRef,
			"top_item_ids":    strings.Join(top[0].ItemIDs, ","),
			"top_score":       score,
		})

	result := resultOf(txn)
	r.publishMatchResult(ctx, result, "", "")
	if mode.recompute {
		r.recomputeEnclosing(ctx, txn)
	}
	return result, nil
}

func (r *Recon) markUnmatched(ctx context.Context, txn *model.BankTransaction, mode resolveMode) (*model.MatchResult, error) {
	changed := txn.MatchStatus != model.MatchStatusUnmatched
	if changed {
		expected := txn.Version
		txn.MatchStatus = model.MatchStatusUnmatched
		txn.ClearMatch()
		if err := r.datasource.UpdateBankTransactionMatch(ctx, txn, expected); err != nil {
			return nil, err
		}
	}

	r.alert(ctx, model.AlertMatchNoCandidates, model.SeverityInfo, txn.ID,
		fmt.Sprintf("No open item matches transaction %s", txn.TransactionRef),
		map[string]interface{}{
			"transaction_id":  txn.ID,
			"transaction_ref": txn.TransactionRef,
			"amount":          txn.Amount,
			"currency":        txn.Currency,
		})

	result := resultOf(txn)
	if changed {
		r.publishMatchResult(ctx, result, "", "")
		if mode.recompute {
			r.recomputeEnclosing(ctx, txn)
		}
	}
	return result, nil
}

// confirmLedger re-posts every ledger application of a matched transaction.
func (r *Recon) confirmLedger(ctx context.Context, txn *model.BankTransaction) (*model.MatchResult, error) {
	if r.applyToLedger(ctx, txn, nil) && txn.LedgerApplyPending {
		r.clearLedgerPending(ctx, txn)
	}
	return resultOf(txn), nil
}

// Override records a person's decision for a transaction. No items marks it ignored,
// one item records a manual match and two or three items record a manual split whose
// outstanding amounts must add up to the transaction amount.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - transactionID string: The ID of the bank transaction.
// - itemIDs []string: The open items chosen by the user, possibly empty.
// - user string: Who made the decision.
// - reason string: Free-text justification published with the result.
//
// Returns:
// - *model.MatchResult: The state of the transaction after the override.
// - error: INVALID_INPUT, INVALID_STATE or CONFLICT errors, or any datasource error.
func (r *Recon) Override(ctx context.Context, transactionID string, itemIDs []string, user, reason string) (*model.MatchResult, error) {
	ctx, span := otel.Tracer("recon.matching").Start(ctx, "Override")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", transactionID), attribute.Int("items", len(itemIDs)))

	if strings.TrimSpace(user) == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "user is required", nil)
	}
	if len(itemIDs) > maxSplitSize {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("a transaction can be matched to at most %d open items", maxSplitSize), nil)
	}
	seen := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		if strings.TrimSpace(id) == "" || seen[id] {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "item ids must be non-empty and distinct", nil)
		}
		seen[id] = true
	}

	txn, err := r.datasource.GetBankTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if err := r.checkOverridable(ctx, txn, seen); err != nil {
		span.RecordError(err)
		return nil, err
	}

	expected := txn.Version
	var items []*model.OpenItem
	if len(itemIDs) == 0 {
		txn.MatchStatus = model.MatchStatusIgnored
		txn.ClearMatch()
	} else {
		items, err = r.datasource.GetOpenItemsByIDs(ctx, itemIDs)
		if err != nil {
			return nil, err
		}
		score, err := r.manualScore(txn, items)
		if err != nil {
			return nil, err
		}
		txn.MatchStatus = model.MatchStatusManuallyMatched
		txn.ClearMatch()
		if len(items) == 1 {
			txn.SetMatchedItem(items[0])
		} else {
			txn.SetSplitItems(itemIDs)
		}
		txn.MatchConfidence = &score
		txn.LedgerApplyPending = true
	}

	if err := r.datasource.UpdateBankTransactionMatch(ctx, txn, expected); err != nil {
		span.RecordError(err)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"transaction_id": txn.ID,
		"status":         txn.MatchStatus,
		"items":          strings.Join(itemIDs, ","),
		"user":           user,
		"reason":         reason,
	}).Info("bank transaction overridden")

	if len(items) > 0 && r.applyToLedger(ctx, txn, items) {
		r.clearLedgerPending(ctx, txn)
	}

	result := resultOf(txn)
	r.publishMatchResult(ctx, result, user, reason)
	r.recomputeEnclosing(ctx, txn)
	return result, nil
}

// checkOverridable rejects reconciled transactions, transactions inside a completed
// or approved period, and changes that would orphan an application the ledger holds.
func (r *Recon) checkOverridable(ctx context.Context, txn *model.BankTransaction, keep map[string]bool) error {
	if txn.IsReconciled() {
		return apierror.NewAPIError(apierror.ErrInvalidState,
			fmt.Sprintf("Bank transaction '%s' is reconciled; record an adjustment instead", txn.ID), nil)
	}
	closed, err := r.inClosedPeriod(ctx, txn)
	if err != nil {
		return err
	}
	if closed {
		return apierror.NewAPIError(apierror.ErrInvalidState,
			fmt.Sprintf("Bank transaction '%s' belongs to a completed reconciliation period", txn.ID), nil)
	}
	if !txn.MatchStatus.IsLedgerBacked() {
		return nil
	}
	apps, err := r.datasource.GetLedgerApplications(ctx, txn.ID)
	if err != nil {
		return err
	}
	for _, app := range apps {
		if app.Outcome.Applied() && !keep[app.InvoiceID] {
			return apierror.NewAPIError(apierror.ErrInvalidState,
				fmt.Sprintf("Open item '%s' already holds a ledger application from this transaction", app.InvoiceID), nil)
		}
	}
	return nil
}

// manualScore validates a manual selection and returns the score it would have had.
func (r *Recon) manualScore(txn *model.BankTransaction, items []*model.OpenItem) (float64, error) {
	for _, item := range items {
		if item.Currency != txn.Currency {
			return 0, apierror.NewAPIError(apierror.ErrInvalidInput,
				fmt.Sprintf("Open item '%s' is in %s, transaction is in %s", item.ID, item.Currency, txn.Currency), nil)
		}
		if item.Direction != txn.Direction() {
			return 0, apierror.NewAPIError(apierror.ErrInvalidInput,
				fmt.Sprintf("Open item '%s' settles on the %s side", item.ID, item.Direction), nil)
		}
	}
	if len(items) == 1 {
		return r.scorer.Score(txn, items[0]).Score, nil
	}

	var total int64
	customer := items[0].CustomerID
	for _, item := range items {
		total += item.OutstandingAmount
		if item.CustomerID != customer {
			return 0, apierror.NewAPIError(apierror.ErrInvalidInput, "split items must belong to one customer", nil)
		}
	}
	if !withinEpsilon(total, model.AbsAmount(txn.Amount), r.matching.AmountEpsilon) {
		return 0, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("split items total %s, transaction amount is %s",
				model.FormatAmount(total, txn.Currency), model.FormatAmount(model.AbsAmount(txn.Amount), txn.Currency)), nil)
	}
	return r.scorer.ScoreSplit(txn, items).Score, nil
}

// inClosedPeriod reports whether an enclosing period is completed or approved.
func (r *Recon) inClosedPeriod(ctx context.Context, txn *model.BankTransaction) (bool, error) {
	periods, err := r.datasource.FindPeriodsCovering(ctx, txn.BankConnectionID, txn.TransactionDate)
	if err != nil {
		return false, err
	}
	for _, p := range periods {
		if !p.Status.IsOpen() {
			return true, nil
		}
	}
	return false, nil
}

func resultOf(txn *model.BankTransaction) *model.MatchResult {
	return &model.MatchResult{
		TransactionID:    txn.ID,
		Status:           txn.MatchStatus,
		Confidence:       txn.MatchConfidence,
		MatchedEntityIDs: txn.MatchedItemIDs(),
		Candidates:       txn.Candidates,
		LedgerPending:    txn.LedgerApplyPending,
	}
}

func sameCandidates(a, b []model.MatchCandidate) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Score != b[i].Score || strings.Join(a[i].ItemIDs, ",") != strings.Join(b[i].ItemIDs, ",") {
			return false
		}
	}
	return true
}
