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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/freightline/recon/internal/apierror"
	redlock "github.com/freightline/recon/internal/lock"
	"github.com/freightline/recon/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"
	"github.com/wacul/ptr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// SystemUser is recorded on audit entries written by background recomputation.
const SystemUser = "system"

// OpenPeriodRequest describes a new reconciliation period.
type OpenPeriodRequest struct {
	BankConnectionID   string
	PeriodStart        time.Time
	PeriodEnd          time.Time
	BankOpeningBalance int64
	BookOpeningBalance int64
	User               string
}

func (req OpenPeriodRequest) Validate() error {
	err := validation.ValidateStruct(&req,
		validation.Field(&req.BankConnectionID, validation.Required),
		validation.Field(&req.PeriodStart, validation.Required),
		validation.Field(&req.PeriodEnd, validation.Required),
		validation.Field(&req.User, validation.Required),
	)
	if err != nil {
		return err
	}
	if model.TruncateDay(req.PeriodEnd).Before(model.TruncateDay(req.PeriodStart)) {
		return fmt.Errorf("period_end must not be before period_start")
	}
	return nil
}

// AdjustmentRequest corrects a reconciled transaction.
type AdjustmentRequest struct {
	TransactionID string
	NewItemID     *string
	Amount        int64
	Reason        string
	User          string
}

func (req AdjustmentRequest) Validate() error {
	err := validation.ValidateStruct(&req,
		validation.Field(&req.TransactionID, validation.Required),
		validation.Field(&req.Reason, validation.Required),
		validation.Field(&req.User, validation.Required),
	)
	if err != nil {
		return err
	}
	if req.Amount == 0 && req.NewItemID == nil {
		return fmt.Errorf("an adjustment needs an amount or a new item")
	}
	return nil
}

// OpenPeriod creates a draft reconciliation period for a bank connection. Periods of
// one connection never overlap; the check runs under the connection lock.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - req OpenPeriodRequest: The connection, date range, opening balances and user.
//
// Returns:
// - *model.ReconciliationPeriod: The created period.
// - error: INVALID_INPUT for bad ranges or overlaps, NOT_FOUND for unknown connections.
func (r *Recon) OpenPeriod(ctx context.Context, req OpenPeriodRequest) (*model.ReconciliationPeriod, error) {
	ctx, span := otel.Tracer("recon.periods").Start(ctx, "OpenPeriod")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	if _, err := r.datasource.GetBankConnection(ctx, req.BankConnectionID); err != nil {
		return nil, err
	}

	var period *model.ReconciliationPeriod
	err := r.withLock(ctx, redlock.ConnectionKey(req.BankConnectionID), func() error {
		overlapping, err := r.datasource.FindOverlappingPeriods(ctx, req.BankConnectionID, req.PeriodStart, req.PeriodEnd)
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			return apierror.NewAPIError(apierror.ErrInvalidInput,
				fmt.Sprintf("Period overlaps reconciliation period '%s' (%s..%s)", overlapping[0].ID,
					overlapping[0].PeriodStart.Format("2006-01-02"), overlapping[0].PeriodEnd.Format("2006-01-02")), nil)
		}

		period = &model.ReconciliationPeriod{
			ID:                 model.GenerateUUIDWithSuffix("period"),
			BankConnectionID:   req.BankConnectionID,
			PeriodStart:        model.TruncateDay(req.PeriodStart),
			PeriodEnd:          model.TruncateDay(req.PeriodEnd),
			BankOpeningBalance: req.BankOpeningBalance,
			BankClosingBalance: req.BankOpeningBalance,
			BookOpeningBalance: req.BookOpeningBalance,
			BookClosingBalance: req.BookOpeningBalance,
			DiscrepancyAmount:  0,
			Status:             model.PeriodStatusDraft,
			CreatedBy:          req.User,
			Version:            1,
			CreatedAt:          r.clock.Now(),
		}
		if err := r.datasource.CreatePeriod(ctx, period); err != nil {
			return err
		}
		r.audit(ctx, period.ID, model.PeriodActionOpened, req.User, map[string]interface{}{
			"period_start":         period.PeriodStart.Format("2006-01-02"),
			"period_end":           period.PeriodEnd.Format("2006-01-02"),
			"bank_opening_balance": period.BankOpeningBalance,
			"book_opening_balance": period.BookOpeningBalance,
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return period, nil
}

// GetPeriod returns a reconciliation period by ID.
func (r *Recon) GetPeriod(ctx context.Context, periodID string) (*model.ReconciliationPeriod, error) {
	return r.datasource.GetPeriod(ctx, periodID)
}

// PeriodAudit returns the audit trail of a period, oldest first.
func (r *Recon) PeriodAudit(ctx context.Context, periodID string) ([]*model.PeriodAuditRecord, error) {
	if _, err := r.datasource.GetPeriod(ctx, periodID); err != nil {
		return nil, err
	}
	return r.datasource.GetPeriodAudit(ctx, periodID)
}

// RecomputePeriod refreshes the totals, counts and closing balances of a draft or
// in-progress period. The first successful recompute moves a draft period to
// in_progress. Running it twice without data changes yields the same figures.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - periodID string: The period to recompute.
//
// Returns:
// - *model.ReconciliationPeriod: The period with fresh figures.
// - error: INVALID_STATE for completed or approved periods, CONFLICT when the lock is busy.
func (r *Recon) RecomputePeriod(ctx context.Context, periodID string) (*model.ReconciliationPeriod, error) {
	ctx, span := otel.Tracer("recon.periods").Start(ctx, "RecomputePeriod")
	defer span.End()
	span.SetAttributes(attribute.String("period.id", periodID))

	var period *model.ReconciliationPeriod
	err := r.withLock(ctx, redlock.PeriodKey(periodID), func() error {
		var err error
		period, err = r.recomputeLocked(ctx, periodID, SystemUser)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return period, nil
}

func (r *Recon) recomputeLocked(ctx context.Context, periodID, user string) (*model.ReconciliationPeriod, error) {
	p, err := r.datasource.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if !p.Status.IsOpen() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidState,
			fmt.Sprintf("Reconciliation period '%s' is %s; only draft or in-progress periods are recomputed", p.ID, p.Status), nil)
	}

	figures, err := r.computeFigures(ctx, p)
	if err != nil {
		return nil, err
	}

	previous := p.Figures()
	wasDraft := p.Status == model.PeriodStatusDraft
	expected := p.Version
	now := r.clock.Now()
	p.SetFigures(figures)
	p.LastRecomputedAt = &now
	if wasDraft {
		p.Status = model.PeriodStatusInProgress
	}
	if err := r.datasource.UpdatePeriod(ctx, p, expected); err != nil {
		return nil, err
	}

	if figures != previous || wasDraft {
		r.audit(ctx, p.ID, model.PeriodActionRecomputed, user, figures)
	}
	return p, nil
}

// computeFigures derives a period's figures from its enclosed transactions, the
// statement balance and the amounts the ledger holds.
func (r *Recon) computeFigures(ctx context.Context, p *model.ReconciliationPeriod) (model.PeriodFigures, error) {
	var f model.PeriodFigures

	txns, err := r.datasource.GetTransactionsInRange(ctx, p.BankConnectionID, p.PeriodStart, p.PeriodEnd)
	if err != nil {
		return f, err
	}
	for _, txn := range txns {
		if txn.Amount > 0 {
			f.TotalCredits += txn.Amount
		} else {
			f.TotalDebits += -txn.Amount
		}
		if txn.MatchStatus.IsResolved() {
			f.MatchedCount++
		} else {
			f.UnmatchedCount++
		}
	}

	statement, err := r.datasource.GetStatementClosingBalance(ctx, p.BankConnectionID, p.PeriodEnd)
	if err != nil {
		return f, err
	}
	if statement != nil {
		f.BankClosingBalance = *statement
	} else {
		f.BankClosingBalance = p.BankOpeningBalance + f.TotalCredits - f.TotalDebits
	}

	applied, err := r.datasource.SumAppliedAmounts(ctx, p.BankConnectionID, p.PeriodStart, p.PeriodEnd)
	if err != nil {
		return f, err
	}
	f.BookClosingBalance = p.BookOpeningBalance + applied
	f.DiscrepancyAmount = (f.BankClosingBalance - p.BankOpeningBalance) - (f.BookClosingBalance - p.BookOpeningBalance)
	return f, nil
}

// ledgerPendingIn returns the IDs of the period's transactions whose ledger
// application is not yet confirmed.
func (r *Recon) ledgerPendingIn(ctx context.Context, p *model.ReconciliationPeriod) ([]string, error) {
	txns, err := r.datasource.GetTransactionsInRange(ctx, p.BankConnectionID, p.PeriodStart, p.PeriodEnd)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, txn := range txns {
		if txn.LedgerApplyPending {
			pending = append(pending, txn.ID)
		}
	}
	return pending, nil
}

// CompletePeriod recomputes a period and marks it completed. Unmatched transactions
// block completion unless an override reason is given, which is recorded.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - periodID string: The period to complete.
// - user string: Who completes the period.
// - overrideReason string: Required when unmatched transactions remain.
//
// Returns:
// - *model.ReconciliationPeriod: The completed period.
// - error: UNRESOLVED_TRANSACTIONS, INVALID_STATE or CONFLICT errors.
func (r *Recon) CompletePeriod(ctx context.Context, periodID, user, overrideReason string) (*model.ReconciliationPeriod, error) {
	ctx, span := otel.Tracer("recon.periods").Start(ctx, "CompletePeriod")
	defer span.End()
	span.SetAttributes(attribute.String("period.id", periodID))

	if strings.TrimSpace(user) == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "user is required", nil)
	}
	overrideReason = strings.TrimSpace(overrideReason)

	var period *model.ReconciliationPeriod
	err := r.withLock(ctx, redlock.PeriodKey(periodID), func() error {
		p, err := r.recomputeLocked(ctx, periodID, user)
		if err != nil {
			return err
		}
		if !p.Status.CanTransitionTo(model.PeriodStatusCompleted) {
			return apierror.NewAPIError(apierror.ErrInvalidState,
				fmt.Sprintf("Reconciliation period '%s' is %s and cannot be completed", p.ID, p.Status), nil)
		}
		if p.UnmatchedCount > 0 && overrideReason == "" {
			return apierror.NewAPIError(apierror.ErrUnresolvedTransactions,
				fmt.Sprintf("Reconciliation period '%s' has %d unresolved transaction(s)", p.ID, p.UnmatchedCount),
				map[string]interface{}{"unmatched_count": p.UnmatchedCount})
		}

		expected := p.Version
		p.Status = model.PeriodStatusCompleted
		p.CompletedBy = ptr.String(user)
		p.CompletedAt = ptr.Time(r.clock.Now())
		if overrideReason != "" {
			p.CompletionOverrideReason = ptr.String(overrideReason)
		}
		if err := r.datasource.UpdatePeriod(ctx, p, expected); err != nil {
			return err
		}
		r.audit(ctx, p.ID, model.PeriodActionCompleted, user, map[string]interface{}{
			"unmatched_count":    p.UnmatchedCount,
			"discrepancy_amount": p.DiscrepancyAmount,
			"override_reason":    overrideReason,
		})
		period = p
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return period, nil
}

// ApprovePeriod approves a completed period and reconciles every enclosed transaction.
// The approver must differ from the user who completed the period.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - periodID string: The period to approve.
// - user string: Who approves the period.
//
// Returns:
// - *model.ReconciliationPeriod: The approved period.
// - error: FORBIDDEN for the completing user, UNRESOLVED_TRANSACTIONS or INVALID_STATE otherwise.
func (r *Recon) ApprovePeriod(ctx context.Context, periodID, user string) (*model.ReconciliationPeriod, error) {
	ctx, span := otel.Tracer("recon.periods").Start(ctx, "ApprovePeriod")
	defer span.End()
	span.SetAttributes(attribute.String("period.id", periodID))

	if strings.TrimSpace(user) == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "user is required", nil)
	}

	var period *model.ReconciliationPeriod
	err := r.withLock(ctx, redlock.PeriodKey(periodID), func() error {
		p, err := r.datasource.GetPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		if !p.Status.CanTransitionTo(model.PeriodStatusApproved) {
			return apierror.NewAPIError(apierror.ErrInvalidState,
				fmt.Sprintf("Reconciliation period '%s' is %s; only completed periods can be approved", p.ID, p.Status), nil)
		}
		if p.CompletedBy != nil && *p.CompletedBy == user {
			return apierror.NewAPIError(apierror.ErrForbidden,
				"A period must be approved by someone other than the user who completed it", nil)
		}
		// Transactions can arrive after completion; count them again.
		current, err := r.computeFigures(ctx, p)
		if err != nil {
			return err
		}
		unmatched := p.UnmatchedCount
		if current.UnmatchedCount > unmatched {
			unmatched = current.UnmatchedCount
		}
		if unmatched > 0 && (p.CompletionOverrideReason == nil || strings.TrimSpace(*p.CompletionOverrideReason) == "") {
			return apierror.NewAPIError(apierror.ErrUnresolvedTransactions,
				fmt.Sprintf("Reconciliation period '%s' has %d unresolved transaction(s) and no override reason", p.ID, unmatched),
				map[string]interface{}{"unmatched_count": unmatched})
		}

		// Approval reconciles the transactions, after which nothing retries their ledger
		// applications.
		pending, err := r.ledgerPendingIn(ctx, p)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return apierror.NewAPIError(apierror.ErrInvalidState,
				fmt.Sprintf("Reconciliation period '%s' has %d transaction(s) awaiting ledger application", p.ID, len(pending)),
				map[string]interface{}{"ledger_pending_transaction_ids": pending})
		}

		p.ApprovedBy = ptr.String(user)
		p.ApprovedAt = ptr.Time(r.clock.Now())
		if err := r.datasource.ApprovePeriod(ctx, p, p.Version); err != nil {
			return err
		}
		r.audit(ctx, p.ID, model.PeriodActionApproved, user, map[string]interface{}{
			"matched_count":      p.MatchedCount,
			"unmatched_count":    p.UnmatchedCount,
			"discrepancy_amount": p.DiscrepancyAmount,
		})
		period = p
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return period, nil
}

// RecordAdjustment records a correction against a reconciled transaction. The
// transaction's match fields stay untouched; the adjustment is audited on the
// approved period that reconciled it.
func (r *Recon) RecordAdjustment(ctx context.Context, req AdjustmentRequest) (*model.Adjustment, error) {
	ctx, span := otel.Tracer("recon.periods").Start(ctx, "RecordAdjustment")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	txn, err := r.datasource.GetBankTransaction(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if !txn.IsReconciled() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidState,
			fmt.Sprintf("Bank transaction '%s' is not reconciled; use an override instead", txn.ID), nil)
	}
	if req.NewItemID != nil {
		if _, err := r.datasource.GetOpenItemsByIDs(ctx, []string{*req.NewItemID}); err != nil {
			return nil, err
		}
	}

	periods, err := r.datasource.FindPeriodsCovering(ctx, txn.BankConnectionID, txn.TransactionDate)
	if err != nil {
		return nil, err
	}
	var periodID string
	for _, p := range periods {
		if p.Status == model.PeriodStatusApproved {
			periodID = p.ID
			break
		}
	}
	if periodID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidState,
			fmt.Sprintf("No approved period encloses bank transaction '%s'", txn.ID), nil)
	}

	adj := &model.Adjustment{
		ID:            model.GenerateUUIDWithSuffix("adj"),
		TransactionID: txn.ID,
		PeriodID:      periodID,
		NewItemID:     req.NewItemID,
		Amount:        req.Amount,
		Reason:        req.Reason,
		CreatedBy:     req.User,
		CreatedAt:     r.clock.Now(),
	}
	if err := r.datasource.RecordAdjustment(ctx, adj); err != nil {
		span.RecordError(err)
		return nil, err
	}
	r.audit(ctx, periodID, model.PeriodActionAdjusted, req.User, adj)
	return adj, nil
}

// Adjustments returns the corrections recorded for a transaction.
func (r *Recon) Adjustments(ctx context.Context, transactionID string) ([]*model.Adjustment, error) {
	return r.datasource.GetAdjustments(ctx, transactionID)
}

// CheckStalePeriods alerts on open periods that ended more than the configured
// staleness ago and still have unmatched transactions.
func (r *Recon) CheckStalePeriods(ctx context.Context) ([]*model.ReconciliationPeriod, error) {
	ctx, span := otel.Tracer("recon.periods").Start(ctx, "CheckStalePeriods")
	defer span.End()

	cutoff := r.clock.Now().Add(-time.Duration(r.periods.StalenessHours) * time.Hour)
	periods, err := r.datasource.GetStalePeriods(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	for _, p := range periods {
		r.alert(ctx, model.AlertPeriodStale, model.SeverityWarning, p.ID,
			fmt.Sprintf("Reconciliation period %s..%s still has %d unmatched transaction(s)",
				p.PeriodStart.Format("2006-01-02"), p.PeriodEnd.Format("2006-01-02"), p.UnmatchedCount),
			map[string]interface{}{
				"period_id":          p.ID,
				"bank_connection_id": p.BankConnectionID,
				"unmatched_count":    p.UnmatchedCount,
				"status":             string(p.Status),
			})
	}
	return periods, nil
}

// recomputeEnclosing refreshes every open period enclosing the transaction's date.
func (r *Recon) recomputeEnclosing(ctx context.Context, txn *model.BankTransaction) {
	periods, err := r.datasource.FindPeriodsCovering(ctx, txn.BankConnectionID, txn.TransactionDate)
	if err != nil {
		logrus.WithError(err).WithField("transaction_id", txn.ID).Warn("failed to load enclosing periods")
		return
	}
	for _, p := range periods {
		if !p.Status.IsOpen() {
			continue
		}
		if _, err := r.RecomputePeriod(ctx, p.ID); err != nil {
			logrus.WithError(err).WithField("period_id", p.ID).Warn("failed to recompute enclosing period")
		}
	}
}

func (r *Recon) audit(ctx context.Context, periodID string, action model.PeriodAction, user string, detail interface{}) {
	raw, err := json.Marshal(detail)
	if err != nil {
		logrus.WithError(err).WithField("period_id", periodID).Warn("failed to marshal audit detail")
		raw = nil
	}
	record := &model.PeriodAuditRecord{
		PeriodID:  periodID,
		Action:    action,
		User:      user,
		Timestamp: r.clock.Now(),
		Detail:    raw,
	}
	if err := r.datasource.RecordPeriodAudit(ctx, record); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"period_id": periodID,
			"action":    action,
		}).Error("failed to record period audit")
	}
}
