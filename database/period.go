package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/freightline/recon/internal/apierror"
	"github.com/freightline/recon/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const periodColumns = `id, bank_connection_id, period_start, period_end,
	bank_opening_balance, bank_closing_balance, book_opening_balance, book_closing_balance,
	total_credits, total_debits, matched_count, unmatched_count, discrepancy_amount, status,
	completion_override_reason, created_by, completed_by, completed_at, approved_by, approved_at,
	last_recomputed_at, version, created_at`

func scanPeriod(row rowScanner) (*model.ReconciliationPeriod, error) {
	p := &model.ReconciliationPeriod{}
	err := row.Scan(
		&p.ID, &p.BankConnectionID, &p.PeriodStart, &p.PeriodEnd,
		&p.BankOpeningBalance, &p.BankClosingBalance, &p.BookOpeningBalance, &p.BookClosingBalance,
		&p.TotalCredits, &p.TotalDebits, &p.MatchedCount, &p.UnmatchedCount, &p.DiscrepancyAmount, &p.Status,
		&p.CompletionOverrideReason, &p.CreatedBy, &p.CompletedBy, &p.CompletedAt, &p.ApprovedBy, &p.ApprovedAt,
		&p.LastRecomputedAt, &p.Version, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreatePeriod inserts a draft period. The exclusion constraint on
// (bank_connection_id, daterange) rejects overlaps that slip past the caller's check.
func (d Datasource) CreatePeriod(ctx context.Context, p *model.ReconciliationPeriod) error {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Saving reconciliation period to db")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO recon.reconciliation_periods (
			id, bank_connection_id, period_start, period_end,
			bank_opening_balance, bank_closing_balance, book_opening_balance, book_closing_balance,
			total_credits, total_debits, matched_count, unmatched_count, discrepancy_amount,
			status, created_by, version, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		p.ID, p.BankConnectionID, model.TruncateDay(p.PeriodStart), model.TruncateDay(p.PeriodEnd),
		p.BankOpeningBalance, p.BankClosingBalance, p.BookOpeningBalance, p.BookClosingBalance,
		p.TotalCredits, p.TotalDebits, p.MatchedCount, p.UnmatchedCount, p.DiscrepancyAmount,
		p.Status, p.CreatedBy, p.Version, p.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		switch pqCode(err) {
		case pqExclusionViolation:
			return apierror.NewAPIError(apierror.ErrInvalidInput,
				fmt.Sprintf("A reconciliation period overlapping %s..%s already exists for connection '%s'",
					p.PeriodStart.Format("2006-01-02"), p.PeriodEnd.Format("2006-01-02"), p.BankConnectionID), err)
		case pqUniqueViolation:
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Reconciliation period '%s' already exists", p.ID), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create reconciliation period", err)
	}
	return nil
}

func (d Datasource) GetPeriod(ctx context.Context, id string) (*model.ReconciliationPeriod, error) {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Fetching reconciliation period from db")
	defer span.End()

	p, err := scanPeriod(d.Conn.QueryRowContext(ctx, `SELECT `+periodColumns+` FROM recon.reconciliation_periods WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Reconciliation period", id, err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve reconciliation period", err)
	}
	return p, nil
}

// FindOverlappingPeriods returns periods of the connection sharing at least one day with [start, end].
func (d Datasource) FindOverlappingPeriods(ctx context.Context, connectionID string, start, end time.Time) ([]*model.ReconciliationPeriod, error) {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Fetching overlapping reconciliation periods")
	defer span.End()

	return d.queryPeriods(ctx, `SELECT `+periodColumns+`
		FROM recon.reconciliation_periods
		WHERE bank_connection_id = $1 AND period_start <= $3 AND period_end >= $2
		ORDER BY period_start ASC`, connectionID, model.TruncateDay(start), model.TruncateDay(end))
}

// FindPeriodsCovering returns periods of the connection whose range encloses date.
func (d Datasource) FindPeriodsCovering(ctx context.Context, connectionID string, date time.Time) ([]*model.ReconciliationPeriod, error) {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Fetching reconciliation periods covering date")
	defer span.End()

	day := model.TruncateDay(date)
	return d.queryPeriods(ctx, `SELECT `+periodColumns+`
		FROM recon.reconciliation_periods
		WHERE bank_connection_id = $1 AND period_start <= $2 AND period_end >= $2
		ORDER BY period_start ASC`, connectionID, day)
}

// UpdatePeriod persists figures and lifecycle fields with a version check.
// Approved periods are never updated.
func (d Datasource) UpdatePeriod(ctx context.Context, p *model.ReconciliationPeriod, expectedVersion int64) error {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Updating reconciliation period")
	defer span.End()
	span.SetAttributes(attribute.String("period.id", p.ID), attribute.Int64("expected_version", expectedVersion))

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE recon.reconciliation_periods
		SET bank_closing_balance = $3, book_closing_balance = $4, total_credits = $5, total_debits = $6,
			matched_count = $7, unmatched_count = $8, discrepancy_amount = $9, status = $10,
			completion_override_reason = $11, completed_by = $12, completed_at = $13,
			last_recomputed_at = $14, version = version + 1
		WHERE id = $1 AND version = $2 AND status <> 'approved'`,
		p.ID, expectedVersion,
		p.BankClosingBalance, p.BookClosingBalance, p.TotalCredits, p.TotalDebits,
		p.MatchedCount, p.UnmatchedCount, p.DiscrepancyAmount, p.Status,
		p.CompletionOverrideReason, p.CompletedBy, p.CompletedAt, p.LastRecomputedAt,
	)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update reconciliation period", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rows == 0 {
		return versionConflict("Reconciliation period", p.ID, expectedVersion)
	}
	p.Version = expectedVersion + 1
	return nil
}

// ApprovePeriod marks a completed period approved and stamps every enclosed
// transaction as reconciled, in a single database transaction.
func (d Datasource) ApprovePeriod(ctx context.Context, p *model.ReconciliationPeriod, expectedVersion int64) error {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Approving reconciliation period")
	defer span.End()

	if p.ApprovedBy == nil || p.ApprovedAt == nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "approved_by and approved_at are required", nil)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE recon.reconciliation_periods
		SET status = 'approved', approved_by = $3, approved_at = $4, version = version + 1
		WHERE id = $1 AND version = $2 AND status = 'completed'`,
		p.ID, expectedVersion, *p.ApprovedBy, *p.ApprovedAt,
	)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to approve reconciliation period", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rows == 0 {
		return versionConflict("Reconciliation period", p.ID, expectedVersion)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE recon.bank_transactions
		SET reconciled_at = $4, reconciled_by = $5, version = version + 1, updated_at = $4
		WHERE bank_connection_id = $1 AND transaction_date >= $2 AND transaction_date <= $3
			AND reconciled_at IS NULL`,
		p.BankConnectionID, model.TruncateDay(p.PeriodStart), model.TruncateDay(p.PeriodEnd), *p.ApprovedAt, *p.ApprovedBy,
	)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reconcile period transactions", err)
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit period approval", err)
	}
	p.Status = model.PeriodStatusApproved
	p.Version = expectedVersion + 1
	return nil
}

// GetStalePeriods returns draft or in-progress periods that ended before the cutoff
// and still have unmatched transactions.
func (d Datasource) GetStalePeriods(ctx context.Context, endedBefore time.Time) ([]*model.ReconciliationPeriod, error) {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Fetching stale reconciliation periods")
	defer span.End()

	return d.queryPeriods(ctx, `SELECT `+periodColumns+`
		FROM recon.reconciliation_periods
		WHERE status IN ('draft', 'in_progress') AND period_end < $1 AND unmatched_count > 0
		ORDER BY period_end ASC, id ASC`, model.TruncateDay(endedBefore))
}

func (d Datasource) queryPeriods(ctx context.Context, query string, args ...interface{}) ([]*model.ReconciliationPeriod, error) {
	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve reconciliation periods", err)
	}
	defer rows.Close()

	var periods []*model.ReconciliationPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan reconciliation period data", err)
		}
		periods = append(periods, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over reconciliation periods", err)
	}
	return periods, nil
}
