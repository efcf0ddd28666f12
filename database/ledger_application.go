package database

import (
	"context"
	"time"

	"github.com/freightline/recon/internal/apierror"
	"github.com/freightline/recon/model"
	"go.opentelemetry.io/otel"
)

// RecordLedgerApplication stores the outcome of an apply call. A second record with
// the same idempotency key replaces the outcome and attempt count of the first.
func (d Datasource) RecordLedgerApplication(ctx context.Context, app *model.LedgerApplication) error {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Saving ledger application to db")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO recon.ledger_applications (
			idempotency_key, transaction_id, invoice_id, amount, currency, outcome, attempts, applied_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET outcome = EXCLUDED.outcome, attempts = EXCLUDED.attempts, applied_at = EXCLUDED.applied_at`,
		app.IdempotencyKey, app.TransactionID, app.InvoiceID, app.Amount, app.Currency,
		app.Outcome, app.Attempts, app.AppliedAt,
	)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record ledger application", err)
	}
	return nil
}

func (d Datasource) GetLedgerApplications(ctx context.Context, transactionID string) ([]*model.LedgerApplication, error) {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Fetching ledger applications from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT idempotency_key, transaction_id, invoice_id, amount, currency, outcome, attempts, applied_at
		FROM recon.ledger_applications
		WHERE transaction_id = $1
		ORDER BY idempotency_key ASC`, transactionID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ledger applications", err)
	}
	defer rows.Close()

	var apps []*model.LedgerApplication
	for rows.Next() {
		app := &model.LedgerApplication{}
		if err := rows.Scan(&app.IdempotencyKey, &app.TransactionID, &app.InvoiceID, &app.Amount,
			&app.Currency, &app.Outcome, &app.Attempts, &app.AppliedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan ledger application data", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over ledger applications", err)
	}
	return apps, nil
}

// SumAppliedAmounts adds up successfully applied amounts for transactions of the
// connection dated in [start, end]. Amounts take the sign of their bank transaction.
func (d Datasource) SumAppliedAmounts(ctx context.Context, connectionID string, start, end time.Time) (int64, error) {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Summing applied ledger amounts")
	defer span.End()

	var total int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN t.amount < 0 THEN -la.amount ELSE la.amount END), 0)
		FROM recon.ledger_applications la
		JOIN recon.bank_transactions t ON t.id = la.transaction_id
		WHERE t.bank_connection_id = $1 AND t.transaction_date >= $2 AND t.transaction_date <= $3
			AND la.outcome IN ('success', 'already_applied')`,
		connectionID, model.TruncateDay(start), model.TruncateDay(end)).Scan(&total)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to sum applied amounts", err)
	}
	return total, nil
}
