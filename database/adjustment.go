package database

import (
	"context"
	"time"

	"github.com/freightline/recon/internal/apierror"
	"github.com/freightline/recon/model"
	"go.opentelemetry.io/otel"
)

func (d Datasource) RecordAdjustment(ctx context.Context, adj *model.Adjustment) error {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Saving adjustment to db")
	defer span.End()

	if adj.ID == "" {
		adj.ID = model.GenerateUUIDWithSuffix("adj")
	}
	if adj.CreatedAt.IsZero() {
		adj.CreatedAt = time.Now().UTC()
	}
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO recon.adjustments (id, transaction_id, period_id, new_item_id, amount, reason, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		adj.ID, adj.TransactionID, adj.PeriodID, adj.NewItemID, adj.Amount, adj.Reason, adj.CreatedBy, adj.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record adjustment", err)
	}
	return nil
}

func (d Datasource) GetAdjustments(ctx context.Context, transactionID string) ([]*model.Adjustment, error) {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Fetching adjustments from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, transaction_id, period_id, new_item_id, amount, reason, created_by, created_at
		FROM recon.adjustments
		WHERE transaction_id = $1
		ORDER BY created_at ASC, id ASC`, transactionID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve adjustments", err)
	}
	defer rows.Close()

	var adjustments []*model.Adjustment
	for rows.Next() {
		adj := &model.Adjustment{}
		if err := rows.Scan(&adj.ID, &adj.TransactionID, &adj.PeriodID, &adj.NewItemID, &adj.Amount,
			&adj.Reason, &adj.CreatedBy, &adj.CreatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan adjustment data", err)
		}
		adjustments = append(adjustments, adj)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over adjustments", err)
	}
	return adjustments, nil
}
