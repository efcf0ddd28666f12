package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/freightline/recon/internal/apierror"
	"github.com/freightline/recon/model"
	"go.opentelemetry.io/otel"
)

// SaveSweepProgress checkpoints a sweep so an interrupted run can resume after
// the last processed transaction.
func (d Datasource) SaveSweepProgress(ctx context.Context, key string, progress model.SweepProgress) error {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Saving sweep progress")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO recon.sweep_progress (sweep_key, last_processed_transaction_id, processed_count, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (sweep_key) DO UPDATE
		SET last_processed_transaction_id = EXCLUDED.last_processed_transaction_id,
			processed_count = EXCLUDED.processed_count,
			updated_at = EXCLUDED.updated_at`,
		key, progress.LastProcessedTransactionID, progress.ProcessedCount, time.Now().UTC(),
	)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save sweep progress", err)
	}
	return nil
}

func (d Datasource) LoadSweepProgress(ctx context.Context, key string) (model.SweepProgress, error) {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Loading sweep progress")
	defer span.End()

	var progress model.SweepProgress
	err := d.Conn.QueryRowContext(ctx, `
		SELECT last_processed_transaction_id, processed_count
		FROM recon.sweep_progress WHERE sweep_key = $1`, key).Scan(&progress.LastProcessedTransactionID, &progress.ProcessedCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SweepProgress{}, nil
		}
		return model.SweepProgress{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to load sweep progress", err)
	}
	return progress, nil
}
