package database

import (
	"context"
	"time"

	"github.com/freightline/recon/internal/apierror"
	"github.com/freightline/recon/model"
	"go.opentelemetry.io/otel"
)

func (d Datasource) RecordPeriodAudit(ctx context.Context, record *model.PeriodAuditRecord) error {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Saving period audit record")
	defer span.End()

	if record.ID == "" {
		record.ID = model.GenerateUUIDWithSuffix("audit")
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO recon.period_audit (id, period_id, action, actor, occurred_at, detail)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ID, record.PeriodID, record.Action, record.User, record.Timestamp, nullableJSON(record.Detail),
	)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record period audit", err)
	}
	return nil
}

// GetPeriodAudit returns the audit trail of a period, oldest first.
func (d Datasource) GetPeriodAudit(ctx context.Context, periodID string) ([]*model.PeriodAuditRecord, error) {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Fetching period audit trail")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, period_id, action, actor, occurred_at, detail
		FROM recon.period_audit
		WHERE period_id = $1
		ORDER BY occurred_at ASC, id ASC`, periodID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve period audit", err)
	}
	defer rows.Close()

	var records []*model.PeriodAuditRecord
	for rows.Next() {
		record := &model.PeriodAuditRecord{}
		var detail []byte
		if err := rows.Scan(&record.ID, &record.PeriodID, &record.Action, &record.User, &record.Timestamp, &detail); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan period audit data", err)
		}
		if len(detail) > 0 {
			record.Detail = detail
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over period audit", err)
	}
	return records, nil
}
