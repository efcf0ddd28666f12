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

func (d Datasource) GetBankConnection(ctx context.Context, id string) (*model.BankConnection, error) {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Fetching bank connection from db")
	defer span.End()

	conn := &model.BankConnection{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, account_number, bank_name, currency, running_balance, available_balance, sync_status, last_synced_at
		FROM recon.bank_connections
		WHERE id = $1`, id).Scan(
		&conn.ID, &conn.AccountNumber, &conn.BankName, &conn.Currency,
		&conn.RunningBalance, &conn.AvailableBalance, &conn.SyncStatus, &conn.LastSyncedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Bank connection", id, err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve bank connection", err)
	}
	return conn, nil
}

// GetStatementClosingBalance returns the bank-reported closing balance for the
// statement day, or nil when the feed did not provide one.
func (d Datasource) GetStatementClosingBalance(ctx context.Context, connectionID string, date time.Time) (*int64, error) {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Fetching statement closing balance")
	defer span.End()

	var balance int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT closing_balance FROM recon.statement_balances
		WHERE bank_connection_id = $1 AND statement_date = $2`, connectionID, model.TruncateDay(date)).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve statement closing balance", err)
	}
	return &balance, nil
}
