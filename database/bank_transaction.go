package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/freightline/recon/internal/apierror"
	"github.com/freightline/recon/model"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const bankTransactionColumns = `id, bank_connection_id, amount, currency, transaction_date, value_date,
	counterparty_name, counterparty_account, description, transaction_ref, match_status,
	match_confidence, matched_invoice_id, matched_receivable_id, split_item_ids, candidates,
	ledger_apply_pending, reconciled_at, reconciled_by, raw_data, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBankTransaction(row rowScanner) (*model.BankTransaction, error) {
	txn := &model.BankTransaction{}
	var (
		splitIDs   pq.StringArray
		candidates []byte
		rawData    []byte
	)
	err := row.Scan(
		&txn.ID, &txn.BankConnectionID, &txn.Amount, &txn.Currency, &txn.TransactionDate, &txn.ValueDate,
		&txn.CounterpartyName, &txn.CounterpartyAccount, &txn.Description, &txn.TransactionRef, &txn.MatchStatus,
		&txn.MatchConfidence, &txn.MatchedInvoiceID, &txn.MatchedReceivableID, &splitIDs, &candidates,
		&txn.LedgerApplyPending, &txn.ReconciledAt, &txn.ReconciledBy, &rawData, &txn.Version, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(splitIDs) > 0 {
		txn.SplitItemIDs = []string(splitIDs)
	}
	if len(candidates) > 0 {
		if err := json.Unmarshal(candidates, &txn.Candidates); err != nil {
			return nil, fmt.Errorf("failed to unmarshal candidates: %w", err)
		}
	}
	if len(rawData) > 0 {
		txn.RawData = json.RawMessage(rawData)
	}
	return txn, nil
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// RecordBankTransaction inserts a normalized transaction in the unmatched state.
func (d Datasource) RecordBankTransaction(ctx context.Context, txn *model.BankTransaction) (*model.BankTransaction, error) {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Saving bank transaction to db")
	defer span.End()

	if txn.ID == "" {
		txn.ID = model.GenerateUUIDWithSuffix("txn")
	}
	now := time.Now().UTC()
	txn.MatchStatus = model.MatchStatusUnmatched
	txn.ClearMatch()
	txn.Version = 1
	txn.CreatedAt = now
	txn.UpdatedAt = now

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO recon.bank_transactions (
			id, bank_connection_id, amount, currency, transaction_date, value_date,
			counterparty_name, counterparty_account, description, transaction_ref,
			match_status, raw_data, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		txn.ID, txn.BankConnectionID, txn.Amount, txn.Currency, txn.TransactionDate, txn.ValueDate,
		txn.CounterpartyName, txn.CounterpartyAccount, txn.Description, txn.TransactionRef,
		txn.MatchStatus, nullableJSON(txn.RawData), txn.Version, txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		if pqCode(err) == pqUniqueViolation {
			return nil, apierror.NewAPIError(apierror.ErrConflict,
				fmt.Sprintf("Transaction with reference '%s' already exists for connection '%s'", txn.TransactionRef, txn.BankConnectionID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record bank transaction", err)
	}
	return txn, nil
}

// GetBankTransaction retrieves a bank transaction by its ID.
func (d Datasource) GetBankTransaction(ctx context.Context, id string) (*model.BankTransaction, error) {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Fetching bank transaction from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `SELECT `+bankTransactionColumns+` FROM recon.bank_transactions WHERE id = $1`, id)
	txn, err := scanBankTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Bank transaction", id, err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve bank transaction", err)
	}
	return txn, nil
}

func (d Datasource) GetBankTransactionByRef(ctx context.Context, connectionID, ref string) (*model.BankTransaction, error) {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Fetching bank transaction by reference")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `SELECT `+bankTransactionColumns+`
		FROM recon.bank_transactions WHERE bank_connection_id = $1 AND transaction_ref = $2`, connectionID, ref)
	txn, err := scanBankTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with reference '%s' not found", ref), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve bank transaction", err)
	}
	return txn, nil
}

// UpdateBankTransactionMatch writes the match fields only if the stored version still
// equals expectedVersion and the transaction is not reconciled. On success txn.Version
// is advanced; otherwise a CONFLICT error is returned and nothing is written.
func (d Datasource) UpdateBankTransactionMatch(ctx context.Context, txn *model.BankTransaction, expectedVersion int64) error {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Updating bank transaction match")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", txn.ID), attribute.Int64("expected_version", expectedVersion))

	var candidates []byte
	if len(txn.Candidates) > 0 {
		var err error
		candidates, err = json.Marshal(txn.Candidates)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal candidates", err)
		}
	}
	now := time.Now().UTC()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE recon.bank_transactions
		SET match_status = $3, match_confidence = $4, matched_invoice_id = $5, matched_receivable_id = $6,
			split_item_ids = $7, candidates = $8, ledger_apply_pending = $9,
			version = version + 1, updated_at = $10
		WHERE id = $1 AND version = $2 AND reconciled_at IS NULL`,
		txn.ID, expectedVersion, txn.MatchStatus, txn.MatchConfidence, txn.MatchedInvoiceID, txn.MatchedReceivableID,
		pq.Array(txn.SplitItemIDs), nullableJSON(candidates), txn.LedgerApplyPending, now,
	)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update bank transaction match", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rows == 0 {
		return versionConflict("Bank transaction", txn.ID, expectedVersion)
	}
	txn.Version = expectedVersion + 1
	txn.UpdatedAt = now
	return nil
}

// GetUnmatchedTransactionsAfter returns up to limit unmatched transactions of a
// connection with IDs strictly greater than afterID, in ID order.
func (d Datasource) GetUnmatchedTransactionsAfter(ctx context.Context, connectionID, afterID string, limit int) ([]*model.BankTransaction, error) {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Fetching unmatched bank transactions page")
	defer span.End()

	return d.queryBankTransactions(ctx, `SELECT `+bankTransactionColumns+`
		FROM recon.bank_transactions
		WHERE bank_connection_id = $1 AND match_status = 'unmatched' AND id > $2
		ORDER BY id ASC
		LIMIT $3`, connectionID, afterID, limit)
}

// GetLedgerPendingTransactions pages through unreconciled transactions whose
// ledger application has not been confirmed, in ID order.
func (d Datasource) GetLedgerPendingTransactions(ctx context.Context, afterID string, limit int) ([]*model.BankTransaction, error) {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Fetching ledger pending bank transactions")
	defer span.End()

	return d.queryBankTransactions(ctx, `SELECT `+bankTransactionColumns+`
		FROM recon.bank_transactions
		WHERE ledger_apply_pending AND reconciled_at IS NULL AND id > $1
		ORDER BY id ASC
		LIMIT $2`, afterID, limit)
}

func (d Datasource) GetTransactionsInRange(ctx context.Context, connectionID string, start, end time.Time) ([]*model.BankTransaction, error) {
	ctx, span := otel.Tracer("Reconciliation").Start(ctx, "Fetching bank transactions in range")
	defer span.End()

	return d.queryBankTransactions(ctx, `SELECT `+bankTransactionColumns+`
		FROM recon.bank_transactions
		WHERE bank_connection_id = $1 AND transaction_date >= $2 AND transaction_date <= $3
		ORDER BY transaction_date ASC, id ASC`, connectionID, model.TruncateDay(start), model.TruncateDay(end))
}

func (d Datasource) queryBankTransactions(ctx context.Context, query string, args ...interface{}) ([]*model.BankTransaction, error) {
	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve bank transactions", err)
	}
	defer rows.Close()

	var transactions []*model.BankTransaction
	for rows.Next() {
		txn, err := scanBankTransaction(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan bank transaction data", err)
		}
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over bank transactions", err)
	}
	return transactions, nil
}
