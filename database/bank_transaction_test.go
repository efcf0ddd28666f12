package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/freightline/recon/internal/apierror"
	"github.com/freightline/recon/model"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bankTransactionRowColumns() []string {
	return []string{"id", "bank_connection_id", "amount", "currency", "transaction_date", "value_date",
		"counterparty_name", "counterparty_account", "description", "transaction_ref", "match_status",
		"match_confidence", "matched_invoice_id", "matched_receivable_id", "split_item_ids", "candidates",
		"ledger_apply_pending", "reconciled_at", "reconciled_by", "raw_data", "version", "created_at", "updated_at"}
}

func TestRecordBankTransaction_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	txn := &model.BankTransaction{
		BankConnectionID: "conn1",
		Amount:           120000,
		Currency:         "EUR",
		TransactionDate:  time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		ValueDate:        time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		CounterpartyName: "Acme GmbH",
		Description:      "INV-2024-0042",
		TransactionRef:   "ref-1",
	}

	mock.ExpectExec("INSERT INTO recon.bank_transactions").
		WithArgs(sqlmock.AnyArg(), "conn1", int64(120000), "EUR", txn.TransactionDate, txn.ValueDate,
			"Acme GmbH", "", "INV-2024-0042", "ref-1", "unmatched", nil, int64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	saved, err := ds.RecordBankTransaction(context.Background(), txn)
	require.NoError(t, err)
	assert.Contains(t, saved.ID, "txn_")
	assert.Equal(t, model.MatchStatusUnmatched, saved.MatchStatus)
	assert.Equal(t, int64(1), saved.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordBankTransaction_DuplicateRef(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectExec("INSERT INTO recon.bank_transactions").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err = ds.RecordBankTransaction(context.Background(), &model.BankTransaction{BankConnectionID: "conn1", TransactionRef: "ref-1"})
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))
}

func TestGetBankTransaction_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now().UTC()
	confidence := 72.5
	rows := sqlmock.NewRows(bankTransactionRowColumns()).
		AddRow("txn_1", "conn1", int64(5000), "USD", now, now, "Beta LLC", "", "payment", "ref-9", "suggested",
			confidence, nil, nil, "{}", `[{"item_ids":["inv_1"],"customer_id":"cus_1","score":72.5}]`,
			false, nil, nil, nil, int64(3), now, now)
	mock.ExpectQuery("SELECT (.+) FROM recon.bank_transactions WHERE id = \\$1").
		WithArgs("txn_1").
		WillReturnRows(rows)

	txn, err := ds.GetBankTransaction(context.Background(), "txn_1")
	require.NoError(t, err)
	assert.Equal(t, model.MatchStatusSuggested, txn.MatchStatus)
	require.NotNil(t, txn.MatchConfidence)
	assert.Equal(t, 72.5, *txn.MatchConfidence)
	require.Len(t, txn.Candidates, 1)
	assert.Equal(t, "inv_1", txn.Candidates[0].PrimaryID())
	assert.Empty(t, txn.SplitItemIDs)
	assert.Equal(t, int64(3), txn.Version)
}

func TestGetBankTransaction_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectQuery("SELECT (.+) FROM recon.bank_transactions WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(bankTransactionRowColumns()))

	_, err = ds.GetBankTransaction(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrNotFound))
}

func TestUpdateBankTransactionMatch_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	confidence := 100.0
	invoiceID := "inv_1"
	txn := &model.BankTransaction{
		ID:               "txn_1",
		MatchStatus:      model.MatchStatusMatched,
		MatchConfidence:  &confidence,
		MatchedInvoiceID: &invoiceID,
		Version:          2,
	}

	mock.ExpectExec("UPDATE recon.bank_transactions").
		WithArgs("txn_1", int64(2), "matched", confidence, invoiceID, nil, sqlmock.AnyArg(), nil, false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.UpdateBankTransactionMatch(context.Background(), txn, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), txn.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateBankTransactionMatch_VersionConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	txn := &model.BankTransaction{ID: "txn_1", MatchStatus: model.MatchStatusIgnored, Version: 2}

	mock.ExpectExec("UPDATE recon.bank_transactions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.UpdateBankTransactionMatch(context.Background(), txn, 2)
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))
	assert.Equal(t, int64(2), txn.Version)
}

func TestUpdateBankTransactionMatch_DBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectExec("UPDATE recon.bank_transactions").
		WillReturnError(errors.New("connection reset"))

	err = ds.UpdateBankTransactionMatch(context.Background(), &model.BankTransaction{ID: "txn_1"}, 1)
	require.Error(t, err)
	assert.Equal(t, apierror.ErrInternalServer, err.(apierror.APIError).Code)
}

func TestGetUnmatchedTransactionsAfter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now().UTC()
	rows := sqlmock.NewRows(bankTransactionRowColumns()).
		AddRow("txn_2", "conn1", int64(100), "USD", now, now, "", "", "", "r2", "unmatched",
			nil, nil, nil, nil, nil, false, nil, nil, nil, int64(1), now, now).
		AddRow("txn_3", "conn1", int64(-250), "USD", now, now, "", "", "", "r3", "unmatched",
			nil, nil, nil, nil, nil, false, nil, nil, nil, int64(1), now, now)
	mock.ExpectQuery("SELECT (.+) FROM recon.bank_transactions").
		WithArgs("conn1", "txn_1", 2).
		WillReturnRows(rows)

	txns, err := ds.GetUnmatchedTransactionsAfter(context.Background(), "conn1", "txn_1", 2)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "txn_2", txns[0].ID)
	assert.Equal(t, model.DirectionDebit, txns[1].Direction())
}

func TestGetLedgerPendingTransactions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now().UTC()
	rows := sqlmock.NewRows(bankTransactionRowColumns()).
		AddRow("txn_4", "conn1", int64(100), "USD", now, now, "", "", "", "r4", "matched",
			float64(100), "inv_1", nil, nil, nil, true, nil, nil, nil, int64(2), now, now)
	mock.ExpectQuery("SELECT (.+) FROM recon.bank_transactions WHERE ledger_apply_pending").
		WithArgs("", 50).
		WillReturnRows(rows)

	txns, err := ds.GetLedgerPendingTransactions(context.Background(), "", 50)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.True(t, txns[0].LedgerApplyPending)
	assert.Equal(t, "inv_1", *txns[0].MatchedInvoiceID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
