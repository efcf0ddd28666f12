package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/freightline/recon/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLedgerApplication_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	appliedAt := time.Now().UTC()
	app := &model.LedgerApplication{
		IdempotencyKey: "ref-1:inv_1",
		TransactionID:  "txn_1",
		InvoiceID:      "inv_1",
		Amount:         5000,
		Currency:       "USD",
		Outcome:        model.ApplyOutcomeSuccess,
		Attempts:       2,
		AppliedAt:      &appliedAt,
	}
	mock.ExpectExec("INSERT INTO recon.ledger_applications (.+) ON CONFLICT \\(idempotency_key\\) DO UPDATE").
		WithArgs("ref-1:inv_1", "txn_1", "inv_1", int64(5000), "USD", "success", 2, appliedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	assert.NoError(t, ds.RecordLedgerApplication(context.Background(), app))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLedgerApplications(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	rows := sqlmock.NewRows([]string{"idempotency_key", "transaction_id", "invoice_id", "amount", "currency", "outcome", "attempts", "applied_at"}).
		AddRow("ref-1:inv_1", "txn_1", "inv_1", int64(3000), "USD", "success", 1, time.Now().UTC()).
		AddRow("ref-1:inv_2", "txn_1", "inv_2", int64(2000), "USD", "failed", 5, nil)
	mock.ExpectQuery("SELECT (.+) FROM recon.ledger_applications").
		WithArgs("txn_1").
		WillReturnRows(rows)

	apps, err := ds.GetLedgerApplications(context.Background(), "txn_1")
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.True(t, apps[0].Outcome.Applied())
	assert.False(t, apps[1].Outcome.Applied())
	assert.Nil(t, apps[1].AppliedAt)
}

func TestSumAppliedAmounts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT COALESCE\\(SUM(.+)\\), 0\\)").
		WithArgs("conn1", start, end).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(47000)))

	total, err := ds.SumAppliedAmounts(context.Background(), "conn1", start, end)
	require.NoError(t, err)
	assert.Equal(t, int64(47000), total)
}
