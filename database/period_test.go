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

var periodRowColumns = []string{"id", "bank_connection_id", "period_start", "period_end",
	"bank_opening_balance", "bank_closing_balance", "book_opening_balance", "book_closing_balance",
	"total_credits", "total_debits", "matched_count", "unmatched_count", "discrepancy_amount", "status",
	"completion_override_reason", "created_by", "completed_by", "completed_at", "approved_by", "approved_at",
	"last_recomputed_at", "version", "created_at"}

func newTestPeriod() *model.ReconciliationPeriod {
	return &model.ReconciliationPeriod{
		ID:                 "period_1",
		BankConnectionID:   "conn1",
		PeriodStart:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:          time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		BankOpeningBalance: 100000,
		BookOpeningBalance: 100000,
		Status:             model.PeriodStatusDraft,
		CreatedBy:          "alice",
		Version:            1,
		CreatedAt:          time.Now().UTC(),
	}
}

func TestCreatePeriod_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newTestPeriod()
	mock.ExpectExec("INSERT INTO recon.reconciliation_periods").
		WithArgs(p.ID, p.BankConnectionID, p.PeriodStart, p.PeriodEnd,
			int64(100000), int64(0), int64(100000), int64(0), int64(0), int64(0), 0, 0, int64(0),
			"draft", "alice", int64(1), p.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	assert.NoError(t, ds.CreatePeriod(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePeriod_OverlapRejectedByConstraint(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectExec("INSERT INTO recon.reconciliation_periods").
		WillReturnError(&pq.Error{Code: "23P01"})

	err = ds.CreatePeriod(context.Background(), newTestPeriod())
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))
}

func TestGetPeriod_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newTestPeriod()
	rows := sqlmock.NewRows(periodRowColumns).AddRow(
		p.ID, p.BankConnectionID, p.PeriodStart, p.PeriodEnd,
		int64(100000), int64(150000), int64(100000), int64(150000),
		int64(60000), int64(10000), 4, 1, int64(0), "in_progress",
		nil, "alice", nil, nil, nil, nil,
		time.Now().UTC(), int64(5), p.CreatedAt,
	)
	mock.ExpectQuery("SELECT (.+) FROM recon.reconciliation_periods WHERE id = \\$1").
		WithArgs("period_1").
		WillReturnRows(rows)

	got, err := ds.GetPeriod(context.Background(), "period_1")
	require.NoError(t, err)
	assert.Equal(t, model.PeriodStatusInProgress, got.Status)
	assert.Equal(t, 4, got.MatchedCount)
	assert.Equal(t, int64(5), got.Version)
	assert.NotNil(t, got.LastRecomputedAt)
	assert.Nil(t, got.ApprovedBy)
}

func TestGetPeriod_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectQuery("SELECT (.+) FROM recon.reconciliation_periods").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(periodRowColumns))

	_, err = ds.GetPeriod(context.Background(), "nope")
	assert.True(t, apierror.IsCode(err, apierror.ErrNotFound))
}

func TestFindOverlappingPeriods(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newTestPeriod()
	start := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	end := time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(periodRowColumns).AddRow(
		p.ID, p.BankConnectionID, p.PeriodStart, p.PeriodEnd,
		int64(0), int64(0), int64(0), int64(0), int64(0), int64(0), 0, 0, int64(0), "draft",
		nil, "alice", nil, nil, nil, nil, nil, int64(1), p.CreatedAt,
	)
	mock.ExpectQuery("SELECT (.+) FROM recon.reconciliation_periods").
		WithArgs("conn1", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), end).
		WillReturnRows(rows)

	periods, err := ds.FindOverlappingPeriods(context.Background(), "conn1", start, end)
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, "period_1", periods[0].ID)
}

func TestUpdatePeriod_VersionConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newTestPeriod()
	mock.ExpectExec("UPDATE recon.reconciliation_periods").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.UpdatePeriod(context.Background(), p, 1)
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))
}

func TestUpdatePeriod_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newTestPeriod()
	p.Status = model.PeriodStatusInProgress
	mock.ExpectExec("UPDATE recon.reconciliation_periods").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ds.UpdatePeriod(context.Background(), p, 1))
	assert.Equal(t, int64(2), p.Version)
}

func TestApprovePeriod_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newTestPeriod()
	p.Status = model.PeriodStatusCompleted
	approver := "bob"
	approvedAt := time.Now().UTC()
	p.ApprovedBy = &approver
	p.ApprovedAt = &approvedAt

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE recon.reconciliation_periods").
		WithArgs("period_1", int64(3), "bob", approvedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE recon.bank_transactions").
		WithArgs("conn1", p.PeriodStart, p.PeriodEnd, approvedAt, "bob").
		WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectCommit()

	require.NoError(t, ds.ApprovePeriod(context.Background(), p, 3))
	assert.Equal(t, model.PeriodStatusApproved, p.Status)
	assert.Equal(t, int64(4), p.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovePeriod_RollsBackOnTransactionUpdateFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newTestPeriod()
	approver := "bob"
	approvedAt := time.Now().UTC()
	p.ApprovedBy = &approver
	p.ApprovedAt = &approvedAt

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE recon.reconciliation_periods").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE recon.bank_transactions").
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err = ds.ApprovePeriod(context.Background(), p, 3)
	require.Error(t, err)
	assert.NotEqual(t, model.PeriodStatusApproved, p.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovePeriod_Conflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newTestPeriod()
	approver := "bob"
	approvedAt := time.Now().UTC()
	p.ApprovedBy = &approver
	p.ApprovedAt = &approvedAt

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE recon.reconciliation_periods").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = ds.ApprovePeriod(context.Background(), p, 3)
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))
}

func TestGetStalePeriods(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	p := newTestPeriod()
	cutoff := time.Date(2024, 4, 3, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(periodRowColumns).AddRow(
		p.ID, p.BankConnectionID, p.PeriodStart, p.PeriodEnd,
		int64(0), int64(0), int64(0), int64(0), int64(0), int64(0), 2, 3, int64(500), "in_progress",
		nil, "alice", nil, nil, nil, nil, nil, int64(4), p.CreatedAt,
	)
	mock.ExpectQuery("SELECT (.+) FROM recon.reconciliation_periods").
		WithArgs(time.Date(2024, 4, 3, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(rows)

	periods, err := ds.GetStalePeriods(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, 3, periods[0].UnmatchedCount)
}
