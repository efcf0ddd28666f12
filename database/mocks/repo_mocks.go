/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package mocks

import (
	"context"
	"time"

	"github.com/freightline/recon/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Bank transaction methods

func (m *MockDataSource) RecordBankTransaction(ctx context.Context, txn *model.BankTransaction) (*model.BankTransaction, error) {
	args := m.Called(ctx, txn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BankTransaction), args.Error(1)
}

func (m *MockDataSource) GetBankTransaction(ctx context.Context, id string) (*model.BankTransaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BankTransaction), args.Error(1)
}

func (m *MockDataSource) GetBankTransactionByRef(ctx context.Context, connectionID, ref string) (*model.BankTransaction, error) {
	args := m.Called(ctx, connectionID, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BankTransaction), args.Error(1)
}

func (m *MockDataSource) UpdateBankTransactionMatch(ctx context.Context, txn *model.BankTransaction, expectedVersion int64) error {
	args := m.Called(ctx, txn, expectedVersion)
	return args.Error(0)
}

func (m *MockDataSource) GetUnmatchedTransactionsAfter(ctx context.Context, connectionID, afterID string, limit int) ([]*model.BankTransaction, error) {
	args := m.Called(ctx, connectionID, afterID, limit)
	return args.Get(0).([]*model.BankTransaction), args.Error(1)
}

func (m *MockDataSource) GetLedgerPendingTransactions(ctx context.Context, afterID string, limit int) ([]*model.BankTransaction, error) {
	args := m.Called(ctx, afterID, limit)
	return args.Get(0).([]*model.BankTransaction), args.Error(1)
}

func (m *MockDataSource) GetTransactionsInRange(ctx context.Context, connectionID string, start, end time.Time) ([]*model.BankTransaction, error) {
	args := m.Called(ctx, connectionID, start, end)
	return args.Get(0).([]*model.BankTransaction), args.Error(1)
}

// Open item methods

func (m *MockDataSource) GetOpenItems(ctx context.Context, query model.OpenItemQuery) ([]*model.OpenItem, error) {
	args := m.Called(ctx, query)
	return args.Get(0).([]*model.OpenItem), args.Error(1)
}

func (m *MockDataSource) FindOpenItemsReferencedIn(ctx context.Context, text, currency string, direction model.Direction) ([]*model.OpenItem, error) {
	args := m.Called(ctx, text, currency, direction)
	return args.Get(0).([]*model.OpenItem), args.Error(1)
}

func (m *MockDataSource) GetOpenItemsByIDs(ctx context.Context, ids []string) ([]*model.OpenItem, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).([]*model.OpenItem), args.Error(1)
}

func (m *MockDataSource) GetCustomerOpenItems(ctx context.Context, query model.CustomerOpenItemQuery) ([]*model.OpenItem, error) {
	args := m.Called(ctx, query)
	return args.Get(0).([]*model.OpenItem), args.Error(1)
}

// Bank connection methods

func (m *MockDataSource) GetBankConnection(ctx context.Context, id string) (*model.BankConnection, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BankConnection), args.Error(1)
}

func (m *MockDataSource) GetStatementClosingBalance(ctx context.Context, connectionID string, date time.Time) (*int64, error) {
	args := m.Called(ctx, connectionID, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*int64), args.Error(1)
}

// Period methods

func (m *MockDataSource) CreatePeriod(ctx context.Context, p *model.ReconciliationPeriod) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockDataSource) GetPeriod(ctx context.Context, id string) (*model.ReconciliationPeriod, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReconciliationPeriod), args.Error(1)
}

func (m *MockDataSource) FindOverlappingPeriods(ctx context.Context, connectionID string, start, end time.Time) ([]*model.ReconciliationPeriod, error) {
	args := m.Called(ctx, connectionID, start, end)
	return args.Get(0).([]*model.ReconciliationPeriod), args.Error(1)
}

func (m *MockDataSource) FindPeriodsCovering(ctx context.Context, connectionID string, date time.Time) ([]*model.ReconciliationPeriod, error) {
	args := m.Called(ctx, connectionID, date)
	return args.Get(0).([]*model.ReconciliationPeriod), args.Error(1)
}

func (m *MockDataSource) UpdatePeriod(ctx context.Context, p *model.ReconciliationPeriod, expectedVersion int64) error {
	args := m.Called(ctx, p, expectedVersion)
	return args.Error(0)
}

func (m *MockDataSource) ApprovePeriod(ctx context.Context, p *model.ReconciliationPeriod, expectedVersion int64) error {
	args := m.Called(ctx, p, expectedVersion)
	return args.Error(0)
}

func (m *MockDataSource) GetStalePeriods(ctx context.Context, endedBefore time.Time) ([]*model.ReconciliationPeriod, error) {
	args := m.Called(ctx, endedBefore)
	return args.Get(0).([]*model.ReconciliationPeriod), args.Error(1)
}

// Ledger application methods

func (m *MockDataSource) RecordLedgerApplication(ctx context.Context, app *model.LedgerApplication) error {
	args := m.Called(ctx, app)
	return args.Error(0)
}

func (m *MockDataSource) GetLedgerApplications(ctx context.Context, transactionID string) ([]*model.LedgerApplication, error) {
	args := m.Called(ctx, transactionID)
	return args.Get(0).([]*model.LedgerApplication), args.Error(1)
}

func (m *MockDataSource) SumAppliedAmounts(ctx context.Context, connectionID string, start, end time.Time) (int64, error) {
	args := m.Called(ctx, connectionID, start, end)
	return args.Get(0).(int64), args.Error(1)
}

// Audit, adjustment and sweep methods

func (m *MockDataSource) RecordPeriodAudit(ctx context.Context, record *model.PeriodAuditRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockDataSource) GetPeriodAudit(ctx context.Context, periodID string) ([]*model.PeriodAuditRecord, error) {
	args := m.Called(ctx, periodID)
	return args.Get(0).([]*model.PeriodAuditRecord), args.Error(1)
}

func (m *MockDataSource) RecordAdjustment(ctx context.Context, adj *model.Adjustment) error {
	args := m.Called(ctx, adj)
	return args.Error(0)
}

func (m *MockDataSource) GetAdjustments(ctx context.Context, transactionID string) ([]*model.Adjustment, error) {
	args := m.Called(ctx, transactionID)
	return args.Get(0).([]*model.Adjustment), args.Error(1)
}

func (m *MockDataSource) SaveSweepProgress(ctx context.Context, key string, progress model.SweepProgress) error {
	args := m.Called(ctx, key, progress)
	return args.Error(0)
}

func (m *MockDataSource) LoadSweepProgress(ctx context.Context, key string) (model.SweepProgress, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(model.SweepProgress), args.Error(1)
}
