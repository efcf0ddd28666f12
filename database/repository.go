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

package database

import (
	"context"
	"time"

	"github.com/freightline/recon/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	bankTransaction   // Bank feed entries and their match state
	openItem          // Read-only invoice and receivable summaries
	bankConnection    // Read-only bank connection data and statement balances
	period            // Reconciliation periods
	ledgerApplication // Ledger application records
	periodAudit       // Period lifecycle audit trail
	adjustment        // Corrections on reconciled transactions
	sweepProgress     // Resumable sweep checkpoints
}

// bankTransaction defines methods for handling bank transactions.
type bankTransaction interface {
	RecordBankTransaction(ctx context.Context, txn *model.BankTransaction) (*model.BankTransaction, error)                        // Inserts a normalized transaction; duplicate refs conflict
	GetBankTransaction(ctx context.Context, id string) (*model.BankTransaction, error)                                            // Retrieves a transaction by ID
	GetBankTransactionByRef(ctx context.Context, connectionID, ref string) (*model.BankTransaction, error)                        // Retrieves a transaction by its per-connection reference
	UpdateBankTransactionMatch(ctx context.Context, txn *model.BankTransaction, expectedVersion int64) error                      // Compare-and-swap of the match fields
	GetUnmatchedTransactionsAfter(ctx context.Context, connectionID, afterID string, limit int) ([]*model.BankTransaction, error) // Keyset page of unmatched transactions
	GetTransactionsInRange(ctx context.Context, connectionID string, start, end time.Time) ([]*model.BankTransaction, error)      // Transactions whose date falls in [start, end]
	GetLedgerPendingTransactions(ctx context.Context, afterID string, limit int) ([]*model.BankTransaction, error)                // Keyset page of transactions awaiting ledger confirmation
}

// openItem defines read methods for open invoices and receivables.
type openItem interface {
	GetOpenItems(ctx context.Context, query model.OpenItemQuery) ([]*model.OpenItem, error)                                     // Window scan by currency, direction and due date
	FindOpenItemsReferencedIn(ctx context.Context, text, currency string, direction model.Direction) ([]*model.OpenItem, error) // Items whose reference appears in text
	GetOpenItemsByIDs(ctx context.Context, ids []string) ([]*model.OpenItem, error)                                             // Items by ID, in the order requested
	GetCustomerOpenItems(ctx context.Context, query model.CustomerOpenItemQuery) ([]*model.OpenItem, error)                     // One customer's items nearest a date, ordered by due date
}

// bankConnection defines read methods for bank connections.
type bankConnection interface {
	GetBankConnection(ctx context.Context, id string) (*model.BankConnection, error)
	GetStatementClosingBalance(ctx context.Context, connectionID string, date time.Time) (*int64, error) // nil when the feed has no statement for date
}

// period defines methods for handling reconciliation periods.
type period interface {
	CreatePeriod(ctx context.Context, p *model.ReconciliationPeriod) error
	GetPeriod(ctx context.Context, id string) (*model.ReconciliationPeriod, error)
	FindOverlappingPeriods(ctx context.Context, connectionID string, start, end time.Time) ([]*model.ReconciliationPeriod, error)
	FindPeriodsCovering(ctx context.Context, connectionID string, date time.Time) ([]*model.ReconciliationPeriod, error)
	UpdatePeriod(ctx context.Context, p *model.ReconciliationPeriod, expectedVersion int64) error      // Compare-and-swap; approved periods never match
	ApprovePeriod(ctx context.Context, p *model.ReconciliationPeriod, expectedVersion int64) error     // Approves and reconciles enclosed transactions atomically
	GetStalePeriods(ctx context.Context, endedBefore time.Time) ([]*model.ReconciliationPeriod, error) // Open periods with unmatched transactions ending before the cutoff
}

// ledgerApplication defines methods for ledger application records.
type ledgerApplication interface {
	RecordLedgerApplication(ctx context.Context, app *model.LedgerApplication) error                     // Upserts by idempotency key
	GetLedgerApplications(ctx context.Context, transactionID string) ([]*model.LedgerApplication, error) // Applications recorded for a transaction
	SumAppliedAmounts(ctx context.Context, connectionID string, start, end time.Time) (int64, error)     // Signed sum of applied amounts for transactions in range
}

type periodAudit interface {
	RecordPeriodAudit(ctx context.Context, record *model.PeriodAuditRecord) error
	GetPeriodAudit(ctx context.Context, periodID string) ([]*model.PeriodAuditRecord, error)
}

type adjustment interface {
	RecordAdjustment(ctx context.Context, adj *model.Adjustment) error
	GetAdjustments(ctx context.Context, transactionID string) ([]*model.Adjustment, error)
}

type sweepProgress interface {
	SaveSweepProgress(ctx context.Context, key string, progress model.SweepProgress) error
	LoadSweepProgress(ctx context.Context, key string) (model.SweepProgress, error) // Zero value when no checkpoint exists
}
