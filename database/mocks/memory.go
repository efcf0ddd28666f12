package mocks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/freightline/recon/internal/apierror"
	"github.com/freightline/recon/model"
)

// MemoryDataSource is an in-process IDataSource with the same version-check and
// reconciliation guards as the Postgres datasource. Values are copied on the way
// in and out so callers never share state with the store.
type MemoryDataSource struct {
	mu           sync.Mutex
	transactions map[string]*model.BankTransaction
	items        map[string]*model.OpenItem
	connections  map[string]*model.BankConnection
	statements   map[string]int64
	periods      map[string]*model.ReconciliationPeriod
	applications map[string]*model.LedgerApplication
	audit        []*model.PeriodAuditRecord
	adjustments  []*model.Adjustment
	sweeps       map[string]model.SweepProgress

	// UpdateHook runs before each match update is applied; tests use it to
	// simulate a concurrent writer.
	UpdateHook func(txn *model.BankTransaction)
}

func NewMemoryDataSource() *MemoryDataSource {
	return &MemoryDataSource{
		transactions: make(map[string]*model.BankTransaction),
		items:        make(map[string]*model.OpenItem),
		connections:  make(map[string]*model.BankConnection),
		statements:   make(map[string]int64),
		periods:      make(map[string]*model.ReconciliationPeriod),
		applications: make(map[string]*model.LedgerApplication),
		sweeps:       make(map[string]model.SweepProgress),
	}
}

func copyTransaction(t *model.BankTransaction) *model.BankTransaction {
	c := *t
	c.SplitItemIDs = append([]string(nil), t.SplitItemIDs...)
	c.Candidates = append([]model.MatchCandidate(nil), t.Candidates...)
	if t.MatchConfidence != nil {
		v := *t.MatchConfidence
		c.MatchConfidence = &v
	}
	return &c
}

func copyPeriod(p *model.ReconciliationPeriod) *model.ReconciliationPeriod {
	c := *p
	return &c
}

func copyItem(i *model.OpenItem) *model.OpenItem {
	c := *i
	c.ReferenceStrings = append([]string(nil), i.ReferenceStrings...)
	return &c
}

// AddOpenItem seeds an open invoice or receivable.
func (m *MemoryDataSource) AddOpenItem(item *model.OpenItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = copyItem(item)
}

// SetOutstanding changes the outstanding amount of a seeded item, as the
// invoicing subsystem would after a ledger application.
func (m *MemoryDataSource) SetOutstanding(itemID string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[itemID]; ok {
		item.OutstandingAmount = amount
	}
}

func (m *MemoryDataSource) AddBankConnection(conn *model.BankConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *conn
	m.connections[conn.ID] = &c
}

func (m *MemoryDataSource) SetStatementClosingBalance(connectionID string, date time.Time, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statements[statementKey(connectionID, date)] = balance
}

func statementKey(connectionID string, date time.Time) string {
	return connectionID + "|" + model.TruncateDay(date).Format("2006-01-02")
}

func (m *MemoryDataSource) RecordBankTransaction(_ context.Context, txn *model.BankTransaction) (*model.BankTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.transactions {
		if existing.BankConnectionID == txn.BankConnectionID && existing.TransactionRef == txn.TransactionRef {
			return nil, apierror.NewAPIError(apierror.ErrConflict,
				fmt.Sprintf("Transaction with reference '%s' already exists for connection '%s'", txn.TransactionRef, txn.BankConnectionID), nil)
		}
	}
	if txn.ID == "" {
		txn.ID = model.GenerateUUIDWithSuffix("txn")
	}
	now := time.Now().UTC()
	txn.MatchStatus = model.MatchStatusUnmatched
	txn.ClearMatch()
	txn.Version = 1
	txn.CreatedAt = now
	txn.UpdatedAt = now
	m.transactions[txn.ID] = copyTransaction(txn)
	return txn, nil
}

func (m *MemoryDataSource) GetBankTransaction(_ context.Context, id string) (*model.BankTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactions[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Bank transaction with ID '%s' not found", id), nil)
	}
	return copyTransaction(txn), nil
}

func (m *MemoryDataSource) GetBankTransactionByRef(_ context.Context, connectionID, ref string) (*model.BankTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, txn := range m.transactions {
		if txn.BankConnectionID == connectionID && txn.TransactionRef == ref {
			return copyTransaction(txn), nil
		}
	}
	return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with reference '%s' not found", ref), nil)
}

func (m *MemoryDataSource) UpdateBankTransactionMatch(_ context.Context, txn *model.BankTransaction, expectedVersion int64) error {
	if m.UpdateHook != nil {
		m.UpdateHook(txn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.transactions[txn.ID]
	if !ok || stored.Version != expectedVersion || stored.ReconciledAt != nil {
		return apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("Bank transaction '%s' was modified concurrently (expected version %d); re-read and retry", txn.ID, expectedVersion), nil)
	}
	updated := copyTransaction(stored)
	updated.MatchStatus = txn.MatchStatus
	updated.MatchConfidence = txn.MatchConfidence
	updated.MatchedInvoiceID = txn.MatchedInvoiceID
	updated.MatchedReceivableID = txn.MatchedReceivableID
	updated.SplitItemIDs = append([]string(nil), txn.SplitItemIDs...)
	updated.Candidates = append([]model.MatchCandidate(nil), txn.Candidates...)
	updated.LedgerApplyPending = txn.LedgerApplyPending
	updated.Version = expectedVersion + 1
	updated.UpdatedAt = time.Now().UTC()
	m.transactions[txn.ID] = updated

	txn.Version = updated.Version
	txn.UpdatedAt = updated.UpdatedAt
	return nil
}

// BumpVersion simulates a write by another process.
func (m *MemoryDataSource) BumpVersion(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if txn, ok := m.transactions[id]; ok {
		txn.Version++
	}
}

// MarkReconciled stamps a transaction as reconciled outside of a period approval.
func (m *MemoryDataSource) MarkReconciled(id, user string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if txn, ok := m.transactions[id]; ok {
		txn.ReconciledAt = &at
		txn.ReconciledBy = &user
		txn.Version++
	}
}

func (m *MemoryDataSource) GetUnmatchedTransactionsAfter(_ context.Context, connectionID, afterID string, limit int) ([]*model.BankTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.BankTransaction
	for _, txn := range m.transactions {
		if txn.BankConnectionID == connectionID && txn.MatchStatus == model.MatchStatusUnmatched && txn.ID > afterID {
			out = append(out, copyTransaction(txn))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryDataSource) GetLedgerPendingTransactions(_ context.Context, afterID string, limit int) ([]*model.BankTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.BankTransaction
	for _, txn := range m.transactions {
		if txn.LedgerApplyPending && txn.ReconciledAt == nil && txn.ID > afterID {
			out = append(out, copyTransaction(txn))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryDataSource) GetTransactionsInRange(_ context.Context, connectionID string, start, end time.Time) ([]*model.BankTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := model.ReconciliationPeriod{PeriodStart: start, PeriodEnd: end}
	var out []*model.BankTransaction
	for _, txn := range m.transactions {
		if txn.BankConnectionID == connectionID && p.Encloses(txn.TransactionDate) {
			out = append(out, copyTransaction(txn))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TransactionDate.Equal(out[j].TransactionDate) {
			return out[i].TransactionDate.Before(out[j].TransactionDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryDataSource) GetOpenItems(_ context.Context, query model.OpenItemQuery) ([]*model.OpenItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	window := model.ReconciliationPeriod{PeriodStart: query.DueFrom, PeriodEnd: query.DueTo}
	var out []*model.OpenItem
	for _, item := range m.items {
		if item.Currency == query.Currency && item.Direction == query.Direction &&
			item.OutstandingAmount > 0 && window.Encloses(item.DueDate) {
			out = append(out, copyItem(item))
		}
	}
	sortItems(out)
	return out, nil
}

func (m *MemoryDataSource) FindOpenItemsReferencedIn(_ context.Context, text, currency string, direction model.Direction) ([]*model.OpenItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if text == "" {
		return nil, nil
	}
	lower := strings.ToLower(text)
	var out []*model.OpenItem
	for _, item := range m.items {
		if item.Currency != currency || item.Direction != direction || item.OutstandingAmount <= 0 {
			continue
		}
		for _, ref := range item.ReferenceStrings {
			if ref != "" && strings.Contains(lower, strings.ToLower(ref)) {
				out = append(out, copyItem(item))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryDataSource) GetOpenItemsByIDs(_ context.Context, ids []string) ([]*model.OpenItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*model.OpenItem, 0, len(ids))
	for _, id := range ids {
		item, ok := m.items[id]
		if !ok {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Open item with ID '%s' not found", id), nil)
		}
		out = append(out, copyItem(item))
	}
	return out, nil
}

func (m *MemoryDataSource) GetCustomerOpenItems(_ context.Context, query model.CustomerOpenItemQuery) ([]*model.OpenItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if query.Limit <= 0 {
		return nil, nil
	}
	near := model.TruncateDay(query.Near)
	distance := func(item *model.OpenItem) time.Duration {
		d := model.TruncateDay(item.DueDate).Sub(near)
		if d < 0 {
			return -d
		}
		return d
	}

	var out []*model.OpenItem
	for _, item := range m.items {
		if item.CustomerID == query.CustomerID && item.Currency == query.Currency && item.Direction == query.Direction &&
			item.OutstandingAmount > 0 && item.OutstandingAmount <= query.MaxAmount {
			out = append(out, copyItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if di, dj := distance(out[i]), distance(out[j]); di != dj {
			return di < dj
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > query.Limit {
		out = out[:query.Limit]
	}
	sortItems(out)
	return out, nil
}

func sortItems(items []*model.OpenItem) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].DueDate.Equal(items[j].DueDate) {
			return items[i].DueDate.Before(items[j].DueDate)
		}
		return items[i].ID < items[j].ID
	})
}

func (m *MemoryDataSource) GetBankConnection(_ context.Context, id string) (*model.BankConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.connections[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Bank connection with ID '%s' not found", id), nil)
	}
	c := *conn
	return &c, nil
}

func (m *MemoryDataSource) GetStatementClosingBalance(_ context.Context, connectionID string, date time.Time) (*int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.statements[statementKey(connectionID, date)]
	if !ok {
		return nil, nil
	}
	return &balance, nil
}

func (m *MemoryDataSource) CreatePeriod(_ context.Context, p *model.ReconciliationPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.periods {
		if existing.BankConnectionID == p.BankConnectionID &&
			!model.TruncateDay(existing.PeriodStart).After(model.TruncateDay(p.PeriodEnd)) &&
			!model.TruncateDay(existing.PeriodEnd).Before(model.TruncateDay(p.PeriodStart)) {
			return apierror.NewAPIError(apierror.ErrInvalidInput,
				fmt.Sprintf("A reconciliation period overlapping %s..%s already exists for connection '%s'",
					p.PeriodStart.Format("2006-01-02"), p.PeriodEnd.Format("2006-01-02"), p.BankConnectionID), nil)
		}
	}
	m.periods[p.ID] = copyPeriod(p)
	return nil
}

func (m *MemoryDataSource) GetPeriod(_ context.Context, id string) (*model.ReconciliationPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.periods[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Reconciliation period with ID '%s' not found", id), nil)
	}
	return copyPeriod(p), nil
}

func (m *MemoryDataSource) FindOverlappingPeriods(_ context.Context, connectionID string, start, end time.Time) ([]*model.ReconciliationPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.ReconciliationPeriod
	for _, p := range m.periods {
		if p.BankConnectionID == connectionID &&
			!model.TruncateDay(p.PeriodStart).After(model.TruncateDay(end)) &&
			!model.TruncateDay(p.PeriodEnd).Before(model.TruncateDay(start)) {
			out = append(out, copyPeriod(p))
		}
	}
	sortPeriods(out)
	return out, nil
}

func (m *MemoryDataSource) FindPeriodsCovering(_ context.Context, connectionID string, date time.Time) ([]*model.ReconciliationPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.ReconciliationPeriod
	for _, p := range m.periods {
		if p.BankConnectionID == connectionID && p.Encloses(date) {
			out = append(out, copyPeriod(p))
		}
	}
	sortPeriods(out)
	return out, nil
}

func sortPeriods(periods []*model.ReconciliationPeriod) {
	sort.Slice(periods, func(i, j int) bool { return periods[i].PeriodStart.Before(periods[j].PeriodStart) })
}

func (m *MemoryDataSource) UpdatePeriod(_ context.Context, p *model.ReconciliationPeriod, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.periods[p.ID]
	if !ok || stored.Version != expectedVersion || stored.Status == model.PeriodStatusApproved {
		return apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("Reconciliation period '%s' was modified concurrently (expected version %d); re-read and retry", p.ID, expectedVersion), nil)
	}
	updated := copyPeriod(p)
	updated.Version = expectedVersion + 1
	updated.ApprovedBy = stored.ApprovedBy
	updated.ApprovedAt = stored.ApprovedAt
	m.periods[p.ID] = updated
	p.Version = updated.Version
	return nil
}

func (m *MemoryDataSource) ApprovePeriod(_ context.Context, p *model.ReconciliationPeriod, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ApprovedBy == nil || p.ApprovedAt == nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "approved_by and approved_at are required", nil)
	}
	stored, ok := m.periods[p.ID]
	if !ok || stored.Version != expectedVersion || stored.Status != model.PeriodStatusCompleted {
		return apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("Reconciliation period '%s' was modified concurrently (expected version %d); re-read and retry", p.ID, expectedVersion), nil)
	}
	approvedBy := *p.ApprovedBy
	approvedAt := *p.ApprovedAt
	updated := copyPeriod(stored)
	updated.Status = model.PeriodStatusApproved
	updated.ApprovedBy = &approvedBy
	updated.ApprovedAt = &approvedAt
	updated.Version = expectedVersion + 1
	m.periods[p.ID] = updated

	for _, txn := range m.transactions {
		if txn.BankConnectionID == stored.BankConnectionID && stored.Encloses(txn.TransactionDate) && txn.ReconciledAt == nil {
			at := approvedAt
			by := approvedBy
			txn.ReconciledAt = &at
			txn.ReconciledBy = &by
			txn.Version++
		}
	}
	p.Status = model.PeriodStatusApproved
	p.Version = updated.Version
	return nil
}

func (m *MemoryDataSource) GetStalePeriods(_ context.Context, endedBefore time.Time) ([]*model.ReconciliationPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := model.TruncateDay(endedBefore)
	var out []*model.ReconciliationPeriod
	for _, p := range m.periods {
		if p.Status.IsOpen() && model.TruncateDay(p.PeriodEnd).Before(cutoff) && p.UnmatchedCount > 0 {
			out = append(out, copyPeriod(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PeriodEnd.Equal(out[j].PeriodEnd) {
			return out[i].PeriodEnd.Before(out[j].PeriodEnd)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryDataSource) RecordLedgerApplication(_ context.Context, app *model.LedgerApplication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *app
	if existing, ok := m.applications[app.IdempotencyKey]; ok {
		existing.Outcome = c.Outcome
		existing.Attempts = c.Attempts
		existing.AppliedAt = c.AppliedAt
		return nil
	}
	m.applications[app.IdempotencyKey] = &c
	return nil
}

func (m *MemoryDataSource) GetLedgerApplications(_ context.Context, transactionID string) ([]*model.LedgerApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.LedgerApplication
	for _, app := range m.applications {
		if app.TransactionID == transactionID {
			c := *app
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IdempotencyKey < out[j].IdempotencyKey })
	return out, nil
}

func (m *MemoryDataSource) SumAppliedAmounts(_ context.Context, connectionID string, start, end time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	window := model.ReconciliationPeriod{PeriodStart: start, PeriodEnd: end}
	var total int64
	for _, app := range m.applications {
		if !app.Outcome.Applied() {
			continue
		}
		txn, ok := m.transactions[app.TransactionID]
		if !ok || txn.BankConnectionID != connectionID || !window.Encloses(txn.TransactionDate) {
			continue
		}
		if txn.Amount < 0 {
			total -= app.Amount
		} else {
			total += app.Amount
		}
	}
	return total, nil
}

func (m *MemoryDataSource) RecordPeriodAudit(_ context.Context, record *model.PeriodAuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record.ID == "" {
		record.ID = model.GenerateUUIDWithSuffix("audit")
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	c := *record
	m.audit = append(m.audit, &c)
	return nil
}

func (m *MemoryDataSource) GetPeriodAudit(_ context.Context, periodID string) ([]*model.PeriodAuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PeriodAuditRecord
	for _, record := range m.audit {
		if record.PeriodID == periodID {
			c := *record
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MemoryDataSource) RecordAdjustment(_ context.Context, adj *model.Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if adj.ID == "" {
		adj.ID = model.GenerateUUIDWithSuffix("adj")
	}
	if adj.CreatedAt.IsZero() {
		adj.CreatedAt = time.Now().UTC()
	}
	c := *adj
	m.adjustments = append(m.adjustments, &c)
	return nil
}

func (m *MemoryDataSource) GetAdjustments(_ context.Context, transactionID string) ([]*model.Adjustment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Adjustment
	for _, adj := range m.adjustments {
		if adj.TransactionID == transactionID {
			c := *adj
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MemoryDataSource) SaveSweepProgress(_ context.Context, key string, progress model.SweepProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps[key] = progress
	return nil
}

func (m *MemoryDataSource) LoadSweepProgress(_ context.Context, key string) (model.SweepProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweeps[key], nil
}
