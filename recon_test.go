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

package recon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/freightline/recon/config"
	"github.com/freightline/recon/database/mocks"
	"github.com/freightline/recon/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

// fakeLedger accepts each idempotency key once and reports already_applied after.
type fakeLedger struct {
	mu       sync.Mutex
	applied  map[string]model.LedgerApplication
	calls    []model.LedgerApplication
	outcomes []model.ApplyOutcome
	err      error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{applied: make(map[string]model.LedgerApplication)}
}

func (f *fakeLedger) Apply(_ context.Context, app model.LedgerApplication) (model.ApplyOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, app)
	if f.err != nil {
		f.outcomes = append(f.outcomes, model.ApplyOutcomeFailed)
		return model.ApplyOutcomeFailed, f.err
	}
	if _, ok := f.applied[app.IdempotencyKey]; ok {
		f.outcomes = append(f.outcomes, model.ApplyOutcomeAlreadyApplied)
		return model.ApplyOutcomeAlreadyApplied, nil
	}
	f.applied[app.IdempotencyKey] = app
	f.outcomes = append(f.outcomes, model.ApplyOutcomeSuccess)
	return model.ApplyOutcomeSuccess, nil
}

func (f *fakeLedger) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeLedger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeLedger) count(outcome model.ApplyOutcome) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.outcomes {
		if o == outcome {
			n++
		}
	}
	return n
}

type recordingAlerts struct {
	mu     sync.Mutex
	alerts []model.Alert
}

func (a *recordingAlerts) Notify(_ context.Context, alert model.Alert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
}

func (a *recordingAlerts) events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.alerts))
	for _, alert := range a.alerts {
		out = append(out, alert.Event)
	}
	return out
}

type recordingWebhooks struct {
	mu    sync.Mutex
	hooks []NewWebhook
}

func (w *recordingWebhooks) SendWebhook(_ context.Context, hook NewWebhook) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hooks = append(w.hooks, hook)
	return nil
}

func (w *recordingWebhooks) events() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.hooks))
	for _, hook := range w.hooks {
		out = append(out, hook.Event)
	}
	return out
}

type testEnv struct {
	recon  *Recon
	ds     *mocks.MemoryDataSource
	ledger *fakeLedger
	alerts *recordingAlerts
	hooks  *recordingWebhooks
	redis  *miniredis.Miniredis
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{
		Redis:    config.RedisConfig{Dns: mr.Addr()},
		Matching: config.DefaultMatchingConfig(),
		Periods:  config.PeriodConfig{LockWaitSec: 1}.WithDefaults(),
	})

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := &testEnv{
		ds:     mocks.NewMemoryDataSource(),
		ledger: newFakeLedger(),
		alerts: &recordingAlerts{},
		hooks:  &recordingWebhooks{},
		redis:  mr,
	}
	env.ds.AddBankConnection(&model.BankConnection{ID: "conn_1", BankName: "Ecobank", Currency: "GHS"})

	base := []Option{
		WithRedis(client),
		WithLedgerApplier(env.ledger),
		WithAlertDispatcher(env.alerts),
		WithWebhookSender(env.hooks),
		WithClock(FixedClock(testNow)),
	}
	r, err := NewRecon(env.ds, append(base, opts...)...)
	require.NoError(t, err)
	env.recon = r
	return env
}

// addTransaction ingests a transaction on conn_1 without queueing a resolve.
func (e *testEnv) addTransaction(t *testing.T, ref string, amount int64, date time.Time, counterparty, description string) *model.BankTransaction {
	t.Helper()
	txn, err := e.recon.RecordBankTransaction(context.Background(), &model.BankTransaction{
		BankConnectionID: "conn_1",
		Amount:           amount,
		Currency:         "GHS",
		TransactionDate:  date,
		CounterpartyName: counterparty,
		Description:      description,
		TransactionRef:   ref,
	})
	require.NoError(t, err)
	return txn
}

func (e *testEnv) addInvoice(id, customerID, customerName string, outstanding int64, due time.Time, refs ...string) {
	e.ds.AddOpenItem(&model.OpenItem{
		ID:                id,
		Kind:              model.OpenItemKindInvoice,
		CustomerID:        customerID,
		CustomerName:      customerName,
		Currency:          "GHS",
		OutstandingAmount: outstanding,
		Direction:         model.DirectionCredit,
		DueDate:           due,
		ReferenceStrings:  refs,
	})
}

func (e *testEnv) transaction(t *testing.T, id string) *model.BankTransaction {
	t.Helper()
	txn, err := e.ds.GetBankTransaction(context.Background(), id)
	require.NoError(t, err)
	return txn
}

func (e *testEnv) mustRef(t *testing.T, ref string) *model.BankTransaction {
	t.Helper()
	txn, err := e.ds.GetBankTransactionByRef(context.Background(), "conn_1", ref)
	require.NoError(t, err)
	return txn
}
