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
	"fmt"
	"testing"
	"time"

	"github.com/freightline/recon/config"
	"github.com/freightline/recon/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sweepEnv(t *testing.T, batch, workers int) *testEnv {
	t.Helper()
	cfg := config.DefaultMatchingConfig()
	cfg.SweepBatchSize = batch
	cfg.SweepWorkers = workers
	return newTestEnv(t, WithMatchingConfig(cfg))
}

// seedSweep stores txn_01..txn_05; the odd ones quote an invoice number.
func seedSweep(t *testing.T, env *testEnv) {
	t.Helper()
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("txn_%02d", i)
		txn := &model.BankTransaction{
			ID:               id,
			BankConnectionID: "conn_1",
			Currency:         "GHS",
			TransactionRef:   fmt.Sprintf("BNK-S%02d", i),
		}
		if i%2 == 1 {
			ref := fmt.Sprintf("INV-S%02d", i)
			env.addInvoice(ref, "cust_s", "Sweep Customer", 500000, day(2026, 3, 10), ref)
			txn.Amount = 500000
			txn.TransactionDate = day(2026, 3, 10)
			txn.Description = "PAYMENT " + ref
		} else {
			txn.Amount = 1000
			txn.TransactionDate = day(2026, 1, 5)
			txn.Description = "CASH"
		}
		_, err := env.recon.RecordBankTransaction(context.Background(), txn)
		require.NoError(t, err)
	}
}

func TestSweep_ResolvesEverythingAndResetsCheckpoint(t *testing.T) {
	env := sweepEnv(t, 2, 2)
	ctx := context.Background()
	seedSweep(t, env)
	march := openMarch(t, env)

	result, err := env.recon.Sweep(ctx, "conn_1")
	require.NoError(t, err)
	assert.Equal(t, 5, result.Processed)
	assert.Equal(t, 3, result.Matched)
	assert.Equal(t, 2, result.Unmatched)
	assert.False(t, result.Interrupted)
	assert.Empty(t, result.LastTransaction)

	progress, err := env.ds.LoadSweepProgress(ctx, SweepKey("conn_1"))
	require.NoError(t, err)
	assert.Equal(t, model.SweepProgress{}, progress)

	p, err := env.recon.GetPeriod(ctx, march.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PeriodStatusInProgress, p.Status)
	assert.Equal(t, 3, p.MatchedCount)
	assert.Equal(t, 0, p.UnmatchedCount)

	again, err := env.recon.Sweep(ctx, "conn_1")
	require.NoError(t, err)
	assert.Equal(t, 2, again.Processed)
	assert.Zero(t, again.Matched)
	assert.Equal(t, 3, env.ledger.callCount())
}

func TestSweep_ResumesFromCheckpoint(t *testing.T) {
	env := sweepEnv(t, 10, 1)
	ctx := context.Background()
	seedSweep(t, env)
	require.NoError(t, env.ds.SaveSweepProgress(ctx, SweepKey("conn_1"), model.SweepProgress{
		LastProcessedTransactionID: "txn_03",
		ProcessedCount:             3,
	}))

	result, err := env.recon.Sweep(ctx, "conn_1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Matched)
	assert.Equal(t, model.MatchStatusUnmatched, env.transaction(t, "txn_01").MatchStatus)
	assert.Equal(t, model.MatchStatusMatched, env.transaction(t, "txn_05").MatchStatus)
}

func TestSweep_InterruptKeepsFinishedWork(t *testing.T) {
	env := sweepEnv(t, 2, 1)
	seedSweep(t, env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.ds.UpdateHook = func(*model.BankTransaction) { cancel() }

	result, err := env.recon.Sweep(ctx, "conn_1")
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, result.Interrupted)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Matched)

	assert.Equal(t, model.MatchStatusMatched, env.transaction(t, "txn_01").MatchStatus)
	assert.False(t, env.transaction(t, "txn_01").LedgerApplyPending)
	assert.Equal(t, model.MatchStatusUnmatched, env.transaction(t, "txn_03").MatchStatus)

	progress, err := env.ds.LoadSweepProgress(context.Background(), SweepKey("conn_1"))
	require.NoError(t, err)
	assert.Empty(t, progress.LastProcessedTransactionID)

	env.ds.UpdateHook = nil
	resumed, err := env.recon.Sweep(context.Background(), "conn_1")
	require.NoError(t, err)
	assert.Equal(t, 4, resumed.Processed)
	assert.Equal(t, 2, resumed.Matched)
	assert.Equal(t, 3, env.ledger.count(model.ApplyOutcomeSuccess))
}

func TestSweep_CancelledBeforeStart(t *testing.T) {
	env := sweepEnv(t, 2, 2)
	seedSweep(t, env)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	result, err := env.recon.Sweep(ctx, "conn_1")
	require.Error(t, err)
	assert.True(t, result.Interrupted)
	assert.Zero(t, result.Processed)
	assert.Zero(t, env.ledger.callCount())
}
