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
	"errors"
	"testing"

	"github.com/freightline/recon/config"
	"github.com/freightline/recon/internal/apierror"
	"github.com/freightline/recon/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_ExactReferenceAutoMatchesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addInvoice("INV-2026-000003", "cust_1", "GoldCoast Logistics Co.", 977500, day(2026, 3, 15), "INV-2026-000003")
	txn := env.addTransaction(t, "BNK-0001", 977500, day(2026, 3, 18), "GOLDCOAST LOG", "TRF INV-2026-000003 FREIGHT")

	result, err := env.recon.Resolve(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchStatusMatched, result.Status)
	require.NotNil(t, result.Confidence)
	assert.Equal(t, 100.0, *result.Confidence)
	assert.Equal(t, []string{"INV-2026-000003"}, result.MatchedEntityIDs)
	assert.False(t, result.LedgerPending)

	stored := env.transaction(t, txn.ID)
	require.NotNil(t, stored.MatchedInvoiceID)
	assert.Equal(t, "INV-2026-000003", *stored.MatchedInvoiceID)
	assert.Nil(t, stored.MatchedReceivableID)
	assert.False(t, stored.LedgerApplyPending)

	again, err := env.recon.Resolve(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchStatusMatched, again.Status)

	assert.Equal(t, 2, env.ledger.callCount())
	assert.Equal(t, 1, env.ledger.count(model.ApplyOutcomeSuccess))
	assert.Equal(t, 1, env.ledger.count(model.ApplyOutcomeAlreadyApplied))
	assert.Equal(t, "BNK-0001:INV-2026-000003", env.ledger.calls[0].IdempotencyKey)
	assert.Equal(t, env.ledger.calls[0].IdempotencyKey, env.ledger.calls[1].IdempotencyKey)
	assert.Equal(t, int64(977500), env.ledger.calls[0].Amount)

	apps, err := env.recon.LedgerApplications(ctx, txn.ID)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, model.ApplyOutcomeAlreadyApplied, apps[0].Outcome)
	assert.Equal(t, 2, apps[0].Attempts)
	require.NotNil(t, apps[0].AppliedAt)
	assert.Equal(t, testNow, *apps[0].AppliedAt)

	assert.Equal(t, []string{"match.matched"}, env.hooks.events())
}

func TestResolve_BelowThresholdIsSuggested(t *testing.T) {
	env := newTestEnv(t, WithSimilarity(func(string, string) float64 { return 0.1 }))
	ctx := context.Background()
	env.addInvoice("INV-2026-000009", "cust_2", "Gold Coast Logistics Limited", 12500000, day(2026, 3, 17), "INV-2026-000009")
	txn := env.addTransaction(t, "BNK-0002", 12500000, day(2026, 3, 1), "GoldCoast Logistics Co.", "TRANSFER")

	result, err := env.recon.Resolve(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchStatusSuggested, result.Status)
	require.Len(t, result.Candidates, 1)
	assert.InDelta(t, 65.89, result.Candidates[0].Score, 0.001)
	assert.Less(t, result.Candidates[0].Score, 90.0)
	assert.Empty(t, result.MatchedEntityIDs)

	assert.Zero(t, env.ledger.callCount())
	assert.Contains(t, env.alerts.events(), model.AlertMatchSuggested)
	assert.Equal(t, []string{"match.suggested"}, env.hooks.events())

	// Unchanged candidates do not produce a second write or event.
	before := env.transaction(t, txn.ID).Version
	_, err = env.recon.Resolve(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, before, env.transaction(t, txn.ID).Version)
	assert.Len(t, env.hooks.events(), 1)
}

func TestResolve_SplitIsNeverAutoApplied(t *testing.T) {
	cfg := config.DefaultMatchingConfig()
	cfg.AutoApplyThreshold = 50
	env := newTestEnv(t, WithMatchingConfig(cfg))
	ctx := context.Background()
	env.addInvoice("INV-A", "cust_3", "Tema Freight Services", 100000, day(2026, 3, 10))
	env.addInvoice("INV-B", "cust_3", "Tema Freight Services", 200000, day(2026, 3, 10))
	txn := env.addTransaction(t, "BNK-0003", 300000, day(2026, 3, 10), "Tema Freight Services", "MARCH SETTLEMENT")

	result, err := env.recon.Resolve(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchStatusSuggested, result.Status)
	require.NotEmpty(t, result.Candidates)

	top := result.Candidates[0]
	assert.True(t, top.Split)
	assert.Equal(t, []string{"INV-A", "INV-B"}, top.ItemIDs)
	assert.Equal(t, 85.0, top.Score)
	assert.True(t, top.Breakdown.Capped)
	assert.Equal(t, int64(300000), top.TotalAmount)
	assert.Zero(t, env.ledger.callCount())
}

func TestResolve_SplitReachesItemsOutsideDateWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addInvoice("INV-A", "cust_3", "Tema Freight Services", 100000, day(2026, 1, 1))
	env.addInvoice("INV-B", "cust_3", "Tema Freight Services", 200000, day(2026, 3, 10))
	env.addInvoice("INV-C", "cust_9", "Kumasi Carriers", 100000, day(2025, 12, 1))
	txn := env.addTransaction(t, "BNK-0010", 300000, day(2026, 3, 10), "Tema Freight Services", "SETTLEMENT")

	result, err := env.recon.Resolve(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchStatusSuggested, result.Status)

	var splits [][]string
	for _, c := range result.Candidates {
		if c.Split {
			splits = append(splits, c.ItemIDs)
			assert.Equal(t, day(2026, 1, 1), c.DueDate)
			assert.Equal(t, int64(300000), c.TotalAmount)
		}
	}
	assert.Equal(t, [][]string{{"INV-A", "INV-B"}}, splits)
	assert.Zero(t, env.ledger.callCount())
}

func TestResolve_TiedCandidatesAreSuggested(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addInvoice("INV-2", "cust_4", "Accra Haulage", 50000, day(2026, 3, 5))
	env.addInvoice("INV-1", "cust_4", "Accra Haulage", 50000, day(2026, 3, 5))
	txn := env.addTransaction(t, "BNK-0004", 50000, day(2026, 3, 5), "Accra Haulage Ltd", "PAYMENT")

	result, err := env.recon.Resolve(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchStatusSuggested, result.Status)
	require.Len(t, result.Candidates, 2)
	assert.Equal(t, 100.0, result.Candidates[0].Score)
	assert.Equal(t, "INV-1", result.Candidates[0].PrimaryID())
	assert.Equal(t, "INV-2", result.Candidates[1].PrimaryID())
	assert.Zero(t, env.ledger.callCount())
}

func TestResolve_NoCandidatesStaysUnmatched(t *testing.T) {
	env := newTestEnv(t)
	txn := env.addTransaction(t, "BNK-0005", 4200, day(2026, 3, 5), "Unknown Sender", "CASH DEPOSIT")

	result, err := env.recon.Resolve(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchStatusUnmatched, result.Status)
	assert.Nil(t, result.Confidence)
	assert.Equal(t, []string{model.AlertMatchNoCandidates}, env.alerts.events())
	assert.Empty(t, env.hooks.events())
	assert.Equal(t, int64(1), env.transaction(t, txn.ID).Version)
}

func TestResolve_ConcurrentWriterConverges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addInvoice("INV-2026-000011", "cust_5", "Takoradi Port Agents", 250000, day(2026, 3, 12), "INV-2026-000011")
	txn := env.addTransaction(t, "BNK-0006", 250000, day(2026, 3, 12), "TAKORADI PORT", "INV-2026-000011")

	// Another worker resolves the same transaction between our read and our write.
	env.ds.UpdateHook = func(*model.BankTransaction) {
		env.ds.UpdateHook = nil
		other, err := env.recon.Resolve(ctx, txn.ID)
		require.NoError(t, err)
		require.Equal(t, model.MatchStatusMatched, other.Status)
	}

	result, err := env.recon.Resolve(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchStatusMatched, result.Status)
	assert.Equal(t, []string{"INV-2026-000011"}, result.MatchedEntityIDs)
	assert.Equal(t, 1, env.ledger.callCount())
	assert.Equal(t, 1, env.ledger.count(model.ApplyOutcomeSuccess))
}

func TestResolve_GivesUpWhenTransactionKeepsChanging(t *testing.T) {
	env := newTestEnv(t)
	env.addInvoice("INV-9", "cust_9", "Volta Shipping", 1000, day(2026, 3, 1))
	txn := env.addTransaction(t, "BNK-0007", 777, day(2026, 3, 1), "Volta Shipping", "PART PAYMENT")
	env.ds.UpdateHook = func(changed *model.BankTransaction) { env.ds.BumpVersion(changed.ID) }

	_, err := env.recon.Resolve(context.Background(), txn.ID)
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))
}

func TestResolve_LedgerFailureKeepsMatchPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addInvoice("INV-2026-000020", "cust_6", "Ashanti Movers", 61000, day(2026, 3, 2), "INV-2026-000020")
	txn := env.addTransaction(t, "BNK-0008", 61000, day(2026, 3, 3), "ASHANTI MOVERS", "INV-2026-000020")
	env.ledger.setErr(errors.New("ledger unavailable"))

	result, err := env.recon.Resolve(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchStatusMatched, result.Status)
	assert.True(t, result.LedgerPending)
	assert.True(t, env.transaction(t, txn.ID).LedgerApplyPending)
	assert.Contains(t, env.alerts.events(), model.AlertLedgerApplyPending)

	apps, err := env.recon.LedgerApplications(ctx, txn.ID)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, model.ApplyOutcomeFailed, apps[0].Outcome)
	assert.Nil(t, apps[0].AppliedAt)

	env.ledger.setErr(nil)
	retried, err := env.recon.Resolve(ctx, txn.ID)
	require.NoError(t, err)
	assert.False(t, retried.LedgerPending)
	assert.False(t, env.transaction(t, txn.ID).LedgerApplyPending)

	apps, err = env.recon.LedgerApplications(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApplyOutcomeSuccess, apps[0].Outcome)
	assert.Equal(t, 2, apps[0].Attempts)
}

func TestResolve_FailedReconfirmationKeepsAppliedOutcome(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addInvoice("INV-2026-000021", "cust_6", "Ashanti Movers", 977500, day(2026, 3, 15), "INV-2026-000021")
	txn := env.addTransaction(t, "BNK-0009", 977500, day(2026, 3, 18), "ASHANTI MOVERS", "INV-2026-000021")
	march := openMarch(t, env)

	result, err := env.recon.Resolve(ctx, txn.ID)
	require.NoError(t, err)
	require.Equal(t, model.MatchStatusMatched, result.Status)
	require.False(t, result.LedgerPending)

	env.ledger.setErr(errors.New("ledger unavailable"))
	again, err := env.recon.Resolve(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchStatusMatched, again.Status)
	assert.False(t, again.LedgerPending)
	assert.False(t, env.transaction(t, txn.ID).LedgerApplyPending)
	assert.NotContains(t, env.alerts.events(), model.AlertLedgerApplyPending)
	assert.Equal(t, 2, env.ledger.callCount())

	apps, err := env.recon.LedgerApplications(ctx, txn.ID)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, model.ApplyOutcomeSuccess, apps[0].Outcome)
	assert.Equal(t, 2, apps[0].Attempts)
	require.NotNil(t, apps[0].AppliedAt)
	assert.Equal(t, testNow, *apps[0].AppliedAt)

	p, err := env.recon.RecomputePeriod(ctx, march.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1977500), p.BookClosingBalance)
	assert.Equal(t, int64(0), p.DiscrepancyAmount)
}

func TestFindCandidates_OrderingAndNoSideEffects(t *testing.T) {
	env := newTestEnv(t)
	env.addInvoice("INV-NEAR", "cust_7", "Cape Coast Traders", 80000, day(2026, 3, 9))
	env.addInvoice("INV-FAR", "cust_7", "Cape Coast Traders", 80000, day(2026, 3, 30))
	env.addInvoice("INV-OFF", "cust_8", "Nkawkaw Timber", 20000, day(2026, 3, 10))
	env.addInvoice("INV-OLD", "cust_7", "Cape Coast Traders", 80000, day(2025, 6, 1))
	txn := env.addTransaction(t, "BNK-0009", 80000, day(2026, 3, 10), "Cape Coast Traders", "PAYMENT")

	candidates, err := env.recon.FindCandidates(context.Background(), txn.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(candidates), 2)
	assert.Equal(t, "INV-NEAR", candidates[0].PrimaryID())
	assert.Equal(t, "INV-FAR", candidates[1].PrimaryID())
	for i := 1; i < len(candidates); i++ {
		assert.GreaterOrEqual(t, candidates[i-1].Score, candidates[i].Score)
	}
	for _, c := range candidates {
		assert.NotEqual(t, "INV-OLD", c.PrimaryID())
		assert.False(t, c.Split)
	}

	stored := env.transaction(t, txn.ID)
	assert.Equal(t, model.MatchStatusUnmatched, stored.MatchStatus)
	assert.Equal(t, int64(1), stored.Version)
}

func TestOverride_Ignore(t *testing.T) {
	env := newTestEnv(t)
	txn := env.addTransaction(t, "BNK-0010", -1500, day(2026, 3, 4), "ECOBANK", "MONTHLY FEE")

	result, err := env.recon.Override(context.Background(), txn.ID, nil, "ama", "bank charge")
	require.NoError(t, err)
	assert.Equal(t, model.MatchStatusIgnored, result.Status)
	assert.Zero(t, env.ledger.callCount())

	require.Len(t, env.hooks.hooks, 1)
	assert.Equal(t, "match.ignored", env.hooks.hooks[0].Event)
	event, ok := env.hooks.hooks[0].Payload.(MatchResultEvent)
	require.True(t, ok)
	assert.Equal(t, "ama", event.User)
	assert.Equal(t, "bank charge", event.Reason)

	again, err := env.recon.Resolve(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchStatusIgnored, again.Status)
}

func TestOverride_ManualSingleAndSplit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addInvoice("INV-S1", "cust_10", "Ho Agro Exports", 30000, day(2026, 3, 1))
	env.addInvoice("INV-S2", "cust_10", "Ho Agro Exports", 45000, day(2026, 3, 8))
	env.addInvoice("INV-X", "cust_11", "Other Customer", 45000, day(2026, 3, 8))

	single := env.addTransaction(t, "BNK-0011", 30000, day(2026, 3, 2), "HO AGRO", "DEPOSIT")
	result, err := env.recon.Override(ctx, single.ID, []string{"INV-S1"}, "kofi", "confirmed by phone")
	require.NoError(t, err)
	assert.Equal(t, model.MatchStatusManuallyMatched, result.Status)
	assert.Equal(t, []string{"INV-S1"}, result.MatchedEntityIDs)
	assert.False(t, result.LedgerPending)
	assert.Equal(t, "BNK-0011:INV-S1", env.ledger.calls[0].IdempotencyKey)

	split := env.addTransaction(t, "BNK-0012", 75000, day(2026, 3, 9), "HO AGRO", "DEPOSIT")
	result, err = env.recon.Override(ctx, split.ID, []string{"INV-S1", "INV-S2"}, "kofi", "remittance advice")
	require.NoError(t, err)
	assert.Equal(t, model.MatchStatusManuallyMatched, result.Status)
	assert.Equal(t, []string{"INV-S1", "INV-S2"}, env.transaction(t, split.ID).SplitItemIDs)
	require.Equal(t, 3, env.ledger.callCount())
	assert.Equal(t, int64(30000), env.ledger.calls[1].Amount)
	assert.Equal(t, int64(45000), env.ledger.calls[2].Amount)

	other := env.addTransaction(t, "BNK-0015", 75000, day(2026, 3, 9), "HO AGRO", "DEPOSIT")
	_, err = env.recon.Override(ctx, other.ID, []string{"INV-S2", "INV-X"}, "kofi", "")
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))
}

func TestOverride_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addInvoice("INV-V", "cust_12", "Keta Lagoon Foods", 10000, day(2026, 3, 1))
	txn := env.addTransaction(t, "BNK-0013", 9000, day(2026, 3, 1), "KETA", "DEPOSIT")

	_, err := env.recon.Override(ctx, txn.ID, []string{"INV-V"}, "", "no user")
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))

	_, err = env.recon.Override(ctx, txn.ID, []string{"INV-V", "INV-V"}, "ama", "dup")
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))

	_, err = env.recon.Override(ctx, txn.ID, []string{"a", "b", "c", "d"}, "ama", "too many")
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))

	_, err = env.recon.Override(ctx, txn.ID, []string{"INV-MISSING"}, "ama", "")
	assert.True(t, apierror.IsCode(err, apierror.ErrNotFound))

	assert.Equal(t, model.MatchStatusUnmatched, env.transaction(t, txn.ID).MatchStatus)
}

func TestOverride_RefusesToOrphanAppliedItems(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addInvoice("INV-2026-000030", "cust_13", "Tamale Grains", 88000, day(2026, 3, 6), "INV-2026-000030")
	txn := env.addTransaction(t, "BNK-0014", 88000, day(2026, 3, 6), "TAMALE GRAINS", "INV-2026-000030")

	_, err := env.recon.Resolve(ctx, txn.ID)
	require.NoError(t, err)

	_, err = env.recon.Override(ctx, txn.ID, nil, "ama", "wrong match")
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidState))
	assert.Equal(t, model.MatchStatusMatched, env.transaction(t, txn.ID).MatchStatus)
}
