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
	"sync"
	"time"

	"github.com/freightline/recon/config"
	"github.com/freightline/recon/model"
	"github.com/sirupsen/logrus"
)

const ledgerRecoveryPageSize = 200

// LedgerRecoveryProcessor periodically re-confirms matched transactions whose
// ledger applications are still pending. A transaction whose applications have
// used up the attempt limit is left alone and reported once as ledger.apply_failed.
type LedgerRecoveryProcessor struct {
	recon        *Recon
	maxWorkers   int
	pollInterval time.Duration
	attemptLimit int
	stopCh       chan struct{}
	wg           sync.WaitGroup
	running      bool
	mu           sync.Mutex
}

func NewLedgerRecoveryProcessor(r *Recon) *LedgerRecoveryProcessor {
	cfg := config.LedgerConfig{}.WithDefaults()
	if conf, err := config.Fetch(); err == nil {
		cfg = conf.Ledger.WithDefaults()
	}

	return &LedgerRecoveryProcessor{
		recon:        r,
		maxWorkers:   cfg.RecoveryWorkers,
		pollInterval: time.Duration(cfg.RecoveryIntervalSec) * time.Second,
		attemptLimit: cfg.RecoveryAttemptLimit,
		stopCh:       make(chan struct{}),
	}
}

func (p *LedgerRecoveryProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.Info("Ledger recovery processor started")
}

func (p *LedgerRecoveryProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Ledger recovery processor stopped")
}

func (p *LedgerRecoveryProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *LedgerRecoveryProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Ledger recovery processor context cancelled")
			return
		case <-p.stopCh:
			logrus.Info("Ledger recovery processor stop signal received")
			return
		case <-ticker.C:
			if _, err := p.recoverPending(ctx); err != nil {
				logrus.WithError(err).Error("ledger recovery pass failed")
			}
		}
	}
}

// RecoverLedgerApplications runs a single recovery pass and returns how many
// pending transactions it re-confirmed.
func (r *Recon) RecoverLedgerApplications(ctx context.Context) (int, error) {
	return NewLedgerRecoveryProcessor(r).recoverPending(ctx)
}

func (p *LedgerRecoveryProcessor) recoverPending(ctx context.Context) (int, error) {
	var (
		afterID   string
		recovered int
		mu        sync.Mutex
	)
	for {
		page, err := p.recon.datasource.GetLedgerPendingTransactions(ctx, afterID, ledgerRecoveryPageSize)
		if err != nil {
			return recovered, err
		}
		if len(page) == 0 {
			return recovered, nil
		}

		logrus.Infof("Re-confirming %d ledger pending transactions with %d workers", len(page), p.maxWorkers)

		sem := make(chan struct{}, p.maxWorkers)
		var batchWg sync.WaitGroup
		for _, txn := range page {
			if ctx.Err() != nil {
				break
			}
			sem <- struct{}{}
			batchWg.Add(1)
			go func(t *model.BankTransaction) {
				defer batchWg.Done()
				defer func() { <-sem }()
				ok, err := p.recoverTransaction(ctx, t)
				if err != nil {
					logrus.WithError(err).WithField("transaction_id", t.ID).Error("failed to recover ledger applications")
					return
				}
				if ok {
					mu.Lock()
					recovered++
					mu.Unlock()
				}
			}(txn)
		}
		batchWg.Wait()

		if err := ctx.Err(); err != nil {
			return recovered, err
		}
		if len(page) < ledgerRecoveryPageSize {
			return recovered, nil
		}
		afterID = page[len(page)-1].ID
	}
}

// recoverTransaction re-confirms one transaction and reports whether its
// applications are now all held by the ledger.
func (p *LedgerRecoveryProcessor) recoverTransaction(ctx context.Context, txn *model.BankTransaction) (bool, error) {
	before, err := p.pendingAttempts(ctx, txn.ID)
	if err != nil {
		return false, err
	}
	if before >= p.attemptLimit {
		logrus.WithField("transaction_id", txn.ID).Debug("ledger recovery attempts exhausted, skipping")
		return false, nil
	}

	result, err := p.recon.Resolve(ctx, txn.ID)
	if err != nil {
		return false, err
	}
	if !result.LedgerPending {
		logrus.WithField("transaction_id", txn.ID).Info("ledger applications recovered")
		return true, nil
	}

	after, err := p.pendingAttempts(ctx, txn.ID)
	if err != nil {
		return false, err
	}
	if after >= p.attemptLimit {
		p.recon.alert(ctx, model.AlertLedgerApplyFailed, model.SeverityCritical, txn.ID,
			fmt.Sprintf("Ledger applications for transaction %s failed after %d attempts; manual posting required", txn.TransactionRef, after),
			map[string]interface{}{
				"transaction_id":  txn.ID,
				"transaction_ref": txn.TransactionRef,
				"attempts":        after,
			})
	}
	return false, nil
}

// pendingAttempts returns the highest attempt count among applications the ledger
// has not accepted yet.
func (p *LedgerRecoveryProcessor) pendingAttempts(ctx context.Context, transactionID string) (int, error) {
	apps, err := p.recon.datasource.GetLedgerApplications(ctx, transactionID)
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, app := range apps {
		if !app.Outcome.Applied() && app.Attempts > highest {
			highest = app.Attempts
		}
	}
	return highest, nil
}
