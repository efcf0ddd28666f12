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
	"time"

	"github.com/freightline/recon/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// sweepItemTimeout bounds a resolve that was already started when the sweep is cancelled.
const sweepItemTimeout = 2 * time.Minute

// SweepKey is the checkpoint key of a connection's sweep.
func SweepKey(connectionID string) string {
	return "sweep:" + connectionID
}

type sweepOutcome struct {
	txn     *model.BankTransaction
	result  *model.MatchResult
	err     error
	skipped bool
}

// Sweep resolves every unmatched transaction of a bank connection in pages, using a
// bounded pool of workers. The checkpoint advances after each finished page so a
// cancelled sweep resumes where it stopped; a completed sweep resets it.
//
// Parameters:
// - ctx context.Context: Cancelling it stops the sweep after in-flight transactions finish.
// - connectionID string: The bank connection to sweep.
//
// Returns:
// - *model.SweepResult: Counts for the work done in this run.
// - error: ctx.Err() when interrupted, or a datasource error.
func (r *Recon) Sweep(ctx context.Context, connectionID string) (*model.SweepResult, error) {
	ctx, span := otel.Tracer("recon.matching").Start(ctx, "Sweep")
	defer span.End()
	span.SetAttributes(attribute.String("bank_connection.id", connectionID))

	key := SweepKey(connectionID)
	progress, err := r.datasource.LoadSweepProgress(ctx, key)
	if err != nil {
		return nil, err
	}

	result := &model.SweepResult{BankConnectionID: connectionID, LastTransaction: progress.LastProcessedTransactionID}
	var touched []time.Time

	for {
		if ctx.Err() != nil {
			result.Interrupted = true
			break
		}

		page, err := r.datasource.GetUnmatchedTransactionsAfter(ctx, connectionID, progress.LastProcessedTransactionID, r.matching.SweepBatchSize)
		if err != nil {
			span.RecordError(err)
			return result, err
		}
		if len(page) == 0 {
			if err := r.datasource.SaveSweepProgress(ctx, key, model.SweepProgress{}); err != nil {
				return result, err
			}
			result.LastTransaction = ""
			break
		}

		complete := true
		for _, out := range r.resolveBatch(ctx, page) {
			if out.skipped {
				complete = false
				continue
			}
			result.Processed++
			if out.err != nil {
				result.Failed++
				logrus.WithError(out.err).WithField("transaction_id", out.txn.ID).Warn("sweep failed to resolve transaction")
				continue
			}
			switch out.result.Status {
			case model.MatchStatusMatched:
				result.Matched++
			case model.MatchStatusSuggested:
				result.Suggested++
			default:
				result.Unmatched++
			}
			if out.result.Status != model.MatchStatusUnmatched {
				touched = append(touched, out.txn.TransactionDate)
			}
		}
		if !complete {
			result.Interrupted = true
			break
		}

		progress.LastProcessedTransactionID = page[len(page)-1].ID
		progress.ProcessedCount += len(page)
		if err := r.datasource.SaveSweepProgress(context.WithoutCancel(ctx), key, progress); err != nil {
			return result, err
		}
		result.LastTransaction = progress.LastProcessedTransactionID
	}

	r.recomputeTouched(context.WithoutCancel(ctx), connectionID, touched)

	logrus.WithFields(logrus.Fields{
		"bank_connection_id": connectionID,
		"processed":          result.Processed,
		"matched":            result.Matched,
		"suggested":          result.Suggested,
		"unmatched":          result.Unmatched,
		"failed":             result.Failed,
		"interrupted":        result.Interrupted,
	}).Info("sweep finished")

	if result.Interrupted {
		return result, ctx.Err()
	}
	return result, nil
}

// resolveBatch fans a page out to the sweep workers. Transactions not yet started
// when ctx is cancelled come back skipped; started ones run to completion.
func (r *Recon) resolveBatch(ctx context.Context, page []*model.BankTransaction) []sweepOutcome {
	jobs := make(chan int)
	outcomes := make([]sweepOutcome, len(page))

	workers := r.matching.SweepWorkers
	if workers > len(page) {
		workers = len(page)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				txn := page[i]
				if ctx.Err() != nil {
					outcomes[i] = sweepOutcome{txn: txn, skipped: true}
					continue
				}
				itemCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sweepItemTimeout)
				res, err := r.resolveTransaction(itemCtx, txn.ID, resolveMode{})
				cancel()
				outcomes[i] = sweepOutcome{txn: txn, result: res, err: err}
			}
		}()
	}

	for i := range page {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return outcomes
}

// recomputeTouched refreshes the open periods spanning the dates a sweep changed.
func (r *Recon) recomputeTouched(ctx context.Context, connectionID string, dates []time.Time) {
	if len(dates) == 0 {
		return
	}
	first, last := dates[0], dates[0]
	for _, d := range dates[1:] {
		if d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
	}
	periods, err := r.datasource.FindOverlappingPeriods(ctx, connectionID, first, last)
	if err != nil {
		logrus.WithError(err).WithField("bank_connection_id", connectionID).Warn("failed to load periods after sweep")
		return
	}
	for _, p := range periods {
		if !p.Status.IsOpen() {
			continue
		}
		if _, err := r.RecomputePeriod(ctx, p.ID); err != nil {
			logrus.WithError(err).WithField("period_id", p.ID).Warn("failed to recompute period after sweep")
		}
	}
}
