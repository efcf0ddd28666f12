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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/freightline/recon/internal/apierror"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

func decodeTask(task *asynq.Task, v interface{}) error {
	if err := json.Unmarshal(task.Payload(), v); err != nil {
		logrus.Errorf("Error unmarshaling task payload: %v", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return nil
}

// permanent stops asynq from retrying errors that a retry cannot fix.
func permanent(err error) error {
	if apierror.IsCode(err, apierror.ErrNotFound) || apierror.IsCode(err, apierror.ErrInvalidState) ||
		apierror.IsCode(err, apierror.ErrInvalidInput) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

// ProcessResolve handles a resolve task.
func (r *Recon) ProcessResolve(ctx context.Context, task *asynq.Task) error {
	var payload ResolvePayload
	if err := decodeTask(task, &payload); err != nil {
		return err
	}
	result, err := r.Resolve(ctx, payload.TransactionID)
	if err != nil {
		return permanent(err)
	}
	logrus.WithFields(logrus.Fields{
		"transaction_id": result.TransactionID,
		"status":         result.Status,
	}).Debug("resolve task done")
	return nil
}

// ProcessSweep handles a sweep task. An interrupted sweep is retried and resumes
// from its checkpoint.
func (r *Recon) ProcessSweep(ctx context.Context, task *asynq.Task) error {
	var payload SweepPayload
	if err := decodeTask(task, &payload); err != nil {
		return err
	}
	_, err := r.Sweep(ctx, payload.BankConnectionID)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return permanent(err)
}

// ProcessRecompute handles a period recompute task.
func (r *Recon) ProcessRecompute(ctx context.Context, task *asynq.Task) error {
	var payload RecomputePayload
	if err := decodeTask(task, &payload); err != nil {
		return err
	}
	_, err := r.RecomputePeriod(ctx, payload.PeriodID)
	return permanent(err)
}

// ProcessStalePeriods handles the scheduled stale period check.
func (r *Recon) ProcessStalePeriods(ctx context.Context, _ *asynq.Task) error {
	periods, err := r.CheckStalePeriods(ctx)
	if err != nil {
		return err
	}
	if len(periods) > 0 {
		logrus.WithField("count", len(periods)).Info("stale reconciliation periods found")
	}
	return nil
}
