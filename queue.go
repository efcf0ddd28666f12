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

	"github.com/freightline/recon/config"
	redis_db "github.com/freightline/recon/internal/redis-db"
	"github.com/freightline/recon/model"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// StalePeriodsTask is the scheduled task that checks for stale periods.
const StalePeriodsTask = "recon:stale_periods"

// Queue represents a queue for handling reconciliation tasks.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	cfg       config.QueueConfig
}

// ResolvePayload is the payload of a resolve task.
type ResolvePayload struct {
	TransactionID string `json:"transaction_id"`
}

// SweepPayload is the payload of a sweep task.
type SweepPayload struct {
	BankConnectionID string `json:"bank_connection_id"`
}

// RecomputePayload is the payload of a period recompute task.
type RecomputePayload struct {
	PeriodID string `json:"period_id"`
}

// NewQueue initializes a new Queue instance with the provided configuration.
//
// Parameters:
// - conf *config.Configuration: The configuration for the queue.
//
// Returns:
// - *Queue: A pointer to the newly created Queue instance.
// - error: An error if the Redis address cannot be parsed.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := redis_db.AsynqClientOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		cfg:       conf.Queue,
	}, nil
}

// EnqueueResolve queues a resolve of one transaction. Concurrent requests for the
// same transaction collapse into a single task while it is pending.
func (q *Queue) EnqueueResolve(ctx context.Context, transactionID string) error {
	return q.enqueue(ctx, q.cfg.ResolveQueue, "resolve:"+transactionID, ResolvePayload{TransactionID: transactionID})
}

// EnqueueSweep queues a sweep over the unmatched transactions of a connection.
func (q *Queue) EnqueueSweep(ctx context.Context, connectionID string) error {
	return q.enqueue(ctx, q.cfg.SweepQueue, "sweep:"+connectionID, SweepPayload{BankConnectionID: connectionID})
}

// EnqueueRecompute queues a recompute of one period.
func (q *Queue) EnqueueRecompute(ctx context.Context, periodID string) error {
	return q.enqueue(ctx, q.cfg.RecomputeQueue, "recompute:"+periodID, RecomputePayload{PeriodID: periodID})
}

// EnqueueAlert queues an alert for delivery.
func (q *Queue) EnqueueAlert(ctx context.Context, alert model.Alert) error {
	return q.enqueue(ctx, q.cfg.AlertQueue, "", alert)
}

// EnqueueWebhook queues a webhook event for delivery.
func (q *Queue) EnqueueWebhook(ctx context.Context, hook NewWebhook) error {
	return q.enqueue(ctx, q.cfg.WebhookQueue, "", hook)
}

func (q *Queue) enqueue(ctx context.Context, queue, taskID string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.Queue(queue), asynq.MaxRetry(q.cfg.MaxRetry)}
	if taskID != "" {
		opts = append(opts, asynq.TaskID(taskID))
	}
	info, err := q.Client.EnqueueContext(ctx, asynq.NewTask(queue, data), opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			logrus.WithField("task_id", taskID).Debug("task already queued")
			return nil
		}
		return err
	}
	logrus.WithFields(logrus.Fields{"queue": queue, "task_id": info.ID}).Debug("task enqueued")
	return nil
}

// Close releases the queue's Redis connections.
func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		return err
	}
	return q.Client.Close()
}
