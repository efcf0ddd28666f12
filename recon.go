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
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/freightline/recon/config"
	"github.com/freightline/recon/database"
	"github.com/freightline/recon/internal/apierror"
	redlock "github.com/freightline/recon/internal/lock"
	redis_db "github.com/freightline/recon/internal/redis-db"
	"github.com/freightline/recon/model"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// Recon is the reconciliation service: it scores and resolves bank transactions
// against open items and runs the reconciliation period lifecycle.
type Recon struct {
	datasource database.IDataSource
	redis      redis.UniversalClient
	queue      *Queue
	scorer     *ConfidenceScorer
	similarity SimilarityFunc
	ledger     LedgerApplier
	alerts     AlertDispatcher
	webhooks   WebhookSender
	clock      Clock
	matching   config.MatchingConfig
	periods    config.PeriodConfig
}

// Option customizes a Recon instance.
type Option func(*Recon)

func WithClock(c Clock) Option {
	return func(r *Recon) { r.clock = c }
}

func WithLedgerApplier(l LedgerApplier) Option {
	return func(r *Recon) { r.ledger = l }
}

func WithAlertDispatcher(a AlertDispatcher) Option {
	return func(r *Recon) { r.alerts = a }
}

func WithWebhookSender(w WebhookSender) Option {
	return func(r *Recon) { r.webhooks = w }
}

// WithSimilarity replaces the counterparty name comparison used by the scorer.
func WithSimilarity(f SimilarityFunc) Option {
	return func(r *Recon) { r.similarity = f }
}

func WithRedis(client redis.UniversalClient) Option {
	return func(r *Recon) { r.redis = client }
}

func WithQueue(q *Queue) Option {
	return func(r *Recon) { r.queue = q }
}

// WithMatchingConfig overrides the matching parameters from the configuration.
func WithMatchingConfig(cfg config.MatchingConfig) Option {
	return func(r *Recon) { r.matching = cfg }
}

// NewRecon initializes a new instance of Recon with the provided datasource.
// It fetches the configuration and creates the Redis client, queue, ledger applier
// and alert dispatcher unless they are supplied as options.
//
// Parameters:
// - db database.IDataSource: The datasource for database operations.
// - opts ...Option: Overrides for collaborators such as the clock or ledger applier.
//
// Returns:
// - *Recon: A pointer to the newly created Recon instance.
// - error: An error if any of the initialization steps fail.
func NewRecon(db database.IDataSource, opts ...Option) (*Recon, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	r := &Recon{
		datasource: db,
		clock:      SystemClock{},
		matching:   configuration.Matching,
		periods:    configuration.Periods.WithDefaults(),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.matching, err = r.matching.WithDefaults()
	if err != nil {
		return nil, err
	}

	if r.redis == nil {
		client, err := redis_db.NewRedisClient(redis_db.SplitAddresses(configuration.Redis.Dns), configuration.Redis.SkipTLSVerify)
		if err != nil {
			return nil, err
		}
		r.redis = client.Client()
	}
	if r.queue == nil && (r.alerts == nil || r.webhooks == nil) {
		r.queue, err = NewQueue(configuration)
		if err != nil {
			return nil, err
		}
	}
	if r.ledger == nil {
		r.ledger = NewRetryingLedgerApplier(NewHTTPLedgerApplier(configuration.Ledger), configuration.Ledger)
	}
	if r.alerts == nil {
		r.alerts = NewQueuedAlertDispatcher(r.queue)
	}
	if r.webhooks == nil {
		r.webhooks = NewQueuedWebhookSender(r.queue)
	}
	r.scorer = NewConfidenceScorer(r.matching, r.similarity)
	return r, nil
}

// Queue returns the task queue, or nil when the instance was built without one.
func (r *Recon) Queue() *Queue {
	return r.queue
}

// Datasource returns the underlying datasource.
func (r *Recon) Datasource() database.IDataSource {
	return r.datasource
}

// Scorer returns the configured confidence scorer.
func (r *Recon) Scorer() *ConfidenceScorer {
	return r.scorer
}

// withLock runs fn while holding the Redis lock for key. Waiting is bounded by the
// configured wait time; a busy lock surfaces as a conflict the caller may retry.
func (r *Recon) withLock(ctx context.Context, key string, fn func() error) error {
	locker := redlock.NewLocker(r.redis, key, model.GenerateUUIDWithSuffix("lock"))
	lockTimeout := time.Duration(r.periods.LockTimeoutSec) * time.Second
	waitTimeout := time.Duration(r.periods.LockWaitSec) * time.Second
	if err := locker.WaitLock(ctx, lockTimeout, waitTimeout); err != nil {
		if errors.Is(err, redlock.ErrNotAcquired) {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("resource %s is busy; retry later", key), err)
		}
		return err
	}
	defer func() {
		if err := locker.Unlock(context.WithoutCancel(ctx)); err != nil {
			logrus.WithError(err).WithField("key", key).Warn("failed to release lock")
		}
	}()
	return fn()
}
