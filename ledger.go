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
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/freightline/recon/config"
	"github.com/freightline/recon/internal/request"
	"github.com/freightline/recon/model"
	"github.com/sirupsen/logrus"
)

// LedgerApplier posts accepted matches to the ledger. Calling Apply more than once
// with the same idempotency key must never post twice.
type LedgerApplier interface {
	Apply(ctx context.Context, app model.LedgerApplication) (model.ApplyOutcome, error)
}

// attemptCounter is implemented by appliers that retry internally.
type attemptCounter interface {
	ApplyCounted(ctx context.Context, app model.LedgerApplication) (model.ApplyOutcome, int, error)
}

// ErrLedgerRejected is returned when the ledger refuses an application outright.
var ErrLedgerRejected = errors.New("ledger rejected application")

// HTTPLedgerApplier calls the ledger's apply endpoint with an Idempotency-Key header.
type HTTPLedgerApplier struct {
	url     string
	headers map[string]string
	client  *http.Client
}

func NewHTTPLedgerApplier(cfg config.LedgerConfig) *HTTPLedgerApplier {
	return &HTTPLedgerApplier{
		url:     cfg.Url,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
	}
}

// Apply maps ledger responses to outcomes: 2xx is success, 409 means the key was
// already applied, other 4xx are permanent failures and 5xx or transport errors
// are retryable failures.
func (h *HTTPLedgerApplier) Apply(ctx context.Context, app model.LedgerApplication) (model.ApplyOutcome, error) {
	if h.url == "" {
		return model.ApplyOutcomeFailed, backoff.Permanent(errors.New("ledger url is not configured"))
	}
	headers := make(map[string]string, len(h.headers)+1)
	for k, v := range h.headers {
		headers[k] = v
	}
	headers["Idempotency-Key"] = app.IdempotencyKey

	payload := model.LedgerApplication{
		IdempotencyKey: app.IdempotencyKey,
		TransactionID:  app.TransactionID,
		InvoiceID:      app.InvoiceID,
		Amount:         app.Amount,
		Currency:       app.Currency,
	}
	resp, err := request.PostJSON(ctx, h.client, h.url, headers, payload)
	if err != nil {
		return model.ApplyOutcomeFailed, err
	}

	switch {
	case resp.Is2xx():
		return model.ApplyOutcomeSuccess, nil
	case resp.StatusCode == http.StatusConflict:
		return model.ApplyOutcomeAlreadyApplied, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return model.ApplyOutcomeFailed, backoff.Permanent(fmt.Errorf("%w: status %d: %s", ErrLedgerRejected, resp.StatusCode, string(resp.Body)))
	default:
		return model.ApplyOutcomeFailed, fmt.Errorf("ledger returned status %d", resp.StatusCode)
	}
}

// RetryingLedgerApplier retries another applier with bounded exponential backoff.
type RetryingLedgerApplier struct {
	next            LedgerApplier
	maxRetries      int
	initialInterval time.Duration
	maxInterval     time.Duration
}

func NewRetryingLedgerApplier(next LedgerApplier, cfg config.LedgerConfig) *RetryingLedgerApplier {
	return &RetryingLedgerApplier{
		next:            next,
		maxRetries:      cfg.MaxRetries,
		initialInterval: time.Duration(cfg.InitialIntervalMs) * time.Millisecond,
		maxInterval:     time.Duration(cfg.MaxIntervalMs) * time.Millisecond,
	}
}

func (r *RetryingLedgerApplier) Apply(ctx context.Context, app model.LedgerApplication) (model.ApplyOutcome, error) {
	outcome, _, err := r.ApplyCounted(ctx, app)
	return outcome, err
}

// ApplyCounted applies app and reports how many calls were made. It gives up after
// maxRetries retries, on a permanent error, or when ctx is done.
func (r *RetryingLedgerApplier) ApplyCounted(ctx context.Context, app model.LedgerApplication) (model.ApplyOutcome, int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.maxRetries)), ctx)

	attempts := 0
	outcome := model.ApplyOutcomeFailed
	err := backoff.RetryNotify(func() error {
		attempts++
		o, err := r.next.Apply(ctx, app)
		if err != nil {
			return err
		}
		if !o.Applied() {
			return errors.New("ledger reported a failed application")
		}
		outcome = o
		return nil
	}, policy, func(err error, wait time.Duration) {
		logrus.WithFields(logrus.Fields{
			"idempotency_key": app.IdempotencyKey,
			"attempt":         attempts,
			"retry_in":        wait.String(),
		}).Warnf("ledger apply failed: %v", err)
	})
	if err != nil {
		return model.ApplyOutcomeFailed, attempts, err
	}
	return outcome, attempts, nil
}
