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
	"fmt"
	"net/http"
	"time"

	"github.com/freightline/recon/config"
	"github.com/freightline/recon/internal/request"
	"github.com/freightline/recon/model"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

var webhookClient = &http.Client{Timeout: 15 * time.Second}

// NewWebhook represents the structure of a webhook notification.
// It includes an event type and associated payload data.
type NewWebhook struct {
	Event   string      `json:"event"` // The event type that triggered the webhook.
	Payload interface{} `json:"data"`  // The data associated with the event.
}

// WebhookSender delivers webhook events, usually through the queue.
type WebhookSender interface {
	SendWebhook(ctx context.Context, hook NewWebhook) error
}

// MatchResultEvent is the webhook payload published after a status change.
type MatchResultEvent struct {
	model.MatchResult
	User   string `json:"user,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// getEventFromStatus maps a match status to a corresponding event string.
//
// Parameters:
// - status model.MatchStatus: The status the transaction moved to.
//
// Returns:
// - string: The corresponding event string for the match status.
func getEventFromStatus(status model.MatchStatus) string {
	switch status {
	case model.MatchStatusMatched:
		return "match.matched"
	case model.MatchStatusSuggested:
		return "match.suggested"
	case model.MatchStatusManuallyMatched:
		return "match.manually_matched"
	case model.MatchStatusIgnored:
		return "match.ignored"
	case model.MatchStatusUnmatched:
		return "match.unmatched"
	default:
		return "match.unknown"
	}
}

// QueuedWebhookSender enqueues webhook events for the workers to deliver.
type QueuedWebhookSender struct {
	queue *Queue
}

func NewQueuedWebhookSender(q *Queue) *QueuedWebhookSender {
	return &QueuedWebhookSender{queue: q}
}

// SendWebhook enqueues a webhook notification task. Nothing is queued when no
// webhook URL is configured.
func (s *QueuedWebhookSender) SendWebhook(ctx context.Context, hook NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}
	return s.queue.EnqueueWebhook(ctx, hook)
}

// processHTTP sends a webhook notification via HTTP POST request.
func processHTTP(ctx context.Context, hook NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	resp, err := request.PostJSON(ctx, webhookClient, conf.Notification.Webhook.Url, conf.Notification.Webhook.Headers, hook)
	if err != nil {
		logrus.WithError(err).WithField("event", hook.Event).Error("error sending webhook")
		return err
	}
	if !resp.Is2xx() {
		return fmt.Errorf("webhook %s failed with status code %d", hook.Event, resp.StatusCode)
	}
	logrus.WithField("event", hook.Event).Info("webhook notification sent successfully")
	return nil
}

// ProcessWebhook processes a webhook notification task from the queue.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - task *asynq.Task: The task containing the webhook notification data.
//
// Returns:
// - error: An error if the webhook processing fails, so the task is retried.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.Errorf("Error unmarshaling task payload: %v", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return processHTTP(ctx, payload)
}

func (r *Recon) publishMatchResult(ctx context.Context, result *model.MatchResult, user, reason string) {
	if r.webhooks == nil || result == nil {
		return
	}
	hook := NewWebhook{
		Event:   getEventFromStatus(result.Status),
		Payload: MatchResultEvent{MatchResult: *result, User: user, Reason: reason},
	}
	if err := r.webhooks.SendWebhook(ctx, hook); err != nil {
		logrus.WithError(err).WithField("transaction_id", result.TransactionID).Warn("failed to publish match result")
	}
}
