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
	"sort"

	"github.com/freightline/recon/internal/notification"
	"github.com/freightline/recon/model"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// AlertDispatcher is notified of suggested matches, failed ledger applications and
// stale periods. Notify never blocks on delivery and never fails the caller.
type AlertDispatcher interface {
	Notify(ctx context.Context, alert model.Alert)
}

// QueuedAlertDispatcher hands alerts to the alert queue.
type QueuedAlertDispatcher struct {
	queue *Queue
}

func NewQueuedAlertDispatcher(q *Queue) *QueuedAlertDispatcher {
	return &QueuedAlertDispatcher{queue: q}
}

func (d *QueuedAlertDispatcher) Notify(ctx context.Context, alert model.Alert) {
	if err := d.queue.EnqueueAlert(ctx, alert); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"event":   alert.Event,
			"subject": alert.SubjectID,
		}).Error("failed to enqueue alert")
	}
}

// LogAlertDispatcher only logs alerts. It is used when no queue is available.
type LogAlertDispatcher struct{}

func (LogAlertDispatcher) Notify(_ context.Context, alert model.Alert) {
	logAlert(alert)
}

func logAlert(alert model.Alert) {
	entry := logrus.WithFields(logrus.Fields{
		"event":    alert.Event,
		"severity": alert.Severity,
		"subject":  alert.SubjectID,
	})
	switch alert.Severity {
	case model.SeverityCritical:
		entry.Error(alert.Message)
	case model.SeverityWarning:
		entry.Warn(alert.Message)
	default:
		entry.Info(alert.Message)
	}
}

// ProcessAlert delivers an alert task: it is logged, sent to the webhook and,
// when critical, posted to Slack.
func ProcessAlert(ctx context.Context, task *asynq.Task) error {
	var alert model.Alert
	if err := json.Unmarshal(task.Payload(), &alert); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	logAlert(alert)

	if err := processHTTP(ctx, NewWebhook{Event: alert.Event, Payload: alert}); err != nil {
		return err
	}
	if alert.Severity != model.SeverityCritical {
		return nil
	}
	return notification.SlackNotification(ctx, fmt.Sprintf("Reconciliation alert: %s", alert.Event), alertFields(alert)...)
}

func alertFields(alert model.Alert) []notification.Field {
	fields := []notification.Field{
		{Label: "Subject", Value: alert.SubjectID},
		{Label: "Message", Value: alert.Message},
	}
	keys := make([]string, 0, len(alert.Payload))
	for k := range alert.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, notification.Field{Label: k, Value: fmt.Sprintf("%v", alert.Payload[k])})
	}
	return fields
}

func (r *Recon) alert(ctx context.Context, event string, severity model.AlertSeverity, subjectID, message string, payload map[string]interface{}) {
	if r.alerts == nil {
		return
	}
	r.alerts.Notify(ctx, model.Alert{
		Event:      event,
		Severity:   severity,
		SubjectID:  subjectID,
		Message:    message,
		Payload:    payload,
		OccurredAt: r.clock.Now(),
	})
}
