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
	"net/http"
	"testing"

	"github.com/freightline/recon/config"
	"github.com/freightline/recon/model"
	"github.com/hibiken/asynq"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSlackURL = "https://hooks.slack.example.com/services/T000/B000"

func alertTask(t *testing.T, alert model.Alert) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(alert)
	require.NoError(t, err)
	return asynq.NewTask("recon:alerts", data)
}

func TestProcessAlert(t *testing.T) {
	tests := []struct {
		name       string
		severity   model.AlertSeverity
		slackCalls int
	}{
		{name: "info goes to the webhook only", severity: model.SeverityInfo, slackCalls: 0},
		{name: "warning goes to the webhook only", severity: model.SeverityWarning, slackCalls: 0},
		{name: "critical is posted to slack too", severity: model.SeverityCritical, slackCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpmock.Activate()
			defer httpmock.DeactivateAndReset()
			config.MockConfig(&config.Configuration{
				Notification: config.Notification{
					Slack:   config.SlackWebhook{WebhookUrl: testSlackURL},
					Webhook: config.WebhookConfig{Url: testWebhookURL},
				},
			})

			var hook struct {
				Event string      `json:"event"`
				Data  model.Alert `json:"data"`
			}
			httpmock.RegisterResponder("POST", testWebhookURL, func(req *http.Request) (*http.Response, error) {
				require.NoError(t, json.NewDecoder(req.Body).Decode(&hook))
				return httpmock.NewStringResponse(http.StatusAccepted, ""), nil
			})
			httpmock.RegisterResponder("POST", testSlackURL, httpmock.NewStringResponder(http.StatusOK, "ok"))

			alert := model.Alert{
				Event:     "ledger.apply_pending",
				Severity:  tt.severity,
				SubjectID: "txn_1",
				Message:   "ledger application is pending",
				Payload:   map[string]interface{}{"attempts": 5},
			}
			require.NoError(t, ProcessAlert(context.Background(), alertTask(t, alert)))

			assert.Equal(t, "ledger.apply_pending", hook.Event)
			assert.Equal(t, "txn_1", hook.Data.SubjectID)
			counts := httpmock.GetCallCountInfo()
			assert.Equal(t, 1, counts["POST "+testWebhookURL])
			assert.Equal(t, tt.slackCalls, counts["POST "+testSlackURL])
		})
	}
}

func TestProcessAlert_BadPayload(t *testing.T) {
	err := ProcessAlert(context.Background(), asynq.NewTask("recon:alerts", []byte("nope")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestAlertFields_SortedPayload(t *testing.T) {
	fields := alertFields(model.Alert{
		SubjectID: "period_1",
		Message:   "stale",
		Payload:   map[string]interface{}{"unmatched": 4, "period_end": "2026-02-28"},
	})
	require.Len(t, fields, 4)
	assert.Equal(t, "Subject", fields[0].Label)
	assert.Equal(t, "period_end", fields[2].Label)
	assert.Equal(t, "unmatched", fields[3].Label)
	assert.Equal(t, "4", fields[3].Value)
}

func TestRecon_LedgerFailureRaisesCriticalAlert(t *testing.T) {
	env := newTestEnv(t)
	env.addInvoice("INV-2026-000001", "cust_1", "Kumasi Traders", 977500, day(2026, 3, 12), "INV-2026-000001")
	txn := env.addTransaction(t, "BNK-AL1", 977500, day(2026, 3, 14), "KUMASI TRADERS", "INV-2026-000001")
	env.ledger.setErr(assert.AnError)

	_, err := env.recon.Resolve(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Contains(t, env.alerts.events(), "ledger.apply_pending")

	var critical *model.Alert
	for i := range env.alerts.alerts {
		if env.alerts.alerts[i].Event == "ledger.apply_pending" {
			critical = &env.alerts.alerts[i]
		}
	}
	require.NotNil(t, critical)
	assert.Equal(t, model.SeverityCritical, critical.Severity)
	assert.Equal(t, txn.ID, critical.SubjectID)
}
