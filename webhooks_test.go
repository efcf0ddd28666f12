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
	"net/http"
	"testing"

	"github.com/freightline/recon/config"
	"github.com/freightline/recon/model"
	"github.com/hibiken/asynq"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookURL = "https://hooks.example.com/recon"

func mockWebhookConfig(url string) {
	config.MockConfig(&config.Configuration{
		Notification: config.Notification{Webhook: config.WebhookConfig{
			Url:     url,
			Headers: map[string]string{"Authorization": "Bearer hook-token"},
		}},
	})
}

func TestGetEventFromStatus(t *testing.T) {
	tests := []struct {
		status model.MatchStatus
		want   string
	}{
		{model.MatchStatusMatched, "match.matched"},
		{model.MatchStatusSuggested, "match.suggested"},
		{model.MatchStatusManuallyMatched, "match.manually_matched"},
		{model.MatchStatusIgnored, "match.ignored"},
		{model.MatchStatusUnmatched, "match.unmatched"},
		{model.MatchStatus("bogus"), "match.unknown"},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, getEventFromStatus(tt.status))
		})
	}
}

func TestProcessWebhook(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	mockWebhookConfig(testWebhookURL)

	var received NewWebhook
	httpmock.RegisterResponder("POST", testWebhookURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "Bearer hook-token", req.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(req.Body).Decode(&received))
		return httpmock.NewStringResponse(http.StatusOK, ""), nil
	})

	data, err := json.Marshal(NewWebhook{Event: "match.matched", Payload: map[string]string{"transaction_id": "txn_1"}})
	require.NoError(t, err)

	require.NoError(t, ProcessWebhook(context.Background(), asynq.NewTask("recon:webhooks", data)))
	assert.Equal(t, "match.matched", received.Event)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestProcessWebhook_FailureIsRetried(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	mockWebhookConfig(testWebhookURL)
	httpmock.RegisterResponder("POST", testWebhookURL, httpmock.NewStringResponder(http.StatusBadGateway, ""))

	data, _ := json.Marshal(NewWebhook{Event: "match.suggested"})
	err := ProcessWebhook(context.Background(), asynq.NewTask("recon:webhooks", data))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestProcessWebhook_BadPayload(t *testing.T) {
	mockWebhookConfig(testWebhookURL)
	err := ProcessWebhook(context.Background(), asynq.NewTask("recon:webhooks", []byte("{not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessWebhook_NoURLConfigured(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	mockWebhookConfig("")

	data, _ := json.Marshal(NewWebhook{Event: "match.ignored"})
	require.NoError(t, ProcessWebhook(context.Background(), asynq.NewTask("recon:webhooks", data)))
	assert.Zero(t, httpmock.GetTotalCallCount())
}
