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

package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/freightline/recon/config"
	"github.com/freightline/recon/internal/request"
	"github.com/sirupsen/logrus"
)

var slackClient = &http.Client{Timeout: 10 * time.Second}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

// Field is a labelled value rendered in a Slack message section.
type Field struct {
	Label string
	Value string
}

func buildSlackMessage(title string, fields []Field, at time.Time) slackMessage {
	msg := slackMessage{Blocks: []slackBlock{{
		Type: "header",
		Text: &slackText{Type: "plain_text", Text: title, Emoji: true},
	}}}
	for _, f := range fields {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type:   "section",
			Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*%s:*\n%s", f.Label, f.Value)}},
		})
	}
	msg.Blocks = append(msg.Blocks, slackBlock{
		Type:   "section",
		Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Time:*\n%s", at.Format(time.RFC822))}},
	})
	return msg
}

// SlackNotification posts a message with a header and labelled fields to the
// configured Slack webhook. It is a no-op when no webhook is configured.
//
// Parameters:
// - ctx: Bounds the HTTP call.
// - title: The header line of the message.
// - fields: Labelled values rendered as sections.
//
// Returns:
// - error: An error if the webhook could not be reached or rejected the message.
func SlackNotification(ctx context.Context, title string, fields ...Field) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return nil
	}

	resp, err := request.PostJSON(ctx, slackClient, conf.Notification.Slack.WebhookUrl, nil, buildSlackMessage(title, fields, time.Now()))
	if err != nil {
		return err
	}
	if !resp.Is2xx() {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NotifyError logs systemError and reports it to Slack when a webhook is configured.
// It runs asynchronously and never blocks the caller.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := SlackNotification(ctx, "Error From Recon 🐞", Field{Label: "Error", Value: systemError.Error()}); err != nil {
			logrus.WithError(err).Warn("failed to send slack error notification")
		}
	}(systemError)
}
