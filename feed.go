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

	"github.com/sirupsen/logrus"
)

// FeedChannel is the Postgres channel notified for every inserted bank transaction.
const FeedChannel = "bank_transaction_inserted"

// FeedNotification is published by the insert trigger on recon.bank_transactions.
type FeedNotification struct {
	ID               string `json:"id"`
	BankConnectionID string `json:"bank_connection_id"`
}

// HandleNotification picks up transactions written straight to the database by a
// bank feed. It queues a resolve, or resolves inline when no queue is configured.
// Rows recorded through the API are notified too; their resolve task collapses
// with the one already queued.
func (r *Recon) HandleNotification(ctx context.Context, channel, payload string) error {
	var n FeedNotification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return fmt.Errorf("invalid %s payload: %w", channel, err)
	}
	if n.ID == "" {
		return fmt.Errorf("%s payload has no transaction id", channel)
	}

	logrus.WithFields(logrus.Fields{
		"transaction_id":     n.ID,
		"bank_connection_id": n.BankConnectionID,
	}).Debug("bank feed transaction inserted")

	if r.queue != nil {
		return r.queue.EnqueueResolve(ctx, n.ID)
	}
	_, err := r.Resolve(ctx, n.ID)
	return err
}
