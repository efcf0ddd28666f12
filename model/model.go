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

package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a suffix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New() // Generate a new UUID.
	uuidStr := id.String()
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr) // Append the module as a suffix to the UUID.
	return idWithSuffix
}

// IdempotencyKey builds the ledger idempotency key for applying a transaction to an open item.
// The key is stable across retries and workers: transaction_ref + ":" + item id.
func IdempotencyKey(transactionRef, itemID string) string {
	return strings.TrimSpace(transactionRef) + ":" + strings.TrimSpace(itemID)
}

// AbsAmount returns the absolute value of a minor-unit amount.
func AbsAmount(amount int64) int64 {
	if amount < 0 {
		return -amount
	}
	return amount
}
