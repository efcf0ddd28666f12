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

import "time"

type OpenItemKind string

const (
	OpenItemKindInvoice    OpenItemKind = "invoice"
	OpenItemKindReceivable OpenItemKind = "receivable"
)

// Direction is the side of the bank account an open item is expected to settle on.
type Direction string

const (
	DirectionCredit Direction = "credit" // money expected in
	DirectionDebit  Direction = "debit"  // money expected out (credit notes, refunds)
)

// OpenItem is the read-only summary of an invoice or receivable published by invoicing.
type OpenItem struct {
	ID                string       `json:"id"`
	Kind              OpenItemKind `json:"kind"`
	CustomerID        string       `json:"customer_id"`
	CustomerName      string       `json:"customer_name"`
	Currency          string       `json:"currency"`
	OutstandingAmount int64        `json:"outstanding_amount"`
	Direction         Direction    `json:"direction"`
	DueDate           time.Time    `json:"due_date"`
	ReferenceStrings  []string     `json:"reference_strings"`
}

// OpenItemQuery narrows the open-item window scan.
type OpenItemQuery struct {
	Currency  string
	Direction Direction
	DueFrom   time.Time
	DueTo     time.Time
}

// CustomerOpenItemQuery selects one customer's open items for split matching,
// regardless of due date. Items above MaxAmount are skipped and at most Limit items
// are returned, preferring those due closest to Near.
type CustomerOpenItemQuery struct {
	CustomerID string
	Currency   string
	Direction  Direction
	MaxAmount  int64
	Near       time.Time
	Limit      int
}
