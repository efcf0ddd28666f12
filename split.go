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
	"sort"
	"strings"

	"github.com/freightline/recon/model"
)

// maxSplitSize is the largest number of open items one split candidate may combine.
const maxSplitSize = 3

func withinEpsilon(a, b, epsilon int64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= epsilon
}

// splitCandidates searches, per customer, for 2 or 3 open items whose outstanding
// amounts add up to the transaction amount within epsilon. Customers come from the
// date window, but each customer's items are loaded without it: one invoice of a
// split may be due long before the payment. At most MaxSplitItems items per
// customer are combined, those due nearest the transaction date.
func (r *Recon) splitCandidates(ctx context.Context, txn *model.BankTransaction, window []*model.OpenItem) ([]model.MatchCandidate, error) {
	target := model.AbsAmount(txn.Amount)
	epsilon := r.matching.AmountEpsilon

	seen := make(map[string]bool)
	var customers []string
	for _, item := range window {
		if !seen[item.CustomerID] {
			seen[item.CustomerID] = true
			customers = append(customers, item.CustomerID)
		}
	}
	sort.Strings(customers)

	var candidates []model.MatchCandidate
	for _, customer := range customers {
		group, err := r.datasource.GetCustomerOpenItems(ctx, model.CustomerOpenItemQuery{
			CustomerID: customer,
			Currency:   txn.Currency,
			Direction:  txn.Direction(),
			MaxAmount:  target + epsilon,
			Near:       txn.TransactionDate,
			Limit:      r.matching.MaxSplitItems,
		})
		if err != nil {
			return nil, err
		}
		for _, combo := range combinations(group, target, epsilon) {
			c := r.newSplitCandidate(txn, combo)
			if c.Score < r.matching.MinCandidateScore {
				continue
			}
			candidates = append(candidates, c)
		}
	}
	return candidates, nil
}

// combinations returns every 2- and 3-item subset of group, in index order, whose
// outstanding amounts sum to target within epsilon.
func combinations(group []*model.OpenItem, target, epsilon int64) [][]*model.OpenItem {
	var out [][]*model.OpenItem
	n := len(group)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pair := group[i].OutstandingAmount + group[j].OutstandingAmount
			if withinEpsilon(pair, target, epsilon) {
				out = append(out, []*model.OpenItem{group[i], group[j]})
			}
			if pair > target+epsilon {
				continue
			}
			for k := j + 1; k < n; k++ {
				if withinEpsilon(pair+group[k].OutstandingAmount, target, epsilon) {
					out = append(out, []*model.OpenItem{group[i], group[j], group[k]})
				}
			}
		}
	}
	return out
}

func (r *Recon) newSplitCandidate(txn *model.BankTransaction, items []*model.OpenItem) model.MatchCandidate {
	b := r.scorer.ScoreSplit(txn, items)
	c := model.MatchCandidate{
		CustomerID:   items[0].CustomerID,
		Score:        b.Score,
		Breakdown:    b,
		Split:        true,
		DueDate:      items[0].DueDate,
		ItemKind:     items[0].Kind,
		ItemCurrency: items[0].Currency,
	}
	for _, item := range items {
		c.ItemIDs = append(c.ItemIDs, item.ID)
		c.TotalAmount += item.OutstandingAmount
		if item.DueDate.Before(c.DueDate) {
			c.DueDate = item.DueDate
		}
		if item.Kind != c.ItemKind {
			c.ItemKind = ""
		}
	}
	return c
}

func (r *Recon) newSingleCandidate(txn *model.BankTransaction, item *model.OpenItem) model.MatchCandidate {
	b := r.scorer.Score(txn, item)
	return model.MatchCandidate{
		ItemIDs:      []string{item.ID},
		CustomerID:   item.CustomerID,
		Score:        b.Score,
		Breakdown:    b,
		DueDate:      item.DueDate,
		TotalAmount:  item.OutstandingAmount,
		ItemKind:     item.Kind,
		ItemCurrency: item.Currency,
	}
}

// sortCandidates orders by score descending, then by distance between due date and
// transaction date, then by item id.
func sortCandidates(txn *model.BankTransaction, candidates []model.MatchCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		da, db := DaysBetween(txn.TransactionDate, a.DueDate), DaysBetween(txn.TransactionDate, b.DueDate)
		if da != db {
			return da < db
		}
		if a.PrimaryID() != b.PrimaryID() {
			return a.PrimaryID() < b.PrimaryID()
		}
		return strings.Join(a.ItemIDs, ",") < strings.Join(b.ItemIDs, ",")
	})
}

// allocate spreads amount over items in order: each item takes at most its
// outstanding amount and the last item takes whatever remains.
func allocate(amount int64, items []*model.OpenItem) []int64 {
	shares := make([]int64, len(items))
	remaining := amount
	for i, item := range items {
		share := item.OutstandingAmount
		if i == len(items)-1 || share > remaining {
			share = remaining
		}
		shares[i] = share
		remaining -= share
	}
	return shares
}
