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
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/freightline/recon/config"
	"github.com/freightline/recon/model"
)

// ConfidenceScorer scores a bank transaction against one open item, or against a
// set of items of one customer. It holds no state besides its configuration and
// never reads the clock, so identical inputs always give identical scores.
type ConfidenceScorer struct {
	cfg        config.MatchingConfig
	similarity SimilarityFunc
}

// NewConfidenceScorer creates a scorer with the given weights and window. A nil
// similarity falls back to NameSimilarity.
func NewConfidenceScorer(cfg config.MatchingConfig, similarity SimilarityFunc) *ConfidenceScorer {
	if similarity == nil {
		similarity = NameSimilarity
	}
	return &ConfidenceScorer{cfg: cfg, similarity: similarity}
}

// Score rates how likely txn settles item.
//
// Parameters:
// - txn *model.BankTransaction: The bank transaction being matched.
// - item *model.OpenItem: The candidate invoice or receivable.
//
// Returns:
// - model.ScoreBreakdown: The component similarities, weights and the final score in [0, 100].
func (s *ConfidenceScorer) Score(txn *model.BankTransaction, item *model.OpenItem) model.ScoreBreakdown {
	if HasExactReference(txn, item) {
		return s.exact()
	}
	return s.weighted(txn, item.OutstandingAmount, item.DueDate, item.CustomerName)
}

// ScoreSplit rates a set of items of one customer as a whole: the outstanding
// amounts are summed, the earliest due date is used and the result is capped.
func (s *ConfidenceScorer) ScoreSplit(txn *model.BankTransaction, items []*model.OpenItem) model.ScoreBreakdown {
	if len(items) == 0 {
		return model.ScoreBreakdown{}
	}
	var total int64
	due := items[0].DueDate
	for _, item := range items {
		total += item.OutstandingAmount
		if item.DueDate.Before(due) {
			due = item.DueDate
		}
	}
	b := s.weighted(txn, total, due, items[0].CustomerName)
	if b.Score > s.cfg.SplitScoreCap {
		b.Score = s.cfg.SplitScoreCap
		b.Capped = true
	}
	return b
}

func (s *ConfidenceScorer) exact() model.ScoreBreakdown {
	return model.ScoreBreakdown{
		AmountSimilarity:       1,
		DateProximity:          1,
		CounterpartySimilarity: 1,
		AmountWeight:           s.cfg.AmountWeight,
		DateWeight:             s.cfg.DateWeight,
		CounterpartyWeight:     s.cfg.CounterpartyWeight,
		ExactReference:         true,
		Score:                  100,
	}
}

func (s *ConfidenceScorer) weighted(txn *model.BankTransaction, outstanding int64, due time.Time, customerName string) model.ScoreBreakdown {
	b := model.ScoreBreakdown{
		AmountSimilarity:       AmountSimilarity(model.AbsAmount(txn.Amount), outstanding),
		DateProximity:          DateProximity(txn.TransactionDate, due, s.cfg.DateWindowDays),
		CounterpartySimilarity: clamp01(s.similarity(txn.CounterpartyName, customerName)),
		AmountWeight:           s.cfg.AmountWeight,
		DateWeight:             s.cfg.DateWeight,
		CounterpartyWeight:     s.cfg.CounterpartyWeight,
	}
	raw := 100 * (b.AmountWeight*b.AmountSimilarity + b.DateWeight*b.DateProximity + b.CounterpartyWeight*b.CounterpartySimilarity)
	b.Score = roundScore(math.Min(100, math.Max(0, raw)))
	return b
}

// AmountSimilarity is 1 − |amount − outstanding| / max(outstanding, 1), clamped to [0, 1].
func AmountSimilarity(amount, outstanding int64) float64 {
	denominator := outstanding
	if denominator < 1 {
		denominator = 1
	}
	diff := amount - outstanding
	if diff < 0 {
		diff = -diff
	}
	return clamp01(1 - float64(diff)/float64(denominator))
}

// DateProximity is max(0, 1 − days/window) over whole calendar days.
func DateProximity(txnDate, dueDate time.Time, windowDays int) float64 {
	if windowDays <= 0 {
		return 0
	}
	return math.Max(0, 1-float64(DaysBetween(txnDate, dueDate))/float64(windowDays))
}

// DaysBetween counts calendar days between a and b, ignoring order and time of day.
func DaysBetween(a, b time.Time) int {
	days := int(model.TruncateDay(a).Sub(model.TruncateDay(b)).Hours() / 24)
	if days < 0 {
		return -days
	}
	return days
}

func roundScore(v float64) float64 {
	return math.Round(v*100) / 100
}

// HasExactReference reports whether any reference string of item appears in the
// description or counterparty fields of txn as a whole token, ignoring case.
func HasExactReference(txn *model.BankTransaction, item *model.OpenItem) bool {
	for _, ref := range item.ReferenceStrings {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		for _, text := range []string{txn.Description, txn.CounterpartyAccount, txn.CounterpartyName} {
			if containsToken(text, ref) {
				return true
			}
		}
	}
	return false
}

// containsToken finds needle in haystack, case-insensitively, where the match is
// not preceded or followed by a letter or digit.
func containsToken(haystack, needle string) bool {
	h := []rune(strings.ToLower(haystack))
	n := []rune(strings.ToLower(needle))
	if len(n) == 0 || len(n) > len(h) {
		return false
	}
	for i := 0; i+len(n) <= len(h); i++ {
		if !runesEqual(h[i:i+len(n)], n) {
			continue
		}
		if i > 0 && isWordRune(h[i-1]) {
			continue
		}
		if end := i + len(n); end < len(h) && isWordRune(h[end]) {
			continue
		}
		return true
	}
	return false
}

func runesEqual(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
