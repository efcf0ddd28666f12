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
	"sort"
	"strings"
	"unicode"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// SimilarityFunc compares a bank counterparty name with a customer name and
// returns a value in [0, 1]. Implementations must be deterministic.
type SimilarityFunc func(counterparty, customer string) float64

// legalSuffixes are dropped before names are compared.
var legalSuffixes = map[string]struct{}{
	"co": {}, "company": {}, "corp": {}, "corporation": {}, "inc": {}, "ltd": {}, "limited": {},
	"llc": {}, "plc": {}, "gmbh": {}, "ag": {}, "sa": {}, "bv": {}, "nv": {}, "srl": {}, "pty": {},
}

// normalizeName lowercases s, splits it on anything that is not a letter or digit
// and removes legal-form suffixes. If only suffixes remain they are kept.
func normalizeName(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := legalSuffixes[f]; ok {
			continue
		}
		tokens = append(tokens, f)
	}
	if len(tokens) == 0 {
		return fields
	}
	return tokens
}

func tokenSet(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// TokenSimilarity is the Jaccard overlap of the normalized token sets of a and b.
func TokenSimilarity(a, b string) float64 {
	ta, tb := tokenSet(normalizeName(a)), tokenSet(normalizeName(b))
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inB := make(map[string]struct{}, len(tb))
	for _, t := range tb {
		inB[t] = struct{}{}
	}
	shared := 0
	for _, t := range ta {
		if _, ok := inB[t]; ok {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}

// LevenshteinSimilarity is the edit-distance ratio of the normalized names.
func LevenshteinSimilarity(a, b string) float64 {
	na, nb := strings.Join(normalizeName(a), " "), strings.Join(normalizeName(b), " ")
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	return clamp01(levenshtein.RatioForStrings([]rune(na), []rune(nb), levenshtein.DefaultOptions))
}

// NameSimilarity is the default SimilarityFunc: the better of token overlap and
// edit-distance ratio, so both reordered and misspelled names score well.
func NameSimilarity(a, b string) float64 {
	t := TokenSimilarity(a, b)
	l := LevenshteinSimilarity(a, b)
	if t > l {
		return t
	}
	return l
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
