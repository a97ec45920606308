// Package fuzzy implements the approximate word matching used by catalog
// search: a word matches a keyword when their SequenceMatcher similarity
// ratio reaches a cutoff.
package fuzzy

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DefaultCutoff is the similarity threshold used when none is given.
const DefaultCutoff = 0.65

// Ratio returns the SequenceMatcher similarity of a and b in [0, 1]:
// 2*M/T where M is the number of matched runes and T the total length.
func Ratio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	m := difflib.NewMatcher(runes(a), runes(b))
	return m.Ratio()
}

// Similar reports whether word is close enough to keyword.
func Similar(word, keyword string, cutoff float64) bool {
	return Ratio(word, keyword) >= cutoff
}

// ContainsSimilar splits text on whitespace and reports whether any word
// is similar to keyword.
func ContainsSimilar(text, keyword string, cutoff float64) bool {
	for _, w := range strings.Fields(text) {
		if Similar(w, keyword, cutoff) {
			return true
		}
	}
	return false
}

// ScanColumns returns the names that contain a word similar to keyword,
// in input order.
func ScanColumns(names []string, keyword string, cutoff float64) []string {
	out := []string{}
	for _, n := range names {
		if ContainsSimilar(n, keyword, cutoff) {
			out = append(out, n)
		}
	}
	return out
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
