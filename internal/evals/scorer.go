package evals

import (
	"strings"
)

// CharAccuracy scores how closely actual matches expected as a value in
// [0, 1]. Both strings are whitespace-normalized (runs of whitespace collapse
// to single spaces) and lowercased before computing Levenshtein distance, so
// line wrapping and capitalization differences are not penalized. Two empty
// strings score 1.0; exactly one empty string scores 0.0.
func CharAccuracy(expected, actual string) float64 {
	if expected == "" && actual == "" {
		return 1.0
	}
	if expected == "" || actual == "" {
		return 0.0
	}

	expNorm := []rune(strings.ToLower(normalizeSpace(expected)))
	actNorm := []rune(strings.ToLower(normalizeSpace(actual)))

	maxLen := max(len(expNorm), len(actNorm))
	if maxLen == 0 {
		// Both inputs were whitespace-only.
		return 1.0
	}

	dist := levenshtein(expNorm, actNorm)
	return 1.0 - float64(dist)/float64(maxLen)
}

// ExactMatch reports whether expected and actual are equal after trimming
// surrounding whitespace and lowercasing. Interior whitespace must match.
func ExactMatch(expected, actual string) bool {
	return strings.ToLower(strings.TrimSpace(expected)) == strings.ToLower(strings.TrimSpace(actual))
}

// normalizeSpace collapses all whitespace runs to single spaces and trims
// the ends.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// levenshtein computes the edit distance between two rune slices using the
// two-row dynamic programming formulation. Memory is O(min(len a, len b)).
func levenshtein(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
