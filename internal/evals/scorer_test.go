package evals

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCharAccuracy_Identical(t *testing.T) {
	assert.Equal(t, 1.0, CharAccuracy("hello world", "hello world"))
}

func TestCharAccuracy_BothEmpty(t *testing.T) {
	assert.Equal(t, 1.0, CharAccuracy("", ""))
}

func TestCharAccuracy_OneEmpty(t *testing.T) {
	assert.Equal(t, 0.0, CharAccuracy("hello", ""))
	assert.Equal(t, 0.0, CharAccuracy("", "hello"))
}

func TestCharAccuracy_WhitespaceOnly(t *testing.T) {
	// Whitespace-only inputs normalize to empty and count as a perfect match.
	assert.Equal(t, 1.0, CharAccuracy("   ", "\t\n"))
}

func TestCharAccuracy_CaseInsensitive(t *testing.T) {
	assert.Equal(t, 1.0, CharAccuracy("Hello World", "hello world"))
	assert.Equal(t, 1.0, CharAccuracy("TO BE OR NOT TO BE", "to be or not to be"))
}

func TestCharAccuracy_CollapsesWhitespace(t *testing.T) {
	assert.Equal(t, 1.0, CharAccuracy("hello   world", "hello world"))
	assert.Equal(t, 1.0, CharAccuracy("hello\nworld", "hello world"))
	assert.Equal(t, 1.0, CharAccuracy("  hello\t\tworld  ", "hello world"))
}

func TestCharAccuracy_SingleInsertion(t *testing.T) {
	// One edit over max length 4.
	assert.InDelta(t, 0.75, CharAccuracy("abc", "abcd"), 1e-9)
}

func TestCharAccuracy_KnownDistance(t *testing.T) {
	// kitten -> sitting is the classic three-edit pair, max length 7.
	assert.InDelta(t, 1.0-3.0/7.0, CharAccuracy("kitten", "sitting"), 1e-9)
}

func TestCharAccuracy_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"the quick brown fox", "the quick brown dog"},
		{"short", "a much longer string entirely"},
		{"", "something"},
	}
	for _, p := range pairs {
		assert.Equal(t, CharAccuracy(p[0], p[1]), CharAccuracy(p[1], p[0]))
	}
}

func TestCharAccuracy_BoundedRange(t *testing.T) {
	pairs := [][2]string{
		{"abc", "xyz"},
		{"completely different", "nothing alike here at all"},
		{"aaaa", "bbbbbbbbbb"},
	}
	for _, p := range pairs {
		got := CharAccuracy(p[0], p[1])
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
	}
}

func TestCharAccuracy_Unicode(t *testing.T) {
	// Distance is computed over runes, not bytes.
	assert.InDelta(t, 0.8, CharAccuracy("héllo", "hello"), 1e-9)
}

func TestExactMatch_TrimsAndLowercases(t *testing.T) {
	assert.True(t, ExactMatch("Hello World", "hello world"))
	assert.True(t, ExactMatch("  hello  ", "hello"))
	assert.True(t, ExactMatch("", ""))
}

func TestExactMatch_InteriorWhitespaceSignificant(t *testing.T) {
	assert.False(t, ExactMatch("hello  world", "hello world"))
	assert.False(t, ExactMatch("hello\nworld", "hello world"))
}

func TestExactMatch_Different(t *testing.T) {
	assert.False(t, ExactMatch("hello", "goodbye"))
	assert.False(t, ExactMatch("hello", ""))
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"abc", "abcd", 1},
	}
	for _, tt := range tests {
		got := levenshtein([]rune(tt.a), []rune(tt.b))
		assert.Equal(t, tt.want, got, "levenshtein(%q, %q)", tt.a, tt.b)
	}
}

func TestNormalizeSpace(t *testing.T) {
	assert.Equal(t, "a b c", normalizeSpace("  a\t b \n c  "))
	assert.Equal(t, "", normalizeSpace("   "))
	assert.Equal(t, "one", normalizeSpace("one"))
}
