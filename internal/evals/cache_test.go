package evals

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutGet(t *testing.T) {
	c := NewCache(filepath.Join(t.TempDir(), "cache.json"))
	assert.Equal(t, 0, c.Len())

	page := "42"
	c.Put("case:instruction", CacheEntry{Text: "hello", PageNumber: &page, Confidence: "high", LatencyMS: 120})

	got, ok := c.Get("case:instruction")
	require.True(t, ok)
	assert.Equal(t, "hello", got.Text)
	require.NotNil(t, got.PageNumber)
	assert.Equal(t, "42", *got.PageNumber)
	assert.Equal(t, "high", got.Confidence)
	assert.Equal(t, 1, c.Len())

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_PutReplaces(t *testing.T) {
	c := NewCache(filepath.Join(t.TempDir(), "cache.json"))
	c.Put("k", CacheEntry{Text: "old"})
	c.Put("k", CacheEntry{Text: "new"})

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", got.Text)
	assert.Equal(t, 1, c.Len())
}

func TestOpenCache_MissingFile(t *testing.T) {
	c, err := OpenCache(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestOpenCache_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := OpenCache(path)
	assert.Error(t, err)
}

func TestCache_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	c := NewCache(path)
	page := "7"
	c.Put("a:first", CacheEntry{Text: "alpha", PageNumber: &page, Confidence: "high", LatencyMS: 50})
	c.Put("b:second", CacheEntry{Text: "beta", Confidence: "medium", LatencyMS: 75})
	require.NoError(t, c.Save())

	loaded, err := OpenCache(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len())

	a, ok := loaded.Get("a:first")
	require.True(t, ok)
	assert.Equal(t, "alpha", a.Text)
	require.NotNil(t, a.PageNumber)
	assert.Equal(t, "7", *a.PageNumber)
	assert.Equal(t, 50.0, a.LatencyMS)

	b, ok := loaded.Get("b:second")
	require.True(t, ok)
	assert.Equal(t, "beta", b.Text)
	assert.Nil(t, b.PageNumber)
}

func TestCache_SaveCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "cache.json")
	c := NewCache(path)
	c.Put("k", CacheEntry{Text: "v"})
	require.NoError(t, c.Save())

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestCacheKey(t *testing.T) {
	c := &Case{ID: "case_01", Instruction: "Extract the highlighted text"}
	assert.Equal(t, "case_01:Extract the highlighted text", cacheKey(c))
}
