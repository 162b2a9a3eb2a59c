package evals

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
)

// CacheEntry holds one cached extraction keyed by case id and instruction.
type CacheEntry struct {
	Text       string  `json:"text"`
	PageNumber *string `json:"page_number"`
	Confidence string  `json:"confidence"`
	LatencyMS  float64 `json:"latency_ms"`
}

// Cache stores extraction results between runs so offline evaluations can
// replay them without calling the vision API. Safe for concurrent use.
type Cache struct {
	path string

	mu      sync.RWMutex
	entries map[string]CacheEntry
}

// NewCache returns an empty cache that will save to path. Online runs start
// from an empty cache so the saved file reflects only the current run.
func NewCache(path string) *Cache {
	return &Cache{
		path:    path,
		entries: make(map[string]CacheEntry),
	}
}

// OpenCache loads the cache file at path. A missing file yields an empty
// cache; a file that exists but cannot be parsed is an error.
func OpenCache(path string) (*Cache, error) {
	c := &Cache{
		path:    path,
		entries: make(map[string]CacheEntry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, eris.Wrapf(err, "read cache %s", path)
	}

	if err := json.Unmarshal(data, &c.entries); err != nil {
		return nil, eris.Wrapf(err, "parse cache %s", path)
	}

	return c, nil
}

// Get returns the cached entry for key, if present.
func (c *Cache) Get(key string) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Put records an entry under key, replacing any previous value.
func (c *Cache) Put(key string, e CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Save writes the cache back to its file, creating parent directories as
// needed.
func (c *Cache) Save() error {
	c.mu.RLock()
	data, err := json.MarshalIndent(c.entries, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return eris.Wrap(err, "encode cache")
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "create cache dir %s", dir)
		}
	}

	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return eris.Wrapf(err, "write cache %s", c.path)
	}

	return nil
}

// cacheKey identifies an extraction by case id and instruction, so editing
// an instruction invalidates the cached result for that case.
func cacheKey(c *Case) string {
	return c.ID + ":" + c.Instruction
}
