package evals

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/highlight-helper/highlight-helper/internal/extractor"
)

// fakeExtractor scripts extraction responses per image filename.
type fakeExtractor struct {
	mu               sync.Mutex
	calls            int
	responses        map[string]*extractor.Extraction
	errs             map[string]error
	lastInstructions string
	lastImage        []byte
}

func (f *fakeExtractor) Extract(ctx context.Context, image []byte, filename, instructions string) (*extractor.Extraction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastInstructions = instructions
	f.lastImage = image
	if err, ok := f.errs[filename]; ok {
		return nil, err
	}
	if resp, ok := f.responses[filename]; ok {
		return resp, nil
	}
	return &extractor.Extraction{Confidence: "low"}, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// writeEvalFixture writes a dataset plus a placeholder image per case into a
// temp dir, returning the dataset path. Image paths default to "<id>.png".
func writeEvalFixture(t *testing.T, cases []Case) string {
	t.Helper()
	dir := t.TempDir()
	for i := range cases {
		if cases[i].ImagePath == "" {
			cases[i].ImagePath = cases[i].ID + ".png"
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, cases[i].ImagePath), []byte("fake image bytes"), 0o644))
	}

	data, err := json.Marshal(Dataset{Version: "1.0", Cases: cases})
	require.NoError(t, err)
	path := filepath.Join(dir, "dataset.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func writeCacheFile(t *testing.T, path string, entries map[string]CacheEntry) {
	t.Helper()
	data, err := json.Marshal(entries)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestRunner_OfflineCacheHit(t *testing.T) {
	dsPath := writeEvalFixture(t, []Case{
		{ID: "c1", Instruction: "extract", ExpectedText: "hello world"},
		{ID: "c2", Instruction: "extract", ExpectedText: "second case"},
	})
	page := "12"
	writeCacheFile(t, filepath.Join(filepath.Dir(dsPath), "cache.json"), map[string]CacheEntry{
		"c1:extract": {Text: "hello world", PageNumber: &page, Confidence: "high", LatencyMS: 100},
		"c2:extract": {Text: "second case", Confidence: "high", LatencyMS: 200},
	})

	ext := &fakeExtractor{}
	runner := NewRunner(RunnerConfig{DatasetPath: dsPath, Offline: true, Extractor: ext})
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ModeOffline, report.Mode)
	assert.Equal(t, 2, report.TotalCases)
	assert.Equal(t, 2, report.PassedCases)
	assert.Equal(t, 0, report.FailedCases)
	assert.Equal(t, 0, report.ErrorCases)
	assert.InDelta(t, 100.0, report.PassRate(), 1e-9)
	assert.True(t, report.Success())
	assert.InDelta(t, 150.0, report.AvgLatencyMS, 1e-9)

	require.Len(t, report.Results, 2)
	assert.True(t, report.Results[0].ExactMatch)
	assert.Equal(t, 1.0, report.Results[0].CharAccuracy)
	require.NotNil(t, report.Results[0].ActualPageNumber)
	assert.Equal(t, "12", *report.Results[0].ActualPageNumber)

	// Offline replay never touches the extractor.
	assert.Equal(t, 0, ext.callCount())
}

func TestRunner_OfflineCacheMiss(t *testing.T) {
	dsPath := writeEvalFixture(t, []Case{
		{ID: "c1", Instruction: "extract", ExpectedText: "hello"},
	})

	runner := NewRunner(RunnerConfig{DatasetPath: dsPath, Offline: true})
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	// A miss is a failed case with an empty extraction, not an error.
	assert.Equal(t, 0, report.PassedCases)
	assert.Equal(t, 1, report.FailedCases)
	assert.Equal(t, 0, report.ErrorCases)

	res := report.Results[0]
	assert.Equal(t, "", res.ActualText)
	assert.Equal(t, "low", res.Confidence)
	assert.Equal(t, 0.0, res.CharAccuracy)
	assert.Empty(t, res.Error)
}

func TestRunner_OfflineDefaultsConfidence(t *testing.T) {
	dsPath := writeEvalFixture(t, []Case{
		{ID: "c1", Instruction: "extract", ExpectedText: "hello"},
	})
	writeCacheFile(t, filepath.Join(filepath.Dir(dsPath), "cache.json"), map[string]CacheEntry{
		"c1:extract": {Text: "hello", LatencyMS: 10},
	})

	runner := NewRunner(RunnerConfig{DatasetPath: dsPath, Offline: true})
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "medium", report.Results[0].Confidence)
}

func TestRunner_OnlineRequiresExtractor(t *testing.T) {
	runner := NewRunner(RunnerConfig{DatasetPath: "dataset.json"})
	_, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires an extractor")
}

func TestRunner_Online(t *testing.T) {
	dsPath := writeEvalFixture(t, []Case{
		{ID: "c1", Instruction: "get the quote", ExpectedText: "the quote text"},
	})

	page := "5"
	ext := &fakeExtractor{responses: map[string]*extractor.Extraction{
		"c1.png": {Text: "the quote text", Confidence: "high", PageNumber: &page},
	}}
	runner := NewRunner(RunnerConfig{DatasetPath: dsPath, Extractor: ext})
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ModeOnline, report.Mode)
	assert.Equal(t, 1, report.PassedCases)
	assert.Equal(t, 1, ext.callCount())
	assert.Equal(t, "get the quote", ext.lastInstructions)
	assert.Equal(t, []byte("fake image bytes"), ext.lastImage)
	assert.Greater(t, report.Results[0].LatencyMS, 0.0)

	// The fresh result lands in the cache file next to the dataset.
	cache, err := OpenCache(filepath.Join(filepath.Dir(dsPath), "cache.json"))
	require.NoError(t, err)
	entry, ok := cache.Get("c1:get the quote")
	require.True(t, ok)
	assert.Equal(t, "the quote text", entry.Text)
	require.NotNil(t, entry.PageNumber)
	assert.Equal(t, "5", *entry.PageNumber)
}

func TestRunner_OnlineReplacesStaleCache(t *testing.T) {
	dsPath := writeEvalFixture(t, []Case{
		{ID: "c1", Instruction: "extract", ExpectedText: "fresh"},
	})
	cachePath := filepath.Join(filepath.Dir(dsPath), "cache.json")
	writeCacheFile(t, cachePath, map[string]CacheEntry{
		"stale:extract": {Text: "old result"},
	})

	ext := &fakeExtractor{responses: map[string]*extractor.Extraction{
		"c1.png": {Text: "fresh", Confidence: "high"},
	}}
	runner := NewRunner(RunnerConfig{DatasetPath: dsPath, Extractor: ext})
	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	cache, err := OpenCache(cachePath)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())
	_, ok := cache.Get("stale:extract")
	assert.False(t, ok)
}

func TestRunner_OnlineErrorIsolation(t *testing.T) {
	dsPath := writeEvalFixture(t, []Case{
		{ID: "c1", Instruction: "extract", ExpectedText: "first"},
		{ID: "c2", Instruction: "extract", ExpectedText: "second"},
		{ID: "c3", Instruction: "extract", ExpectedText: "third"},
	})

	ext := &fakeExtractor{
		responses: map[string]*extractor.Extraction{
			"c1.png": {Text: "first", Confidence: "high"},
			"c3.png": {Text: "third", Confidence: "high"},
		},
		errs: map[string]error{"c2.png": eris.New("api unavailable")},
	}
	runner := NewRunner(RunnerConfig{DatasetPath: dsPath, Extractor: ext})
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalCases)
	assert.Equal(t, 2, report.PassedCases)
	assert.Equal(t, 0, report.FailedCases)
	assert.Equal(t, 1, report.ErrorCases)

	errored := report.Results[1]
	assert.True(t, errored.Errored())
	assert.Contains(t, errored.Error, "api unavailable")
	assert.Equal(t, "low", errored.Confidence)
	assert.Equal(t, 0.0, errored.CharAccuracy)

	// Errored cases drag the average down as zeros.
	assert.InDelta(t, 2.0/3.0, report.AvgCharAccuracy, 1e-9)
}

func TestRunner_OnlineMissingImage(t *testing.T) {
	dir := t.TempDir()
	data, err := json.Marshal(Dataset{Cases: []Case{
		{ID: "c1", ImagePath: "gone.png", Instruction: "extract", ExpectedText: "x"},
	}})
	require.NoError(t, err)
	dsPath := filepath.Join(dir, "dataset.json")
	require.NoError(t, os.WriteFile(dsPath, data, 0o644))

	runner := NewRunner(RunnerConfig{DatasetPath: dsPath, Extractor: &fakeExtractor{}})
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.ErrorCases)
	assert.Contains(t, report.Results[0].Error, "load image")
}

func TestRunner_ConcurrentPreservesOrder(t *testing.T) {
	cases := []Case{
		{ID: "c1", Instruction: "extract", ExpectedText: "one"},
		{ID: "c2", Instruction: "extract", ExpectedText: "two"},
		{ID: "c3", Instruction: "extract", ExpectedText: "three"},
		{ID: "c4", Instruction: "extract", ExpectedText: "four"},
		{ID: "c5", Instruction: "extract", ExpectedText: "five"},
	}
	dsPath := writeEvalFixture(t, cases)

	ext := &fakeExtractor{responses: map[string]*extractor.Extraction{
		"c1.png": {Text: "one", Confidence: "high"},
		"c2.png": {Text: "two", Confidence: "high"},
		"c3.png": {Text: "three", Confidence: "high"},
		"c4.png": {Text: "four", Confidence: "high"},
		"c5.png": {Text: "five", Confidence: "high"},
	}}
	runner := NewRunner(RunnerConfig{DatasetPath: dsPath, Extractor: ext, Concurrency: 3})
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 5)
	for i, c := range cases {
		assert.Equal(t, c.ID, report.Results[i].CaseID)
	}
	assert.Equal(t, 5, report.PassedCases)
	assert.Equal(t, 5, ext.callCount())
}

func TestRunner_Callbacks(t *testing.T) {
	dsPath := writeEvalFixture(t, []Case{
		{ID: "c1", Instruction: "extract", ExpectedText: "a"},
		{ID: "c2", Instruction: "extract", ExpectedText: "b"},
	})

	var progress, results int
	runner := NewRunner(RunnerConfig{
		DatasetPath: dsPath,
		Offline:     true,
		OnProgress: func(index, total int, c *Case) {
			progress++
			assert.Equal(t, 2, total)
		},
		OnResult: func(index, total int, r *Result) {
			results++
			assert.NotEmpty(t, r.CaseID)
		},
	})
	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, progress)
	assert.Equal(t, 2, results)
}

func TestRunner_Cancelled(t *testing.T) {
	dsPath := writeEvalFixture(t, []Case{
		{ID: "c1", Instruction: "extract", ExpectedText: "a"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewRunner(RunnerConfig{DatasetPath: dsPath, Offline: true})
	_, err := runner.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")
}

func TestRunner_Mode(t *testing.T) {
	assert.Equal(t, ModeOffline, NewRunner(RunnerConfig{Offline: true}).Mode())
	assert.Equal(t, ModeOnline, NewRunner(RunnerConfig{}).Mode())
}
