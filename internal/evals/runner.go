// Package evals scores highlight extraction against labeled datasets. A run
// resolves every case to an extraction, either by calling the live vision
// extractor (online) or by replaying a result cache (offline), scores each
// extraction with character-level accuracy, and aggregates the outcomes into
// a report suitable for CI gating.
package evals

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/highlight-helper/highlight-helper/internal/extractor"
)

// RunnerConfig configures a single evaluation run.
type RunnerConfig struct {
	// DatasetPath locates the dataset file. Case image paths are resolved
	// relative to its directory.
	DatasetPath string

	// CachePath locates the result cache. Empty means cache.json next to
	// the dataset file.
	CachePath string

	// Offline replays cached extractions instead of calling the extractor.
	Offline bool

	// Extractor produces live extractions. Required for online runs.
	Extractor extractor.Extractor

	// Concurrency bounds parallel case execution. Values below 2 run cases
	// sequentially in dataset order.
	Concurrency int

	// OnProgress, if set, is called before each case is resolved.
	OnProgress func(index, total int, c *Case)

	// OnResult, if set, is called after each case is scored. With
	// Concurrency > 1 callbacks may interleave across cases.
	OnResult func(index, total int, r *Result)
}

// Runner executes evaluation cases and assembles a report.
type Runner struct {
	cfg RunnerConfig
}

// NewRunner returns a Runner for cfg, deriving the cache path from the
// dataset location when none is given.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.CachePath == "" {
		cfg.CachePath = filepath.Join(filepath.Dir(cfg.DatasetPath), "cache.json")
	}
	return &Runner{cfg: cfg}
}

// Mode returns the execution mode this runner was configured with.
func (r *Runner) Mode() Mode {
	if r.cfg.Offline {
		return ModeOffline
	}
	return ModeOnline
}

// Run executes every case in the dataset and returns the aggregated report.
// Individual case failures never abort the run; they are recorded as errored
// results. Dataset and cache I/O failures are fatal.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if !r.cfg.Offline && r.cfg.Extractor == nil {
		return nil, eris.New("online run requires an extractor")
	}

	ds, err := LoadDataset(r.cfg.DatasetPath)
	if err != nil {
		return nil, err
	}

	// Offline replays the saved cache; online starts empty so the file
	// ends up holding exactly this run's results.
	var cache *Cache
	if r.cfg.Offline {
		cache, err = OpenCache(r.cfg.CachePath)
		if err != nil {
			return nil, err
		}
	} else {
		cache = NewCache(r.cfg.CachePath)
	}

	baseDir := filepath.Dir(r.cfg.DatasetPath)
	total := len(ds.Cases)
	results := make([]Result, total)

	zap.L().Info("starting evaluation run",
		zap.String("dataset", r.cfg.DatasetPath),
		zap.String("mode", string(r.Mode())),
		zap.Int("cases", total),
	)

	if r.cfg.Concurrency > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Concurrency)
		for i := range ds.Cases {
			c := &ds.Cases[i]
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if r.cfg.OnProgress != nil {
					r.cfg.OnProgress(i, total, c)
				}
				results[i] = r.runCase(gctx, c, cache, baseDir)
				if r.cfg.OnResult != nil {
					r.cfg.OnResult(i, total, &results[i])
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, eris.Wrap(err, "evaluation run cancelled")
		}
	} else {
		for i := range ds.Cases {
			if err := ctx.Err(); err != nil {
				return nil, eris.Wrap(err, "evaluation run cancelled")
			}
			c := &ds.Cases[i]
			if r.cfg.OnProgress != nil {
				r.cfg.OnProgress(i, total, c)
			}
			results[i] = r.runCase(ctx, c, cache, baseDir)
			if r.cfg.OnResult != nil {
				r.cfg.OnResult(i, total, &results[i])
			}
		}
	}

	if !r.cfg.Offline {
		if err := cache.Save(); err != nil {
			return nil, err
		}
	}

	report := buildReport(r.Mode(), results)
	zap.L().Info("evaluation run complete",
		zap.Int("passed", report.PassedCases),
		zap.Int("failed", report.FailedCases),
		zap.Int("errors", report.ErrorCases),
		zap.Float64("pass_rate", report.PassRate()),
	)

	return report, nil
}

// runCase resolves and scores one case. Any resolution failure is converted
// into an errored result so a bad image or API hiccup cannot sink the batch.
func (r *Runner) runCase(ctx context.Context, c *Case, cache *Cache, baseDir string) Result {
	entry, err := r.resolve(ctx, c, cache, baseDir)
	if err != nil {
		zap.L().Warn("case resolution failed",
			zap.String("case_id", c.ID),
			zap.Error(err),
		)
		return Result{
			CaseID:             c.ID,
			ExpectedText:       c.ExpectedText,
			ActualText:         "",
			ExpectedPageNumber: c.ExpectedPageNumber,
			Confidence:         "low",
			ExactMatch:         false,
			CharAccuracy:       0.0,
			LatencyMS:          0.0,
			Error:              err.Error(),
		}
	}

	return Result{
		CaseID:             c.ID,
		ExpectedText:       c.ExpectedText,
		ActualText:         entry.Text,
		ExpectedPageNumber: c.ExpectedPageNumber,
		ActualPageNumber:   entry.PageNumber,
		Confidence:         entry.Confidence,
		ExactMatch:         ExactMatch(c.ExpectedText, entry.Text),
		CharAccuracy:       CharAccuracy(c.ExpectedText, entry.Text),
		LatencyMS:          entry.LatencyMS,
	}
}

// resolve obtains the actual extraction for a case. Offline reads the cache,
// treating a miss as an empty extraction. Online calls the extractor, times
// the call, and writes the fresh result back under the same key.
func (r *Runner) resolve(ctx context.Context, c *Case, cache *Cache, baseDir string) (CacheEntry, error) {
	key := cacheKey(c)

	if r.cfg.Offline {
		entry, ok := cache.Get(key)
		if !ok {
			return CacheEntry{Text: "", Confidence: "low", LatencyMS: 0.0}, nil
		}
		if entry.Confidence == "" {
			entry.Confidence = "medium"
		}
		return entry, nil
	}

	image, err := c.LoadImage(baseDir)
	if err != nil {
		return CacheEntry{}, eris.Wrapf(err, "load image for case %s", c.ID)
	}

	start := time.Now()
	ext, err := r.cfg.Extractor.Extract(ctx, image, filepath.Base(c.ImagePath), c.Instruction)
	latencyMS := time.Since(start).Seconds() * 1000
	if err != nil {
		return CacheEntry{}, eris.Wrapf(err, "extract case %s", c.ID)
	}

	entry := CacheEntry{
		Text:       ext.Text,
		PageNumber: ext.PageNumber,
		Confidence: ext.Confidence,
		LatencyMS:  latencyMS,
	}
	cache.Put(key, entry)

	return entry, nil
}

// buildReport aggregates scored results. Averages include errored cases,
// which contribute zero accuracy and zero latency.
func buildReport(mode Mode, results []Result) *Report {
	var passed, failed, errored int
	var sumAccuracy, sumLatency float64

	for i := range results {
		res := &results[i]
		switch {
		case res.Errored():
			errored++
		case res.Passed():
			passed++
		default:
			failed++
		}
		sumAccuracy += res.CharAccuracy
		sumLatency += res.LatencyMS
	}

	var avgAccuracy, avgLatency float64
	if len(results) > 0 {
		avgAccuracy = sumAccuracy / float64(len(results))
		avgLatency = sumLatency / float64(len(results))
	}

	return &Report{
		Timestamp:       time.Now(),
		Mode:            mode,
		TotalCases:      len(results),
		PassedCases:     passed,
		FailedCases:     failed,
		ErrorCases:      errored,
		AvgCharAccuracy: avgAccuracy,
		AvgLatencyMS:    avgLatency,
		Results:         results,
	}
}
