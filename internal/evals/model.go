package evals

import (
	"os"
	"path/filepath"
	"time"
)

// Mode selects how extractions are produced during a run.
type Mode string

const (
	// ModeOnline calls the vision extractor for every case and refreshes the cache.
	ModeOnline Mode = "online"
	// ModeOffline replays previously cached extractions without any API calls.
	ModeOffline Mode = "offline"
)

const (
	// passAccuracy is the minimum character accuracy for a non-exact pass.
	passAccuracy = 0.9
	// successPassRate is the pass rate (percent) at which a run is considered successful.
	successPassRate = 80.0
)

// Case is a single evaluation test case.
type Case struct {
	ID                 string  `json:"id" yaml:"id"`
	ImagePath          string  `json:"image_path" yaml:"image_path"`
	Instruction        string  `json:"instruction" yaml:"instruction"`
	ExpectedText       string  `json:"expected_text" yaml:"expected_text"`
	ExpectedPageNumber *string `json:"expected_page_number,omitempty" yaml:"expected_page_number,omitempty"`
	Category           string  `json:"category,omitempty" yaml:"category,omitempty"`
	Description        string  `json:"description,omitempty" yaml:"description,omitempty"`
}

// LoadImage reads the case image from disk. Relative paths are resolved
// against baseDir, which is normally the directory holding the dataset file.
func (c *Case) LoadImage(baseDir string) ([]byte, error) {
	path := c.ImagePath
	if baseDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return os.ReadFile(path)
}

// Result is the scored outcome of running a single case.
type Result struct {
	CaseID             string  `json:"case_id"`
	ExpectedText       string  `json:"expected_text"`
	ActualText         string  `json:"actual_text"`
	ExpectedPageNumber *string `json:"expected_page_number,omitempty"`
	ActualPageNumber   *string `json:"actual_page_number,omitempty"`
	Confidence         string  `json:"confidence"`
	ExactMatch         bool    `json:"exact_match"`
	CharAccuracy       float64 `json:"char_accuracy"`
	LatencyMS          float64 `json:"latency_ms"`
	Error              string  `json:"error,omitempty"`
}

// Passed reports whether this result counts as a pass: an exact match, or
// character accuracy at or above 0.9.
func (r *Result) Passed() bool {
	return r.ExactMatch || r.CharAccuracy >= passAccuracy
}

// Errored reports whether the case failed to produce an extraction at all.
func (r *Result) Errored() bool {
	return r.Error != ""
}

// Report summarizes a full evaluation run.
type Report struct {
	Timestamp       time.Time `json:"timestamp"`
	Mode            Mode      `json:"mode"`
	TotalCases      int       `json:"total_cases"`
	PassedCases     int       `json:"passed_cases"`
	FailedCases     int       `json:"failed_cases"`
	ErrorCases      int       `json:"error_cases"`
	AvgCharAccuracy float64   `json:"avg_char_accuracy"`
	AvgLatencyMS    float64   `json:"avg_latency_ms"`
	Results         []Result  `json:"results"`
}

// PassRate returns the percentage of cases that passed.
func (r *Report) PassRate() float64 {
	if r.TotalCases == 0 {
		return 0.0
	}
	return float64(r.PassedCases) / float64(r.TotalCases) * 100
}

// Success reports whether the run cleared the 80% pass rate bar.
func (r *Report) Success() bool {
	return r.PassRate() >= successPassRate
}
