package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/highlight-helper/highlight-helper/internal/evals"
	"github.com/highlight-helper/highlight-helper/internal/extractor"
)

var (
	evalDataset     string
	evalOffline     bool
	evalCache       string
	evalReportPath  string
	evalNoReport    bool
	evalVerbose     bool
	evalThreshold   float64
	evalConcurrency int
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Run highlight extraction evaluations",
	Long: `Score extraction quality against a labeled dataset.

Each case pairs a page image and an instruction with the expected text.
Online runs call the configured vision provider and refresh the result
cache; offline runs replay the cache with no API calls.

Examples:
  # Run evals online (calls the vision API)
  highlight-helper eval

  # Run evals offline using cached results
  highlight-helper eval --offline

  # Gate CI at a 90% pass rate
  highlight-helper eval --offline --threshold 90

  # Use a custom dataset
  highlight-helper eval --dataset ./my-dataset.json`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("eval"); err != nil {
			return err
		}

		dataset := evalDataset
		if dataset == "" {
			dataset = cfg.Evals.DatasetPath
		}
		reportPath := evalReportPath
		if reportPath == "" {
			reportPath = cfg.Evals.ReportPath
		}
		threshold := evalThreshold
		if threshold < 0 {
			threshold = cfg.Evals.Threshold
		}
		concurrency := evalConcurrency
		if concurrency == 0 {
			concurrency = cfg.Evals.Concurrency
		}

		if _, err := os.Stat(dataset); err != nil {
			return eris.Wrapf(err, "eval: dataset not found at %s", dataset)
		}

		runnerCfg := evals.RunnerConfig{
			DatasetPath: dataset,
			CachePath:   evalCache,
			Offline:     evalOffline,
			Concurrency: concurrency,
		}

		if !evalOffline {
			ext, err := extractor.New(cfg.Extractor)
			if err != nil {
				return err
			}
			runnerCfg.Extractor = ext
		}

		if evalVerbose {
			runnerCfg.OnProgress = func(i, total int, c *evals.Case) {
				fmt.Printf("Running case %d/%d: %s\n", i+1, total, c.ID)
			}
			runnerCfg.OnResult = func(i, total int, r *evals.Result) {
				status := "✗"
				if r.Passed() {
					status = "✓"
				}
				fmt.Printf("  %s accuracy=%.2f%%\n", status, r.CharAccuracy*100)
			}
		}

		runner := evals.NewRunner(runnerCfg)

		fmt.Printf("Running evaluations from %s\n", dataset)
		fmt.Printf("Mode: %s\n", runner.Mode())
		fmt.Println()

		report, err := runner.Run(ctx)
		if err != nil {
			return err
		}

		printEvalSummary(report)

		if !evalNoReport {
			if err := evals.RenderHTML(report, reportPath); err != nil {
				return err
			}
			fmt.Printf("\nHTML report: %s\n", reportPath)
		}

		if report.PassRate() >= threshold {
			fmt.Printf("\n✓ PASSED (pass rate >= %.1f%%)\n", threshold)
			return nil
		}
		fmt.Printf("\n✗ FAILED (pass rate < %.1f%%)\n", threshold)
		return eris.Errorf("eval: pass rate %.1f%% below threshold %.1f%%", report.PassRate(), threshold)
	},
}

func init() {
	f := evalCmd.Flags()
	f.StringVar(&evalDataset, "dataset", "", "path to the evaluation dataset file (default from config)")
	f.BoolVar(&evalOffline, "offline", false, "replay cached results instead of calling the extraction API")
	f.StringVar(&evalCache, "cache", "", "path to the result cache (default: cache.json next to the dataset)")
	f.StringVar(&evalReportPath, "report-path", "", "path to write the HTML report (default from config)")
	f.BoolVar(&evalNoReport, "no-report", false, "skip writing the HTML report")
	f.BoolVarP(&evalVerbose, "verbose", "v", false, "print per-case progress")
	f.Float64Var(&evalThreshold, "threshold", -1, "pass rate threshold percentage (default from config)")
	f.IntVar(&evalConcurrency, "concurrency", 0, "parallel case workers (default from config)")
	rootCmd.AddCommand(evalCmd)
}

func printEvalSummary(r *evals.Report) {
	fmt.Println()
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("EVALUATION SUMMARY")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Total cases:    %d\n", r.TotalCases)
	fmt.Printf("Passed:         %d\n", r.PassedCases)
	fmt.Printf("Failed:         %d\n", r.FailedCases)
	fmt.Printf("Errors:         %d\n", r.ErrorCases)
	fmt.Printf("Pass rate:      %.1f%%\n", r.PassRate())
	fmt.Printf("Avg accuracy:   %.1f%%\n", r.AvgCharAccuracy*100)
	fmt.Printf("Avg latency:    %.0fms\n", r.AvgLatencyMS)
	fmt.Println(strings.Repeat("=", 50))
}
