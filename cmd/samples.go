package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/highlight-helper/highlight-helper/internal/samples"
)

var samplesDir string

var samplesCmd = &cobra.Command{
	Use:   "samples",
	Short: "Regenerate the bundled evaluation fixtures",
	Long: `Render the synthetic page images and rewrite dataset.json and
cache.json so that an offline eval run passes out of the box.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := samples.Generate(samplesDir)
		if err != nil {
			return err
		}

		fmt.Printf("Generated %d cases in %s\n", len(ds.Cases), samplesDir)
		return nil
	},
}

func init() {
	samplesCmd.Flags().StringVar(&samplesDir, "dir", "evals/samples", "directory to write images, dataset.json, and cache.json")
	rootCmd.AddCommand(samplesCmd)
}
