package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/highlight-helper/highlight-helper/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "highlight-helper",
	Short: "Book highlight collection and sync service",
	Long:  "Extracts highlighted passages from book page photos via vision models, stores them per book, syncs to Readwise, and scores extraction quality against labeled datasets.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
