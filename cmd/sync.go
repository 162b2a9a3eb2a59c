package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/highlight-helper/highlight-helper/internal/syncer"
)

var syncBookID int64

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push pending highlights to Readwise",
	Long: `Push pending highlights to Readwise in batches.

By default every pending highlight across all books is pushed.
Use --book to restrict the sync to a single book.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("sync"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "sync: migrate")
		}

		s := initSyncer(st)

		configured, valid, err := s.ValidateToken(ctx)
		if err != nil {
			return err
		}
		if !configured {
			return eris.New("sync: readwise token not configured (set HIGHLIGHT_READWISE_TOKEN or save one through the settings API)")
		}
		if valid != nil && !*valid {
			return eris.New("sync: readwise rejected the configured token")
		}

		var summary *syncer.Summary
		if syncBookID > 0 {
			summary, err = s.SyncBook(ctx, syncBookID)
		} else {
			summary, err = s.SyncAll(ctx)
		}
		if err != nil {
			return eris.Wrap(err, "sync")
		}

		fmt.Printf("\n--- Sync Summary ---\n")
		fmt.Printf("Pending pushed: %d\n", summary.Total)
		fmt.Printf("Synced:         %d\n", summary.Synced)
		fmt.Printf("Failed:         %d\n", summary.Failed)
		fmt.Printf("Already synced: %d\n", summary.AlreadySynced)
		return nil
	},
}

func init() {
	syncCmd.Flags().Int64Var(&syncBookID, "book", 0, "sync a single book by ID")
	rootCmd.AddCommand(syncCmd)
}
