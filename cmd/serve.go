package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/highlight-helper/highlight-helper/internal/api"
	"github.com/highlight-helper/highlight-helper/internal/extractor"
	"github.com/highlight-helper/highlight-helper/pkg/googlebooks"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the highlight collection API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "serve: migrate")
		}

		// The API degrades gracefully without provider credentials: the
		// extraction endpoints answer 503 instead of blocking startup.
		ext, err := extractor.New(cfg.Extractor)
		if err != nil {
			zap.L().Warn("extraction endpoints disabled", zap.Error(err))
			ext = nil
		}

		var bookOpts []googlebooks.Option
		if cfg.Books.BaseURL != "" {
			bookOpts = append(bookOpts, googlebooks.WithBaseURL(cfg.Books.BaseURL))
		}

		server := api.New(api.Params{
			Store:            st,
			Extractor:        ext,
			Books:            googlebooks.NewClient(bookOpts...),
			Syncer:           initSyncer(st),
			AllowedOrigins:   cfg.Server.AllowedOrigins,
			LookupMaxResults: cfg.Books.MaxResults,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: server.Router(),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
