package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/highlight-helper/highlight-helper/internal/resilience"
	"github.com/highlight-helper/highlight-helper/internal/store"
	"github.com/highlight-helper/highlight-helper/internal/syncer"
	"github.com/highlight-helper/highlight-helper/pkg/readwise"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "highlights.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initSyncer builds the Readwise syncer with the configured client settings
// and circuit breaker. Shared by the serve and sync commands.
func initSyncer(st store.Store) *syncer.Syncer {
	factory := func(token string) readwise.Client {
		return readwise.NewClient(token,
			readwise.WithBaseURL(cfg.Readwise.BaseURL),
			readwise.WithRateLimit(cfg.Readwise.RequestsPerMinute),
		)
	}

	cbCfg := resilience.FromCircuitConfig(cfg.Readwise.Circuit.FailureThreshold, cfg.Readwise.Circuit.ResetSeconds)
	cbCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("readwise circuit state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}

	return syncer.New(st, cfg.Readwise.Token, factory,
		syncer.WithBreaker(resilience.NewCircuitBreaker(cbCfg)))
}
