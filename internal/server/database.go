package server

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/scanflow/internal/common"
	repo "github.com/joseph-ayodele/scanflow/internal/repository"
)

// OpenStore connects the run store. It returns nil without error when no
// DSN is configured and inmem is false: persistence is then disabled.
func OpenStore(ctx context.Context, cfg common.DatabaseConfig, inmem bool, logger *slog.Logger) (*repo.DB, error) {
	dsn := cfg.DSN
	if inmem {
		dsn = repo.InMemoryDSN
	}
	if dsn == "" {
		logger.Info("DB_URL not set, run persistence disabled")
		return nil, nil
	}
	db, err := repo.Open(ctx, repo.Config{
		DSN:              dsn,
		MaxConns:         cfg.MaxConns,
		MinConns:         cfg.MinConns,
		MaxConnLifetime:  cfg.MaxConnLifetime,
		MaxConnIdleTime:  cfg.MaxConnIdleTime,
		DialTimeout:      cfg.DialTimeout,
		StatementTimeout: cfg.StatementTimeout,
	}, logger)
	if err != nil {
		return nil, common.StoreError("open run store", err)
	}
	return db, nil
}
