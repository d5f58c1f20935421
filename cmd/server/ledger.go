package main

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"tillpoint/internal/checkout"
	checkoutdb "tillpoint/internal/db/checkout"
)

// buildLedger wires the sale ledger from config. With no DSN, or when
// Postgres cannot be initialized, it falls back to the in-memory ledger so
// development setups still run. The returned cleanup closes the DB.
func buildLedger(ctx context.Context, dsn string, logger *zap.Logger) (checkout.SaleLedger, func()) {
	cleanup := func() {}

	if dsn == "" {
		logger.Info("no DATABASE_URL set, using in-memory ledger")
		return checkout.NewInMemoryLedger(), cleanup
	}

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		logger.Warn("postgres open failed, falling back to in-memory ledger", zap.Error(err))
		return checkout.NewInMemoryLedger(), cleanup
	}

	setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ledger, err := checkoutdb.NewPostgresLedgerWithSchema(setupCtx, sqlDB)
	if err != nil {
		logger.Warn("postgres init failed, falling back to in-memory ledger", zap.Error(err))
		_ = sqlDB.Close()
		return checkout.NewInMemoryLedger(), cleanup
	}

	logger.Info("postgres ledger enabled")
	cleanup = func() {
		if err := sqlDB.Close(); err != nil {
			logger.Error("close postgres", zap.Error(err))
		}
	}
	return ledger, cleanup
}
