package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerline/ledgerline/pkg/config"
	"github.com/ledgerline/ledgerline/pkg/store/postgres"
)

// One-shot retention sweep for processed outbox events and old audit records.
// Run from cron; independent of the processor.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -cfg.Outbox.RetentionDays)

	outboxRepo := postgres.NewOutboxRepository(db.DB())
	deletedEvents, err := outboxRepo.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		logger.Fatal("failed to purge outbox events", zap.Error(err))
	}

	auditRepo := postgres.NewAuditRepository(db.DB())
	deletedAudit, err := auditRepo.DeleteBefore(ctx, cutoff)
	if err != nil {
		logger.Fatal("failed to purge audit records", zap.Error(err))
	}

	logger.Info("cleanup complete",
		zap.Int64("deleted_events", deletedEvents),
		zap.Int64("deleted_audit_records", deletedAudit),
		zap.Time("cutoff", cutoff),
	)
}
