package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerline/ledgerline/pkg/apiserver"
	"github.com/ledgerline/ledgerline/pkg/attachment"
	"github.com/ledgerline/ledgerline/pkg/blobstore"
	"github.com/ledgerline/ledgerline/pkg/config"
	"github.com/ledgerline/ledgerline/pkg/fallback"
	"github.com/ledgerline/ledgerline/pkg/outbox"
	"github.com/ledgerline/ledgerline/pkg/store/postgres"
	redisclient "github.com/ledgerline/ledgerline/pkg/store/redis"
)

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

	if err := db.AutoMigrate(); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	redis, err := redisclient.NewClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redis.Close()

	blobs, err := blobstore.New(context.Background(), &cfg.Blob)
	if err != nil {
		logger.Fatal("failed to initialize blob store", zap.Error(err))
	}

	attachmentRepo := postgres.NewAttachmentRepository(db.DB())
	outboxRepo := postgres.NewOutboxRepository(db.DB())
	auditRepo := postgres.NewAuditRepository(db.DB())

	service := attachment.NewService(attachmentRepo, outboxRepo, blobs, logger, cfg.Outbox.OpTimeout, cfg.Attachment.PreviewMaxBytes)
	reader := fallback.NewReader(attachmentRepo, logger)

	lease := outbox.NewRedisLease(redis.Client(), cfg.Outbox.LeaseKey, cfg.Outbox.LeaseTTL)
	processor := outbox.NewProcessor(outboxRepo, attachmentRepo, blobs, nil, lease, logger, outbox.Config{
		BatchSize:  cfg.Outbox.BatchSize,
		MaxRetries: cfg.Outbox.MaxRetries,
		OpTimeout:  cfg.Outbox.OpTimeout,
	})

	server := apiserver.NewServer(service, reader, processor, auditRepo, cfg, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.ReadTimeout * 2,
	}

	go func() {
		logger.Info("starting API server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
}
