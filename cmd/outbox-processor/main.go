package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ledgerline/ledgerline/pkg/blobstore"
	"github.com/ledgerline/ledgerline/pkg/config"
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

	redis, err := redisclient.NewClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redis.Close()

	blobs, err := blobstore.New(context.Background(), &cfg.Blob)
	if err != nil {
		logger.Fatal("failed to initialize blob store", zap.Error(err))
	}

	var auditor outbox.Auditor
	if len(cfg.Kafka.Brokers) > 0 {
		writer := kafka.NewWriter(kafka.WriterConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.AuditTopic,
			Balancer: &kafka.LeastBytes{},
			Async:    false,
		})
		defer writer.Close()
		auditor = outbox.NewKafkaAuditor(writer, logger)
	}

	attachmentRepo := postgres.NewAttachmentRepository(db.DB())
	outboxRepo := postgres.NewOutboxRepository(db.DB())

	lease := outbox.NewRedisLease(redis.Client(), cfg.Outbox.LeaseKey, cfg.Outbox.LeaseTTL)
	processor := outbox.NewProcessor(outboxRepo, attachmentRepo, blobs, auditor, lease, logger, outbox.Config{
		BatchSize:    cfg.Outbox.BatchSize,
		MaxRetries:   cfg.Outbox.MaxRetries,
		OpTimeout:    cfg.Outbox.OpTimeout,
		PollInterval: cfg.Outbox.PollInterval,
	})

	reconciler := outbox.NewReconciler(attachmentRepo, outboxRepo, logger,
		cfg.Outbox.ReconcileInterval, cfg.Outbox.ReconcileStaleAfter, cfg.Outbox.BatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := processor.Run(ctx); err != nil && err != context.Canceled {
			logger.Fatal("outbox processor stopped with error", zap.Error(err))
		}
	}()

	go func() {
		if err := reconciler.Run(ctx); err != nil && err != context.Canceled {
			logger.Fatal("reconciler stopped with error", zap.Error(err))
		}
	}()

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("starting metrics endpoint", zap.Int("port", cfg.Server.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics endpoint error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("outbox processor shutting down")
	cancel()
	metricsServer.Close()
}
