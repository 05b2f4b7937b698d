package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/ledgerline/pkg/blobstore"
	"github.com/ledgerline/ledgerline/pkg/metrics"
	"github.com/ledgerline/ledgerline/pkg/model"
	"github.com/ledgerline/ledgerline/pkg/store"
)

// ErrLeaseHeld reports that another processor instance is currently draining
// the outbox; the caller should skip this run.
var ErrLeaseHeld = errors.New("outbox: another processor holds the lease")

type Result struct {
	Processed int          `json:"processed"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Errors    []EventError `json:"errors"`
}

type EventError struct {
	EventID uuid.UUID `json:"event_id"`
	Error   string    `json:"error"`
}

type Config struct {
	BatchSize    int
	MaxRetries   int
	OpTimeout    time.Duration
	PollInterval time.Duration
}

type handlerFunc func(context.Context, *model.OutboxEvent) error

type dispatchKey struct {
	entityType string
	eventType  string
}

// Processor drains unprocessed outbox events oldest-first, dispatches by
// (entity type, event type) and applies the retry/escalation policy. It holds
// its own configuration; there is no process-wide state.
type Processor struct {
	events      store.EventStore
	attachments store.AttachmentStore
	blobs       blobstore.Store
	auditor     Auditor
	locker      Locker
	logger      *zap.Logger
	cfg         Config
	handlers    map[dispatchKey]handlerFunc
}

// NewProcessor wires a processor. auditor and locker may be nil: without a
// locker overlapping runs are not guarded against, without an auditor
// escalations still leave their durable audit row but no notification.
func NewProcessor(events store.EventStore, attachments store.AttachmentStore, blobs blobstore.Store, auditor Auditor, locker Locker, logger *zap.Logger, cfg Config) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}

	p := &Processor{
		events:      events,
		attachments: attachments,
		blobs:       blobs,
		auditor:     auditor,
		locker:      locker,
		logger:      logger,
		cfg:         cfg,
	}
	p.handlers = map[dispatchKey]handlerFunc{
		{model.EntityAttachment, model.EventUploadSuccess}: p.handleUploadSuccess,
		{model.EntityAttachment, model.EventVerifyUpload}:  p.handleVerifyUpload,
		{model.EntityAttachment, model.EventRepairUpload}:  p.handleRepairUpload,
		{model.EntityAttachment, model.EventDeleteFile}:    p.handleDeleteFile,
	}
	return p
}

// Run polls on the configured interval until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Info("outbox processor starting",
		zap.Duration("poll_interval", p.cfg.PollInterval),
		zap.Int("batch_size", p.cfg.BatchSize),
		zap.Int("max_retries", p.cfg.MaxRetries),
	)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox processor shutting down")
			return ctx.Err()
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *Processor) runOnce(ctx context.Context) {
	result, err := p.ProcessPendingEvents(ctx)
	if err != nil {
		if errors.Is(err, ErrLeaseHeld) {
			p.logger.Debug("skipping run, lease held elsewhere")
			return
		}
		p.logger.Warn("outbox run failed", zap.Error(err))
		return
	}
	if result.Processed > 0 || result.Failed > 0 || result.Skipped > 0 {
		p.logger.Info("outbox run complete",
			zap.Int("processed", result.Processed),
			zap.Int("failed", result.Failed),
			zap.Int("skipped", result.Skipped),
		)
	}
}

// ProcessPendingEvents drains one batch. Each event's outcome is committed
// independently, so a crash mid-batch leaves finished events final and the
// rest untouched; reruns are safe because handlers are idempotent.
func (p *Processor) ProcessPendingEvents(ctx context.Context) (Result, error) {
	var result Result

	if p.locker != nil {
		acquired, err := p.locker.Acquire(ctx)
		if err != nil {
			return result, fmt.Errorf("acquire outbox lease: %w", err)
		}
		if !acquired {
			return result, ErrLeaseHeld
		}
		defer func() {
			if err := p.locker.Release(context.Background()); err != nil {
				p.logger.Warn("failed to release outbox lease", zap.Error(err))
			}
		}()
	}

	start := time.Now()
	defer func() {
		metrics.OutboxBatchDuration.Observe(time.Since(start).Seconds())
	}()

	events, err := p.events.ListPending(ctx, p.cfg.BatchSize, p.cfg.MaxRetries)
	if err != nil {
		return result, fmt.Errorf("list pending events: %w", err)
	}

	for i := range events {
		// Shutdown stops new handler calls; in-flight work has already
		// committed its outcome.
		if ctx.Err() != nil {
			break
		}
		p.processEvent(ctx, &events[i], &result)
	}

	if stats, err := p.events.Stats(ctx, p.cfg.MaxRetries); err == nil {
		metrics.OutboxPendingEvents.Set(float64(stats.Unprocessed))
	}

	return result, nil
}

func (p *Processor) processEvent(ctx context.Context, event *model.OutboxEvent, result *Result) {
	handler, ok := p.handlers[dispatchKey{event.EntityType, event.EventType}]
	if !ok {
		// Not marked processed on purpose: a misconfigured producer shows up
		// as a growing unprocessed count instead of silent data loss.
		p.logger.Warn("skipping unsupported outbox event",
			zap.String("event_id", event.ID.String()),
			zap.String("entity_type", event.EntityType),
			zap.String("event_type", event.EventType),
		)
		metrics.OutboxEventsTotal.WithLabelValues(event.EventType, metrics.OutcomeSkipped).Inc()
		result.Skipped++
		return
	}

	if err := handler(ctx, event); err != nil {
		result.Failed++
		result.Errors = append(result.Errors, EventError{EventID: event.ID, Error: err.Error()})
		p.recordFailure(ctx, event, err)
		return
	}

	if err := p.events.MarkProcessed(ctx, event.ID); err != nil {
		p.logger.Error("failed to mark event processed",
			zap.Error(err),
			zap.String("event_id", event.ID.String()),
		)
		result.Failed++
		result.Errors = append(result.Errors, EventError{EventID: event.ID, Error: err.Error()})
		return
	}

	metrics.OutboxEventsTotal.WithLabelValues(event.EventType, metrics.OutcomeProcessed).Inc()
	result.Processed++
}

func (p *Processor) recordFailure(ctx context.Context, event *model.OutboxEvent, cause error) {
	attempts := event.RetryCount + 1
	if attempts < p.cfg.MaxRetries {
		if err := p.events.RecordFailure(ctx, event.ID, cause.Error()); err != nil {
			p.logger.Error("failed to record event failure",
				zap.Error(err),
				zap.String("event_id", event.ID.String()),
			)
			return
		}
		metrics.OutboxEventsTotal.WithLabelValues(event.EventType, metrics.OutcomeFailed).Inc()
		p.logger.Warn("outbox event failed, will retry",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", event.EventType),
			zap.Int("retry_count", attempts),
			zap.Error(cause),
		)
		return
	}

	// Retries exhausted: force-finalize so a permanently stuck event cannot
	// block the batch, and leave a durable trail for manual follow-up.
	if err := p.events.Escalate(ctx, event, cause.Error()); err != nil {
		p.logger.Error("failed to escalate outbox event",
			zap.Error(err),
			zap.String("event_id", event.ID.String()),
		)
		return
	}

	switch event.EventType {
	case model.EventVerifyUpload, model.EventRepairUpload:
		// Consistency could not be restored within retry limits.
		if err := p.attachments.MarkFailed(ctx, event.EntityID); err != nil {
			p.logger.Error("failed to mark attachment failed",
				zap.Error(err),
				zap.String("attachment_id", event.EntityID.String()),
			)
		}
	}

	if p.auditor != nil {
		p.auditor.ProcessingFailed(ctx, *event, cause.Error())
	}

	metrics.OutboxEventsTotal.WithLabelValues(event.EventType, metrics.OutcomeEscalated).Inc()
	p.logger.Error("outbox event escalated after exhausting retries",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType),
		zap.Int("retry_count", attempts),
		zap.Error(cause),
	)
}

// GetOutboxStats reports event log totals; Failed counts escalated events too.
func (p *Processor) GetOutboxStats(ctx context.Context) (store.OutboxStats, error) {
	return p.events.Stats(ctx, p.cfg.MaxRetries)
}

// CleanupOldEvents purges processed events older than olderThan and returns
// the number of rows removed. Independent of ProcessPendingEvents.
func (p *Processor) CleanupOldEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	return p.events.DeleteProcessedBefore(ctx, olderThan)
}
