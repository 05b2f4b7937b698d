package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/ledgerline/pkg/model"
	"github.com/ledgerline/ledgerline/pkg/store"
)

// Reconciler runs the scheduled full-scan: attachments whose external
// presence has not been confirmed recently get verification events appended,
// and the processor does the actual checking. Reconciliation logic stays in
// one place instead of leaking into write paths.
type Reconciler struct {
	attachments store.AttachmentStore
	events      store.EventStore
	logger      *zap.Logger
	interval    time.Duration
	staleAfter  time.Duration
	batchSize   int
}

func NewReconciler(attachments store.AttachmentStore, events store.EventStore, logger *zap.Logger, interval, staleAfter time.Duration, batchSize int) *Reconciler {
	if interval <= 0 {
		interval = time.Hour
	}
	if staleAfter <= 0 {
		staleAfter = 24 * time.Hour
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Reconciler{
		attachments: attachments,
		events:      events,
		logger:      logger,
		interval:    interval,
		staleAfter:  staleAfter,
		batchSize:   batchSize,
	}
}

func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("reconciler starting",
		zap.Duration("interval", r.interval),
		zap.Duration("stale_after", r.staleAfter),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler shutting down")
			return ctx.Err()
		case <-ticker.C:
			scheduled, err := r.ReconcileOnce(ctx)
			if err != nil {
				r.logger.Warn("reconciliation scan failed", zap.Error(err))
				continue
			}
			if scheduled > 0 {
				r.logger.Info("reconciliation events scheduled", zap.Int("count", scheduled))
			}
		}
	}
}

// ReconcileOnce scans one batch of stale records and appends a verification
// event per record: UPLOAD_SUCCESS where an external copy should exist (the
// handler checks presence and detects drift), VERIFY_UPLOAD where the upload
// was never confirmed.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	staleBefore := time.Now().Add(-r.staleAfter)

	attachments, err := r.attachments.ListForReconciliation(ctx, staleBefore, r.batchSize)
	if err != nil {
		return 0, err
	}

	scheduled := 0
	for i := range attachments {
		attachment := &attachments[i]

		event := &model.OutboxEvent{
			ID:         uuid.New(),
			EntityType: model.EntityAttachment,
			EntityID:   attachment.ID,
		}
		if attachment.Status == model.AttachmentActive && attachment.ExternalID != nil {
			event.EventType = model.EventUploadSuccess
			event.Payload = model.JSONB{"external_id": *attachment.ExternalID}
		} else {
			event.EventType = model.EventVerifyUpload
			event.Payload = model.JSONB{}
		}

		if err := r.events.Append(ctx, event); err != nil {
			return scheduled, err
		}
		scheduled++
	}

	return scheduled, nil
}
