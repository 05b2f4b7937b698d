package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ledgerline/ledgerline/pkg/model"
	"github.com/ledgerline/ledgerline/pkg/store"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Append(ctx context.Context, event *model.OutboxEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *OutboxRepository) ListPending(ctx context.Context, limit, maxRetries int) ([]model.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []model.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("processed = ? AND retry_count < ?", false, maxRetries).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, eventID uuid.UUID) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed":    true,
		"processed_at": now,
		"error":        nil,
	}
	return r.db.WithContext(ctx).
		Model(&model.OutboxEvent{}).
		Where("id = ?", eventID).
		Updates(updates).Error
}

func (r *OutboxRepository) RecordFailure(ctx context.Context, eventID uuid.UUID, message string) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"error":       message,
		}).Error
}

// Escalate force-finalizes an event that has exhausted its retries and writes
// the audit record in the same transaction, so the dead-letter trail cannot be
// lost between the two writes.
func (r *OutboxRepository) Escalate(ctx context.Context, event *model.OutboxEvent, message string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&model.OutboxEvent{}).
			Where("id = ?", event.ID).
			Updates(map[string]interface{}{
				"processed":    true,
				"processed_at": now,
				"retry_count":  gorm.Expr("retry_count + 1"),
				"error":        message,
			}).Error
		if err != nil {
			return err
		}
		audit := &model.AuditRecord{
			Action:     model.AuditOutboxProcessingFailed,
			EventID:    event.ID,
			EventType:  event.EventType,
			EntityType: event.EntityType,
			EntityID:   event.EntityID,
			Payload:    event.Payload,
			Error:      message,
			RetryCount: event.RetryCount + 1,
		}
		return tx.Create(audit).Error
	})
}

func (r *OutboxRepository) Stats(ctx context.Context, maxRetries int) (store.OutboxStats, error) {
	var stats store.OutboxStats
	db := r.db.WithContext(ctx).Model(&model.OutboxEvent{})

	if err := db.Session(&gorm.Session{}).Count(&stats.Total).Error; err != nil {
		return stats, err
	}
	if err := db.Session(&gorm.Session{}).Where("processed = ?", false).Count(&stats.Unprocessed).Error; err != nil {
		return stats, err
	}
	if err := db.Session(&gorm.Session{}).Where("retry_count >= ?", maxRetries).Count(&stats.Failed).Error; err != nil {
		return stats, err
	}
	if err := db.Session(&gorm.Session{}).Where("processed = ?", true).Count(&stats.Processed).Error; err != nil {
		return stats, err
	}
	return stats, nil
}

func (r *OutboxRepository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("processed = ? AND processed_at < ?", true, cutoff).
		Delete(&model.OutboxEvent{})
	return result.RowsAffected, result.Error
}
