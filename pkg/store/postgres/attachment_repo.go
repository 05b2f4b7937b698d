package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ledgerline/ledgerline/pkg/model"
	"github.com/ledgerline/ledgerline/pkg/store"
)

type AttachmentRepository struct {
	db *gorm.DB
}

func NewAttachmentRepository(db *gorm.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

func (r *AttachmentRepository) Create(ctx context.Context, attachment *model.Attachment, event *model.OutboxEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(attachment).Error; err != nil {
			return err
		}
		if event == nil {
			return nil
		}
		return tx.Create(event).Error
	})
}

func (r *AttachmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attachment, error) {
	var attachment model.Attachment
	err := r.db.WithContext(ctx).First(&attachment, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &attachment, nil
}

func (r *AttachmentRepository) MarkUploaded(ctx context.Context, id uuid.UUID, externalID string, verifiedAt time.Time) error {
	updates := map[string]interface{}{
		"status":           model.AttachmentActive,
		"external_id":      externalID,
		"last_verified_at": verifiedAt,
		"updated_at":       time.Now(),
	}
	return r.db.WithContext(ctx).
		Model(&model.Attachment{}).
		Where("id = ? AND status IN ?", id, []model.AttachmentStatus{
			model.AttachmentPendingUpload, model.AttachmentActive, model.AttachmentFailed,
		}).
		Updates(updates).Error
}

func (r *AttachmentRepository) MarkVerified(ctx context.Context, id uuid.UUID, verifiedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Attachment{}).
		Where("id = ?", id).
		Update("last_verified_at", verifiedAt).Error
}

func (r *AttachmentRepository) Demote(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&model.Attachment{}).
		Where("id = ? AND status = ?", id, model.AttachmentActive).
		Updates(map[string]interface{}{
			"status":     model.AttachmentPendingUpload,
			"updated_at": time.Now(),
		}).Error
}

func (r *AttachmentRepository) RequestDelete(ctx context.Context, id uuid.UUID, event *model.OutboxEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Attachment{}).
			Where("id = ? AND status IN ?", id, []model.AttachmentStatus{
				model.AttachmentPendingUpload, model.AttachmentActive, model.AttachmentFailed,
			}).
			Updates(map[string]interface{}{
				"status":     model.AttachmentPendingDelete,
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return store.ErrInvalidTransition
		}
		return tx.Create(event).Error
	})
}

func (r *AttachmentRepository) MarkDeleted(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&model.Attachment{}).
		Where("id = ? AND status = ?", id, model.AttachmentPendingDelete).
		Updates(map[string]interface{}{
			"status":     model.AttachmentDeleted,
			"updated_at": time.Now(),
		}).Error
}

func (r *AttachmentRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&model.Attachment{}).
		Where("id = ? AND status IN ?", id, []model.AttachmentStatus{
			model.AttachmentPendingUpload, model.AttachmentActive,
		}).
		Updates(map[string]interface{}{
			"status":     model.AttachmentFailed,
			"updated_at": time.Now(),
		}).Error
}

func (r *AttachmentRepository) Reassociate(ctx context.Context, id uuid.UUID, ownerType string, ownerID uuid.UUID, event *model.OutboxEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Attachment{}).
			Where("id = ? AND status <> ?", id, model.AttachmentDeleted).
			Updates(map[string]interface{}{
				"owner_type": ownerType,
				"owner_id":   ownerID,
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if event == nil {
			return nil
		}
		return tx.Create(event).Error
	})
}

func (r *AttachmentRepository) ListForReconciliation(ctx context.Context, staleBefore time.Time, limit int) ([]model.Attachment, error) {
	if limit <= 0 {
		limit = 100
	}
	var attachments []model.Attachment
	err := r.db.WithContext(ctx).
		Where("(status = ? AND (last_verified_at IS NULL OR last_verified_at < ?)) OR (status = ? AND updated_at < ?)",
			model.AttachmentActive, staleBefore,
			model.AttachmentPendingUpload, staleBefore,
		).
		Order("created_at ASC").
		Limit(limit).
		Find(&attachments).Error
	return attachments, err
}
