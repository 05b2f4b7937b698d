package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ledgerline/ledgerline/pkg/model"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) List(ctx context.Context, entityID *uuid.UUID, since *time.Time, limit int) ([]model.AuditRecord, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC")

	if entityID != nil {
		query = query.Where("entity_id = ?", *entityID)
	}
	if since != nil {
		query = query.Where("created_at >= ?", *since)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []model.AuditRecord
	err := query.Find(&records).Error
	return records, err
}

func (r *AuditRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&model.AuditRecord{})
	return result.RowsAffected, result.Error
}
