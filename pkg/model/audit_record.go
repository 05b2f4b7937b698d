package model

import (
	"time"

	"github.com/google/uuid"
)

const AuditOutboxProcessingFailed = "outbox.processing.failed"

// AuditRecord is the durable trail left when an outbox event exhausts its
// retries and is force-finalized. It carries the original payload so an
// operator can replay the work by hand.
type AuditRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Action     string    `gorm:"type:varchar(100);not null;index"`
	EventID    uuid.UUID `gorm:"type:uuid;not null;index"`
	EventType  string    `gorm:"type:varchar(50);not null"`
	EntityType string    `gorm:"type:varchar(50);not null"`
	EntityID   uuid.UUID `gorm:"type:uuid;not null;index"`
	Payload    JSONB     `gorm:"type:jsonb"`
	Error      string    `gorm:"type:text"`
	RetryCount int       `gorm:"not null;default:0"`
	CreatedAt  time.Time `gorm:"autoCreateTime;not null;index"`
}

func (AuditRecord) TableName() string {
	return "audit_records"
}
