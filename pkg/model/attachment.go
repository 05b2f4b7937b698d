package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type AttachmentStatus string

const (
	AttachmentPendingUpload AttachmentStatus = "PENDING_UPLOAD"
	AttachmentActive        AttachmentStatus = "ACTIVE"
	AttachmentPendingDelete AttachmentStatus = "PENDING_DELETE"
	AttachmentDeleted       AttachmentStatus = "DELETED"
	AttachmentFailed        AttachmentStatus = "FAILED"
)

// Attachment is the relational record for one uploaded file. PreviewBytes is a
// locally durable copy served when the blob store copy is missing or degraded.
type Attachment struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;index"`
	OwnerType      string    `gorm:"type:varchar(50);not null;index:idx_attachments_owner"`
	OwnerID        uuid.UUID `gorm:"type:uuid;not null;index:idx_attachments_owner"`
	FileName       string    `gorm:"not null"`
	MimeType       string    `gorm:"not null"`
	SizeBytes      int64     `gorm:"not null"`
	PreviewBytes   []byte    `gorm:"type:bytea"`
	ExternalID     *string   `gorm:"index"`
	LastVerifiedAt *time.Time
	Status         AttachmentStatus `gorm:"type:varchar(50);default:'PENDING_UPLOAD';index"`
	Tags           pq.StringArray   `gorm:"type:text[]"`
	UploadedBy     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

var attachmentTransitions = map[AttachmentStatus][]AttachmentStatus{
	AttachmentPendingUpload: {AttachmentActive, AttachmentPendingDelete, AttachmentFailed},
	AttachmentActive:        {AttachmentPendingUpload, AttachmentPendingDelete, AttachmentFailed},
	AttachmentPendingDelete: {AttachmentDeleted},
	AttachmentDeleted:       {},
	AttachmentFailed:        {AttachmentPendingUpload, AttachmentPendingDelete},
}

// CanTransitionTo reports whether the status state machine permits moving to
// next. There is no path from PENDING_UPLOAD straight to DELETED: a failed
// upload stays PENDING_UPLOAD until repaired or explicitly delete-requested.
func (s AttachmentStatus) CanTransitionTo(next AttachmentStatus) bool {
	for _, allowed := range attachmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// HasDurableCopy reports whether at least one copy of the content survives:
// an external blob object or the preview bytes kept in the relational store.
// ACTIVE records must always satisfy this.
func (a *Attachment) HasDurableCopy() bool {
	return a.ExternalID != nil || len(a.PreviewBytes) > 0
}
