package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/ledgerline/pkg/model"
)

// ErrInvalidTransition is returned when a requested status change is not
// permitted by the attachment state machine.
var ErrInvalidTransition = errors.New("store: status transition not permitted")

// AttachmentStore persists attachment records. Mutations that owe
// external-system work accept the outbox event describing that work and must
// commit record and event in one transaction.
type AttachmentStore interface {
	// Create inserts the record and, when event is non-nil, appends it in the
	// same transaction.
	Create(ctx context.Context, attachment *model.Attachment, event *model.OutboxEvent) error

	GetByID(ctx context.Context, id uuid.UUID) (*model.Attachment, error)

	// MarkUploaded transitions to ACTIVE and stamps the external identifier.
	MarkUploaded(ctx context.Context, id uuid.UUID, externalID string, verifiedAt time.Time) error

	// MarkVerified stamps last_verified_at without touching status.
	MarkVerified(ctx context.Context, id uuid.UUID, verifiedAt time.Time) error

	// Demote moves an ACTIVE record back to PENDING_UPLOAD after drift is
	// detected. The external identifier is kept; repair overwrites it.
	Demote(ctx context.Context, id uuid.UUID) error

	// RequestDelete transitions to PENDING_DELETE and appends the DELETE_FILE
	// event in one transaction.
	RequestDelete(ctx context.Context, id uuid.UUID, event *model.OutboxEvent) error

	// MarkDeleted finalizes a PENDING_DELETE record. Already-deleted records
	// are a no-op so the delete handler stays idempotent.
	MarkDeleted(ctx context.Context, id uuid.UUID) error

	MarkFailed(ctx context.Context, id uuid.UUID) error

	// Reassociate repoints the owning business entity and appends the
	// verification event in one transaction.
	Reassociate(ctx context.Context, id uuid.UUID, ownerType string, ownerID uuid.UUID, event *model.OutboxEvent) error

	// ListForReconciliation returns records whose external presence has not
	// been confirmed since staleBefore: ACTIVE rows with an old (or absent)
	// verification stamp and PENDING_UPLOAD rows that have sat unrepaired.
	ListForReconciliation(ctx context.Context, staleBefore time.Time, limit int) ([]model.Attachment, error)
}
