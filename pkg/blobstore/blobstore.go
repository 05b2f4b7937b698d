package blobstore

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound reports that the external object does not exist. Delete treats
// it as success since a retried partial delete is a legitimate state.
var ErrNotFound = errors.New("blobstore: object not found")

// Metadata identifies the logical file an upload belongs to. Object keys are
// derived from it deterministically so a retried upload overwrites the same
// object instead of creating duplicates.
type Metadata struct {
	AttachmentID   uuid.UUID
	OrganizationID uuid.UUID
	FileName       string
	MimeType       string
}

// Store is the boundary to the external blob/CDN provider. All three calls
// are safely retryable; callers bound them with a context timeout.
type Store interface {
	Upload(ctx context.Context, data []byte, meta Metadata) (string, error)
	Exists(ctx context.Context, externalID string) (bool, error)
	Delete(ctx context.Context, externalID string) error
}
