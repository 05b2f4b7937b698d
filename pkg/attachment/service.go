package attachment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/ledgerline/pkg/blobstore"
	"github.com/ledgerline/ledgerline/pkg/model"
	"github.com/ledgerline/ledgerline/pkg/store"
)

// Service is the write path: every mutation persists the attachment record
// and the outbox event owing external work in one transaction, then lets the
// processor reconcile on its own schedule. Blob-store outcomes never roll the
// local write back.
type Service struct {
	attachments     store.AttachmentStore
	events          store.EventStore
	blobs           blobstore.Store
	logger          *zap.Logger
	opTimeout       time.Duration
	previewMaxBytes int64
}

func NewService(attachments store.AttachmentStore, events store.EventStore, blobs blobstore.Store, logger *zap.Logger, opTimeout time.Duration, previewMaxBytes int64) *Service {
	if opTimeout <= 0 {
		opTimeout = 10 * time.Second
	}
	if previewMaxBytes <= 0 {
		previewMaxBytes = 1 << 20
	}
	return &Service{
		attachments:     attachments,
		events:          events,
		blobs:           blobs,
		logger:          logger,
		opTimeout:       opTimeout,
		previewMaxBytes: previewMaxBytes,
	}
}

type UploadRequest struct {
	OrganizationID uuid.UUID
	OwnerType      string
	OwnerID        uuid.UUID
	FileName       string
	MimeType       string
	Data           []byte
	UploadedBy     string
	Tags           []string
}

// Upload persists the record as PENDING_UPLOAD together with a VERIFY_UPLOAD
// event, then attempts the external upload inline. Inline success promotes
// the record to ACTIVE and appends an UPLOAD_SUCCESS verification intent;
// inline failure leaves the record pending for the processor to repair.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*model.Attachment, error) {
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("attachment %q has no content", req.FileName)
	}

	attachment := &model.Attachment{
		ID:             uuid.New(),
		OrganizationID: req.OrganizationID,
		OwnerType:      req.OwnerType,
		OwnerID:        req.OwnerID,
		FileName:       req.FileName,
		MimeType:       req.MimeType,
		SizeBytes:      int64(len(req.Data)),
		Status:         model.AttachmentPendingUpload,
		UploadedBy:     req.UploadedBy,
		Tags:           req.Tags,
	}
	if int64(len(req.Data)) <= s.previewMaxBytes {
		attachment.PreviewBytes = req.Data
	}

	verify := &model.OutboxEvent{
		ID:         uuid.New(),
		EventType:  model.EventVerifyUpload,
		EntityType: model.EntityAttachment,
		EntityID:   attachment.ID,
		Payload:    model.JSONB{},
	}

	if err := s.attachments.Create(ctx, attachment, verify); err != nil {
		return nil, fmt.Errorf("create attachment: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	externalID, err := s.blobs.Upload(opCtx, req.Data, blobstore.Metadata{
		AttachmentID:   attachment.ID,
		OrganizationID: attachment.OrganizationID,
		FileName:       attachment.FileName,
		MimeType:       attachment.MimeType,
	})
	cancel()
	if err != nil {
		// The record and its verify event are already durable; the processor
		// picks the upload up from here.
		s.logger.Warn("inline upload failed, deferring to processor",
			zap.Error(err),
			zap.String("attachment_id", attachment.ID.String()),
		)
		return attachment, nil
	}

	now := time.Now()
	if err := s.attachments.MarkUploaded(ctx, attachment.ID, externalID, now); err != nil {
		return nil, fmt.Errorf("mark attachment uploaded: %w", err)
	}
	confirm := &model.OutboxEvent{
		ID:         uuid.New(),
		EventType:  model.EventUploadSuccess,
		EntityType: model.EntityAttachment,
		EntityID:   attachment.ID,
		Payload:    model.JSONB{"external_id": externalID},
	}
	if err := s.events.Append(ctx, confirm); err != nil {
		return nil, fmt.Errorf("append upload success event: %w", err)
	}

	attachment.Status = model.AttachmentActive
	attachment.ExternalID = &externalID
	attachment.LastVerifiedAt = &now
	return attachment, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Attachment, error) {
	return s.attachments.GetByID(ctx, id)
}

// RequestDelete transitions the record to PENDING_DELETE and appends the
// DELETE_FILE event in one transaction. External cleanup happens async.
func (s *Service) RequestDelete(ctx context.Context, id uuid.UUID) error {
	attachment, err := s.attachments.GetByID(ctx, id)
	if err != nil {
		return err
	}

	payload := model.JSONB{}
	if attachment.ExternalID != nil {
		payload["external_id"] = *attachment.ExternalID
	}
	event := &model.OutboxEvent{
		ID:         uuid.New(),
		EventType:  model.EventDeleteFile,
		EntityType: model.EntityAttachment,
		EntityID:   attachment.ID,
		Payload:    payload,
	}

	return s.attachments.RequestDelete(ctx, id, event)
}

// Reassociate repoints the attachment at a different owning entity and
// schedules a verification so drift introduced while the file was orphaned
// gets caught.
func (s *Service) Reassociate(ctx context.Context, id uuid.UUID, ownerType string, ownerID uuid.UUID) error {
	attachment, err := s.attachments.GetByID(ctx, id)
	if err != nil {
		return err
	}

	event := &model.OutboxEvent{
		ID:         uuid.New(),
		EntityType: model.EntityAttachment,
		EntityID:   attachment.ID,
	}
	if attachment.ExternalID != nil {
		event.EventType = model.EventUploadSuccess
		event.Payload = model.JSONB{"external_id": *attachment.ExternalID}
	} else {
		event.EventType = model.EventVerifyUpload
		event.Payload = model.JSONB{}
	}

	return s.attachments.Reassociate(ctx, id, ownerType, ownerID, event)
}
