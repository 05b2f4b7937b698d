package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/ledgerline/pkg/blobstore"
	"github.com/ledgerline/ledgerline/pkg/model"
)

func (p *Processor) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.cfg.OpTimeout)
}

// handleUploadSuccess confirms that the uploaded object actually exists. If it
// does, the verification stamp is refreshed; if it is gone the record is
// demoted and a repair event takes over. The handler never loops on the check
// itself.
func (p *Processor) handleUploadSuccess(ctx context.Context, event *model.OutboxEvent) error {
	externalID := event.ExternalID()
	if externalID == "" {
		return fmt.Errorf("upload success event %s carries no external_id", event.ID)
	}

	opCtx, cancel := p.opCtx(ctx)
	exists, err := p.blobs.Exists(opCtx, externalID)
	cancel()
	if err != nil {
		return fmt.Errorf("check external object: %w", err)
	}

	if exists {
		return p.attachments.MarkVerified(ctx, event.EntityID, time.Now())
	}

	if err := p.attachments.Demote(ctx, event.EntityID); err != nil {
		return fmt.Errorf("demote attachment: %w", err)
	}
	repair := &model.OutboxEvent{
		ID:         uuid.New(),
		EventType:  model.EventRepairUpload,
		EntityType: model.EntityAttachment,
		EntityID:   event.EntityID,
		Payload:    model.JSONB{"external_id": externalID},
	}
	if err := p.events.Append(ctx, repair); err != nil {
		return fmt.Errorf("append repair event: %w", err)
	}

	p.logger.Warn("external copy missing, repair scheduled",
		zap.String("attachment_id", event.EntityID.String()),
		zap.String("external_id", externalID),
	)
	return nil
}

// handleVerifyUpload re-checks the record's persisted status and uploads the
// stored bytes if the external copy was never confirmed.
func (p *Processor) handleVerifyUpload(ctx context.Context, event *model.OutboxEvent) error {
	attachment, err := p.attachments.GetByID(ctx, event.EntityID)
	if err != nil {
		return fmt.Errorf("load attachment: %w", err)
	}

	switch attachment.Status {
	case model.AttachmentActive:
		if attachment.ExternalID != nil {
			return nil
		}
		// Active on preview bytes alone; restore the external copy.
		return p.reuploadFromRecord(ctx, attachment)
	case model.AttachmentPendingUpload:
		return p.reuploadFromRecord(ctx, attachment)
	default:
		// Deletion or a manual fail-out supersedes verification.
		return nil
	}
}

func (p *Processor) handleRepairUpload(ctx context.Context, event *model.OutboxEvent) error {
	attachment, err := p.attachments.GetByID(ctx, event.EntityID)
	if err != nil {
		return fmt.Errorf("load attachment: %w", err)
	}
	if attachment.Status != model.AttachmentPendingUpload {
		return nil
	}
	return p.reuploadFromRecord(ctx, attachment)
}

func (p *Processor) reuploadFromRecord(ctx context.Context, attachment *model.Attachment) error {
	if len(attachment.PreviewBytes) == 0 {
		return fmt.Errorf("attachment %s has no stored bytes to repair from", attachment.ID)
	}

	opCtx, cancel := p.opCtx(ctx)
	externalID, err := p.blobs.Upload(opCtx, attachment.PreviewBytes, blobstore.Metadata{
		AttachmentID:   attachment.ID,
		OrganizationID: attachment.OrganizationID,
		FileName:       attachment.FileName,
		MimeType:       attachment.MimeType,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("re-upload attachment %s: %w", attachment.ID, err)
	}

	return p.attachments.MarkUploaded(ctx, attachment.ID, externalID, time.Now())
}

// handleDeleteFile removes the external copy. "Already gone" is success, and
// the local record is finalized regardless of external availability.
func (p *Processor) handleDeleteFile(ctx context.Context, event *model.OutboxEvent) error {
	if externalID := event.ExternalID(); externalID != "" {
		opCtx, cancel := p.opCtx(ctx)
		err := p.blobs.Delete(opCtx, externalID)
		cancel()
		if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			return fmt.Errorf("delete external object: %w", err)
		}
	}
	return p.attachments.MarkDeleted(ctx, event.EntityID)
}
