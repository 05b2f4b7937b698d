package fallback

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ledgerline/ledgerline/pkg/metrics"
	"github.com/ledgerline/ledgerline/pkg/model"
	"github.com/ledgerline/ledgerline/pkg/store"
)

// SourcePostgres tags responses served from the relational copy so the
// fallback-path usage rate can be tracked as a CDN-health proxy.
const SourcePostgres = "postgres"

// ErrUnavailable reports that no locally durable copy exists for the record.
var ErrUnavailable = errors.New("fallback: no servable copy")

type Content struct {
	Data     []byte
	MimeType string
	Source   string
}

// Reader serves attachment bytes from the relational store. It is invoked
// when the CDN copy is unconfirmed or CDN serving failed; it never touches
// the blob store.
type Reader struct {
	attachments store.AttachmentStore
	logger      *zap.Logger
}

func NewReader(attachments store.AttachmentStore, logger *zap.Logger) *Reader {
	return &Reader{attachments: attachments, logger: logger}
}

func (r *Reader) GetServableBytes(ctx context.Context, id uuid.UUID) (*Content, error) {
	attachment, err := r.attachments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Deleted records are excluded from every read path but kept for audit.
	if attachment.Status == model.AttachmentDeleted {
		return nil, gorm.ErrRecordNotFound
	}

	if len(attachment.PreviewBytes) == 0 {
		return nil, ErrUnavailable
	}

	metrics.FallbackServesTotal.WithLabelValues(SourcePostgres).Inc()
	r.logger.Debug("serving attachment from fallback",
		zap.String("attachment_id", attachment.ID.String()),
		zap.String("status", string(attachment.Status)),
	)

	return &Content{
		Data:     attachment.PreviewBytes,
		MimeType: attachment.MimeType,
		Source:   SourcePostgres,
	}, nil
}
