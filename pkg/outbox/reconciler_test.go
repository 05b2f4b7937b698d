package outbox

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerline/ledgerline/pkg/model"
)

func TestReconcileOnceSchedulesVerification(t *testing.T) {
	events := newFakeEventStore()
	attachments := newFakeAttachmentStore(events)

	old := time.Now().Add(-48 * time.Hour)

	// Active with an external copy but a stale verification stamp.
	active := pendingUploadAttachment([]byte("active"))
	externalID := "attachments/" + active.OrganizationID.String() + "/" + active.ID.String()
	active.Status = model.AttachmentActive
	active.ExternalID = &externalID
	active.LastVerifiedAt = &old
	attachments.add(active)

	// Stuck pending upload, never confirmed.
	stuck := pendingUploadAttachment([]byte("stuck"))
	stuck.UpdatedAt = old
	attachments.add(stuck)

	// Recently verified, must be left alone.
	fresh := pendingUploadAttachment([]byte("fresh"))
	now := time.Now()
	fresh.Status = model.AttachmentActive
	freshExternal := "attachments/" + fresh.OrganizationID.String() + "/" + fresh.ID.String()
	fresh.ExternalID = &freshExternal
	fresh.LastVerifiedAt = &now
	attachments.add(fresh)

	reconciler := NewReconciler(attachments, events, zap.NewNop(), time.Hour, 24*time.Hour, 100)

	scheduled, err := reconciler.ReconcileOnce(context.Background())
	if err != nil {
		t.Fatalf("ReconcileOnce() error: %v", err)
	}
	if scheduled != 2 {
		t.Fatalf("expected 2 scheduled events, got %d", scheduled)
	}

	checks := events.byType(model.EventUploadSuccess)
	if len(checks) != 1 {
		t.Fatalf("expected one presence check, got %d", len(checks))
	}
	if checks[0].EntityID != active.ID {
		t.Error("presence check must target the stale active record")
	}
	if checks[0].ExternalID() != externalID {
		t.Error("presence check must carry the external id")
	}

	verifies := events.byType(model.EventVerifyUpload)
	if len(verifies) != 1 {
		t.Fatalf("expected one verify event, got %d", len(verifies))
	}
	if verifies[0].EntityID != stuck.ID {
		t.Error("verify event must target the stuck pending record")
	}
}
