package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ledgerline/ledgerline/pkg/blobstore"
	"github.com/ledgerline/ledgerline/pkg/model"
	"github.com/ledgerline/ledgerline/pkg/store"
)

type fakeEventStore struct {
	mu                  sync.Mutex
	events              map[uuid.UUID]*model.OutboxEvent
	audits              []model.AuditRecord
	failMarkProcessedOn map[uuid.UUID]bool
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{
		events:              make(map[uuid.UUID]*model.OutboxEvent),
		failMarkProcessedOn: make(map[uuid.UUID]bool),
	}
}

func (s *fakeEventStore) Append(_ context.Context, event *model.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	copied := *event
	s.events[event.ID] = &copied
	return nil
}

func (s *fakeEventStore) ListPending(_ context.Context, limit, maxRetries int) ([]model.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []model.OutboxEvent
	for _, event := range s.events {
		if !event.Processed && event.RetryCount < maxRetries {
			pending = append(pending, *event)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *fakeEventStore) MarkProcessed(_ context.Context, eventID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMarkProcessedOn[eventID] {
		delete(s.failMarkProcessedOn, eventID)
		return fmt.Errorf("injected commit failure")
	}
	event, ok := s.events[eventID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	event.Processed = true
	event.ProcessedAt = &now
	event.Error = nil
	return nil
}

func (s *fakeEventStore) RecordFailure(_ context.Context, eventID uuid.UUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	event.RetryCount++
	event.Error = &message
	return nil
}

func (s *fakeEventStore) Escalate(_ context.Context, event *model.OutboxEvent, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.events[event.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	stored.RetryCount++
	stored.Processed = true
	stored.ProcessedAt = &now
	stored.Error = &message
	s.audits = append(s.audits, model.AuditRecord{
		ID:         uuid.New(),
		Action:     model.AuditOutboxProcessingFailed,
		EventID:    event.ID,
		EventType:  event.EventType,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Payload:    event.Payload,
		Error:      message,
		RetryCount: stored.RetryCount,
	})
	return nil
}

func (s *fakeEventStore) Stats(_ context.Context, maxRetries int) (store.OutboxStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats store.OutboxStats
	for _, event := range s.events {
		stats.Total++
		if event.Processed {
			stats.Processed++
		} else {
			stats.Unprocessed++
		}
		if event.RetryCount >= maxRetries {
			stats.Failed++
		}
	}
	return stats, nil
}

func (s *fakeEventStore) DeleteProcessedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, event := range s.events {
		if event.Processed && event.ProcessedAt != nil && event.ProcessedAt.Before(cutoff) {
			delete(s.events, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *fakeEventStore) get(id uuid.UUID) model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.events[id]
}

func (s *fakeEventStore) byType(eventType string) []model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []model.OutboxEvent
	for _, event := range s.events {
		if event.EventType == eventType {
			matched = append(matched, *event)
		}
	}
	return matched
}

type fakeAttachmentStore struct {
	mu          sync.Mutex
	attachments map[uuid.UUID]*model.Attachment
	events      *fakeEventStore
}

func newFakeAttachmentStore(events *fakeEventStore) *fakeAttachmentStore {
	return &fakeAttachmentStore{
		attachments: make(map[uuid.UUID]*model.Attachment),
		events:      events,
	}
}

func (s *fakeAttachmentStore) add(attachment *model.Attachment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *attachment
	s.attachments[attachment.ID] = &copied
}

func (s *fakeAttachmentStore) get(id uuid.UUID) model.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.attachments[id]
}

func (s *fakeAttachmentStore) Create(ctx context.Context, attachment *model.Attachment, event *model.OutboxEvent) error {
	s.add(attachment)
	if event != nil {
		return s.events.Append(ctx, event)
	}
	return nil
}

func (s *fakeAttachmentStore) GetByID(_ context.Context, id uuid.UUID) (*model.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attachment, ok := s.attachments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *attachment
	return &copied, nil
}

func (s *fakeAttachmentStore) MarkUploaded(_ context.Context, id uuid.UUID, externalID string, verifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attachment, ok := s.attachments[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	attachment.Status = model.AttachmentActive
	attachment.ExternalID = &externalID
	attachment.LastVerifiedAt = &verifiedAt
	return nil
}

func (s *fakeAttachmentStore) MarkVerified(_ context.Context, id uuid.UUID, verifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attachment, ok := s.attachments[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	attachment.LastVerifiedAt = &verifiedAt
	return nil
}

func (s *fakeAttachmentStore) Demote(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attachment, ok := s.attachments[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if attachment.Status == model.AttachmentActive {
		attachment.Status = model.AttachmentPendingUpload
	}
	return nil
}

func (s *fakeAttachmentStore) RequestDelete(ctx context.Context, id uuid.UUID, event *model.OutboxEvent) error {
	s.mu.Lock()
	attachment, ok := s.attachments[id]
	if !ok {
		s.mu.Unlock()
		return gorm.ErrRecordNotFound
	}
	if !attachment.Status.CanTransitionTo(model.AttachmentPendingDelete) {
		s.mu.Unlock()
		return store.ErrInvalidTransition
	}
	attachment.Status = model.AttachmentPendingDelete
	s.mu.Unlock()
	return s.events.Append(ctx, event)
}

func (s *fakeAttachmentStore) MarkDeleted(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attachment, ok := s.attachments[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if attachment.Status == model.AttachmentPendingDelete {
		attachment.Status = model.AttachmentDeleted
	}
	return nil
}

func (s *fakeAttachmentStore) MarkFailed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attachment, ok := s.attachments[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if attachment.Status == model.AttachmentPendingUpload || attachment.Status == model.AttachmentActive {
		attachment.Status = model.AttachmentFailed
	}
	return nil
}

func (s *fakeAttachmentStore) Reassociate(ctx context.Context, id uuid.UUID, ownerType string, ownerID uuid.UUID, event *model.OutboxEvent) error {
	s.mu.Lock()
	attachment, ok := s.attachments[id]
	if !ok {
		s.mu.Unlock()
		return gorm.ErrRecordNotFound
	}
	attachment.OwnerType = ownerType
	attachment.OwnerID = ownerID
	s.mu.Unlock()
	if event != nil {
		return s.events.Append(ctx, event)
	}
	return nil
}

func (s *fakeAttachmentStore) ListForReconciliation(_ context.Context, staleBefore time.Time, limit int) ([]model.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []model.Attachment
	for _, attachment := range s.attachments {
		switch attachment.Status {
		case model.AttachmentActive:
			if attachment.LastVerifiedAt == nil || attachment.LastVerifiedAt.Before(staleBefore) {
				stale = append(stale, *attachment)
			}
		case model.AttachmentPendingUpload:
			if attachment.UpdatedAt.Before(staleBefore) {
				stale = append(stale, *attachment)
			}
		}
		if len(stale) >= limit {
			break
		}
	}
	return stale, nil
}

type recordingAuditor struct {
	mu       sync.Mutex
	failures []model.OutboxEvent
}

func (a *recordingAuditor) ProcessingFailed(_ context.Context, event model.OutboxEvent, _ string) {
	a.mu.Lock()
	a.failures = append(a.failures, event)
	a.mu.Unlock()
}

type fakeLocker struct {
	mu   sync.Mutex
	held bool
}

func (l *fakeLocker) Acquire(_ context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLocker) Release(_ context.Context) error {
	l.mu.Lock()
	l.held = false
	l.mu.Unlock()
	return nil
}

func testProcessor(events *fakeEventStore, attachments *fakeAttachmentStore, blobs blobstore.Store, auditor Auditor) *Processor {
	return NewProcessor(events, attachments, blobs, auditor, nil, zap.NewNop(), Config{
		BatchSize:  50,
		MaxRetries: 3,
		OpTimeout:  time.Second,
	})
}

func pendingUploadAttachment(data []byte) *model.Attachment {
	return &model.Attachment{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		OwnerType:      "Invoice",
		OwnerID:        uuid.New(),
		FileName:       "receipt.pdf",
		MimeType:       "application/pdf",
		SizeBytes:      int64(len(data)),
		PreviewBytes:   data,
		Status:         model.AttachmentPendingUpload,
	}
}

func TestVerifyUploadPromotesPendingRecord(t *testing.T) {
	events := newFakeEventStore()
	attachments := newFakeAttachmentStore(events)
	blobs := blobstore.NewMemoryStore()

	attachment := pendingUploadAttachment([]byte("invoice data"))
	attachments.add(attachment)

	event := &model.OutboxEvent{
		ID:         uuid.New(),
		EventType:  model.EventVerifyUpload,
		EntityType: model.EntityAttachment,
		EntityID:   attachment.ID,
		Payload:    model.JSONB{},
	}
	if err := events.Append(context.Background(), event); err != nil {
		t.Fatalf("append event: %v", err)
	}

	processor := testProcessor(events, attachments, blobs, nil)
	result, err := processor.ProcessPendingEvents(context.Background())
	if err != nil {
		t.Fatalf("ProcessPendingEvents() error: %v", err)
	}

	if result.Processed != 1 || result.Failed != 0 {
		t.Fatalf("expected 1 processed, 0 failed, got %+v", result)
	}

	updated := attachments.get(attachment.ID)
	if updated.Status != model.AttachmentActive {
		t.Fatalf("expected status ACTIVE, got %s", updated.Status)
	}
	if updated.ExternalID == nil {
		t.Fatal("expected external_id to be set")
	}
	exists, err := blobs.Exists(context.Background(), *updated.ExternalID)
	if err != nil || !exists {
		t.Fatalf("expected uploaded object to exist, exists=%v err=%v", exists, err)
	}

	stored := events.get(event.ID)
	if !stored.Processed || stored.ProcessedAt == nil {
		t.Fatalf("expected event processed, got %+v", stored)
	}
}

func TestUploadSuccessDriftSchedulesRepair(t *testing.T) {
	events := newFakeEventStore()
	attachments := newFakeAttachmentStore(events)
	blobs := blobstore.NewMemoryStore()

	attachment := pendingUploadAttachment([]byte("contract"))
	externalID := "attachments/" + attachment.OrganizationID.String() + "/" + attachment.ID.String()
	attachment.Status = model.AttachmentActive
	attachment.ExternalID = &externalID
	attachments.add(attachment)

	// External copy was never written (or vanished): drift.
	event := &model.OutboxEvent{
		ID:         uuid.New(),
		EventType:  model.EventUploadSuccess,
		EntityType: model.EntityAttachment,
		EntityID:   attachment.ID,
		Payload:    model.JSONB{"external_id": externalID},
	}
	if err := events.Append(context.Background(), event); err != nil {
		t.Fatalf("append event: %v", err)
	}

	processor := testProcessor(events, attachments, blobs, nil)
	if _, err := processor.ProcessPendingEvents(context.Background()); err != nil {
		t.Fatalf("first run error: %v", err)
	}

	stored := events.get(event.ID)
	if !stored.Processed {
		t.Fatal("expected original event to be marked processed")
	}

	demoted := attachments.get(attachment.ID)
	if demoted.Status != model.AttachmentPendingUpload {
		t.Fatalf("expected demotion to PENDING_UPLOAD, got %s", demoted.Status)
	}

	repairs := events.byType(model.EventRepairUpload)
	if len(repairs) != 1 {
		t.Fatalf("expected exactly one repair event, got %d", len(repairs))
	}

	// The repair event self-heals on the next run.
	if _, err := processor.ProcessPendingEvents(context.Background()); err != nil {
		t.Fatalf("second run error: %v", err)
	}

	repaired := attachments.get(attachment.ID)
	if repaired.Status != model.AttachmentActive {
		t.Fatalf("expected repair to restore ACTIVE, got %s", repaired.Status)
	}
	exists, _ := blobs.Exists(context.Background(), *repaired.ExternalID)
	if !exists {
		t.Fatal("expected repaired object in blob store")
	}
}

func TestEscalationAfterMaxRetries(t *testing.T) {
	events := newFakeEventStore()
	attachments := newFakeAttachmentStore(events)
	blobs := blobstore.NewMemoryStore()
	auditor := &recordingAuditor{}

	// No preview bytes: every repair attempt fails.
	attachment := pendingUploadAttachment(nil)
	attachments.add(attachment)

	event := &model.OutboxEvent{
		ID:         uuid.New(),
		EventType:  model.EventVerifyUpload,
		EntityType: model.EntityAttachment,
		EntityID:   attachment.ID,
		Payload:    model.JSONB{},
	}
	if err := events.Append(context.Background(), event); err != nil {
		t.Fatalf("append event: %v", err)
	}

	processor := testProcessor(events, attachments, blobs, auditor)

	for run := 1; run <= 3; run++ {
		result, err := processor.ProcessPendingEvents(context.Background())
		if err != nil {
			t.Fatalf("run %d error: %v", run, err)
		}
		if result.Failed != 1 {
			t.Fatalf("run %d: expected 1 failed, got %+v", run, result)
		}
	}

	stored := events.get(event.ID)
	if !stored.Processed {
		t.Fatal("expected escalated event to be force-finalized")
	}
	if stored.RetryCount != 3 {
		t.Fatalf("expected retry_count 3, got %d", stored.RetryCount)
	}
	if stored.Error == nil {
		t.Fatal("expected error message recorded")
	}

	if len(events.audits) != 1 {
		t.Fatalf("expected exactly one audit record, got %d", len(events.audits))
	}
	if events.audits[0].Action != model.AuditOutboxProcessingFailed {
		t.Fatalf("unexpected audit action %q", events.audits[0].Action)
	}
	if len(auditor.failures) != 1 {
		t.Fatalf("expected one auditor notification, got %d", len(auditor.failures))
	}

	failed := attachments.get(attachment.ID)
	if failed.Status != model.AttachmentFailed {
		t.Fatalf("expected attachment FAILED after escalation, got %s", failed.Status)
	}

	// A fourth run finds nothing to do: escalation is terminal.
	result, err := processor.ProcessPendingEvents(context.Background())
	if err != nil {
		t.Fatalf("final run error: %v", err)
	}
	if result.Processed != 0 || result.Failed != 0 {
		t.Fatalf("expected empty final run, got %+v", result)
	}
}

func TestDeleteFileTreatsMissingObjectAsSuccess(t *testing.T) {
	events := newFakeEventStore()
	attachments := newFakeAttachmentStore(events)
	blobs := blobstore.NewMemoryStore()

	attachment := pendingUploadAttachment([]byte("old report"))
	externalID := "attachments/" + attachment.OrganizationID.String() + "/" + attachment.ID.String()
	attachment.Status = model.AttachmentPendingDelete
	attachment.ExternalID = &externalID
	attachments.add(attachment)

	// The object is already gone; a prior partial delete is a legitimate
	// retried state.
	event := &model.OutboxEvent{
		ID:         uuid.New(),
		EventType:  model.EventDeleteFile,
		EntityType: model.EntityAttachment,
		EntityID:   attachment.ID,
		Payload:    model.JSONB{"external_id": externalID},
	}
	if err := events.Append(context.Background(), event); err != nil {
		t.Fatalf("append event: %v", err)
	}

	processor := testProcessor(events, attachments, blobs, nil)
	result, err := processor.ProcessPendingEvents(context.Background())
	if err != nil {
		t.Fatalf("ProcessPendingEvents() error: %v", err)
	}
	if result.Processed != 1 || result.Failed != 0 {
		t.Fatalf("expected clean success, got %+v", result)
	}

	stored := events.get(event.ID)
	if !stored.Processed {
		t.Fatal("expected event processed")
	}
	if stored.RetryCount != 0 {
		t.Fatalf("expected retry_count 0, got %d", stored.RetryCount)
	}
	if stored.Error != nil {
		t.Fatalf("expected no error recorded, got %q", *stored.Error)
	}

	deleted := attachments.get(attachment.ID)
	if deleted.Status != model.AttachmentDeleted {
		t.Fatalf("expected DELETED, got %s", deleted.Status)
	}
}

func TestOrderingFairness(t *testing.T) {
	events := newFakeEventStore()
	attachments := newFakeAttachmentStore(events)
	blobs := blobstore.NewMemoryStore()

	base := time.Now().Add(-time.Hour)
	var ordered []uuid.UUID
	for i := 0; i < 5; i++ {
		attachment := pendingUploadAttachment([]byte("doc"))
		attachments.add(attachment)
		event := &model.OutboxEvent{
			ID:         uuid.New(),
			EventType:  model.EventVerifyUpload,
			EntityType: model.EntityAttachment,
			EntityID:   attachment.ID,
			Payload:    model.JSONB{},
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := events.Append(context.Background(), event); err != nil {
			t.Fatalf("append event: %v", err)
		}
		ordered = append(ordered, event.ID)
	}

	processor := NewProcessor(events, attachments, blobs, nil, nil, zap.NewNop(), Config{
		BatchSize:  2,
		MaxRetries: 3,
		OpTimeout:  time.Second,
	})

	result, err := processor.ProcessPendingEvents(context.Background())
	if err != nil {
		t.Fatalf("ProcessPendingEvents() error: %v", err)
	}
	if result.Processed != 2 {
		t.Fatalf("expected batch of 2, got %+v", result)
	}

	// Oldest two processed first; the rest untouched.
	for i, id := range ordered {
		processed := events.get(id).Processed
		if i < 2 && !processed {
			t.Fatalf("expected event %d (older) processed", i)
		}
		if i >= 2 && processed {
			t.Fatalf("expected event %d (newer) still pending", i)
		}
	}
}

func TestUnsupportedEntitySkippedWithoutFinalizing(t *testing.T) {
	events := newFakeEventStore()
	attachments := newFakeAttachmentStore(events)
	blobs := blobstore.NewMemoryStore()

	event := &model.OutboxEvent{
		ID:         uuid.New(),
		EventType:  model.EventVerifyUpload,
		EntityType: "Invoice",
		EntityID:   uuid.New(),
		Payload:    model.JSONB{},
	}
	if err := events.Append(context.Background(), event); err != nil {
		t.Fatalf("append event: %v", err)
	}

	processor := testProcessor(events, attachments, blobs, nil)
	result, err := processor.ProcessPendingEvents(context.Background())
	if err != nil {
		t.Fatalf("ProcessPendingEvents() error: %v", err)
	}

	if result.Skipped != 1 || result.Processed != 0 || result.Failed != 0 {
		t.Fatalf("expected 1 skipped only, got %+v", result)
	}

	stored := events.get(event.ID)
	if stored.Processed {
		t.Fatal("unsupported event must not be marked processed")
	}
	if stored.RetryCount != 0 {
		t.Fatalf("unsupported event must not consume retries, got %d", stored.RetryCount)
	}
}

func TestCrashedCommitIsRetriedNextRun(t *testing.T) {
	events := newFakeEventStore()
	attachments := newFakeAttachmentStore(events)
	blobs := blobstore.NewMemoryStore()

	attachment := pendingUploadAttachment([]byte("retained"))
	attachments.add(attachment)

	event := &model.OutboxEvent{
		ID:         uuid.New(),
		EventType:  model.EventVerifyUpload,
		EntityType: model.EntityAttachment,
		EntityID:   attachment.ID,
		Payload:    model.JSONB{},
	}
	if err := events.Append(context.Background(), event); err != nil {
		t.Fatalf("append event: %v", err)
	}
	// Simulate a crash between handler success and the outcome commit.
	events.failMarkProcessedOn[event.ID] = true

	processor := testProcessor(events, attachments, blobs, nil)
	result, err := processor.ProcessPendingEvents(context.Background())
	if err != nil {
		t.Fatalf("first run error: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("expected commit failure surfaced, got %+v", result)
	}
	if events.get(event.ID).Processed {
		t.Fatal("event must stay unprocessed after commit failure")
	}

	// The rerun re-applies the idempotent handler and lands the commit.
	result, err = processor.ProcessPendingEvents(context.Background())
	if err != nil {
		t.Fatalf("second run error: %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("expected rerun to finish the event, got %+v", result)
	}
	if !events.get(event.ID).Processed {
		t.Fatal("expected event processed after rerun")
	}
	if attachments.get(attachment.ID).Status != model.AttachmentActive {
		t.Fatal("expected attachment ACTIVE after rerun")
	}
}

func TestConcurrentRunsSerializedByLease(t *testing.T) {
	events := newFakeEventStore()
	attachments := newFakeAttachmentStore(events)
	blobs := blobstore.NewMemoryStore()
	locker := &fakeLocker{}

	attachment := pendingUploadAttachment([]byte("shared"))
	attachments.add(attachment)
	event := &model.OutboxEvent{
		ID:         uuid.New(),
		EventType:  model.EventVerifyUpload,
		EntityType: model.EntityAttachment,
		EntityID:   attachment.ID,
		Payload:    model.JSONB{},
	}
	if err := events.Append(context.Background(), event); err != nil {
		t.Fatalf("append event: %v", err)
	}

	processor := NewProcessor(events, attachments, blobs, nil, locker, zap.NewNop(), Config{
		BatchSize:  50,
		MaxRetries: 3,
		OpTimeout:  time.Second,
	})

	// A competing instance holds the lease: this run must refuse to dispatch.
	if ok, _ := locker.Acquire(context.Background()); !ok {
		t.Fatal("setup: could not pre-acquire lease")
	}
	_, err := processor.ProcessPendingEvents(context.Background())
	if err != ErrLeaseHeld {
		t.Fatalf("expected ErrLeaseHeld, got %v", err)
	}
	if events.get(event.ID).Processed {
		t.Fatal("no event may be touched while the lease is held elsewhere")
	}

	if err := locker.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}

	result, err := processor.ProcessPendingEvents(context.Background())
	if err != nil {
		t.Fatalf("run after release error: %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("expected event processed after lease freed, got %+v", result)
	}
	if locker.held {
		t.Fatal("lease must be released after the run")
	}
}

func TestStatsCountEscalatedAsFailed(t *testing.T) {
	events := newFakeEventStore()
	attachments := newFakeAttachmentStore(events)
	blobs := blobstore.NewMemoryStore()

	attachment := pendingUploadAttachment(nil) // unrepairable
	attachments.add(attachment)
	event := &model.OutboxEvent{
		ID:         uuid.New(),
		EventType:  model.EventRepairUpload,
		EntityType: model.EntityAttachment,
		EntityID:   attachment.ID,
		Payload:    model.JSONB{},
	}
	if err := events.Append(context.Background(), event); err != nil {
		t.Fatalf("append event: %v", err)
	}

	processor := testProcessor(events, attachments, blobs, nil)
	for i := 0; i < 3; i++ {
		if _, err := processor.ProcessPendingEvents(context.Background()); err != nil {
			t.Fatalf("run %d error: %v", i, err)
		}
	}

	stats, err := processor.GetOutboxStats(context.Background())
	if err != nil {
		t.Fatalf("GetOutboxStats() error: %v", err)
	}
	if stats.Total != 1 || stats.Processed != 1 || stats.Unprocessed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Failed != 1 {
		t.Fatalf("escalated event must count as failed, got %+v", stats)
	}
}

func TestCleanupOldEventsPurgesProcessedOnly(t *testing.T) {
	events := newFakeEventStore()
	attachments := newFakeAttachmentStore(events)
	blobs := blobstore.NewMemoryStore()

	old := time.Now().Add(-40 * 24 * time.Hour)
	processedEvent := &model.OutboxEvent{
		ID:          uuid.New(),
		EventType:   model.EventDeleteFile,
		EntityType:  model.EntityAttachment,
		EntityID:    uuid.New(),
		Processed:   true,
		ProcessedAt: &old,
		CreatedAt:   old,
	}
	pendingEvent := &model.OutboxEvent{
		ID:         uuid.New(),
		EventType:  model.EventVerifyUpload,
		EntityType: model.EntityAttachment,
		EntityID:   uuid.New(),
		CreatedAt:  old,
	}
	for _, event := range []*model.OutboxEvent{processedEvent, pendingEvent} {
		if err := events.Append(context.Background(), event); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	processor := testProcessor(events, attachments, blobs, nil)
	deleted, err := processor.CleanupOldEvents(context.Background(), time.Now().AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("CleanupOldEvents() error: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 purged event, got %d", deleted)
	}

	stats, _ := processor.GetOutboxStats(context.Background())
	if stats.Total != 1 || stats.Unprocessed != 1 {
		t.Fatalf("pending event must survive cleanup, got %+v", stats)
	}
}
