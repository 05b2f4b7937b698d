package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/ledgerline/pkg/model"
)

// OutboxStats summarizes the event log. Failed counts events that have
// exhausted their retries, whether or not they were force-finalized.
type OutboxStats struct {
	Total       int64 `json:"total"`
	Unprocessed int64 `json:"unprocessed"`
	Failed      int64 `json:"failed"`
	Processed   int64 `json:"processed"`
}

// EventStore persists outbox events. Only the processor mutates rows after
// they are appended.
type EventStore interface {
	Append(ctx context.Context, event *model.OutboxEvent) error

	// ListPending returns up to limit unprocessed events with retry budget
	// remaining, oldest first.
	ListPending(ctx context.Context, limit, maxRetries int) ([]model.OutboxEvent, error)

	// MarkProcessed finalizes a successfully handled event and clears any
	// recorded error.
	MarkProcessed(ctx context.Context, eventID uuid.UUID) error

	// RecordFailure increments the retry counter and stores the failure
	// message, leaving the event eligible for the next run.
	RecordFailure(ctx context.Context, eventID uuid.UUID, message string) error

	// Escalate force-finalizes an event that exhausted its retries and writes
	// the outbox.processing.failed audit record in the same transaction.
	Escalate(ctx context.Context, event *model.OutboxEvent, message string) error

	Stats(ctx context.Context, maxRetries int) (OutboxStats, error)

	// DeleteProcessedBefore purges processed events older than cutoff and
	// returns the number of rows removed.
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditStore reads and prunes the durable escalation trail.
type AuditStore interface {
	List(ctx context.Context, entityID *uuid.UUID, since *time.Time, limit int) ([]model.AuditRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
