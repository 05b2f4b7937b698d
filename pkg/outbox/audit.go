package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ledgerline/ledgerline/pkg/model"
)

// Auditor is the fire-and-forget notification sink for escalations. The
// durable audit row is written by the event store; this is operator alerting
// on top and must never fail the escalation.
type Auditor interface {
	ProcessingFailed(ctx context.Context, event model.OutboxEvent, failure string)
}

type auditMessage struct {
	Action     string      `json:"action"`
	EventID    string      `json:"event_id"`
	EventType  string      `json:"event_type"`
	EntityType string      `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	Payload    model.JSONB `json:"payload"`
	Error      string      `json:"error"`
	RetryCount int         `json:"retry_count"`
	FailedAt   time.Time   `json:"failed_at"`
}

type KafkaAuditor struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaAuditor(writer *kafka.Writer, logger *zap.Logger) *KafkaAuditor {
	return &KafkaAuditor{writer: writer, logger: logger}
}

func (a *KafkaAuditor) ProcessingFailed(ctx context.Context, event model.OutboxEvent, failure string) {
	payload, err := json.Marshal(auditMessage{
		Action:     model.AuditOutboxProcessingFailed,
		EventID:    event.ID.String(),
		EventType:  event.EventType,
		EntityType: event.EntityType,
		EntityID:   event.EntityID.String(),
		Payload:    event.Payload,
		Error:      failure,
		RetryCount: event.RetryCount + 1,
		FailedAt:   time.Now(),
	})
	if err != nil {
		a.logger.Warn("failed to marshal audit notification", zap.Error(err))
		return
	}

	message := kafka.Message{
		Key:   []byte(event.ID.String()),
		Value: payload,
		Time:  time.Now(),
	}

	if err := a.writer.WriteMessages(ctx, message); err != nil {
		a.logger.Warn("failed to publish audit notification",
			zap.Error(err),
			zap.String("event_id", event.ID.String()),
		)
	}
}
