package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventUploadSuccess = "UPLOAD_SUCCESS"
	EventVerifyUpload  = "VERIFY_UPLOAD"
	EventRepairUpload  = "REPAIR_UPLOAD"
	EventDeleteFile    = "DELETE_FILE"
)

const EntityAttachment = "Attachment"

// OutboxEvent is an append-only intent record written in the same transaction
// as the attachment mutation that owes external-system work. Rows are mutated
// only by the processor; Processed is monotonic and never reverts.
type OutboxEvent struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	EventType   string    `gorm:"type:varchar(50);not null;index"`
	EntityType  string    `gorm:"type:varchar(50);not null;default:'Attachment'"`
	EntityID    uuid.UUID `gorm:"type:uuid;not null;index"`
	Payload     JSONB     `gorm:"type:jsonb;default:'{}'"`
	Processed   bool      `gorm:"not null;default:false;index"`
	RetryCount  int       `gorm:"not null;default:0"`
	Error       *string
	CreatedAt   time.Time `gorm:"autoCreateTime;not null;index"`
	ProcessedAt *time.Time
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to scan JSONB: %v", value)
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONB) GormDataType() string {
	return "jsonb"
}

// ExternalID extracts the blob-store identifier carried by verify/delete
// payloads, or "" when absent.
func (e *OutboxEvent) ExternalID() string {
	if e.Payload == nil {
		return ""
	}
	id, _ := e.Payload["external_id"].(string)
	return id
}
