package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/ledgerline/pkg/model"
	"github.com/ledgerline/ledgerline/pkg/outbox"
	"github.com/ledgerline/ledgerline/pkg/store"
)

type OutboxHandler struct {
	processor     *outbox.Processor
	audit         store.AuditStore
	retentionDays int
	logger        *zap.Logger
}

func NewOutboxHandler(processor *outbox.Processor, audit store.AuditStore, retentionDays int, logger *zap.Logger) *OutboxHandler {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &OutboxHandler{processor: processor, audit: audit, retentionDays: retentionDays, logger: logger}
}

// Process triggers one drain manually, alongside the scheduled runs.
func (h *OutboxHandler) Process(c *gin.Context) {
	result, err := h.processor.ProcessPendingEvents(c.Request.Context())
	if err != nil {
		if errors.Is(err, outbox.ErrLeaseHeld) {
			c.JSON(http.StatusConflict, gin.H{"error": "processor already running"})
			return
		}
		h.logger.Error("manual outbox run failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *OutboxHandler) Stats(c *gin.Context) {
	stats, err := h.processor.GetOutboxStats(c.Request.Context())
	if err != nil {
		h.logger.Error("outbox stats failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

type cleanupRequest struct {
	RetentionDays int `json:"retention_days"`
}

func (h *OutboxHandler) Cleanup(c *gin.Context) {
	req := cleanupRequest{RetentionDays: h.retentionDays}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
			return
		}
	}
	if req.RetentionDays <= 0 {
		req.RetentionDays = h.retentionDays
	}

	cutoff := time.Now().AddDate(0, 0, -req.RetentionDays)
	deleted, err := h.processor.CleanupOldEvents(c.Request.Context(), cutoff)
	if err != nil {
		h.logger.Error("outbox cleanup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cleanup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

type auditResponse struct {
	ID         string      `json:"id"`
	Action     string      `json:"action"`
	EventID    string      `json:"event_id"`
	EventType  string      `json:"event_type"`
	EntityType string      `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	Payload    model.JSONB `json:"payload"`
	Error      string      `json:"error"`
	RetryCount int         `json:"retry_count"`
	CreatedAt  string      `json:"created_at"`
}

func (h *OutboxHandler) ListAudit(c *gin.Context) {
	var entityID *uuid.UUID
	if raw := c.Query("entity_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entity_id"})
			return
		}
		entityID = &parsed
	}

	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since timestamp"})
			return
		}
		since = &parsed
	}

	limit := parseLimit(c.Query("limit"), 100)

	records, err := h.audit.List(c.Request.Context(), entityID, since, limit)
	if err != nil {
		h.logger.Error("audit list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit list failed"})
		return
	}

	responses := make([]auditResponse, 0, len(records))
	for i := range records {
		r := &records[i]
		responses = append(responses, auditResponse{
			ID:         r.ID.String(),
			Action:     r.Action,
			EventID:    r.EventID.String(),
			EventType:  r.EventType,
			EntityType: r.EntityType,
			EntityID:   r.EntityID.String(),
			Payload:    r.Payload,
			Error:      r.Error,
			RetryCount: r.RetryCount,
			CreatedAt:  r.CreatedAt.UTC().Format(timeRFC3339Nano),
		})
	}

	c.JSON(http.StatusOK, gin.H{"records": responses})
}
