package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ledgerline/ledgerline/pkg/attachment"
	"github.com/ledgerline/ledgerline/pkg/config"
	"github.com/ledgerline/ledgerline/pkg/fallback"
	"github.com/ledgerline/ledgerline/pkg/model"
	"github.com/ledgerline/ledgerline/pkg/store"
)

type AttachmentHandler struct {
	service *attachment.Service
	reader  *fallback.Reader
	cfg     *config.Config
	logger  *zap.Logger
}

func NewAttachmentHandler(service *attachment.Service, reader *fallback.Reader, cfg *config.Config, logger *zap.Logger) *AttachmentHandler {
	return &AttachmentHandler{service: service, reader: reader, cfg: cfg, logger: logger}
}

type attachmentResponse struct {
	ID             string   `json:"id"`
	OrganizationID string   `json:"organization_id"`
	OwnerType      string   `json:"owner_type"`
	OwnerID        string   `json:"owner_id"`
	FileName       string   `json:"file_name"`
	MimeType       string   `json:"mime_type"`
	SizeBytes      int64    `json:"size_bytes"`
	Status         string   `json:"status"`
	ExternalID     *string  `json:"external_id,omitempty"`
	LastVerifiedAt *string  `json:"last_verified_at,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	UploadedBy     string   `json:"uploaded_by,omitempty"`
	CreatedAt      string   `json:"created_at"`
}

func toAttachmentResponse(a *model.Attachment) attachmentResponse {
	return attachmentResponse{
		ID:             a.ID.String(),
		OrganizationID: a.OrganizationID.String(),
		OwnerType:      a.OwnerType,
		OwnerID:        a.OwnerID.String(),
		FileName:       a.FileName,
		MimeType:       a.MimeType,
		SizeBytes:      a.SizeBytes,
		Status:         string(a.Status),
		ExternalID:     a.ExternalID,
		LastVerifiedAt: formatTime(a.LastVerifiedAt),
		Tags:           a.Tags,
		UploadedBy:     a.UploadedBy,
		CreatedAt:      a.CreatedAt.UTC().Format(timeRFC3339Nano),
	}
}

func (h *AttachmentHandler) Upload(c *gin.Context) {
	organizationID, err := uuid.Parse(c.PostForm("organization_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid organization_id"})
		return
	}
	ownerID, err := uuid.Parse(c.PostForm("owner_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner_id"})
		return
	}
	ownerType := c.PostForm("owner_type")
	if ownerType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing owner_type"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file", "details": err.Error()})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	var tags []string
	if raw := c.PostForm("tags"); raw != "" {
		tags = strings.Split(raw, ",")
	}

	created, err := h.service.Upload(c.Request.Context(), attachment.UploadRequest{
		OrganizationID: organizationID,
		OwnerType:      ownerType,
		OwnerID:        ownerID,
		FileName:       fileHeader.Filename,
		MimeType:       mimeType,
		Data:           data,
		UploadedBy:     c.PostForm("uploaded_by"),
		Tags:           tags,
	})
	if err != nil {
		h.logger.Error("upload failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}

	c.JSON(http.StatusCreated, toAttachmentResponse(created))
}

func (h *AttachmentHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attachment id"})
		return
	}

	found, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
			return
		}
		h.logger.Error("get attachment failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if found.Status == model.AttachmentDeleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
		return
	}

	c.JSON(http.StatusOK, toAttachmentResponse(found))
}

// Content serves the attachment bytes. Confirmed CDN copies redirect to the
// public URL; anything else is served from the relational fallback copy with
// the source tagged in a response header.
func (h *AttachmentHandler) Content(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attachment id"})
		return
	}

	found, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
			return
		}
		h.logger.Error("get attachment failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	if found.Status == model.AttachmentActive && found.ExternalID != nil && h.cfg.Blob.PublicBaseURL != "" {
		c.Redirect(http.StatusFound, fmt.Sprintf("%s/%s", strings.TrimRight(h.cfg.Blob.PublicBaseURL, "/"), *found.ExternalID))
		return
	}

	content, err := h.reader.GetServableBytes(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
			return
		}
		if errors.Is(err, fallback.ErrUnavailable) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no servable copy"})
			return
		}
		h.logger.Error("fallback read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read failed"})
		return
	}

	c.Header("X-Ledgerline-Source", content.Source)
	c.Data(http.StatusOK, content.MimeType, content.Data)
}

func (h *AttachmentHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attachment id"})
		return
	}

	err = h.service.RequestDelete(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
			return
		}
		if errors.Is(err, store.ErrInvalidTransition) {
			c.JSON(http.StatusConflict, gin.H{"error": "attachment cannot be deleted in its current status"})
			return
		}
		h.logger.Error("delete request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "delete scheduled"})
}

type reassociateRequest struct {
	OwnerType string `json:"owner_type" binding:"required"`
	OwnerID   string `json:"owner_id" binding:"required"`
}

func (h *AttachmentHandler) Reassociate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attachment id"})
		return
	}

	var req reassociateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner_id"})
		return
	}

	if err := h.service.Reassociate(c.Request.Context(), id, req.OwnerType, ownerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
			return
		}
		h.logger.Error("reassociate failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reassociate failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
