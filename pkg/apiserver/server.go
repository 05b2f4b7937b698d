package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ledgerline/ledgerline/pkg/apiserver/handlers"
	"github.com/ledgerline/ledgerline/pkg/apiserver/middleware"
	"github.com/ledgerline/ledgerline/pkg/attachment"
	"github.com/ledgerline/ledgerline/pkg/config"
	"github.com/ledgerline/ledgerline/pkg/fallback"
	"github.com/ledgerline/ledgerline/pkg/outbox"
	"github.com/ledgerline/ledgerline/pkg/store"
)

type Server struct {
	router    *gin.Engine
	service   *attachment.Service
	reader    *fallback.Reader
	processor *outbox.Processor
	audit     store.AuditStore
	cfg       *config.Config
	logger    *zap.Logger
}

func NewServer(service *attachment.Service, reader *fallback.Reader, processor *outbox.Processor, audit store.AuditStore, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{
		service:   service,
		reader:    reader,
		processor: processor,
		audit:     audit,
		cfg:       cfg,
		logger:    logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	{
		api.Use(middleware.Auth())

		attachmentHandler := handlers.NewAttachmentHandler(s.service, s.reader, s.cfg, s.logger)
		api.POST("/attachments", attachmentHandler.Upload)
		api.GET("/attachments/:id", attachmentHandler.Get)
		api.GET("/attachments/:id/content", attachmentHandler.Content)
		api.DELETE("/attachments/:id", attachmentHandler.Delete)
		api.PUT("/attachments/:id/owner", attachmentHandler.Reassociate)

		outboxHandler := handlers.NewOutboxHandler(s.processor, s.audit, s.cfg.Outbox.RetentionDays, s.logger)
		admin := api.Group("/admin")
		admin.POST("/outbox/process", outboxHandler.Process)
		admin.GET("/outbox/stats", outboxHandler.Stats)
		admin.POST("/outbox/cleanup", outboxHandler.Cleanup)
		admin.GET("/audit", outboxHandler.ListAudit)
	}

	s.router = r
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
