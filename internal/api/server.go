package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pv-ae-server/internal/archive"
	"github.com/pv-ae-server/internal/database"
	"github.com/pv-ae-server/internal/domain"
	"github.com/pv-ae-server/internal/drugs"
	"github.com/pv-ae-server/internal/metrics"
	"github.com/pv-ae-server/internal/middleware"
	"github.com/pv-ae-server/internal/notify"
	"github.com/pv-ae-server/internal/review"
	"github.com/pv-ae-server/internal/service"
)

// Deps are the components served over HTTP. DB, Hub, Archiver and Reviews
// are optional.
type Deps struct {
	Pipeline   *service.Pipeline
	DB         *database.DB
	Classifier domain.SeriousnessClassifier
	Extractor  domain.EntityExtractor
	Catalog    *drugs.Catalog
	Hub        *notify.Hub
	Archiver   *archive.Archiver
	Reviews    *review.Service
}

// Server represents the HTTP server
type Server struct {
	config   *domain.Config
	deps     Deps
	recorder *service.Recorder
	router   *gin.Engine
	server   *http.Server
	logger   *logrus.Logger
}

// NewServer creates a new HTTP server instance
func NewServer(config *domain.Config, deps Deps, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if deps.Catalog == nil {
		deps.Catalog = drugs.DefaultCatalog()
	}

	if config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(corsMiddleware())
	if config.Metrics.Enabled {
		router.Use(metrics.GinMiddleware())
	}

	server := &Server{
		config:   config,
		deps:     deps,
		recorder: deps.Pipeline.Recorder(),
		router:   router,
		logger:   logger,
	}

	server.setupRoutes()

	return server
}

// Router exposes the handler for tests and embedding
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	if s.config.Metrics.Enabled {
		path := s.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.router.GET(path, gin.WrapH(metrics.Handler()))
	}

	if s.deps.Hub != nil {
		s.router.GET("/api/alerts/ws", gin.WrapH(s.deps.Hub))
	}

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/model/info", s.handleModelInfo)
		api.GET("/index/stats", s.handleIndexStats)
		api.GET("/drugs/suggest", s.handleDrugSuggest)
		api.GET("/similar", s.handleSimilar)

		api.GET("/audit", s.handleAuditLogs)
		api.GET("/audit/summary", s.handleAuditSummary)
		api.GET("/audit/export", s.handleAuditExport)
		api.GET("/audit/:report_id", s.handleAuditRecord)
		api.POST("/audit/archive", s.handleAuditArchive)
	}

	if s.deps.Reviews != nil {
		api.POST("/audit/:report_id/review", s.handleSubmitReview)
		api.GET("/audit/:report_id/review", s.handleGetReview)
		api.GET("/reviews", s.handleListReviews)
		api.GET("/reviews/stats", s.handleReviewStats)
	}

	processing := s.router.Group("/api")
	processing.Use(middleware.RequestTimeout(s.config.Server.RequestTimeout))
	{
		processing.POST("/process", s.handleProcess)
		processing.POST("/process/batch", s.handleProcessBatch)
		processing.POST("/evaluate", s.handleEvaluate)
	}
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "Content-Length, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
