package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pv-ae-server/internal/audit"
	"github.com/pv-ae-server/internal/domain"
	"github.com/pv-ae-server/internal/drugs"
	"github.com/pv-ae-server/internal/escalation"
	"github.com/pv-ae-server/internal/middleware"
	"github.com/pv-ae-server/internal/service"
	"github.com/pv-ae-server/internal/similarity"
)

const maxSimilarLimit = 50

// EvaluateRequest is the body of POST /api/evaluate
type EvaluateRequest struct {
	MLProbability *float64 `json:"ml_probability"`
	DrugName      string   `json:"drugname"`
	AdverseEvent  string   `json:"adverse_event"`
	Symptoms      []string `json:"symptoms"`
}

// BatchRequest is the body of POST /api/process/batch
type BatchRequest struct {
	Reports []service.ProcessRequest `json:"reports" binding:"required"`
}

// handleProcess runs one report through the pipeline
func (s *Server) handleProcess(c *gin.Context) {
	var req service.ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "Invalid request body", err.Error())
		return
	}

	result, err := s.deps.Pipeline.Process(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrNotRecorded) && result != nil {
			// the decision is returned even though it was not recorded
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":  s.apiError(c, domain.ErrCodeNotRecorded, "Case was not recorded in the audit log", err.Error()),
				"result": result,
			})
			return
		}
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleProcessBatch runs several reports with bounded concurrency
func (s *Server) handleProcessBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "Invalid request body", err.Error())
		return
	}
	if len(req.Reports) == 0 || len(req.Reports) > service.MaxBatchSize {
		s.respondError(c, http.StatusBadRequest, domain.ErrCodeValidation,
			fmt.Sprintf("reports must contain between 1 and %d entries", service.MaxBatchSize), "")
		return
	}
	for i, r := range req.Reports {
		if strings.TrimSpace(r.DrugName) == "" {
			s.respondError(c, http.StatusBadRequest, domain.ErrCodeValidation,
				fmt.Sprintf("reports[%d].drugname is required", i), "")
			return
		}
	}

	batch := s.deps.Pipeline.ProcessBatch(c.Request.Context(), req.Reports, s.config.Server.BatchWorkers)
	c.JSON(http.StatusOK, batch)
}

// handleEvaluate runs the escalation engine alone
func (s *Server) handleEvaluate(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "Invalid request body", err.Error())
		return
	}

	ml := escalation.NeutralProbability
	if req.MLProbability != nil {
		ml = *req.MLProbability
		if ml < 0 || ml > 1 {
			s.handleError(c, domain.NewValidationError("ml_probability", "must be between 0 and 1", ml))
			return
		}
	}
	result := s.deps.Pipeline.Evaluate(ml, req.DrugName, req.AdverseEvent, req.Symptoms)
	c.JSON(http.StatusOK, result)
}

// handleAuditLogs lists audit records, newest first
func (s *Server) handleAuditLogs(c *gin.Context) {
	limit, err := intQuery(c, "limit", audit.DefaultQueryLimit)
	if err != nil {
		s.handleError(c, err)
		return
	}
	if limit < 1 || limit > audit.MaxQueryLimit {
		s.handleError(c, domain.NewValidationError("limit", fmt.Sprintf("must be between 1 and %d", audit.MaxQueryLimit), limit))
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		s.handleError(c, err)
		return
	}
	if offset < 0 {
		s.handleError(c, domain.NewValidationError("offset", "must not be negative", offset))
		return
	}

	filter, err := audit.ParseFilter(c.Query("risk_level"), c.Query("escalated_only"), c.Query("start_date"), c.Query("end_date"))
	if err != nil {
		s.handleError(c, err)
		return
	}

	records, err := s.recorder.GetAuditLogs(c.Request.Context(), filter, limit, offset)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
		"limit":   limit,
		"offset":  offset,
	})
}

// handleAuditSummary aggregates the audit log
func (s *Server) handleAuditSummary(c *gin.Context) {
	summary, err := s.recorder.GetAuditSummary(c.Request.Context())
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// handleAuditRecord returns one audit record
func (s *Server) handleAuditRecord(c *gin.Context) {
	record, err := s.recorder.GetAuditByReportID(c.Request.Context(), c.Param("report_id"))
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// handleAuditExport streams the filtered audit log as a JSON attachment
func (s *Server) handleAuditExport(c *gin.Context) {
	filter, err := audit.ParseFilter(c.Query("risk_level"), c.Query("escalated_only"), c.Query("start_date"), c.Query("end_date"))
	if err != nil {
		s.handleError(c, err)
		return
	}

	filename := fmt.Sprintf("audit-%s.json", time.Now().UTC().Format("20060102T150405Z"))
	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Status(http.StatusOK)

	if err := s.recorder.Store().ExportJSON(c.Request.Context(), filter, c.Writer); err != nil {
		// headers are already sent
		s.logger.WithError(err).Error("Audit export failed")
		_ = c.Error(err)
	}
}

// handleAuditArchive uploads the filtered audit log to S3
func (s *Server) handleAuditArchive(c *gin.Context) {
	if s.deps.Archiver == nil {
		s.respondError(c, http.StatusServiceUnavailable, domain.ErrCodeExternalAPI, "Audit archive is not configured", "")
		return
	}
	filter, err := audit.ParseFilter(c.Query("risk_level"), c.Query("escalated_only"), c.Query("start_date"), c.Query("end_date"))
	if err != nil {
		s.handleError(c, err)
		return
	}

	result, err := s.deps.Archiver.ArchiveAudit(c.Request.Context(), s.recorder.Store(), filter)
	if err != nil {
		s.respondError(c, http.StatusBadGateway, domain.ErrCodeExternalAPI, "Failed to archive audit log", err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleSimilar searches prior cases
func (s *Server) handleSimilar(c *gin.Context) {
	drug := strings.TrimSpace(c.Query("drugname"))
	event := strings.TrimSpace(c.Query("adverse_event"))
	if drug == "" && event == "" {
		s.handleError(c, domain.NewValidationError("drugname", "drugname or adverse_event is required", ""))
		return
	}

	limit, err := intQuery(c, "limit", similarity.DefaultTopK)
	if err != nil {
		s.handleError(c, err)
		return
	}
	if limit < 1 || limit > maxSimilarLimit {
		s.handleError(c, domain.NewValidationError("limit", fmt.Sprintf("must be between 1 and %d", maxSimilarLimit), limit))
		return
	}

	var riskLevel domain.RiskLevel
	if raw := c.Query("risk_level"); raw != "" {
		riskLevel, err = domain.ParseRiskLevel(strings.ToUpper(raw))
		if err != nil {
			s.handleError(c, err)
			return
		}
	}

	escalatedOnly := true
	if raw := c.Query("escalated_only"); raw != "" {
		escalatedOnly, err = strconv.ParseBool(raw)
		if err != nil {
			s.handleError(c, domain.NewValidationError("escalated_only", "must be true or false", raw))
			return
		}
	}

	matches := s.recorder.SearchSimilar(c.Request.Context(), similarity.Query{
		Drug:            drug,
		Event:           event,
		Symptoms:        splitList(c.Query("symptoms")),
		RiskLevel:       riskLevel,
		TopK:            limit,
		EscalatedOnly:   escalatedOnly,
		ExcludeReportID: c.Query("exclude_report_id"),
	})

	c.JSON(http.StatusOK, gin.H{
		"matches": matches,
		"count":   len(matches),
	})
}

// handleDrugSuggest autocompletes drug names
func (s *Server) handleDrugSuggest(c *gin.Context) {
	q := c.Query("q")
	limit, err := intQuery(c, "limit", drugs.DefaultLimit)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"query":       q,
		"suggestions": s.deps.Catalog.Suggest(q, limit),
	})
}

// handleHealth reports component status
func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()

	modelLoaded := s.deps.Classifier != nil && s.deps.Classifier.Ready()
	llmAvailable := s.deps.Extractor != nil && s.deps.Extractor.Available(ctx)
	auditStats := s.recorder.AuditStats(ctx)

	status := "healthy"
	if !modelLoaded || !auditStats.Connected {
		status = "degraded"
	}

	body := gin.H{
		"status":             status,
		"model_loaded":       modelLoaded,
		"llm_available":      llmAvailable,
		"database_connected": auditStats.Connected,
		"audit":              auditStats,
		"timestamp":          time.Now().UTC(),
	}
	if indexStats, ok := s.recorder.IndexStats(ctx); ok {
		body["index"] = indexStats
	}
	if s.deps.Hub != nil {
		body["alert_subscribers"] = s.deps.Hub.Subscribers()
	}
	if s.deps.DB != nil {
		pool := gin.H{"connected": true}
		if err := s.deps.DB.Health(ctx); err != nil {
			pool["connected"] = false
			body["status"] = "degraded"
		} else {
			stat := s.deps.DB.Stats()
			pool["total_conns"] = stat.TotalConns()
			pool["idle_conns"] = stat.IdleConns()
		}
		body["postgres_pool"] = pool
	}

	c.JSON(http.StatusOK, body)
}

// handleModelInfo describes the seriousness classifier
func (s *Server) handleModelInfo(c *gin.Context) {
	if s.deps.Classifier == nil {
		s.respondError(c, http.StatusServiceUnavailable, domain.ErrCodeModelUnavailable, "Classifier is not configured", "")
		return
	}
	c.JSON(http.StatusOK, s.deps.Classifier.Info())
}

// handleIndexStats describes the similarity index
func (s *Server) handleIndexStats(c *gin.Context) {
	stats, ok := s.recorder.IndexStats(c.Request.Context())
	if !ok {
		s.respondError(c, http.StatusServiceUnavailable, domain.ErrCodeDatabaseError, "Similarity index is not configured", "")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleError maps domain errors onto HTTP responses
func (s *Server) handleError(c *gin.Context, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		s.respondError(c, http.StatusBadRequest, domain.ErrCodeValidation, ve.Error(), fmt.Sprint(ve.Value))
	case errors.Is(err, domain.ErrInvalidDrug):
		s.respondError(c, http.StatusBadRequest, domain.ErrCodeInvalidDrug, "Invalid drug name", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		s.respondError(c, http.StatusNotFound, domain.ErrCodeNotFound, "Resource not found", err.Error())
	case errors.Is(err, domain.ErrClassifierUnavailable):
		s.respondError(c, http.StatusServiceUnavailable, domain.ErrCodeModelUnavailable, "Classifier unavailable", err.Error())
	case errors.Is(err, domain.ErrNotRecorded):
		s.respondError(c, http.StatusInternalServerError, domain.ErrCodeNotRecorded, "Case was not recorded in the audit log", err.Error())
	default:
		s.logger.WithError(err).WithField("request_id", c.GetString(middleware.RequestIDKey)).Error("Request failed")
		s.respondError(c, http.StatusInternalServerError, domain.ErrCodeInternalServer, "Internal server error", "")
	}
}

func (s *Server) apiError(c *gin.Context, code, message, details string) *domain.APIError {
	return domain.NewAPIError(code, message, details, c.GetString(middleware.RequestIDKey))
}

func (s *Server) respondError(c *gin.Context, status int, code, message, details string) {
	c.AbortWithStatusJSON(status, gin.H{"error": s.apiError(c, code, message, details)})
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError(key, "must be an integer", raw)
	}
	return n, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
