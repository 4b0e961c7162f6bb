package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pv-ae-server/internal/audit"
	"github.com/pv-ae-server/internal/domain"
	"github.com/pv-ae-server/internal/escalation"
	"github.com/pv-ae-server/internal/service"
	"github.com/pv-ae-server/internal/similarity"
)

// Tool names
const (
	ToolProcessReport      = "process_report"
	ToolEvaluateEscalation = "evaluate_escalation"
	ToolSearchSimilar      = "search_similar_events"
	ToolGetAuditRecord     = "get_audit_record"
	ToolListAuditRecords   = "list_audit_records"
	ToolGetAuditSummary    = "get_audit_summary"
	ToolExportAudit        = "export_audit"
	ToolSubmitReview       = "submit_review"
	ToolGetReviewStats     = "get_review_stats"
)

// ProcessReportParams are the arguments of process_report
type ProcessReportParams struct {
	DrugName     string `json:"drug_name" jsonschema:"suspect drug name"`
	AdverseEvent string `json:"adverse_event" jsonschema:"free-text adverse event narrative"`
}

// EvaluateEscalationParams are the arguments of evaluate_escalation
type EvaluateEscalationParams struct {
	DrugName      string   `json:"drug_name,omitempty" jsonschema:"suspect drug name"`
	AdverseEvent  string   `json:"adverse_event" jsonschema:"free-text adverse event narrative"`
	MLProbability *float64 `json:"ml_probability,omitempty" jsonschema:"model probability that the event is serious, 0 to 1"`
	Symptoms      []string `json:"symptoms,omitempty" jsonschema:"symptoms already extracted from the narrative"`
}

// SearchSimilarParams are the arguments of search_similar_events
type SearchSimilarParams struct {
	DrugName        string   `json:"drug_name,omitempty" jsonschema:"drug to match"`
	AdverseEvent    string   `json:"adverse_event,omitempty" jsonschema:"narrative to match"`
	Symptoms        []string `json:"symptoms,omitempty" jsonschema:"symptoms to match"`
	RiskLevel       string   `json:"risk_level,omitempty" jsonschema:"LOW, MEDIUM, HIGH or CRITICAL"`
	Limit           int      `json:"limit,omitempty" jsonschema:"maximum matches, default 5"`
	IncludeRoutine  bool     `json:"include_routine,omitempty" jsonschema:"also return cases that were not escalated"`
	ExcludeReportID string   `json:"exclude_report_id,omitempty" jsonschema:"report id to leave out of the results"`
}

// GetAuditRecordParams are the arguments of get_audit_record
type GetAuditRecordParams struct {
	ReportID string `json:"report_id" jsonschema:"report id such as RPT-20240101120000-1A2B3C4D"`
}

// ListAuditRecordsParams are the arguments of list_audit_records
type ListAuditRecordsParams struct {
	RiskLevel     string `json:"risk_level,omitempty" jsonschema:"filter by risk level"`
	EscalatedOnly bool   `json:"escalated_only,omitempty" jsonschema:"only escalated cases"`
	StartDate     string `json:"start_date,omitempty" jsonschema:"YYYY-MM-DD lower bound, inclusive"`
	EndDate       string `json:"end_date,omitempty" jsonschema:"YYYY-MM-DD upper bound, inclusive"`
	Limit         int    `json:"limit,omitempty" jsonschema:"page size, default 100, max 1000"`
	Offset        int    `json:"offset,omitempty" jsonschema:"records to skip"`
}

// GetAuditSummaryParams are the arguments of get_audit_summary
type GetAuditSummaryParams struct{}

// ExportAuditParams are the arguments of export_audit
type ExportAuditParams struct {
	RiskLevel     string `json:"risk_level,omitempty" jsonschema:"filter by risk level"`
	EscalatedOnly bool   `json:"escalated_only,omitempty" jsonschema:"only escalated cases"`
}

// SubmitReviewParams are the arguments of submit_review
type SubmitReviewParams struct {
	ReportID string `json:"report_id" jsonschema:"report id of an audited case"`
	Decision string `json:"decision" jsonschema:"ESCALATE or NO_ESCALATE"`
	Reviewer string `json:"reviewer" jsonschema:"safety officer identifier"`
	Notes    string `json:"notes,omitempty" jsonschema:"rationale for the decision"`
}

// GetReviewStatsParams are the arguments of get_review_stats
type GetReviewStatsParams struct{}

const maxSimilarLimit = 50

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolProcessReport,
		Description: "Validate, classify, score and record an adverse event report. Returns the escalation decision, the report id and similar serious cases.",
	}, s.handleProcessReport)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolEvaluateEscalation,
		Description: "Score an adverse event against the escalation rules without recording it.",
	}, s.handleEvaluateEscalation)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolSearchSimilar,
		Description: "Find previously recorded cases similar to a drug and narrative.",
	}, s.handleSearchSimilar)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolGetAuditRecord,
		Description: "Fetch the audit record of one processed report.",
	}, s.handleGetAuditRecord)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolListAuditRecords,
		Description: "List audit records newest first with optional filters.",
	}, s.handleListAuditRecords)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolGetAuditSummary,
		Description: "Aggregate counts over the whole audit log.",
	}, s.handleGetAuditSummary)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolExportAudit,
		Description: "Write a JSON export of the audit log to the data directory.",
	}, s.handleExportAudit)

	count := 7
	if s.opts.Reviews != nil {
		mcp.AddTool(s.mcpServer, &mcp.Tool{
			Name:        ToolSubmitReview,
			Description: "Record a safety officer's confirmation or override of an audited escalation decision.",
		}, s.handleSubmitReview)

		mcp.AddTool(s.mcpServer, &mcp.Tool{
			Name:        ToolGetReviewStats,
			Description: "Reviewer agreement with the escalation engine, including missed and false escalations.",
		}, s.handleGetReviewStats)
		count += 2
	}

	s.logger.WithField("tool_count", count).Info("Successfully registered all tools")
}

func (s *Server) handleProcessReport(ctx context.Context, req *mcp.CallToolRequest, params ProcessReportParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolProcessReport).Debug("Handling tool call")

	result, err := s.pipeline.Process(ctx, service.ProcessRequest{
		DrugName:     params.DrugName,
		AdverseEvent: params.AdverseEvent,
	})
	if err != nil {
		if result != nil && errors.Is(err, domain.ErrNotRecorded) {
			return s.jsonResult(map[string]any{"error": err.Error(), "result": result}, true), nil, nil
		}
		return s.errorResult("Report processing failed", err), nil, nil
	}
	return s.jsonResult(result, false), nil, nil
}

func (s *Server) handleEvaluateEscalation(ctx context.Context, req *mcp.CallToolRequest, params EvaluateEscalationParams) (*mcp.CallToolResult, any, error) {
	ml := escalation.NeutralProbability
	if params.MLProbability != nil {
		ml = *params.MLProbability
		if ml < 0 || ml > 1 {
			return s.errorResult("Invalid arguments", domain.NewValidationError("ml_probability", "must be between 0 and 1", ml)), nil, nil
		}
	}
	result := s.pipeline.Evaluate(ml, params.DrugName, params.AdverseEvent, params.Symptoms)
	return s.jsonResult(result, false), nil, nil
}

func (s *Server) handleSearchSimilar(ctx context.Context, req *mcp.CallToolRequest, params SearchSimilarParams) (*mcp.CallToolResult, any, error) {
	if params.DrugName == "" && params.AdverseEvent == "" {
		return s.errorResult("Invalid arguments", domain.NewValidationError("drug_name", "drug_name or adverse_event is required", nil)), nil, nil
	}

	limit := params.Limit
	if limit <= 0 {
		limit = service.SimilarEventsLimit
	}
	if limit > maxSimilarLimit {
		limit = maxSimilarLimit
	}

	var riskLevel domain.RiskLevel
	if params.RiskLevel != "" {
		level, err := domain.ParseRiskLevel(params.RiskLevel)
		if err != nil {
			return s.errorResult("Invalid arguments", err), nil, nil
		}
		riskLevel = level
	}

	matches := s.pipeline.Recorder().SearchSimilar(ctx, similarity.Query{
		Drug:            params.DrugName,
		Event:           params.AdverseEvent,
		Symptoms:        params.Symptoms,
		RiskLevel:       riskLevel,
		TopK:            limit,
		EscalatedOnly:   !params.IncludeRoutine,
		ExcludeReportID: params.ExcludeReportID,
	})
	return s.jsonResult(map[string]any{"matches": matches, "count": len(matches)}, false), nil, nil
}

func (s *Server) handleGetAuditRecord(ctx context.Context, req *mcp.CallToolRequest, params GetAuditRecordParams) (*mcp.CallToolResult, any, error) {
	record, err := s.pipeline.Recorder().GetAuditByReportID(ctx, params.ReportID)
	if err != nil {
		return s.errorResult("Audit lookup failed", err), nil, nil
	}
	return s.jsonResult(record, false), nil, nil
}

func (s *Server) handleListAuditRecords(ctx context.Context, req *mcp.CallToolRequest, params ListAuditRecordsParams) (*mcp.CallToolResult, any, error) {
	filter, err := audit.ParseFilter(params.RiskLevel, boolParam(params.EscalatedOnly), params.StartDate, params.EndDate)
	if err != nil {
		return s.errorResult("Invalid arguments", err), nil, nil
	}

	records, err := s.pipeline.Recorder().GetAuditLogs(ctx, filter, params.Limit, params.Offset)
	if err != nil {
		return s.errorResult("Audit query failed", err), nil, nil
	}
	return s.jsonResult(map[string]any{"records": records, "count": len(records)}, false), nil, nil
}

func (s *Server) handleGetAuditSummary(ctx context.Context, req *mcp.CallToolRequest, params GetAuditSummaryParams) (*mcp.CallToolResult, any, error) {
	summary, err := s.pipeline.Recorder().GetAuditSummary(ctx)
	if err != nil {
		return s.errorResult("Audit summary failed", err), nil, nil
	}
	return s.jsonResult(summary, false), nil, nil
}

func (s *Server) handleExportAudit(ctx context.Context, req *mcp.CallToolRequest, params ExportAuditParams) (*mcp.CallToolResult, any, error) {
	filter, err := audit.ParseFilter(params.RiskLevel, boolParam(params.EscalatedOnly), "", "")
	if err != nil {
		return s.errorResult("Invalid arguments", err), nil, nil
	}

	name := fmt.Sprintf("audit-%s.json", time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(s.opts.ExportDir, name)

	file, err := os.Create(path)
	if err != nil {
		return s.errorResult("Export failed", err), nil, nil
	}
	exportErr := s.pipeline.Recorder().Store().ExportJSON(ctx, filter, file)
	closeErr := file.Close()
	if err := errors.Join(exportErr, closeErr); err != nil {
		os.Remove(path)
		return s.errorResult("Export failed", err), nil, nil
	}

	s.logger.WithField("path", path).Info("Audit export written")
	return s.jsonResult(map[string]any{"path": path}, false), nil, nil
}

func (s *Server) handleSubmitReview(ctx context.Context, req *mcp.CallToolRequest, params SubmitReviewParams) (*mcp.CallToolResult, any, error) {
	r, err := s.opts.Reviews.Submit(ctx, params.ReportID, params.Decision, params.Reviewer, params.Notes)
	if err != nil {
		return s.errorResult("Review failed", err), nil, nil
	}
	return s.jsonResult(r, false), nil, nil
}

func (s *Server) handleGetReviewStats(ctx context.Context, req *mcp.CallToolRequest, params GetReviewStatsParams) (*mcp.CallToolResult, any, error) {
	stats, err := s.opts.Reviews.Stats(ctx)
	if err != nil {
		return s.errorResult("Review stats failed", err), nil, nil
	}
	return s.jsonResult(stats, false), nil, nil
}

func boolParam(b bool) string {
	if b {
		return "true"
	}
	return ""
}

func (s *Server) jsonResult(v any, isError bool) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return s.errorResult("Failed to encode result", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
		IsError: isError,
	}
}

func (s *Server) errorResult(message string, err error) *mcp.CallToolResult {
	s.logger.WithError(err).Warn(message)
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("%s: %v", message, err)},
		},
		IsError: true,
	}
}
