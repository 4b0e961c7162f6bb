package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pv-ae-server/internal/audit"
	"github.com/pv-ae-server/internal/domain"
	"github.com/pv-ae-server/internal/metrics"
	"github.com/pv-ae-server/internal/similarity"
)

const unknownDrug = "UNKNOWN"

// EventIndex is the similarity index as seen by the recorder
type EventIndex interface {
	Upsert(ctx context.Context, entry similarity.Entry) error
	Query(ctx context.Context, q similarity.Query) []domain.SimilarEventMatch
	Stats(ctx context.Context) domain.IndexStats
}

// LogRequest carries everything persisted for one processed case
type LogRequest struct {
	ReportID         string
	DrugName         string
	AdverseEvent     string
	Prediction       *domain.MLPrediction
	Entities         *domain.Entities
	Escalation       domain.EscalationResult
	ProcessingTimeMs float64
	Timestamp        time.Time
}

// StepResult is the outcome of one write in the dual write
type StepResult struct {
	Attempted bool   `json:"attempted"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	err       error
}

// Err returns the underlying error, if any
func (s StepResult) Err() error {
	return s.err
}

func failedStep(err error) StepResult {
	return StepResult{Attempted: true, Error: err.Error(), err: err}
}

// LogResult reports the audit append and the index upsert independently
type LogResult struct {
	Audit StepResult `json:"audit"`
	Index StepResult `json:"index"`
}

// Recorded reports whether the case exists in the audit log. The index step
// never affects it.
func (r LogResult) Recorded() bool {
	return r.Audit.OK
}

// Recorder writes each case to the audit log and then to the similarity
// index, and serves the read-only audit and similarity surface.
type Recorder struct {
	store  audit.Store
	index  EventIndex
	logger *logrus.Logger
}

// NewRecorder creates a recorder. index may be nil, in which case cases are
// only audited and similarity queries return nothing.
func NewRecorder(store audit.Store, index EventIndex, logger *logrus.Logger) *Recorder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Recorder{store: store, index: index, logger: logger}
}

// LogProcessing appends the audit record and, only once that succeeded,
// upserts the index entry. Index failures are logged and never undo or fail
// the audit step.
func (r *Recorder) LogProcessing(ctx context.Context, req LogRequest) LogResult {
	var result LogResult

	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	record := buildAuditRecord(req, ts)

	if err := r.store.Append(ctx, record); err != nil {
		metrics.RecordAuditWriteFailure()
		r.logger.WithError(err).WithField("report_id", req.ReportID).Error("Failed to write audit record")
		result.Audit = failedStep(err)
		return result
	}
	result.Audit = StepResult{Attempted: true, OK: true}

	if r.index == nil {
		return result
	}

	err := r.index.Upsert(ctx, similarity.Entry{
		ReportID:      record.ReportID,
		DrugName:      record.DrugName,
		AdverseEvent:  record.AdverseEvent,
		Symptoms:      record.ExtractedSymptoms,
		RiskLevel:     record.RiskLevel,
		Decision:      record.EscalationDecision,
		MLProbability: record.MLProbability,
		Timestamp:     record.Timestamp,
	})
	if err != nil {
		metrics.RecordIndexUpsertFailure()
		r.logger.WithError(err).WithField("report_id", req.ReportID).Warn("Vector indexing failed, audit record kept")
		result.Index = failedStep(err)
		return result
	}
	result.Index = StepResult{Attempted: true, OK: true}

	return result
}

func buildAuditRecord(req LogRequest, ts time.Time) *domain.AuditRecord {
	drug := req.DrugName
	if drug == "" {
		drug = unknownDrug
	}

	record := &domain.AuditRecord{
		ReportID:           req.ReportID,
		Timestamp:          ts,
		DrugName:           drug,
		AdverseEvent:       req.AdverseEvent,
		EscalationDecision: req.Escalation.Decision(),
		RiskLevel:          req.Escalation.RiskLevel,
		FinalScore:         req.Escalation.FinalScore,
		KeywordScore:       req.Escalation.KeywordScore,
		TriggeredKeywords:  req.Escalation.TriggeredKeywords,
		Explanation:        req.Escalation.Explanation,
		ProcessingTimeMs:   req.ProcessingTimeMs,
		ExtractedSymptoms:  []string{},
	}
	if req.Prediction != nil {
		record.MLPrediction = req.Prediction.Prediction
		record.MLProbability = req.Prediction.SeriousProbability
	}
	if req.Entities != nil {
		record.ExtractedDrug = req.Entities.Drug
		if req.Entities.Symptoms != nil {
			record.ExtractedSymptoms = req.Entities.Symptoms
		}
	}
	if record.TriggeredKeywords == nil {
		record.TriggeredKeywords = []string{}
	}
	return record
}

// GetSimilarSeriousEvents returns prior escalated cases similar to the given
// one. The current report never appears in the result.
func (r *Recorder) GetSimilarSeriousEvents(ctx context.Context, drug, event string, symptoms []string, riskLevel domain.RiskLevel, currentReportID string, limit int) []domain.SimilarEventMatch {
	return r.SearchSimilar(ctx, similarity.Query{
		Drug:            drug,
		Event:           event,
		Symptoms:        symptoms,
		RiskLevel:       riskLevel,
		TopK:            limit,
		EscalatedOnly:   true,
		ExcludeReportID: currentReportID,
	})
}

// SearchSimilar runs an arbitrary similarity query
func (r *Recorder) SearchSimilar(ctx context.Context, q similarity.Query) []domain.SimilarEventMatch {
	if r.index == nil {
		return []domain.SimilarEventMatch{}
	}
	start := time.Now()
	matches := r.index.Query(ctx, q)
	metrics.ObserveSimilarityQuery(time.Since(start))
	return matches
}

// GetAuditLogs returns audit records newest first
func (r *Recorder) GetAuditLogs(ctx context.Context, filter domain.AuditFilter, limit, offset int) ([]*domain.AuditRecord, error) {
	if offset < 0 {
		offset = 0
	}
	records, err := r.store.Query(ctx, filter, audit.NormalizeLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	return records, nil
}

// GetAuditByReportID returns one audit record or domain.ErrNotFound
func (r *Recorder) GetAuditByReportID(ctx context.Context, reportID string) (*domain.AuditRecord, error) {
	record, err := r.store.GetByID(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit record: %w", err)
	}
	if record == nil {
		return nil, fmt.Errorf("report %s: %w", reportID, domain.ErrNotFound)
	}
	return record, nil
}

// GetAuditSummary aggregates the audit log
func (r *Recorder) GetAuditSummary(ctx context.Context) (*domain.AuditSummary, error) {
	summary, err := r.store.Summary(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize audit log: %w", err)
	}
	return summary, nil
}

// AuditStats reports audit store health
func (r *Recorder) AuditStats(ctx context.Context) domain.AuditStats {
	return r.store.Stats(ctx)
}

// IndexStats reports similarity index health. ok is false when no index is
// configured.
func (r *Recorder) IndexStats(ctx context.Context) (domain.IndexStats, bool) {
	if r.index == nil {
		return domain.IndexStats{}, false
	}
	return r.index.Stats(ctx), true
}

// Store returns the underlying audit store
func (r *Recorder) Store() audit.Store {
	return r.store
}
