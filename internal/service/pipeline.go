package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pv-ae-server/internal/domain"
	"github.com/pv-ae-server/internal/escalation"
	"github.com/pv-ae-server/internal/metrics"
	"github.com/pv-ae-server/internal/notify"
)

// SimilarEventsLimit is the number of prior cases attached to an escalation
const SimilarEventsLimit = 5

const fallbackReason = "Classifier unavailable: neutral probability used"

// ProcessRequest is one adverse event report
type ProcessRequest struct {
	DrugName     string `json:"drugname" binding:"required"`
	AdverseEvent string `json:"adverse_event"`
}

// ProcessResult is everything decided and recorded for one report
type ProcessResult struct {
	ReportID          string                     `json:"report_id"`
	Timestamp         time.Time                  `json:"timestamp"`
	DrugName          string                     `json:"drugname"`
	AdverseEvent      string                     `json:"adverse_event"`
	Validation        *domain.DrugValidation     `json:"validation,omitempty"`
	Classification    domain.MLPrediction        `json:"classification"`
	Entities          domain.Entities            `json:"entities"`
	Escalation        domain.EscalationResult    `json:"escalation"`
	ProcessingTimeMs  float64                    `json:"processing_time_ms"`
	EmailNotification domain.EmailNotification   `json:"email_notification"`
	SimilarEvents     []domain.SimilarEventMatch `json:"similar_events"`
	DrugInfo          *domain.DrugInfo           `json:"drug_info,omitempty"`
	Recording         LogResult                  `json:"recording"`
}

// Pipeline sequences the processing of one report: validate the drug,
// classify, extract entities, evaluate escalation, record, notify and
// retrieve similar cases.
type Pipeline struct {
	validator  domain.DrugValidator
	drugInfo   domain.DrugInfoProvider
	classifier domain.SeriousnessClassifier
	extractor  domain.EntityExtractor
	engine     *escalation.Engine
	recorder   *Recorder
	alerts     domain.AlertNotifier
	email      domain.EmailNotifier
	logger     *logrus.Logger
	now        func() time.Time
}

// PipelineDeps are the collaborators of a Pipeline. DrugInfo, Alerts and
// Email are optional.
type PipelineDeps struct {
	Validator  domain.DrugValidator
	DrugInfo   domain.DrugInfoProvider
	Classifier domain.SeriousnessClassifier
	Extractor  domain.EntityExtractor
	Engine     *escalation.Engine
	Recorder   *Recorder
	Alerts     domain.AlertNotifier
	Email      domain.EmailNotifier
}

// NewPipeline creates a pipeline
func NewPipeline(deps PipelineDeps, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	engine := deps.Engine
	if engine == nil {
		engine = escalation.NewEngine()
	}
	return &Pipeline{
		validator:  deps.Validator,
		drugInfo:   deps.DrugInfo,
		classifier: deps.Classifier,
		extractor:  deps.Extractor,
		engine:     engine,
		recorder:   deps.Recorder,
		alerts:     deps.Alerts,
		email:      deps.Email,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Recorder returns the pipeline's recorder
func (p *Pipeline) Recorder() *Recorder {
	return p.recorder
}

// Engine returns the escalation engine
func (p *Pipeline) Engine() *escalation.Engine {
	return p.engine
}

// Process runs one report through the pipeline. An invalid drug returns a
// validation error before anything else runs. When the audit append fails
// the result still carries the decision and the error wraps
// domain.ErrNotRecorded.
func (p *Pipeline) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	start := time.Now()

	// Step 1: validate and normalize the drug name
	validation, err := p.validator.Validate(ctx, req.DrugName)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidDrug) {
			return nil, domain.NewValidationError("drugname", fmt.Sprintf("Invalid drug name '%s'", req.DrugName), req.DrugName)
		}
		return nil, err
	}
	drug := validation.CanonicalName
	if strings.TrimSpace(drug) == "" {
		drug = req.DrugName
	}

	result := &ProcessResult{
		DrugName:     drug,
		AdverseEvent: req.AdverseEvent,
		Validation:   validation,
	}

	if p.drugInfo != nil {
		info, err := p.drugInfo.GetDrugInfo(ctx, drug)
		if err != nil {
			p.logger.WithError(err).WithField("drug", drug).Debug("Drug information unavailable")
		} else {
			result.DrugInfo = info
		}
	}

	// Step 2: classify seriousness, degrading to the neutral probability
	result.Classification = p.classify(ctx, drug, req.AdverseEvent)

	// Step 3: extract entities
	result.Entities = p.extract(ctx, drug, req.AdverseEvent)

	// Step 4: evaluate escalation
	result.Escalation = p.engine.Evaluate(
		result.Classification.SeriousProbability,
		drug,
		req.AdverseEvent,
		result.Entities.Symptoms,
	)

	elapsed := time.Since(start)
	result.ProcessingTimeMs = float64(elapsed.Microseconds()) / 1000
	// one reading for the id, the audit row and the alert; the audit
	// store keeps microseconds
	now := p.now().UTC().Truncate(time.Microsecond)
	result.Timestamp = now
	result.ReportID = NewReportID(now)

	// Step 5: audit first, then index
	result.Recording = p.recorder.LogProcessing(ctx, LogRequest{
		ReportID:         result.ReportID,
		DrugName:         drug,
		AdverseEvent:     req.AdverseEvent,
		Prediction:       &result.Classification,
		Entities:         &result.Entities,
		Escalation:       result.Escalation,
		ProcessingTimeMs: result.ProcessingTimeMs,
		Timestamp:        now,
	})
	if !result.Recording.Recorded() {
		result.SimilarEvents = []domain.SimilarEventMatch{}
		return result, fmt.Errorf("%w: %s: %v", domain.ErrNotRecorded, result.ReportID, result.Recording.Audit.Err())
	}

	metrics.RecordReport(string(result.Escalation.RiskLevel), result.Escalation.Decision(), time.Since(start))

	alert := domain.Alert{
		ReportID:    result.ReportID,
		Drug:        drug,
		RiskLevel:   result.Escalation.RiskLevel,
		Event:       req.AdverseEvent,
		Explanation: result.Escalation.Explanation,
		RaisedAt:    now,
	}

	// Step 6: alert on escalation
	if result.Escalation.ShouldEscalate && p.alerts != nil {
		if err := p.alerts.TriggerAlert(ctx, alert); err != nil {
			p.logger.WithError(err).WithField("report_id", result.ReportID).Warn("Alert delivery incomplete")
		}
	}

	// Step 7: escalation email for HIGH and CRITICAL
	result.EmailNotification = p.sendEmail(ctx, alert)

	// Step 8: similar prior escalations
	result.SimilarEvents = []domain.SimilarEventMatch{}
	if result.Classification.Prediction == domain.PredictionSerious && result.Escalation.ShouldEscalate {
		result.SimilarEvents = p.recorder.GetSimilarSeriousEvents(
			ctx,
			drug,
			req.AdverseEvent,
			result.Entities.Symptoms,
			result.Escalation.RiskLevel,
			result.ReportID,
			SimilarEventsLimit,
		)
	}

	p.logger.WithFields(logrus.Fields{
		"report_id":      result.ReportID,
		"drug":           drug,
		"risk_level":     result.Escalation.RiskLevel,
		"escalated":      result.Escalation.ShouldEscalate,
		"final_score":    result.Escalation.FinalScore,
		"similar_events": len(result.SimilarEvents),
		"indexed":        result.Recording.Index.OK,
	}).Info("Report processed")

	return result, nil
}

// Evaluate runs only the escalation engine
func (p *Pipeline) Evaluate(mlProbability float64, drug, event string, symptoms []string) domain.EscalationResult {
	return p.engine.Evaluate(mlProbability, drug, event, symptoms)
}

func (p *Pipeline) classify(ctx context.Context, drug, event string) domain.MLPrediction {
	if p.classifier != nil {
		pred, err := p.classifier.Predict(ctx, drug, event)
		if err == nil && pred != nil {
			return *pred
		}
		p.logger.WithError(err).WithField("drug", drug).Warn("Classifier unavailable, using neutral probability")
	}

	metrics.RecordClassifierFallback()
	return domain.MLPrediction{
		Prediction:            domain.PredictionUnknown,
		SeriousProbability:    escalation.NeutralProbability,
		NonSeriousProbability: 1 - escalation.NeutralProbability,
		Confidence:            escalation.NeutralProbability,
		Reason:                fallbackReason,
	}
}

func (p *Pipeline) extract(ctx context.Context, drug, event string) domain.Entities {
	var entities *domain.Entities
	if p.extractor != nil {
		entities = p.extractor.Extract(ctx, drug, event)
	}
	if entities == nil {
		return domain.Entities{Drug: drug, Symptoms: []string{}, ExtractionMethod: "none"}
	}
	if entities.Symptoms == nil {
		entities.Symptoms = []string{}
	}
	return *entities
}

func (p *Pipeline) sendEmail(ctx context.Context, alert domain.Alert) domain.EmailNotification {
	if !alert.RiskLevel.RequiresEmail() {
		metrics.RecordEmail("skipped")
		return domain.EmailNotification{Reason: notify.ReasonBelowThreshold}
	}
	if p.email == nil {
		metrics.RecordEmail("skipped")
		return domain.EmailNotification{Reason: notify.ReasonNotConfigured}
	}

	outcome := p.email.SendEscalation(ctx, alert)
	switch {
	case outcome.Sent:
		metrics.RecordEmail("sent")
	case outcome.Attempted:
		metrics.RecordEmail("failed")
	default:
		metrics.RecordEmail("skipped")
	}
	return outcome
}
