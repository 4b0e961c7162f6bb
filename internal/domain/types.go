package domain

import (
	"time"
)

// RiskLevel is the escalation risk band derived from the final score
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
	RiskUnknown  RiskLevel = "UNKNOWN"
)

// IsValid reports whether r is one of the four decision bands
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// RequiresEmail reports whether the band warrants an escalation email
func (r RiskLevel) RequiresEmail() bool {
	return r == RiskHigh || r == RiskCritical
}

// ParseRiskLevel converts user input into a RiskLevel
func ParseRiskLevel(s string) (RiskLevel, error) {
	r := RiskLevel(s)
	if !r.IsValid() {
		return "", NewValidationError("risk_level", "must be one of LOW, MEDIUM, HIGH, CRITICAL", s)
	}
	return r, nil
}

// Escalation decisions as persisted in the audit log and similarity index
const (
	DecisionEscalate   = "ESCALATE"
	DecisionNoEscalate = "NO_ESCALATE"
	DecisionQuery      = "QUERY"
)

// Seriousness predictions
const (
	PredictionSerious    = "Serious"
	PredictionNonSerious = "Non-Serious"
	PredictionUnknown    = "Unknown"
)

// EscalationResult is the immutable outcome of the escalation engine
type EscalationResult struct {
	ShouldEscalate    bool      `json:"should_escalate"`
	FinalScore        float64   `json:"final_score"`
	MLProbability     float64   `json:"ml_probability"`
	KeywordScore      float64   `json:"keyword_score"`
	TriggeredKeywords []string  `json:"triggered_keywords"`
	RiskLevel         RiskLevel `json:"risk_level"`
	Explanation       string    `json:"explanation"`
}

// Decision returns the persisted form of ShouldEscalate
func (r *EscalationResult) Decision() string {
	if r.ShouldEscalate {
		return DecisionEscalate
	}
	return DecisionNoEscalate
}

// MLPrediction is the classifier output consumed by the escalation engine
type MLPrediction struct {
	Prediction            string  `json:"prediction"`
	SeriousProbability    float64 `json:"serious_probability"`
	NonSeriousProbability float64 `json:"non_serious_probability"`
	Confidence            float64 `json:"confidence"`
	Reason                string  `json:"reason,omitempty"`
}

// Entities are the drug and symptoms extracted from a narrative
type Entities struct {
	Drug             string   `json:"drug"`
	Symptoms         []string `json:"symptoms"`
	ExtractionMethod string   `json:"extraction_method"`
}

// DrugValidation is the result of drug name normalization
type DrugValidation struct {
	Input         string `json:"input"`
	RxCUI         string `json:"rxcui,omitempty"`
	CanonicalName string `json:"canonical_name"`
	Source        string `json:"source"`
}

// DrugInfo is FDA label information for a drug
type DrugInfo struct {
	Source           string `json:"source"`
	Indications      string `json:"indications"`
	Warnings         string `json:"warnings"`
	AdverseReactions string `json:"adverse_reactions"`
}

// AuditRecord is one immutable entry in the compliance log
type AuditRecord struct {
	ID                 int64     `json:"id,omitempty"`
	ReportID           string    `json:"report_id"`
	Timestamp          time.Time `json:"timestamp"`
	DrugName           string    `json:"drugname"`
	AdverseEvent       string    `json:"adverse_event"`
	MLPrediction       string    `json:"ml_prediction"`
	MLProbability      float64   `json:"ml_probability"`
	ExtractedDrug      string    `json:"extracted_drug"`
	ExtractedSymptoms  []string  `json:"extracted_symptoms"`
	EscalationDecision string    `json:"escalation_decision"`
	RiskLevel          RiskLevel `json:"risk_level"`
	FinalScore         float64   `json:"final_score"`
	KeywordScore       float64   `json:"keyword_score"`
	TriggeredKeywords  []string  `json:"triggered_keywords"`
	Explanation        string    `json:"explanation"`
	ProcessingTimeMs   float64   `json:"processing_time_ms"`
}

// Escalated reports whether the record was escalated
func (r *AuditRecord) Escalated() bool {
	return r.EscalationDecision == DecisionEscalate
}

// AuditFilter narrows an audit query. Dates are inclusive at day granularity.
type AuditFilter struct {
	RiskLevel     RiskLevel  `json:"risk_level,omitempty"`
	EscalatedOnly bool       `json:"escalated_only"`
	StartDate     *time.Time `json:"start_date,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	// AfterID keeps only rows with a larger storage id; used by id-keyed scans.
	AfterID int64 `json:"-"`
}

// AuditSummary aggregates the audit log
type AuditSummary struct {
	TotalProcessed      int64               `json:"total_processed"`
	ByRiskLevel         map[RiskLevel]int64 `json:"by_risk_level"`
	EscalationRate      float64             `json:"escalation_rate"`
	AvgProcessingTimeMs float64             `json:"avg_processing_time_ms"`
}

// AuditStats is the health view of the audit database
type AuditStats struct {
	Connected    bool   `json:"connected"`
	TotalRecords int64  `json:"total_records"`
	Escalated    int64  `json:"escalated"`
	Critical     int64  `json:"critical"`
	Backend      string `json:"backend"`
}

// SimilarEventMatch is a prior case returned by the similarity index
type SimilarEventMatch struct {
	ReportID        string    `json:"report_id"`
	DrugName        string    `json:"drugname"`
	CanonicalText   string    `json:"canonical_text"`
	Timestamp       time.Time `json:"timestamp"`
	RiskLevel       RiskLevel `json:"risk_level"`
	MLProbability   float64   `json:"ml_probability"`
	AllSymptoms     []string  `json:"all_symptoms"`
	MatchedSymptoms []string  `json:"matched_symptoms"`
	Distance        float64   `json:"vector_distance"`
}

// IndexStats describes the similarity index
type IndexStats struct {
	TotalIndexed int64  `json:"total_indexed"`
	Backend      string `json:"backend"`
	Model        string `json:"model"`
	Dimensions   int    `json:"embedding_dimensions"`
}

// ModelInfo describes the seriousness classifier
type ModelInfo struct {
	Loaded           bool     `json:"loaded"`
	ModelType        string   `json:"model_type,omitempty"`
	Classes          []string `json:"classes,omitempty"`
	Endpoint         string   `json:"endpoint,omitempty"`
	SeriousThreshold float64  `json:"serious_threshold"`
	OverrideKeywords int      `json:"override_keywords"`
}

// Alert is an escalation notice fanned out to live subscribers
type Alert struct {
	ReportID    string    `json:"report_id"`
	Drug        string    `json:"drug"`
	RiskLevel   RiskLevel `json:"risk_level"`
	Event       string    `json:"adverse_event"`
	Explanation string    `json:"explanation"`
	RaisedAt    time.Time `json:"raised_at"`
}

// EmailNotification records the outcome of an escalation email
type EmailNotification struct {
	Attempted bool       `json:"attempted"`
	Sent      bool       `json:"sent"`
	Recipient string     `json:"recipient,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Error     string     `json:"error,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}
