// Package review stores safety officer reviews of escalation decisions.
// A review confirms or overrides the decision recorded in the audit log for
// one report; the audit log itself is never touched.
package review

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/pv-ae-server/internal/domain"
)

// Review is one safety officer's verdict on an audited case
type Review struct {
	ID               int64            `json:"id,omitempty"`
	ReportID         string           `json:"report_id"`
	SystemDecision   string           `json:"system_decision"`   // decision in the audit log
	ReviewerDecision string           `json:"reviewer_decision"` // ESCALATE or NO_ESCALATE
	Agreed           bool             `json:"agreed"`
	RiskLevel        domain.RiskLevel `json:"risk_level"`
	Reviewer         string           `json:"reviewer"`
	Notes            string           `json:"notes,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Stats summarizes reviewer agreement with the engine.
// MissedEscalations counts NO_ESCALATE cases a reviewer escalated;
// FalseEscalations counts the reverse.
type Stats struct {
	Total             int64   `json:"total"`
	Agreed            int64   `json:"agreed"`
	MissedEscalations int64   `json:"missed_escalations"`
	FalseEscalations  int64   `json:"false_escalations"`
	AgreementRate     float64 `json:"agreement_rate"`
}

// Store defines the interface for review storage operations.
type Store interface {
	// Save stores a review. A second review of the same report replaces
	// the first.
	Save(ctx context.Context, review *Review) error

	// Get returns the review for reportID, or nil if absent.
	Get(ctx context.Context, reportID string) (*Review, error)

	// List returns reviews newest first with pagination.
	List(ctx context.Context, limit, offset int) ([]*Review, error)

	// Stats aggregates every review.
	Stats(ctx context.Context) (*Stats, error)

	// ExportJSON exports all reviews to a JSON writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON imports reviews, skipping reports that already have one.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// Export represents the JSON export format.
type Export struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Reviews    []*Review `json:"reviews"`
}

const maxExportLimit = 1000000

// New builds a review of record. decision is matched case-insensitively.
func New(record *domain.AuditRecord, decision, reviewer, notes string) (*Review, error) {
	decision = strings.ToUpper(strings.TrimSpace(decision))
	if decision != domain.DecisionEscalate && decision != domain.DecisionNoEscalate {
		return nil, domain.NewValidationError("decision", "must be ESCALATE or NO_ESCALATE", decision)
	}
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return nil, domain.NewValidationError("reviewer", "is required", reviewer)
	}

	return &Review{
		ReportID:         record.ReportID,
		SystemDecision:   record.EscalationDecision,
		ReviewerDecision: decision,
		Agreed:           decision == record.EscalationDecision,
		RiskLevel:        record.RiskLevel,
		Reviewer:         reviewer,
		Notes:            strings.TrimSpace(notes),
	}, nil
}

func agreementRate(s *Stats) {
	if s.Total > 0 {
		s.AgreementRate = float64(s.Agreed) / float64(s.Total)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
