package review

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pv-ae-server/internal/domain"
)

// AuditLookup resolves a report to its audit record, returning
// domain.ErrNotFound when it was never recorded
type AuditLookup interface {
	GetAuditByReportID(ctx context.Context, reportID string) (*domain.AuditRecord, error)
}

// Service records reviews against the audit log
type Service struct {
	store  Store
	audit  AuditLookup
	logger *logrus.Logger
}

// NewService creates a review service
func NewService(store Store, audit AuditLookup, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{store: store, audit: audit, logger: logger}
}

// Store returns the underlying review store
func (s *Service) Store() Store {
	return s.store
}

// Submit reviews an audited report
func (s *Service) Submit(ctx context.Context, reportID, decision, reviewer, notes string) (*Review, error) {
	record, err := s.audit.GetAuditByReportID(ctx, reportID)
	if err != nil {
		return nil, err
	}

	r, err := New(record, decision, reviewer, notes)
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, r); err != nil {
		return nil, err
	}

	entry := s.logger.WithFields(logrus.Fields{
		"report_id":         r.ReportID,
		"system_decision":   r.SystemDecision,
		"reviewer_decision": r.ReviewerDecision,
		"reviewer":          r.Reviewer,
	})
	if r.Agreed {
		entry.Info("Escalation decision confirmed")
	} else {
		entry.Warn("Escalation decision overridden by reviewer")
	}
	return r, nil
}

// Get returns the review of a report or domain.ErrNotFound
func (s *Service) Get(ctx context.Context, reportID string) (*Review, error) {
	r, err := s.store.Get(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("review of %s: %w", reportID, domain.ErrNotFound)
	}
	return r, nil
}

// List returns reviews newest first
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Review, error) {
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, clampLimit(limit), offset)
}

// Stats aggregates reviewer agreement
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.store.Stats(ctx)
}
