package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"

	"github.com/pv-ae-server/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL review store.
// It expects the schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL review store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func scanPostgresReview(s scanner) (*Review, error) {
	r := &Review{}
	var riskLevel string

	err := s.Scan(
		&r.ID, &r.ReportID, &r.SystemDecision, &r.ReviewerDecision, &r.Agreed,
		&riskLevel, &r.Reviewer, &r.Notes, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.RiskLevel = domain.RiskLevel(riskLevel)
	return r, nil
}

// Save stores or replaces the review for a report.
func (s *PostgresStore) Save(ctx context.Context, review *Review) error {
	now := time.Now().UTC()

	query := `
		INSERT INTO case_reviews (
			report_id, system_decision, reviewer_decision, agreed,
			risk_level, reviewer, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (report_id) DO UPDATE SET
			system_decision = EXCLUDED.system_decision,
			reviewer_decision = EXCLUDED.reviewer_decision,
			agreed = EXCLUDED.agreed,
			risk_level = EXCLUDED.risk_level,
			reviewer = EXCLUDED.reviewer,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		review.ReportID,
		review.SystemDecision,
		review.ReviewerDecision,
		review.Agreed,
		string(review.RiskLevel),
		review.Reviewer,
		review.Notes,
		now,
		now,
	).Scan(&review.ID, &review.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save review: %w", err)
	}

	review.UpdatedAt = now
	return nil
}

// Get retrieves the review for a report.
func (s *PostgresStore) Get(ctx context.Context, reportID string) (*Review, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT"+selectColumns+" FROM case_reviews WHERE report_id = $1", reportID)

	r, err := scanPostgresReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review: %w", err)
	}
	return r, nil
}

// List returns reviews newest first.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Review, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT"+selectColumns+" FROM case_reviews ORDER BY updated_at DESC, id DESC LIMIT $1 OFFSET $2",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	result := []*Review{}
	for rows.Next() {
		r, err := scanPostgresReview(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Stats aggregates every review.
func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE agreed),
			COUNT(*) FILTER (WHERE system_decision = $1 AND reviewer_decision = $2),
			COUNT(*) FILTER (WHERE system_decision = $2 AND reviewer_decision = $1)
		FROM case_reviews
	`, domain.DecisionNoEscalate, domain.DecisionEscalate,
	).Scan(&stats.Total, &stats.Agreed, &stats.MissedEscalations, &stats.FalseEscalations)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate reviews: %w", err)
	}
	agreementRate(stats)
	return stats, nil
}

// ExportJSON exports all reviews to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list reviews: %w", err)
	}
	return writeExport(all, writer)
}

// ImportJSON imports reviews from a JSON reader.
func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (int, int, error) {
	return importReviews(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
