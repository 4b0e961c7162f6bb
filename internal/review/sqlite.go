package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pv-ae-server/internal/domain"
)

const timestampLayout = "2006-01-02 15:04:05.000000"

// SQLiteStore implements the Store interface using SQLite. It may share a
// database file with the audit log.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite review store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

const selectColumns = `
	id, report_id, system_decision, reviewer_decision, agreed,
	risk_level, reviewer, notes, created_at, updated_at`

func scanReview(s scanner) (*Review, error) {
	r := &Review{}
	var riskLevel, created, updated string

	err := s.Scan(
		&r.ID, &r.ReportID, &r.SystemDecision, &r.ReviewerDecision, &r.Agreed,
		&riskLevel, &r.Reviewer, &r.Notes, &created, &updated,
	)
	if err != nil {
		return nil, err
	}

	r.RiskLevel = domain.RiskLevel(riskLevel)
	if r.CreatedAt, err = time.ParseInLocation(timestampLayout, created, time.UTC); err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", created, err)
	}
	if r.UpdatedAt, err = time.ParseInLocation(timestampLayout, updated, time.UTC); err != nil {
		return nil, fmt.Errorf("invalid updated_at %q: %w", updated, err)
	}
	return r, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS case_reviews (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		report_id TEXT NOT NULL UNIQUE,
		system_decision TEXT NOT NULL,
		reviewer_decision TEXT NOT NULL,
		agreed INTEGER NOT NULL DEFAULT 0,
		risk_level TEXT NOT NULL DEFAULT '',
		reviewer TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_review_created_at ON case_reviews(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Save stores or replaces the review for a report.
func (s *SQLiteStore) Save(ctx context.Context, review *Review) error {
	now := time.Now().UTC()
	stamp := now.Format(timestampLayout)

	var id int64
	var created string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO case_reviews (
			report_id, system_decision, reviewer_decision, agreed,
			risk_level, reviewer, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(report_id) DO UPDATE SET
			system_decision = excluded.system_decision,
			reviewer_decision = excluded.reviewer_decision,
			agreed = excluded.agreed,
			risk_level = excluded.risk_level,
			reviewer = excluded.reviewer,
			notes = excluded.notes,
			updated_at = excluded.updated_at
		RETURNING id, created_at
	`,
		review.ReportID,
		review.SystemDecision,
		review.ReviewerDecision,
		review.Agreed,
		string(review.RiskLevel),
		review.Reviewer,
		review.Notes,
		stamp,
		stamp,
	).Scan(&id, &created)
	if err != nil {
		return fmt.Errorf("failed to save review: %w", err)
	}

	review.ID = id
	review.UpdatedAt = now
	if review.CreatedAt, err = time.ParseInLocation(timestampLayout, created, time.UTC); err != nil {
		return fmt.Errorf("invalid created_at %q: %w", created, err)
	}
	return nil
}

// Get retrieves the review for a report.
func (s *SQLiteStore) Get(ctx context.Context, reportID string) (*Review, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT"+selectColumns+" FROM case_reviews WHERE report_id = ?", reportID)

	r, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return r, nil
}

// List returns reviews newest first.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Review, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT"+selectColumns+" FROM case_reviews ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	result := []*Review{}
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Stats aggregates every review.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(agreed), 0),
			COALESCE(SUM(CASE WHEN system_decision = ? AND reviewer_decision = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN system_decision = ? AND reviewer_decision = ? THEN 1 ELSE 0 END), 0)
		FROM case_reviews
	`,
		domain.DecisionNoEscalate, domain.DecisionEscalate,
		domain.DecisionEscalate, domain.DecisionNoEscalate,
	).Scan(&stats.Total, &stats.Agreed, &stats.MissedEscalations, &stats.FalseEscalations)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate reviews: %w", err)
	}
	agreementRate(stats)
	return stats, nil
}

// ExportJSON exports all reviews to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list reviews: %w", err)
	}
	return writeExport(all, writer)
}

// ImportJSON imports reviews from a JSON reader.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (int, int, error) {
	return importReviews(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func writeExport(reviews []*Review, writer io.Writer) error {
	export := &Export{
		Version:    "1.0",
		ExportedAt: time.Now().UTC(),
		Count:      len(reviews),
		Reviews:    reviews,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

func importReviews(ctx context.Context, store Store, reader io.Reader) (imported int, skipped int, err error) {
	var export Export
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, r := range export.Reviews {
		existing, err := store.Get(ctx, r.ReportID)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}
		if existing != nil {
			skipped++
			continue
		}

		if err := store.Save(ctx, r); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}
