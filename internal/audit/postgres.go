package audit

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

// NewPostgresStore creates a new PostgreSQL audit store.
// It expects the schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL audit store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string, config domain.DatabaseConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	maxOpen, maxIdle, lifetime := 25, 5, 5*time.Minute
	if config.MaxOpenConns > 0 {
		maxOpen = config.MaxOpenConns
	}
	if config.MaxIdleConns > 0 {
		maxIdle = config.MaxIdleConns
	}
	if config.ConnMaxLifetime > 0 {
		lifetime = config.ConnMaxLifetime
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// scanPostgresRecord scans a PostgreSQL row into an AuditRecord.
func scanPostgresRecord(s scanner) (*domain.AuditRecord, error) {
	rec := &domain.AuditRecord{}
	var symptoms, keywords, riskLevel string

	err := s.Scan(
		&rec.ID, &rec.ReportID, &rec.Timestamp, &rec.DrugName, &rec.AdverseEvent,
		&rec.MLPrediction, &rec.MLProbability, &rec.ExtractedDrug, &symptoms,
		&rec.EscalationDecision, &riskLevel, &rec.FinalScore, &rec.KeywordScore,
		&keywords, &rec.Explanation, &rec.ProcessingTimeMs,
	)
	if err != nil {
		return nil, err
	}

	rec.Timestamp = rec.Timestamp.UTC()
	rec.RiskLevel = domain.RiskLevel(riskLevel)
	rec.ExtractedSymptoms = decodeList(symptoms)
	rec.TriggeredKeywords = decodeList(keywords)
	return rec, nil
}

// Append writes a new audit record.
func (s *PostgresStore) Append(ctx context.Context, rec *domain.AuditRecord) error {
	if rec == nil || rec.ReportID == "" {
		return writeError("validate", errors.New("record with report id is required"))
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	symptoms, err := encodeList(rec.ExtractedSymptoms)
	if err != nil {
		return writeError("encode symptoms", err)
	}
	keywords, err := encodeList(rec.TriggeredKeywords)
	if err != nil {
		return writeError("encode keywords", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO audit_log (
			report_id, timestamp, drugname, adverse_event,
			ml_prediction, ml_probability, extracted_drug, extracted_symptoms,
			escalation_decision, risk_level, final_score, keyword_score,
			triggered_keywords, explanation, processing_time_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`,
		rec.ReportID,
		rec.Timestamp.UTC(),
		rec.DrugName,
		rec.AdverseEvent,
		rec.MLPrediction,
		rec.MLProbability,
		rec.ExtractedDrug,
		symptoms,
		rec.EscalationDecision,
		string(rec.RiskLevel),
		rec.FinalScore,
		rec.KeywordScore,
		keywords,
		rec.Explanation,
		rec.ProcessingTimeMs,
	).Scan(&rec.ID)
	if err != nil {
		return writeError("insert", err)
	}
	return nil
}

// Query returns records matching filter, newest first.
func (s *PostgresStore) Query(ctx context.Context, filter domain.AuditFilter, limit, offset int) ([]*domain.AuditRecord, error) {
	if offset < 0 {
		offset = 0
	}
	return s.query(ctx, filter, newestFirst, NormalizeLimit(limit), offset)
}

// Scan returns records after afterID in id order.
func (s *PostgresStore) Scan(ctx context.Context, filter domain.AuditFilter, afterID int64, limit int) ([]*domain.AuditRecord, error) {
	filter.AfterID = afterID
	return s.query(ctx, filter, byID, NormalizeLimit(limit), 0)
}

func (s *PostgresStore) query(ctx context.Context, filter domain.AuditFilter, order string, limit, offset int) ([]*domain.AuditRecord, error) {
	where, args := whereClause(filter, postgresPlaceholder, postgresTime)
	n := len(args)
	args = append(args, limit, offset)

	query := fmt.Sprintf("SELECT%s FROM audit_log%s ORDER BY %s LIMIT $%d OFFSET $%d",
		selectColumns, where, order, n+1, n+2)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	result := []*domain.AuditRecord{}
	for rows.Next() {
		rec, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// GetByID retrieves a record by report ID.
func (s *PostgresStore) GetByID(ctx context.Context, reportID string) (*domain.AuditRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT"+selectColumns+" FROM audit_log WHERE report_id = $1 LIMIT 1", reportID)

	rec, err := scanPostgresRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit record: %w", err)
	}
	return rec, nil
}

// Summary aggregates the whole log.
func (s *PostgresStore) Summary(ctx context.Context) (*domain.AuditSummary, error) {
	return summarize(ctx, s.db)
}

// Stats reports connectivity and headline counts.
func (s *PostgresStore) Stats(ctx context.Context) domain.AuditStats {
	stats := headlineStats(ctx, s.db)
	stats.Backend = "postgres"
	return stats
}

// ExportJSON exports every record matching filter to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, filter domain.AuditFilter, writer io.Writer) error {
	records, err := s.query(ctx, filter, newestFirst, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list audit records: %w", err)
	}
	return writeExport(records, writer)
}

// DB exposes the connection for migrations and the pgvector backend
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func postgresPlaceholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func postgresTime(t time.Time) interface{} {
	return t.UTC()
}
