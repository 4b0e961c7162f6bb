package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pv-ae-server/internal/domain"
)

// timestampLayout is fixed-width UTC so text comparison orders correctly
const timestampLayout = "2006-01-02 15:04:05.000000"

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite audit store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection: WAL lets readers
	// proceed during writes and busy_timeout bounds lock waits.
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=temp_store(MEMORY)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

const selectColumns = `
	id, report_id, timestamp, drugname, adverse_event,
	ml_prediction, ml_probability, extracted_drug, extracted_symptoms,
	escalation_decision, risk_level, final_score, keyword_score,
	triggered_keywords, explanation, processing_time_ms`

// scanRecord scans a SQLite row into an AuditRecord.
func scanRecord(s scanner) (*domain.AuditRecord, error) {
	rec := &domain.AuditRecord{}
	var ts, symptoms, keywords, riskLevel string

	err := s.Scan(
		&rec.ID, &rec.ReportID, &ts, &rec.DrugName, &rec.AdverseEvent,
		&rec.MLPrediction, &rec.MLProbability, &rec.ExtractedDrug, &symptoms,
		&rec.EscalationDecision, &riskLevel, &rec.FinalScore, &rec.KeywordScore,
		&keywords, &rec.Explanation, &rec.ProcessingTimeMs,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := time.ParseInLocation(timestampLayout, ts, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", ts, err)
	}
	rec.Timestamp = parsed
	rec.RiskLevel = domain.RiskLevel(riskLevel)
	rec.ExtractedSymptoms = decodeList(symptoms)
	rec.TriggeredKeywords = decodeList(keywords)
	return rec, nil
}

// createSchema creates the audit table and indexes. Columns are only ever
// added, never changed or dropped.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		report_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		drugname TEXT NOT NULL,
		adverse_event TEXT NOT NULL,
		ml_prediction TEXT NOT NULL DEFAULT '',
		ml_probability REAL NOT NULL DEFAULT 0,
		extracted_drug TEXT NOT NULL DEFAULT '',
		extracted_symptoms TEXT NOT NULL DEFAULT '[]',
		escalation_decision TEXT NOT NULL DEFAULT '',
		risk_level TEXT NOT NULL DEFAULT '',
		final_score REAL NOT NULL DEFAULT 0,
		keyword_score REAL NOT NULL DEFAULT 0,
		triggered_keywords TEXT NOT NULL DEFAULT '[]',
		explanation TEXT NOT NULL DEFAULT '',
		processing_time_ms REAL NOT NULL DEFAULT 0
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_audit_report_id ON audit_log(report_id);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_risk_level ON audit_log(risk_level);
	`

	_, err := db.Exec(schema)
	return err
}

// Append writes a new audit record.
func (s *SQLiteStore) Append(ctx context.Context, rec *domain.AuditRecord) error {
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

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (
			report_id, timestamp, drugname, adverse_event,
			ml_prediction, ml_probability, extracted_drug, extracted_symptoms,
			escalation_decision, risk_level, final_score, keyword_score,
			triggered_keywords, explanation, processing_time_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ReportID,
		rec.Timestamp.UTC().Format(timestampLayout),
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
	)
	if err != nil {
		return writeError("insert", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// Query returns records matching filter, newest first.
func (s *SQLiteStore) Query(ctx context.Context, filter domain.AuditFilter, limit, offset int) ([]*domain.AuditRecord, error) {
	where, args := whereClause(filter, func(int) string { return "?" }, sqliteTime)
	if offset < 0 {
		offset = 0
	}
	args = append(args, NormalizeLimit(limit), offset)

	return s.query(ctx, where, newestFirst, args)
}

// Scan returns records after afterID in id order.
func (s *SQLiteStore) Scan(ctx context.Context, filter domain.AuditFilter, afterID int64, limit int) ([]*domain.AuditRecord, error) {
	filter.AfterID = afterID
	where, args := whereClause(filter, func(int) string { return "?" }, sqliteTime)
	args = append(args, NormalizeLimit(limit), 0)

	return s.query(ctx, where, byID, args)
}

func (s *SQLiteStore) query(ctx context.Context, where, order string, args []interface{}) ([]*domain.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT"+selectColumns+" FROM audit_log"+where+" ORDER BY "+order+" LIMIT ? OFFSET ?",
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	result := []*domain.AuditRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// GetByID retrieves a record by report ID.
func (s *SQLiteStore) GetByID(ctx context.Context, reportID string) (*domain.AuditRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT"+selectColumns+" FROM audit_log WHERE report_id = ? LIMIT 1", reportID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return rec, nil
}

// Summary aggregates the whole log.
func (s *SQLiteStore) Summary(ctx context.Context) (*domain.AuditSummary, error) {
	return summarize(ctx, s.db)
}

// Stats reports connectivity and headline counts.
func (s *SQLiteStore) Stats(ctx context.Context) domain.AuditStats {
	stats := headlineStats(ctx, s.db)
	stats.Backend = "sqlite"
	return stats
}

// ExportJSON exports every record matching filter to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, filter domain.AuditFilter, writer io.Writer) error {
	where, args := whereClause(filter, func(int) string { return "?" }, sqliteTime)
	args = append(args, maxExportLimit, 0)

	records, err := s.query(ctx, where, newestFirst, args)
	if err != nil {
		return fmt.Errorf("failed to list audit records: %w", err)
	}
	return writeExport(records, writer)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func sqliteTime(t time.Time) interface{} {
	return t.UTC().Format(timestampLayout)
}

// summarize runs the aggregate queries shared by both backends. The queries
// use no bind parameters so they are portable.
func summarize(ctx context.Context, db *sql.DB) (*domain.AuditSummary, error) {
	summary := &domain.AuditSummary{ByRiskLevel: map[domain.RiskLevel]int64{}}

	var escalated sql.NullInt64
	var avg sql.NullFloat64
	err := db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			SUM(CASE WHEN escalation_decision = 'ESCALATE' THEN 1 ELSE 0 END),
			AVG(processing_time_ms)
		FROM audit_log
	`).Scan(&summary.TotalProcessed, &escalated, &avg)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate audit log: %w", err)
	}

	if summary.TotalProcessed > 0 {
		summary.EscalationRate = float64(escalated.Int64) / float64(summary.TotalProcessed)
	}
	if avg.Valid {
		summary.AvgProcessingTimeMs = avg.Float64
	}

	rows, err := db.QueryContext(ctx, "SELECT risk_level, COUNT(*) FROM audit_log GROUP BY risk_level")
	if err != nil {
		return nil, fmt.Errorf("failed to group by risk level: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var level string
		var count int64
		if err := rows.Scan(&level, &count); err != nil {
			return nil, fmt.Errorf("failed to scan risk level count: %w", err)
		}
		summary.ByRiskLevel[domain.RiskLevel(level)] = count
	}
	return summary, rows.Err()
}

// headlineStats never fails; an unreachable database reports Connected=false
func headlineStats(ctx context.Context, db *sql.DB) domain.AuditStats {
	var stats domain.AuditStats
	err := db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN escalation_decision = 'ESCALATE' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN risk_level = 'CRITICAL' THEN 1 ELSE 0 END), 0)
		FROM audit_log
	`).Scan(&stats.TotalRecords, &stats.Escalated, &stats.Critical)
	if err != nil {
		return domain.AuditStats{}
	}
	stats.Connected = true
	return stats
}
