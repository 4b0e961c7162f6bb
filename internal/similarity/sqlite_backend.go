package similarity

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pv-ae-server/internal/domain"
)

const sqliteTimeLayout = "2006-01-02 15:04:05.000000"

// SQLiteBackend keeps embeddings as BLOBs and ranks them in process
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the index database at dbPath
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return newSQLiteBackend(db)
}

func newSQLiteBackend(db *sql.DB) (*SQLiteBackend, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS similar_events (
			report_id TEXT PRIMARY KEY,
			drugname TEXT NOT NULL,
			canonical_text TEXT NOT NULL,
			risk_level TEXT NOT NULL DEFAULT '',
			escalation_decision TEXT NOT NULL DEFAULT '',
			ml_probability REAL NOT NULL DEFAULT 0,
			symptoms TEXT NOT NULL DEFAULT '[]',
			indexed_at TEXT NOT NULL,
			embedding_model TEXT NOT NULL DEFAULT '',
			embedding BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_similar_events_decision ON similar_events(escalation_decision);
	`)
	if err == nil {
		err = addModelColumn(db)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// addModelColumn upgrades index files created before embedding_model existed.
// Their rows keep an empty model and stop matching until re-indexed.
func addModelColumn(db *sql.DB) error {
	rows, err := db.Query("SELECT name FROM pragma_table_info('similar_events')")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == "embedding_model" {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = db.Exec("ALTER TABLE similar_events ADD COLUMN embedding_model TEXT NOT NULL DEFAULT ''")
	return err
}

// Upsert replaces the row for rec.ReportID
func (b *SQLiteBackend) Upsert(ctx context.Context, rec Record) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO similar_events (
			report_id, drugname, canonical_text, risk_level, escalation_decision,
			ml_probability, symptoms, indexed_at, embedding_model, embedding
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(report_id) DO UPDATE SET
			drugname = excluded.drugname,
			canonical_text = excluded.canonical_text,
			risk_level = excluded.risk_level,
			escalation_decision = excluded.escalation_decision,
			ml_probability = excluded.ml_probability,
			symptoms = excluded.symptoms,
			indexed_at = excluded.indexed_at,
			embedding_model = excluded.embedding_model,
			embedding = excluded.embedding
	`,
		rec.ReportID,
		rec.DrugName,
		rec.CanonicalText,
		string(rec.RiskLevel),
		rec.Decision,
		rec.MLProbability,
		encodeSymptoms(rec.Symptoms),
		indexedAt(rec.Timestamp).Format(sqliteTimeLayout),
		rec.Model,
		encodeVector(rec.Embedding),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", rec.ReportID, err)
	}
	return nil
}

// Search scans filtered rows and returns the limit nearest by cosine distance.
// Rows embedded by another model, with other dimensions, or with an
// unreadable indexed_at are skipped.
func (b *SQLiteBackend) Search(ctx context.Context, vec []float32, filter SearchFilter, limit int) ([]Candidate, error) {
	query := `SELECT report_id, drugname, canonical_text, risk_level, escalation_decision,
		ml_probability, symptoms, indexed_at, embedding_model, embedding
		FROM similar_events WHERE report_id != ? AND embedding_model = ?`
	args := []interface{}{filter.ExcludeReportID, filter.Model}
	if filter.EscalatedOnly {
		query += " AND escalation_decision = ?"
		args = append(args, domain.DecisionEscalate)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		var risk, symptoms, ts string
		var blob []byte
		if err := rows.Scan(&c.ReportID, &c.DrugName, &c.CanonicalText, &risk, &c.Decision,
			&c.MLProbability, &symptoms, &ts, &c.Model, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan index row: %w", err)
		}

		c.Embedding, err = decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("report %s: %w", c.ReportID, err)
		}
		if len(c.Embedding) != len(vec) {
			continue
		}
		c.Timestamp, err = time.ParseInLocation(sqliteTimeLayout, ts, time.UTC)
		if err != nil {
			continue
		}
		c.RiskLevel = domain.RiskLevel(risk)
		c.Symptoms = decodeSymptoms(symptoms)
		c.Distance = cosineDistance(vec, c.Embedding)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].ReportID < candidates[j].ReportID
	})
	if limit >= 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// Count returns the number of indexed entries
func (b *SQLiteBackend) Count(ctx context.Context) (int64, error) {
	var n int64
	err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM similar_events").Scan(&n)
	return n, err
}

// Name identifies the backend
func (b *SQLiteBackend) Name() string {
	return "sqlite"
}

// Close closes the database
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
