package similarity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pv-ae-server/internal/domain"
)

// PgVectorBackend ranks entries inside PostgreSQL with the pgvector cosine
// distance operator. The similar_events table is created by migrations.
type PgVectorBackend struct {
	pool *pgxpool.Pool
}

// NewPgVectorBackend wraps an existing pool
func NewPgVectorBackend(pool *pgxpool.Pool) *PgVectorBackend {
	return &PgVectorBackend{pool: pool}
}

// Upsert replaces the row for rec.ReportID
func (b *PgVectorBackend) Upsert(ctx context.Context, rec Record) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO similar_events (
			report_id, drugname, canonical_text, risk_level, escalation_decision,
			ml_probability, symptoms, indexed_at, embedding_model, embedding
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::vector)
		ON CONFLICT (report_id) DO UPDATE SET
			drugname = EXCLUDED.drugname,
			canonical_text = EXCLUDED.canonical_text,
			risk_level = EXCLUDED.risk_level,
			escalation_decision = EXCLUDED.escalation_decision,
			ml_probability = EXCLUDED.ml_probability,
			symptoms = EXCLUDED.symptoms,
			indexed_at = EXCLUDED.indexed_at,
			embedding_model = EXCLUDED.embedding_model,
			embedding = EXCLUDED.embedding
	`,
		rec.ReportID,
		rec.DrugName,
		rec.CanonicalText,
		string(rec.RiskLevel),
		rec.Decision,
		rec.MLProbability,
		encodeSymptoms(rec.Symptoms),
		indexedAt(rec.Timestamp),
		rec.Model,
		formatVector(rec.Embedding),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", rec.ReportID, err)
	}
	return nil
}

// Search returns the limit nearest rows. Rows embedded by another model or
// whose dimensions differ from vec are skipped.
func (b *PgVectorBackend) Search(ctx context.Context, vec []float32, filter SearchFilter, limit int) ([]Candidate, error) {
	vectorStr := formatVector(vec)
	args := []interface{}{vectorStr, filter.ExcludeReportID, len(vec), filter.Model}

	decisionFilter := ""
	if filter.EscalatedOnly {
		args = append(args, domain.DecisionEscalate)
		decisionFilter = fmt.Sprintf("AND escalation_decision = $%d", len(args))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT
			report_id, drugname, canonical_text, risk_level, escalation_decision,
			ml_probability, symptoms, indexed_at, embedding_model,
			embedding <=> $1::vector AS distance
		FROM similar_events
		WHERE report_id <> $2
			AND vector_dims(embedding) = $3
			AND embedding_model = $4
			%s
		ORDER BY embedding <=> $1::vector, report_id
		LIMIT $%d`, decisionFilter, len(args))

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		var risk, symptoms string
		if err := rows.Scan(&c.ReportID, &c.DrugName, &c.CanonicalText, &risk, &c.Decision,
			&c.MLProbability, &symptoms, &c.Timestamp, &c.Model, &c.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan index row: %w", err)
		}
		c.RiskLevel = domain.RiskLevel(risk)
		c.Symptoms = decodeSymptoms(symptoms)
		c.Timestamp = c.Timestamp.UTC()
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating index rows: %w", err)
	}
	return candidates, nil
}

// Count returns the number of indexed entries
func (b *PgVectorBackend) Count(ctx context.Context) (int64, error) {
	var n int64
	err := b.pool.QueryRow(ctx, "SELECT COUNT(*) FROM similar_events").Scan(&n)
	return n, err
}

// Name identifies the backend
func (b *PgVectorBackend) Name() string {
	return "pgvector"
}

// Close is a no-op; the pool is owned by the caller
func (b *PgVectorBackend) Close() error {
	return nil
}
