package audit

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pv-ae-server/internal/domain"
)

// getTestDB returns a database connection for testing.
// Skip test if TEST_DATABASE_URL is not set.
func getTestDB(t *testing.T) *sql.DB {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL tests")
	}

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_log (
			id BIGSERIAL PRIMARY KEY,
			report_id TEXT NOT NULL UNIQUE,
			timestamp TIMESTAMPTZ NOT NULL,
			drugname TEXT NOT NULL,
			adverse_event TEXT NOT NULL,
			ml_prediction TEXT NOT NULL DEFAULT '',
			ml_probability DOUBLE PRECISION NOT NULL DEFAULT 0,
			extracted_drug TEXT NOT NULL DEFAULT '',
			extracted_symptoms TEXT NOT NULL DEFAULT '[]',
			escalation_decision TEXT NOT NULL DEFAULT '',
			risk_level TEXT NOT NULL DEFAULT '',
			final_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			keyword_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			triggered_keywords TEXT NOT NULL DEFAULT '[]',
			explanation TEXT NOT NULL DEFAULT '',
			processing_time_ms DOUBLE PRECISION NOT NULL DEFAULT 0
		)
	`)
	require.NoError(t, err)

	_, err = db.Exec("DELETE FROM audit_log")
	require.NoError(t, err)

	return db
}

func TestPostgresStore_AppendAndGet(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	ctx := context.Background()
	rec := newRecord("RPT-PG-1", time.Date(2024, 3, 5, 14, 30, 15, 123456000, time.UTC), domain.RiskHigh, true)
	require.NoError(t, store.Append(ctx, rec))
	assert.NotZero(t, rec.ID)

	got, err := store.GetByID(ctx, "RPT-PG-1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	err = store.Append(ctx, newRecord("RPT-PG-1", time.Now().UTC(), domain.RiskLow, false))
	assert.True(t, errors.Is(err, domain.ErrAuditWrite))
}

func TestPostgresStore_Query(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	seedStore(t, store)

	ctx := context.Background()

	records, err := store.Query(ctx, domain.AuditFilter{EscalatedOnly: true, EndDate: date("2024-01-02")}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"RPT-2"}, reportIDs(records))

	records, err = store.Query(ctx, domain.AuditFilter{}, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"RPT-3", "RPT-2"}, reportIDs(records))

	summary, err := store.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), summary.TotalProcessed)

	stats := store.Stats(ctx)
	assert.True(t, stats.Connected)
	assert.Equal(t, "postgres", stats.Backend)
}

func TestNewPostgresStore_NilDB(t *testing.T) {
	_, err := NewPostgresStore(nil)
	assert.Error(t, err)
}
