package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pv-ae-server/internal/audit"
	"github.com/pv-ae-server/internal/domain"
	"github.com/pv-ae-server/internal/review"
	"github.com/pv-ae-server/internal/setup"
)

// run executes pvctl with args and returns stdout
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(resetFlags)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func resetFlags() {
	cfgFile, logLevel = "", "warn"
	exportOutput, filterRiskLevel, filterStartDate, filterEndDate = "", "", "", ""
	filterEscalated = false
	backfillPageSize = 500
	evalDrug, evalEvent, evalSymptoms = "", "", nil
	evalProbability = 0.5
	setupConfigPath, setupBinary, setupDataDir, setupEnv = "", "", "", nil
	reviewer, reviewNotes, reviewOutput = "", "", ""
}

func writeSQLiteConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit.db")
	body := fmt.Sprintf(`database:
  driver: sqlite
  sqlite_path: %s
similarity:
  backend: sqlite
  sqlite_path: %s
  embedder: hashing
notification:
  websocket_enabled: false
drug_validation:
  rxnorm_base_url: http://127.0.0.1:1
  openfda_base_url: http://127.0.0.1:1
`, auditPath, filepath.Join(dir, "index.db"))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path, auditPath
}

func seedAudit(t *testing.T, path string, records ...*domain.AuditRecord) {
	t.Helper()
	store, err := audit.NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()
	for _, r := range records {
		require.NoError(t, store.Append(context.Background(), r))
	}
}

func record(id string, risk domain.RiskLevel, decision string) *domain.AuditRecord {
	return &domain.AuditRecord{
		ReportID:           id,
		DrugName:           "warfarin",
		AdverseEvent:       "gastrointestinal bleeding",
		MLPrediction:       domain.PredictionSerious,
		MLProbability:      0.9,
		ExtractedDrug:      "warfarin",
		ExtractedSymptoms:  []string{"Bleeding"},
		EscalationDecision: decision,
		RiskLevel:          risk,
		FinalScore:         0.8,
		TriggeredKeywords:  []string{},
	}
}

func TestEvaluateCommand(t *testing.T) {
	out, err := run(t, "evaluate", "--event", "patient died in hospital", "--ml-probability", "0.9")
	require.NoError(t, err)

	var result domain.EscalationResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.ShouldEscalate)
	assert.Contains(t, result.TriggeredKeywords, "died")

	_, err = run(t, "evaluate", "--event", "rash", "--ml-probability", "2")
	assert.ErrorContains(t, err, "between 0 and 1")
}

func TestAuditCommands(t *testing.T) {
	configPath, auditPath := writeSQLiteConfig(t)
	seedAudit(t, auditPath,
		record("RPT-20240101000000-AAAAAAAA", domain.RiskCritical, domain.DecisionEscalate),
		record("RPT-20240101000001-BBBBBBBB", domain.RiskLow, domain.DecisionNoEscalate),
	)

	out, err := run(t, "--config", configPath, "audit", "summary")
	require.NoError(t, err)
	var summary domain.AuditSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, int64(2), summary.TotalProcessed)
	assert.InDelta(t, 0.5, summary.EscalationRate, 1e-9)

	out, err = run(t, "--config", configPath, "audit", "get", "RPT-20240101000000-AAAAAAAA")
	require.NoError(t, err)
	assert.Contains(t, out, "RPT-20240101000000-AAAAAAAA")

	_, err = run(t, "--config", configPath, "audit", "get", "RPT-20990101000000-CCCCCCCC")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	exportPath := filepath.Join(t.TempDir(), "export.json")
	_, err = run(t, "--config", configPath, "audit", "export", "--escalated-only", "-o", exportPath)
	require.NoError(t, err)
	data, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	var export audit.Export
	require.NoError(t, json.Unmarshal(data, &export))
	assert.Equal(t, 1, export.Count)

	_, err = run(t, "--config", configPath, "audit", "archive")
	assert.ErrorContains(t, err, "archive is not configured")
}

func TestReviewCommands(t *testing.T) {
	configPath, auditPath := writeSQLiteConfig(t)
	seedAudit(t, auditPath,
		record("RPT-20240101000000-AAAAAAAA", domain.RiskCritical, domain.DecisionEscalate),
		record("RPT-20240101000001-BBBBBBBB", domain.RiskLow, domain.DecisionNoEscalate),
	)

	_, err := run(t, "--config", configPath, "review", "submit", "RPT-20240101000000-AAAAAAAA", "ESCALATE", "--reviewer", "dr.lee")
	require.NoError(t, err)
	_, err = run(t, "--config", configPath, "review", "submit", "RPT-20240101000001-BBBBBBBB", "ESCALATE", "--reviewer", "dr.lee", "--notes", "hospitalised")
	require.NoError(t, err)

	_, err = run(t, "--config", configPath, "review", "submit", "RPT-20990101000000-CCCCCCCC", "ESCALATE", "--reviewer", "dr.lee")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	out, err := run(t, "--config", configPath, "review", "stats")
	require.NoError(t, err)
	var stats review.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.MissedEscalations)

	exportPath := filepath.Join(t.TempDir(), "reviews.json")
	_, err = run(t, "--config", configPath, "review", "export", "-o", exportPath)
	require.NoError(t, err)

	out, err = run(t, "--config", configPath, "review", "import", exportPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"imported": 0, "skipped": 2}`, out)
}

func TestIndexBackfillCommand(t *testing.T) {
	configPath, auditPath := writeSQLiteConfig(t)
	seedAudit(t, auditPath,
		record("RPT-20240101000000-AAAAAAAA", domain.RiskCritical, domain.DecisionEscalate),
		record("RPT-20240101000001-BBBBBBBB", domain.RiskHigh, domain.DecisionEscalate),
		record("RPT-20240101000002-CCCCCCCC", domain.RiskLow, domain.DecisionNoEscalate),
	)

	out, err := run(t, "--config", configPath, "index", "backfill", "--page-size", "1")
	require.NoError(t, err)
	var result struct {
		Scanned int `json:"scanned"`
		Indexed int `json:"indexed"`
		Failed  int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 2, result.Indexed)
	assert.Equal(t, 0, result.Failed)

	out, err = run(t, "--config", configPath, "index", "stats")
	require.NoError(t, err)
	var stats domain.IndexStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, int64(2), stats.TotalIndexed)
}

func TestMigrateRequiresPostgres(t *testing.T) {
	configPath, _ := writeSQLiteConfig(t)

	_, err := run(t, "--config", configPath, "migrate")
	assert.ErrorContains(t, err, "postgres driver only")

	_, err = run(t, "--config", configPath, "migrate", "sideways")
	assert.Error(t, err)
}

func TestSetupCommands(t *testing.T) {
	dir := t.TempDir()
	clientConfig := filepath.Join(dir, "client.json")
	binary := filepath.Join(dir, setup.BinaryName)
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\n"), 0o755))

	_, err := run(t, "setup", "client", "--client-config", clientConfig, "--binary", binary,
		"--data-dir", filepath.Join(dir, "data"), "--env", "PV_OLLAMA_URL=http://localhost:11434")
	require.NoError(t, err)

	out, err := run(t, "setup", "status", "--client-config", clientConfig)
	require.NoError(t, err)
	var status setup.Status
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.True(t, status.Registered)
	assert.Equal(t, binary, status.BinaryPath)
	assert.Equal(t, filepath.Join(dir, "data"), status.DataDir)

	_, err = run(t, "setup", "client", "--client-config", clientConfig, "--binary", binary, "--env", "NOEQUALS")
	assert.ErrorContains(t, err, "expected KEY=VALUE")
}
