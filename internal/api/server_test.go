package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pv-ae-server/internal/audit"
	"github.com/pv-ae-server/internal/domain"
	"github.com/pv-ae-server/internal/review"
	"github.com/pv-ae-server/internal/service"
	"github.com/pv-ae-server/internal/similarity"
)

type fakeValidator struct{}

func (fakeValidator) Validate(ctx context.Context, drugName string) (*domain.DrugValidation, error) {
	if drugName == "notadrug" {
		return nil, domain.ErrInvalidDrug
	}
	return &domain.DrugValidation{Input: drugName, CanonicalName: drugName, Source: "rxnorm"}, nil
}

type fakeClassifier struct{ p float64 }

func (f fakeClassifier) Predict(ctx context.Context, drugName, adverseEvent string) (*domain.MLPrediction, error) {
	return &domain.MLPrediction{
		Prediction:            domain.PredictionSerious,
		SeriousProbability:    f.p,
		NonSeriousProbability: 1 - f.p,
		Confidence:            f.p,
	}, nil
}

func (f fakeClassifier) Info() domain.ModelInfo {
	return domain.ModelInfo{Loaded: true, ModelType: "LogisticRegression", SeriousThreshold: 0.3}
}

func (f fakeClassifier) Ready() bool { return true }

type fakeExtractor struct{}

func (fakeExtractor) Extract(ctx context.Context, drugName, adverseEvent string) *domain.Entities {
	return &domain.Entities{Drug: drugName, Symptoms: []string{"Bleeding"}, ExtractionMethod: "regex"}
}

func (fakeExtractor) Available(ctx context.Context) bool { return false }

func newTestServer(t *testing.T) *Server {
	logger, _ := test.NewNullLogger()

	store, err := audit.NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	backend, err := similarity.NewSQLiteBackend(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	embedder := similarity.NewHashingEmbedder(0)
	require.NoError(t, embedder.Init(context.Background()))
	index := similarity.NewIndex(backend, embedder, similarity.Options{}, logger)
	t.Cleanup(func() { index.Close() })

	recorder := service.NewRecorder(store, index, logger)
	pipeline := service.NewPipeline(service.PipelineDeps{
		Validator:  fakeValidator{},
		Classifier: fakeClassifier{p: 0.95},
		Extractor:  fakeExtractor{},
		Recorder:   recorder,
	}, logger)

	reviews, err := review.NewSQLiteStore(store.Path())
	require.NoError(t, err)
	t.Cleanup(func() { reviews.Close() })

	cfg := &domain.Config{
		Server:  domain.ServerConfig{BatchWorkers: 2},
		Metrics: domain.MetricsConfig{Enabled: true, Path: "/metrics"},
		Logging: domain.LoggingConfig{Level: "info"},
	}
	return NewServer(cfg, Deps{
		Pipeline:   pipeline,
		Classifier: fakeClassifier{p: 0.95},
		Extractor:  fakeExtractor{},
		Reviews:    review.NewService(reviews, recorder, logger),
	}, logger)
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

type errorBody struct {
	Error domain.APIError `json:"error"`
}

func TestProcessAndReadBack(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/process", service.ProcessRequest{DrugName: "warfarin", AdverseEvent: "patient died after bleeding"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result service.ProcessResult
	decode(t, w, &result)
	assert.True(t, service.IsReportID(result.ReportID))
	assert.True(t, result.Escalation.ShouldEscalate)
	assert.Equal(t, domain.RiskCritical, result.Escalation.RiskLevel)
	assert.Equal(t, []string{"died"}, result.Escalation.TriggeredKeywords)
	assert.True(t, result.Recording.Audit.OK)
	assert.NotNil(t, result.SimilarEvents)

	w = do(t, s, http.MethodGet, "/api/audit/"+result.ReportID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var record domain.AuditRecord
	decode(t, w, &record)
	assert.Equal(t, result.ReportID, record.ReportID)
	assert.Equal(t, result.Escalation.Explanation, record.Explanation)

	w = do(t, s, http.MethodGet, "/api/audit?escalated_only=true&risk_level=CRITICAL", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Records []domain.AuditRecord `json:"records"`
		Count   int                  `json:"count"`
		Limit   int                  `json:"limit"`
	}
	decode(t, w, &page)
	assert.Equal(t, 1, page.Count)
	assert.Equal(t, 100, page.Limit)

	w = do(t, s, http.MethodGet, "/api/audit/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary domain.AuditSummary
	decode(t, w, &summary)
	assert.Equal(t, int64(1), summary.TotalProcessed)
	assert.Equal(t, 1.0, summary.EscalationRate)
}

func TestProcess_Validation(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/process", map[string]string{"adverse_event": "rash"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/process", service.ProcessRequest{DrugName: "notadrug", AdverseEvent: "rash"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	var body errorBody
	decode(t, w, &body)
	assert.Equal(t, domain.ErrCodeValidation, body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestAuditLogs_BadQuery(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{
		"/api/audit?limit=0",
		"/api/audit?limit=1001",
		"/api/audit?limit=abc",
		"/api/audit?offset=-1",
		"/api/audit?risk_level=SEVERE",
		"/api/audit?start_date=01-02-2024",
	} {
		w := do(t, s, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestAuditRecord_NotFound(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/audit/RPT-00000000000000-DEADBEEF", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	var body errorBody
	decode(t, w, &body)
	assert.Equal(t, domain.ErrCodeNotFound, body.Error.Code)
}

func TestProcessBatch(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/process/batch", BatchRequest{Reports: []service.ProcessRequest{
		{DrugName: "warfarin", AdverseEvent: "fatal bleeding"},
		{DrugName: "notadrug", AdverseEvent: "rash"},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var batch service.BatchResult
	decode(t, w, &batch)
	assert.Equal(t, 1, batch.TotalProcessed)
	assert.Equal(t, 1, batch.TotalFailed)
	assert.Equal(t, 1, batch.TotalEscalated)

	w = do(t, s, http.MethodPost, "/api/process/batch", BatchRequest{Reports: []service.ProcessRequest{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvaluate(t *testing.T) {
	s := newTestServer(t)

	p := 0.9
	w := do(t, s, http.MethodPost, "/api/evaluate", EvaluateRequest{MLProbability: &p, DrugName: "aspirin", AdverseEvent: "mild rash"})
	require.Equal(t, http.StatusOK, w.Code)

	var result domain.EscalationResult
	decode(t, w, &result)
	assert.InDelta(t, 0.63, result.FinalScore, 1e-9)
	assert.Equal(t, domain.RiskMedium, result.RiskLevel)
	assert.True(t, result.ShouldEscalate)

	w = do(t, s, http.MethodPost, "/api/evaluate", EvaluateRequest{DrugName: "aspirin", AdverseEvent: "mild rash"})
	decode(t, w, &result)
	assert.Equal(t, 0.5, result.MLProbability)

	for _, bad := range []float64{1.7, -0.4} {
		bad := bad
		w = do(t, s, http.MethodPost, "/api/evaluate", EvaluateRequest{MLProbability: &bad, DrugName: "aspirin", AdverseEvent: "mild rash"})
		assert.Equal(t, http.StatusBadRequest, w.Code, "ml_probability=%v", bad)
		assert.Contains(t, w.Body.String(), domain.ErrCodeValidation)
	}
}

func TestSimilar(t *testing.T) {
	s := newTestServer(t)

	var first service.ProcessResult
	decode(t, do(t, s, http.MethodPost, "/api/process", service.ProcessRequest{DrugName: "warfarin", AdverseEvent: "patient died after bleeding"}), &first)

	w := do(t, s, http.MethodGet, "/api/similar?drugname=warfarin&adverse_event=bleeding&symptoms=bleeding,bruising", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Matches []domain.SimilarEventMatch `json:"matches"`
		Count   int                        `json:"count"`
	}
	decode(t, w, &body)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, first.ReportID, body.Matches[0].ReportID)
	assert.Equal(t, []string{"Bleeding"}, body.Matches[0].MatchedSymptoms)

	w = do(t, s, http.MethodGet, "/api/similar?drugname=warfarin&exclude_report_id="+first.ReportID, nil)
	decode(t, w, &body)
	assert.Equal(t, 0, body.Count)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/similar", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/similar?drugname=x&limit=500", nil).Code)
}

func TestDrugSuggest(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/drugs/suggest?q=war", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Query       string   `json:"query"`
		Suggestions []string `json:"suggestions"`
	}
	decode(t, w, &body)
	assert.Equal(t, "war", body.Query)
	assert.Contains(t, body.Suggestions, "WARFARIN")
}

func TestHealthAndInfo(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]interface{}
	decode(t, w, &health)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, true, health["model_loaded"])
	assert.Equal(t, false, health["llm_available"])
	assert.Equal(t, true, health["database_connected"])
	assert.Contains(t, health, "index")

	w = do(t, s, http.MethodGet, "/api/model/info", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info domain.ModelInfo
	decode(t, w, &info)
	assert.Equal(t, "LogisticRegression", info.ModelType)

	w = do(t, s, http.MethodGet, "/api/index/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats domain.IndexStats
	decode(t, w, &stats)
	assert.Equal(t, "sqlite", stats.Backend)
	assert.Equal(t, 384, stats.Dimensions)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/metrics", nil).Code)
}

func TestAuditExportAndArchive(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodPost, "/api/process", service.ProcessRequest{DrugName: "warfarin", AdverseEvent: "bleeding"})

	w := do(t, s, http.MethodGet, "/api/audit/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	var export audit.Export
	decode(t, w, &export)
	assert.Equal(t, 1, export.Count)

	w = do(t, s, http.MethodPost, "/api/audit/archive", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReviews(t *testing.T) {
	s := newTestServer(t)

	var processed service.ProcessResult
	decode(t, do(t, s, http.MethodPost, "/api/process", service.ProcessRequest{DrugName: "warfarin", AdverseEvent: "patient died after bleeding"}), &processed)
	path := "/api/audit/" + processed.ReportID + "/review"

	w := do(t, s, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodPost, path, ReviewRequest{Decision: "NO_ESCALATE", Reviewer: "dr.lee", Notes: "pre-existing condition"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var submitted review.Review
	decode(t, w, &submitted)
	assert.Equal(t, domain.DecisionEscalate, submitted.SystemDecision)
	assert.False(t, submitted.Agreed)

	w = do(t, s, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/api/reviews/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats review.Stats
	decode(t, w, &stats)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.FalseEscalations)

	w = do(t, s, http.MethodGet, "/api/reviews", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), processed.ReportID)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, path, ReviewRequest{Decision: "MAYBE", Reviewer: "dr.lee"}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, path, map[string]string{"decision": "ESCALATE"}).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/api/audit/RPT-00000000000000-DEADBEEF/review", ReviewRequest{Decision: "ESCALATE", Reviewer: "dr.lee"}).Code)
}
