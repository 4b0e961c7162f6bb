package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pv-ae-server/internal/domain"
)

// fakeDrugAPI serves the RxNav and openFDA endpoints used by the validator
type fakeDrugAPI struct {
	exact       map[string]string // lowercase name -> rxcui
	approximate map[string]string
	names       map[string]string // rxcui -> canonical name
	labels      map[string]map[string][]string
	rxnormDown  bool
	calls       int32
}

func (f *fakeDrugAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(v))
	}

	mux.HandleFunc("/rxcui.json", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.calls, 1)
		if f.rxnormDown {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		ids := []string{}
		if id, ok := f.exact[strings.ToLower(r.URL.Query().Get("name"))]; ok {
			ids = append(ids, id)
		}
		writeJSON(w, map[string]interface{}{"idGroup": map[string]interface{}{"rxnormId": ids}})
	})
	mux.HandleFunc("/approximateTerm.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("maxEntries"))
		candidates := []map[string]string{}
		if id, ok := f.approximate[strings.ToLower(r.URL.Query().Get("term"))]; ok {
			candidates = append(candidates, map[string]string{"rxcui": id, "score": "75"})
		}
		writeJSON(w, map[string]interface{}{"approximateGroup": map[string]interface{}{"candidate": candidates}})
	})
	mux.HandleFunc("/rxcui/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/rxcui/"), ".json")
		writeJSON(w, map[string]interface{}{"idGroup": map[string]interface{}{"name": f.names[id]}})
	})
	mux.HandleFunc("/drug/label.json", func(w http.ResponseWriter, r *http.Request) {
		search := r.URL.Query().Get("search")
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		for name, label := range f.labels {
			if search == `openfda.generic_name:"`+name+`"` {
				writeJSON(w, map[string]interface{}{"results": []interface{}{label}})
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]interface{}{"error": map[string]string{"code": "NOT_FOUND"}})
	})
	return mux
}

func newTestValidator(t *testing.T, api *fakeDrugAPI) (*DrugValidationService, *httptest.Server) {
	server := httptest.NewServer(api.handler(t))
	t.Cleanup(server.Close)

	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	validator, err := NewDrugValidationService(DrugValidatorConfig{
		RxNorm:  RxNormConfig{BaseURL: server.URL, Timeout: 2 * time.Second, RateLimit: 100},
		OpenFDA: OpenFDAConfig{BaseURL: server.URL, Timeout: 2 * time.Second, RateLimit: 100},
	}, nil, logger)
	require.NoError(t, err)
	return validator, server
}

func defaultFakeAPI() *fakeDrugAPI {
	return &fakeDrugAPI{
		exact:       map[string]string{"aspirin": "1191"},
		approximate: map[string]string{"asprin": "1191"},
		names:       map[string]string{"1191": "aspirin"},
		labels: map[string]map[string][]string{
			"semaglutide": {
				"indications_and_usage": {"Adjunct to diet and exercise."},
				"warnings":              {"Risk of <b>thyroid</b>   C-cell tumors."},
				"adverse_reactions":     {"Nausea, vomiting."},
			},
		},
	}
}

func TestRxNormClient_Normalize(t *testing.T) {
	api := defaultFakeAPI()
	server := httptest.NewServer(api.handler(t))
	defer server.Close()

	client := NewRxNormClient(RxNormConfig{BaseURL: server.URL, RateLimit: 100})
	ctx := context.Background()

	t.Run("exact match", func(t *testing.T) {
		match, err := client.Normalize(ctx, "Aspirin")
		require.NoError(t, err)
		assert.Equal(t, "1191", match.RxCUI)
		assert.Equal(t, "aspirin", match.CanonicalName)
		assert.False(t, match.Approximate)
	})

	t.Run("approximate match", func(t *testing.T) {
		match, err := client.Normalize(ctx, "asprin")
		require.NoError(t, err)
		assert.Equal(t, "1191", match.RxCUI)
		assert.True(t, match.Approximate)
	})

	t.Run("no match", func(t *testing.T) {
		_, err := client.Normalize(ctx, "notadrug")
		assert.ErrorIs(t, err, ErrNoMatch)
	})

	t.Run("empty name", func(t *testing.T) {
		_, err := client.Normalize(ctx, "  ")
		assert.Error(t, err)
	})
}

func TestOpenFDAClient_GetDrugInfo(t *testing.T) {
	api := defaultFakeAPI()
	api.labels["longdrug"] = map[string][]string{
		"adverse_reactions": {strings.Repeat("a", 2000)},
	}
	server := httptest.NewServer(api.handler(t))
	defer server.Close()

	client := NewOpenFDAClient(OpenFDAConfig{BaseURL: server.URL, RateLimit: 100})
	ctx := context.Background()

	info, err := client.GetDrugInfo(ctx, "Semaglutide")
	require.NoError(t, err)
	assert.Equal(t, LabelSource, info.Source)
	assert.Equal(t, "Adjunct to diet and exercise.", info.Indications)
	assert.Equal(t, "Risk of thyroid C-cell tumors.", info.Warnings)
	assert.Equal(t, "Nausea, vomiting.", info.AdverseReactions)

	long, err := client.GetDrugInfo(ctx, "longdrug")
	require.NoError(t, err)
	assert.Len(t, long.AdverseReactions, maxLabelSectionLength+3)
	assert.True(t, strings.HasSuffix(long.AdverseReactions, "..."))
	assert.Equal(t, InfoNotAvailable, long.Indications)

	exists, err := client.LabelExists(ctx, "unknowndrug")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDrugValidationService_Validate(t *testing.T) {
	ctx := context.Background()

	t.Run("rxnorm match", func(t *testing.T) {
		validator, _ := newTestValidator(t, defaultFakeAPI())

		v, err := validator.Validate(ctx, " Aspirin ")
		require.NoError(t, err)
		assert.Equal(t, "Aspirin", v.Input)
		assert.Equal(t, "aspirin", v.CanonicalName)
		assert.Equal(t, "1191", v.RxCUI)
		assert.Equal(t, SourceRxNorm, v.Source)
	})

	t.Run("openFDA fallback accepts input as canonical", func(t *testing.T) {
		validator, _ := newTestValidator(t, defaultFakeAPI())

		v, err := validator.Validate(ctx, "Semaglutide")
		require.NoError(t, err)
		assert.Equal(t, "Semaglutide", v.CanonicalName)
		assert.Empty(t, v.RxCUI)
		assert.Equal(t, SourceOpenFDA, v.Source)
	})

	t.Run("openFDA fallback when RxNorm is down", func(t *testing.T) {
		api := defaultFakeAPI()
		api.rxnormDown = true
		validator, _ := newTestValidator(t, api)

		v, err := validator.Validate(ctx, "semaglutide")
		require.NoError(t, err)
		assert.Equal(t, SourceOpenFDA, v.Source)
	})

	t.Run("unknown drug rejected", func(t *testing.T) {
		validator, _ := newTestValidator(t, defaultFakeAPI())

		_, err := validator.Validate(ctx, "xyzzy")
		assert.ErrorIs(t, err, domain.ErrInvalidDrug)
		assert.Equal(t, int64(1), validator.Stats().Rejections)
	})

	t.Run("empty name is a validation error", func(t *testing.T) {
		validator, _ := newTestValidator(t, defaultFakeAPI())

		_, err := validator.Validate(ctx, "")
		assert.True(t, domain.IsValidationError(err))
	})

	t.Run("memory cache avoids repeat lookups", func(t *testing.T) {
		api := defaultFakeAPI()
		validator, _ := newTestValidator(t, api)

		_, err := validator.Validate(ctx, "aspirin")
		require.NoError(t, err)
		v, err := validator.Validate(ctx, "ASPIRIN")
		require.NoError(t, err)

		assert.Equal(t, "ASPIRIN", v.Input)
		assert.Equal(t, int32(1), atomic.LoadInt32(&api.calls))
		assert.Equal(t, int64(1), validator.Stats().MemoryHits)
	})
}

func TestDrugValidationService_GetDrugInfo(t *testing.T) {
	validator, _ := newTestValidator(t, defaultFakeAPI())
	ctx := context.Background()

	info, err := validator.GetDrugInfo(ctx, "semaglutide")
	require.NoError(t, err)
	assert.Equal(t, "Nausea, vomiting.", info.AdverseReactions)

	missing, err := validator.GetDrugInfo(ctx, "unknowndrug")
	require.NoError(t, err)
	assert.Equal(t, UnavailableDrugInfo(), missing)
}

func TestDrugValidatorConfigFrom(t *testing.T) {
	cfg := DrugValidatorConfigFrom(domain.DrugValidationConfig{
		RxNormBaseURL:  "https://rxnav.example/REST",
		OpenFDABaseURL: "https://fda.example",
		Timeout:        5 * time.Second,
		RateLimit:      3,
		CacheSize:      50,
	}, time.Hour)

	assert.Equal(t, "https://rxnav.example/REST", cfg.RxNorm.BaseURL)
	assert.Equal(t, "https://fda.example", cfg.OpenFDA.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.OpenFDA.Timeout)
	assert.Equal(t, 3, cfg.RxNorm.RateLimit)
	assert.Equal(t, 50, cfg.CacheSize)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
}
