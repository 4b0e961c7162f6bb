package extraction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pv-ae-server/internal/domain"
	"github.com/pv-ae-server/pkg/external"
)

func newOllamaServer(t *testing.T, generated string, status int) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/generate":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, DefaultModel, body["model"])
			assert.Equal(t, false, body["stream"])

			if status != http.StatusOK {
				w.WriteHeader(status)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"response": generated})
		case "/api/tags":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"models": []map[string]string{{"name": "qwen2.5:latest"}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestExtractor(t *testing.T, server *httptest.Server) *Extractor {
	logger, _ := test.NewNullLogger()
	client := external.NewOllamaClient(external.OllamaConfig{BaseURL: server.URL})
	return NewExtractor(client, "", logger)
}

func TestExtractor_LLM(t *testing.T) {
	tests := []struct {
		name      string
		generated string
		expected  *domain.Entities
	}{
		{
			name:      "clean JSON",
			generated: `{"drug": "Warfarin", "symptoms": ["Bleeding", "Bruising"]}`,
			expected:  &domain.Entities{Drug: "Warfarin", Symptoms: []string{"Bleeding", "Bruising"}, ExtractionMethod: MethodLLM},
		},
		{
			name:      "JSON surrounded by chatter",
			generated: "Sure! Here it is:\n{\"drug\": \"Aspirin\", \"symptoms\": [\"Rash\"]}\nHope this helps.",
			expected:  &domain.Entities{Drug: "Aspirin", Symptoms: []string{"Rash"}, ExtractionMethod: MethodLLM},
		},
		{
			name:      "scalar symptoms wrapped",
			generated: `{"drug": "Aspirin", "symptoms": "Tinnitus"}`,
			expected:  &domain.Entities{Drug: "Aspirin", Symptoms: []string{"Tinnitus"}, ExtractionMethod: MethodLLM},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extractor := newTestExtractor(t, newOllamaServer(t, tt.generated, http.StatusOK))
			assert.Equal(t, tt.expected, extractor.Extract(context.Background(), "Aspirin", "ringing in ears"))
		})
	}
}

func TestExtractor_FallsBackToKeywords(t *testing.T) {
	tests := []struct {
		name      string
		generated string
		status    int
	}{
		{"no JSON in output", "I cannot help with that.", http.StatusOK},
		{"missing symptoms", `{"drug": "Aspirin"}`, http.StatusOK},
		{"server error", "", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extractor := newTestExtractor(t, newOllamaServer(t, tt.generated, tt.status))
			entities := extractor.Extract(context.Background(), "Aspirin", "severe headache and nausea")

			assert.Equal(t, MethodRegex, entities.ExtractionMethod)
			assert.Equal(t, []string{"Headache", "Nausea"}, entities.Symptoms)
		})
	}
}

func TestExtractor_Available(t *testing.T) {
	extractor := newTestExtractor(t, newOllamaServer(t, "", http.StatusOK))
	assert.True(t, extractor.Available(context.Background()))

	logger, _ := test.NewNullLogger()
	assert.False(t, NewExtractor(nil, "", logger).Available(context.Background()))
}

func TestExtractWithKeywords(t *testing.T) {
	tests := []struct {
		name     string
		drug     string
		event    string
		expected *domain.Entities
	}{
		{
			name:     "multi-word keyword title cased",
			drug:     " Digoxin ",
			event:    "Cardiac arrest after infusion",
			expected: &domain.Entities{Drug: "Digoxin", Symptoms: []string{"Cardiac Arrest"}, ExtractionMethod: MethodRegex},
		},
		{
			name:     "keyword order follows the list",
			drug:     "Ibuprofen",
			event:    "rash, fever and pain",
			expected: &domain.Entities{Drug: "Ibuprofen", Symptoms: []string{"Pain", "Rash", "Fever"}, ExtractionMethod: MethodRegex},
		},
		{
			name:     "no keyword uses narrative",
			drug:     "Metformin",
			event:    "  metallic taste ",
			expected: &domain.Entities{Drug: "Metformin", Symptoms: []string{"metallic taste"}, ExtractionMethod: MethodRegex},
		},
		{
			name:     "empty input",
			expected: &domain.Entities{Drug: "Unknown", Symptoms: []string{}, ExtractionMethod: MethodRegex},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractWithKeywords(tt.drug, tt.event))
		})
	}
}
