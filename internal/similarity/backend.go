package similarity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pv-ae-server/internal/domain"
)

// Record is an entry as persisted by a backend
type Record struct {
	Entry
	CanonicalText string
	Model         string
	Embedding     []float32
}

// SearchFilter restricts backend candidates before ranking. Only rows
// embedded by Model are comparable with the query vector.
type SearchFilter struct {
	EscalatedOnly   bool
	ExcludeReportID string
	Model           string
}

// Candidate is a ranked backend hit
type Candidate struct {
	Record
	Distance float64
}

// Backend stores embeddings and ranks them by cosine distance
type Backend interface {
	Upsert(ctx context.Context, rec Record) error
	Search(ctx context.Context, vec []float32, filter SearchFilter, limit int) ([]Candidate, error)
	Count(ctx context.Context) (int64, error)
	Name() string
	Close() error
}

func (c Candidate) toMatch(querySymptoms []string) domain.SimilarEventMatch {
	symptoms := c.Symptoms
	if symptoms == nil {
		symptoms = []string{}
	}
	return domain.SimilarEventMatch{
		ReportID:        c.ReportID,
		DrugName:        c.DrugName,
		CanonicalText:   c.CanonicalText,
		Timestamp:       c.Timestamp,
		RiskLevel:       c.RiskLevel,
		MLProbability:   c.MLProbability,
		AllSymptoms:     symptoms,
		MatchedSymptoms: MatchedSymptoms(symptoms, querySymptoms),
		Distance:        c.Distance,
	}
}

func encodeSymptoms(symptoms []string) string {
	if symptoms == nil {
		symptoms = []string{}
	}
	data, _ := json.Marshal(symptoms)
	return string(data)
}

func decodeSymptoms(raw string) []string {
	out := []string{}
	_ = json.Unmarshal([]byte(raw), &out)
	if out == nil {
		out = []string{}
	}
	return out
}

func indexedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
