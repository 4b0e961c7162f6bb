// Package similarity maintains the semantic index of processed cases used to
// surface comparable prior escalations. It is a derived, best-effort copy of
// the audit log keyed by report id.
package similarity

import (
	"fmt"
	"strings"
	"time"

	"github.com/pv-ae-server/internal/domain"
)

const noSymptoms = "None extracted"

// Entry is one indexed case. Upserting an entry fully replaces any previous
// entry with the same report id.
type Entry struct {
	ReportID      string
	DrugName      string
	AdverseEvent  string
	Symptoms      []string
	RiskLevel     domain.RiskLevel
	Decision      string
	MLProbability float64
	Timestamp     time.Time
}

// Query describes a similarity search.
type Query struct {
	Drug            string
	Event           string
	Symptoms        []string
	RiskLevel       domain.RiskLevel
	TopK            int
	EscalatedOnly   bool
	ExcludeReportID string
}

// CanonicalText renders the fixed-order text that is embedded. Index-time and
// query-time text must use the same field order.
func CanonicalText(drug, event string, symptoms []string, riskLevel, decision string) string {
	symptomText := noSymptoms
	if len(symptoms) > 0 {
		symptomText = strings.Join(symptoms, ", ")
	}
	return fmt.Sprintf("Drug: %s\nEvent: %s\nSymptoms: %s\nRisk: %s\nDecision: %s",
		drug, event, symptomText, riskLevel, decision)
}

// Text returns the canonical text of an indexed entry
func (e Entry) Text() string {
	return CanonicalText(e.DrugName, e.AdverseEvent, e.Symptoms, string(e.RiskLevel), e.Decision)
}

// Text returns the canonical text of a query
func (q Query) Text() string {
	risk := q.RiskLevel
	if risk == "" {
		risk = domain.RiskUnknown
	}
	return CanonicalText(q.Drug, q.Event, q.Symptoms, string(risk), domain.DecisionQuery)
}

// MatchedSymptoms returns the stored symptoms that also appear in the query,
// compared case-insensitively, in stored order.
func MatchedSymptoms(stored, query []string) []string {
	wanted := make(map[string]struct{}, len(query))
	for _, q := range query {
		wanted[strings.ToLower(q)] = struct{}{}
	}

	matched := []string{}
	for _, s := range stored {
		if _, ok := wanted[strings.ToLower(s)]; ok {
			matched = append(matched, s)
		}
	}
	return matched
}
