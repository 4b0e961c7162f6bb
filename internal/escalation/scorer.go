package escalation

import (
	"strings"
)

// Scorer maps free text to a normalized keyword severity score
type Scorer struct {
	table *KeywordTable
}

// NewScorer creates a scorer over table; nil selects the default table
func NewScorer(table *KeywordTable) *Scorer {
	if table == nil {
		table = DefaultKeywordTable()
	}
	return &Scorer{table: table}
}

// Score returns max(weight)/10 over every keyword contained in text, and the
// triggered keywords in table order. Matching is case-insensitive substring
// containment, so nested terms ("shock" in "septic shock") each count.
func (s *Scorer) Score(text string) (float64, []string) {
	lower := strings.ToLower(text)
	triggered := []string{}
	maxWeight := 0

	for _, kw := range s.table.entries {
		if !strings.Contains(lower, kw.Term) {
			continue
		}
		triggered = append(triggered, kw.Term)
		if kw.Weight > maxWeight {
			maxWeight = kw.Weight
		}
	}

	if maxWeight == 0 {
		return 0, triggered
	}
	return float64(maxWeight) / 10.0, triggered
}
