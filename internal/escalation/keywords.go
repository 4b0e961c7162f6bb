// Package escalation turns an ML seriousness probability and regulatory
// keyword signals into a bounded, explainable escalation decision.
package escalation

import (
	"strings"
)

// Keyword is a regulatory seriousness term and its severity weight (1-10)
type Keyword struct {
	Term   string
	Weight int
}

// seriousKeywords follows ICH E2A seriousness criteria. Order is significant:
// triggered keywords are reported in table order.
var seriousKeywords = []Keyword{
	{"death", 10},
	{"died", 10},
	{"fatal", 10},
	{"life-threatening", 9},
	{"life threatening", 9},
	{"hospitalization", 8},
	{"hospitalisation", 8},
	{"hospitalized", 8},
	{"hospitalised", 8},
	{"inpatient", 7},
	{"disability", 8},
	{"incapacity", 8},
	{"congenital anomaly", 8},
	{"birth defect", 8},
	{"cancer", 7},
	{"overdose", 7},
	{"suicide", 9},
	{"suicidal", 8},
	{"cardiac arrest", 9},
	{"respiratory failure", 9},
	{"coma", 9},
	{"seizure", 7},
	{"anaphylaxis", 8},
	{"anaphylactic", 8},
	{"stroke", 8},
	{"myocardial infarction", 8},
	{"heart attack", 8},
	{"renal failure", 8},
	{"liver failure", 8},
	{"hepatic failure", 8},
	{"sepsis", 8},
	{"shock", 7},
	{"transplant", 7},
	{"surgery required", 7},
	{"surgical intervention", 7},
	{"icu", 8},
	{"intensive care", 8},
	{"ventilator", 8},
	{"intubation", 8},
	{"resuscitation", 9},
}

// KeywordTable is an immutable, ordered keyword → weight table
type KeywordTable struct {
	entries []Keyword
}

// NewKeywordTable builds a table from entries. Terms are lowercased and
// weights clamped to [1,10]; duplicate terms keep their first position.
func NewKeywordTable(entries []Keyword) *KeywordTable {
	seen := make(map[string]bool, len(entries))
	t := &KeywordTable{entries: make([]Keyword, 0, len(entries))}
	for _, e := range entries {
		term := strings.ToLower(strings.TrimSpace(e.Term))
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true
		w := e.Weight
		if w < 1 {
			w = 1
		}
		if w > 10 {
			w = 10
		}
		t.entries = append(t.entries, Keyword{Term: term, Weight: w})
	}
	return t
}

var defaultTable = NewKeywordTable(seriousKeywords)

// DefaultKeywordTable returns the regulatory seriousness table
func DefaultKeywordTable() *KeywordTable {
	return defaultTable
}

// Entries returns a copy of the table in iteration order
func (t *KeywordTable) Entries() []Keyword {
	out := make([]Keyword, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of keywords
func (t *KeywordTable) Len() int {
	return len(t.entries)
}

// Weight returns the weight of term, or 0 if absent
func (t *KeywordTable) Weight(term string) int {
	term = strings.ToLower(term)
	for _, e := range t.entries {
		if e.Term == term {
			return e.Weight
		}
	}
	return 0
}
