package escalation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScorer_Score(t *testing.T) {
	scorer := NewScorer(nil)

	tests := []struct {
		name          string
		text          string
		expectedScore float64
		expectedTerms []string
	}{
		{
			name:          "No keywords",
			text:          "Aspirin mild headache after dose",
			expectedScore: 0,
			expectedTerms: []string{},
		},
		{
			name:          "Single fatal keyword saturates",
			text:          "Patient DIED two days later",
			expectedScore: 1.0,
			expectedTerms: []string{"died"},
		},
		{
			name:          "Max weight wins over milder terms",
			text:          "seizure followed by coma",
			expectedScore: 0.9,
			expectedTerms: []string{"coma", "seizure"},
		},
		{
			name:          "Triggered list follows table order",
			text:          "shock then death",
			expectedScore: 1.0,
			expectedTerms: []string{"death", "shock"},
		},
		{
			name:          "Overlapping phrases both count",
			text:          "anaphylactic shock",
			expectedScore: 0.8,
			expectedTerms: []string{"anaphylactic", "shock"},
		},
		{
			name:          "Repeated keyword counted once",
			text:          "overdose, second overdose, third overdose",
			expectedScore: 0.7,
			expectedTerms: []string{"overdose"},
		},
		{
			name:          "Substring inside unrelated word matches",
			text:          "a ridiculous reaction",
			expectedScore: 0.8,
			expectedTerms: []string{"icu"},
		},
		{
			name:          "Empty text",
			text:          "",
			expectedScore: 0,
			expectedTerms: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, triggered := scorer.Score(tt.text)
			assert.InDelta(t, tt.expectedScore, score, 1e-9)
			assert.Equal(t, tt.expectedTerms, triggered)
		})
	}
}

func TestScorer_Monotonic(t *testing.T) {
	scorer := NewScorer(nil)

	var b strings.Builder
	previous := 0.0
	for _, kw := range DefaultKeywordTable().Entries() {
		b.WriteString(" ")
		b.WriteString(kw.Term)

		score, _ := scorer.Score(b.String())
		assert.GreaterOrEqual(t, score, previous, "adding %q lowered the score", kw.Term)
		previous = score
	}
	assert.Equal(t, 1.0, previous)
}

func TestDefaultKeywordTable(t *testing.T) {
	table := DefaultKeywordTable()

	require.Equal(t, 40, table.Len())

	entries := table.Entries()
	assert.Equal(t, Keyword{"death", 10}, entries[0])
	assert.Equal(t, Keyword{"resuscitation", 9}, entries[len(entries)-1])
	assert.Equal(t, 7, table.Weight("inpatient"))
	assert.Equal(t, 7, table.Weight("SHOCK"))
	assert.Equal(t, 0, table.Weight("headache"))

	// Mutating the copy must not touch the table.
	entries[0].Weight = 1
	assert.Equal(t, 10, table.Weight("death"))
}

func TestNewKeywordTable_Normalizes(t *testing.T) {
	table := NewKeywordTable([]Keyword{
		{"  Bleeding ", 12},
		{"bleeding", 3},
		{"rash", 0},
		{"", 5},
	})

	assert.Equal(t, []Keyword{{"bleeding", 10}, {"rash", 1}}, table.Entries())
}
