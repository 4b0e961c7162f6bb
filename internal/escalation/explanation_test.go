package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExplain(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name     string
		ml       float64
		drug     string
		event    string
		expected string
	}{
		{
			name:  "Escalated on keyword",
			ml:    0.2,
			drug:  "Warfarin",
			event: "patient died",
			expected: "⚠️ ESCALATION REQUIRED - Risk Level: CRITICAL\n" +
				"\nReasoning:\n" +
				"• ML Classification Probability (Serious): 20.0%\n" +
				"• Regulatory Keywords Detected: died\n" +
				"• Keyword Severity Score: 100.0%\n" +
				"\nFinal Combined Score: 100.0%\n" +
				"\n📋 Action: Report contains serious safety signal(s). Immediate review required.",
		},
		{
			name:  "Escalated on model only",
			ml:    0.9,
			drug:  "Aspirin",
			event: "mild headache",
			expected: "⚠️ ESCALATION REQUIRED - Risk Level: MEDIUM\n" +
				"\nReasoning:\n" +
				"• ML Classification Probability (Serious): 90.0%\n" +
				"• No regulatory keywords detected\n" +
				"\nFinal Combined Score: 63.0%\n" +
				"\n📋 Action: ML model indicates elevated seriousness probability. Manual review recommended.",
		},
		{
			name:  "Not escalated",
			ml:    0.1,
			drug:  "Metformin",
			event: "admitted as inpatient for observation",
			expected: "✓ No escalation needed - Risk Level: LOW\n" +
				"\nReasoning:\n" +
				"• ML Classification Probability (Serious): 10.0%\n" +
				"• Regulatory Keywords Detected: inpatient\n" +
				"• Keyword Severity Score: 70.0%\n" +
				"\nFinal Combined Score: 28.0%",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := engine.Evaluate(tt.ml, tt.drug, tt.event, nil)
			assert.Equal(t, tt.expected, result.Explanation)
			assert.Equal(t, tt.expected, Explain(result))
		})
	}
}
