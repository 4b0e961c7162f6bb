package escalation

import (
	"fmt"
	"strings"

	"github.com/pv-ae-server/internal/domain"
)

const (
	actionKeywordSignal = "\n📋 Action: Report contains serious safety signal(s). Immediate review required."
	actionModelSignal   = "\n📋 Action: ML model indicates elevated seriousness probability. Manual review recommended."
)

// Explain renders the fixed-template explanation for a result. It reads only
// the result's own fields.
func Explain(r domain.EscalationResult) string {
	parts := make([]string, 0, 8)

	if r.ShouldEscalate {
		parts = append(parts, fmt.Sprintf("⚠️ ESCALATION REQUIRED - Risk Level: %s", r.RiskLevel))
	} else {
		parts = append(parts, fmt.Sprintf("✓ No escalation needed - Risk Level: %s", r.RiskLevel))
	}

	parts = append(parts, "\nReasoning:")
	parts = append(parts, fmt.Sprintf("• ML Classification Probability (Serious): %s", percent(r.MLProbability)))

	if len(r.TriggeredKeywords) > 0 {
		parts = append(parts, fmt.Sprintf("• Regulatory Keywords Detected: %s", strings.Join(r.TriggeredKeywords, ", ")))
		parts = append(parts, fmt.Sprintf("• Keyword Severity Score: %s", percent(r.KeywordScore)))
	} else {
		parts = append(parts, "• No regulatory keywords detected")
	}

	parts = append(parts, fmt.Sprintf("\nFinal Combined Score: %s", percent(r.FinalScore)))

	if r.ShouldEscalate {
		if len(r.TriggeredKeywords) > 0 {
			parts = append(parts, actionKeywordSignal)
		} else {
			parts = append(parts, actionModelSignal)
		}
	}

	return strings.Join(parts, "\n")
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}
