package escalation

import (
	"math"
	"strings"

	"github.com/pv-ae-server/internal/domain"
)

// Escalation policy defaults. These encode a patient-safety policy and must
// not change without pharmacovigilance sign-off.
const (
	DefaultOverrideThreshold   = 0.8
	DefaultKeywordWeight       = 0.3
	DefaultEscalationThreshold = 0.6
	NeutralProbability         = 0.5
)

// Risk band lower bounds on the final score
const (
	MediumBandFloor   = 0.5
	HighBandFloor     = 0.7
	CriticalBandFloor = 0.85
)

// Policy holds the blending and escalation thresholds
type Policy struct {
	// OverrideThreshold is the keyword score at which the keyword signal
	// dominates the model and forces escalation.
	OverrideThreshold float64
	// KeywordWeight is the keyword share of the blended score.
	KeywordWeight float64
	// EscalationThreshold is the final score at which a case escalates.
	EscalationThreshold float64
}

// DefaultPolicy returns the regulatory default policy
func DefaultPolicy() Policy {
	return Policy{
		OverrideThreshold:   DefaultOverrideThreshold,
		KeywordWeight:       DefaultKeywordWeight,
		EscalationThreshold: DefaultEscalationThreshold,
	}
}

// Engine combines an ML probability with the keyword scorer. It holds no
// mutable state and performs no I/O.
type Engine struct {
	scorer *Scorer
	policy Policy
}

// Option configures an Engine
type Option func(*Engine)

// WithPolicy overrides the default thresholds
func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithKeywordTable scores against a different keyword table
func WithKeywordTable(t *KeywordTable) Option {
	return func(e *Engine) {
		e.scorer = NewScorer(t)
	}
}

// NewEngine creates an escalation engine
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		scorer: NewScorer(nil),
		policy: DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the engine's thresholds
func (e *Engine) Policy() Policy {
	return e.policy
}

// Scorer returns the keyword scorer used by the engine
func (e *Engine) Scorer() *Scorer {
	return e.scorer
}

// Evaluate decides whether a report escalates
func (e *Engine) Evaluate(mlProbability float64, drugName, adverseEvent string, symptoms []string) domain.EscalationResult {
	ml := normalizeProbability(mlProbability)

	text := drugName + " " + adverseEvent + " " + strings.Join(symptoms, " ")
	keywordScore, triggered := e.scorer.Score(text)

	var final float64
	if keywordScore >= e.policy.OverrideThreshold {
		final = math.Max(ml, keywordScore)
	} else {
		final = (1-e.policy.KeywordWeight)*ml + e.policy.KeywordWeight*keywordScore
	}

	result := domain.EscalationResult{
		ShouldEscalate:    final >= e.policy.EscalationThreshold || keywordScore >= e.policy.OverrideThreshold,
		FinalScore:        final,
		MLProbability:     ml,
		KeywordScore:      keywordScore,
		TriggeredKeywords: triggered,
		RiskLevel:         RiskLevelFor(final),
	}
	result.Explanation = Explain(result)

	return result
}

// EvaluatePrediction evaluates using the classifier output. A nil prediction
// falls back to the neutral probability.
func (e *Engine) EvaluatePrediction(pred *domain.MLPrediction, drugName, adverseEvent string, symptoms []string) domain.EscalationResult {
	ml := NeutralProbability
	if pred != nil {
		ml = pred.SeriousProbability
	}
	return e.Evaluate(ml, drugName, adverseEvent, symptoms)
}

// RiskLevelFor bands a final score. Bands are half-open on the upper edge.
func RiskLevelFor(score float64) domain.RiskLevel {
	switch {
	case score >= CriticalBandFloor:
		return domain.RiskCritical
	case score >= HighBandFloor:
		return domain.RiskHigh
	case score >= MediumBandFloor:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func normalizeProbability(p float64) float64 {
	switch {
	case math.IsNaN(p):
		return NeutralProbability
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
