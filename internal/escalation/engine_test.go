package escalation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pv-ae-server/internal/domain"
)

func TestEngine_Evaluate_Scenarios(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name             string
		mlProbability    float64
		drug             string
		event            string
		symptoms         []string
		expectedKeyword  float64
		expectedFinal    float64
		expectedRisk     domain.RiskLevel
		expectedEscalate bool
	}{
		{
			name:             "Fatal keyword overrides low model probability",
			mlProbability:    0.2,
			drug:             "Warfarin",
			event:            "Patient death reported after bleeding",
			expectedKeyword:  1.0,
			expectedFinal:    1.0,
			expectedRisk:     domain.RiskCritical,
			expectedEscalate: true,
		},
		{
			name:             "High model probability without keywords",
			mlProbability:    0.9,
			drug:             "Aspirin",
			event:            "mild headache",
			expectedKeyword:  0.0,
			expectedFinal:    0.63,
			expectedRisk:     domain.RiskMedium,
			expectedEscalate: true,
		},
		{
			name:             "Moderate keyword is blended, not overriding",
			mlProbability:    0.1,
			drug:             "Metformin",
			event:            "admitted as inpatient for observation",
			expectedKeyword:  0.7,
			expectedFinal:    0.28,
			expectedRisk:     domain.RiskLow,
			expectedEscalate: false,
		},
		{
			name:             "Symptoms contribute to keyword text",
			mlProbability:    0.3,
			drug:             "Lisinopril",
			event:            "swelling of the face",
			symptoms:         []string{"Anaphylaxis"},
			expectedKeyword:  0.8,
			expectedFinal:    0.8,
			expectedRisk:     domain.RiskHigh,
			expectedEscalate: true,
		},
		{
			name:             "Model dominates when above keyword override",
			mlProbability:    0.95,
			drug:             "Clozapine",
			event:            "seizure then intubation",
			expectedKeyword:  0.8,
			expectedFinal:    0.95,
			expectedRisk:     domain.RiskCritical,
			expectedEscalate: true,
		},
		{
			name:             "Empty narrative",
			mlProbability:    0.4,
			expectedKeyword:  0.0,
			expectedFinal:    0.28,
			expectedRisk:     domain.RiskLow,
			expectedEscalate: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := engine.Evaluate(tt.mlProbability, tt.drug, tt.event, tt.symptoms)

			assert.InDelta(t, tt.expectedKeyword, result.KeywordScore, 1e-9)
			assert.InDelta(t, tt.expectedFinal, result.FinalScore, 1e-9)
			assert.Equal(t, tt.expectedRisk, result.RiskLevel)
			assert.Equal(t, tt.expectedEscalate, result.ShouldEscalate)
			assert.InDelta(t, tt.mlProbability, result.MLProbability, 1e-9)
			assert.NotEmpty(t, result.Explanation)
		})
	}
}

func TestEngine_HeavyKeywordForcesEscalation(t *testing.T) {
	engine := NewEngine()

	for _, kw := range DefaultKeywordTable().Entries() {
		if kw.Weight < 8 {
			continue
		}
		t.Run(kw.Term, func(t *testing.T) {
			result := engine.Evaluate(0.0, "", kw.Term, nil)
			assert.GreaterOrEqual(t, result.KeywordScore, 0.8)
			assert.True(t, result.ShouldEscalate)
			assert.Contains(t, result.TriggeredKeywords, kw.Term)
		})
	}
}

func TestEngine_Deterministic(t *testing.T) {
	engine := NewEngine()

	first := engine.Evaluate(0.61, "Ibuprofen", "renal failure requiring dialysis", []string{"Edema", "Fatigue"})
	for i := 0; i < 10; i++ {
		again := engine.Evaluate(0.61, "Ibuprofen", "renal failure requiring dialysis", []string{"Edema", "Fatigue"})
		require.Equal(t, first, again)
	}

	other := NewEngine().Evaluate(0.61, "Ibuprofen", "renal failure requiring dialysis", []string{"Edema", "Fatigue"})
	assert.Equal(t, first.Explanation, other.Explanation)
}

func TestEngine_MissingProbability(t *testing.T) {
	engine := NewEngine()

	result := engine.EvaluatePrediction(nil, "Aspirin", "nausea", nil)
	assert.Equal(t, NeutralProbability, result.MLProbability)
	assert.InDelta(t, 0.35, result.FinalScore, 1e-9)
	assert.Equal(t, domain.RiskLow, result.RiskLevel)

	nan := engine.Evaluate(math.NaN(), "Aspirin", "nausea", nil)
	assert.Equal(t, NeutralProbability, nan.MLProbability)

	pred := &domain.MLPrediction{Prediction: domain.PredictionSerious, SeriousProbability: 0.9}
	fromPred := engine.EvaluatePrediction(pred, "Aspirin", "nausea", nil)
	assert.InDelta(t, 0.63, fromPred.FinalScore, 1e-9)
}

func TestEngine_ClampsOutOfRangeProbability(t *testing.T) {
	engine := NewEngine()

	high := engine.Evaluate(1.7, "Aspirin", "nausea", nil)
	assert.Equal(t, 1.0, high.MLProbability)
	assert.LessOrEqual(t, high.FinalScore, 1.0)

	low := engine.Evaluate(-0.2, "Aspirin", "nausea", nil)
	assert.Equal(t, 0.0, low.MLProbability)
	assert.GreaterOrEqual(t, low.FinalScore, 0.0)
}

func TestEngine_CustomPolicy(t *testing.T) {
	engine := NewEngine(WithPolicy(Policy{
		OverrideThreshold:   0.95,
		KeywordWeight:       0.5,
		EscalationThreshold: 0.6,
	}))

	// "coma" (0.9) is below the stricter override, so it is blended.
	result := engine.Evaluate(0.1, "", "coma", nil)
	assert.InDelta(t, 0.5, result.FinalScore, 1e-9)
	assert.False(t, result.ShouldEscalate)
	assert.Equal(t, DefaultPolicy().KeywordWeight, 0.3)
}

func TestEngine_CustomKeywordTable(t *testing.T) {
	engine := NewEngine(WithKeywordTable(NewKeywordTable([]Keyword{{"rash", 9}})))

	result := engine.Evaluate(0.0, "", "diffuse rash", nil)
	assert.Equal(t, []string{"rash"}, result.TriggeredKeywords)
	assert.True(t, result.ShouldEscalate)
}

func TestRiskLevelFor(t *testing.T) {
	tests := []struct {
		score    float64
		expected domain.RiskLevel
	}{
		{0.0, domain.RiskLow},
		{0.4999, domain.RiskLow},
		{0.5, domain.RiskMedium},
		{0.6999, domain.RiskMedium},
		{0.7, domain.RiskHigh},
		{0.8499, domain.RiskHigh},
		{0.85, domain.RiskCritical},
		{1.0, domain.RiskCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, RiskLevelFor(tt.score), "score %v", tt.score)
	}

	// Every score in [0,1] maps to exactly one valid band.
	for i := 0; i <= 1000; i++ {
		assert.True(t, RiskLevelFor(float64(i)/1000).IsValid())
	}
}
