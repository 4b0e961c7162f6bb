// Package extraction pulls the drug name and symptom list out of an
// adverse event narrative, using a local LLM with a keyword fallback.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/pv-ae-server/internal/domain"
	"github.com/pv-ae-server/pkg/external"
)

// Extraction methods recorded on every result
const (
	MethodLLM   = "llm"
	MethodRegex = "regex"

	DefaultModel = "qwen2.5:latest"
)

var jsonObject = regexp.MustCompile(`\{[^}]+\}`)

// symptomKeywords drive the fallback extractor
var symptomKeywords = []string{
	"pain", "headache", "nausea", "vomiting", "dizziness", "fatigue", "rash",
	"fever", "seizure", "bleeding", "swelling", "death", "hospitalization",
	"disability", "coma", "cardiac arrest", "respiratory failure", "anaphylaxis",
	"hypotension", "hypertension", "tachycardia", "bradycardia", "dyspnea",
	"edema", "infection", "sepsis", "stroke", "infarction", "thrombosis",
}

const promptTemplate = `Extract the drug name and adverse event symptoms from this medical report.
Return ONLY a JSON object in this exact format, with no other text:
{"drug": "drug name here", "symptoms": ["symptom1", "symptom2"]}

Medical Report:
%s

JSON:`

// Extractor implements domain.EntityExtractor
type Extractor struct {
	ollama  *external.OllamaClient
	model   string
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewExtractor creates an extractor. A nil client disables the LLM path.
func NewExtractor(ollama *external.OllamaClient, model string, logger *logrus.Logger) *Extractor {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	e := &Extractor{ollama: ollama, model: model, logger: logger}
	if ollama != nil {
		e.breaker = external.NewCircuitBreaker("OllamaExtraction", external.DefaultCircuitBreakerConfig(), logger)
	}
	return e
}

// NewExtractorFromConfig builds the extractor from configuration
func NewExtractorFromConfig(config domain.ExtractionConfig, logger *logrus.Logger) *Extractor {
	if !config.Enabled {
		return NewExtractor(nil, config.Model, logger)
	}
	client := external.NewOllamaClient(external.OllamaConfig{
		BaseURL: config.OllamaURL,
		Timeout: config.Timeout,
	})
	return NewExtractor(client, config.Model, logger)
}

// Extract tries the LLM first and falls back to keyword matching. It never
// fails; the fallback always yields a result.
func (e *Extractor) Extract(ctx context.Context, drugName, adverseEvent string) *domain.Entities {
	if e.ollama != nil {
		entities, err := e.extractWithLLM(ctx, drugName, adverseEvent)
		if err == nil {
			return entities
		}
		e.logger.WithError(err).Debug("LLM extraction failed, using keyword fallback")
	}
	return ExtractWithKeywords(drugName, adverseEvent)
}

// Available reports whether the configured model is pulled on the server
func (e *Extractor) Available(ctx context.Context) bool {
	if e.ollama == nil {
		return false
	}
	family := strings.SplitN(e.model, ":", 2)[0]
	ok, err := e.ollama.HasModel(ctx, family)
	return err == nil && ok
}

type llmEntities struct {
	Drug     *string         `json:"drug"`
	Symptoms json.RawMessage `json:"symptoms"`
}

func (e *Extractor) extractWithLLM(ctx context.Context, drugName, adverseEvent string) (*domain.Entities, error) {
	report := fmt.Sprintf("Drug: %s. Adverse Event: %s", drugName, adverseEvent)

	result, err := e.breaker.Execute(func() (interface{}, error) {
		return e.ollama.Generate(ctx, e.model, fmt.Sprintf(promptTemplate, report), external.GenerateOptions{
			Temperature: 0.1,
			NumPredict:  200,
		})
	})
	if err != nil {
		return nil, err
	}

	return parseLLMOutput(result.(string))
}

// parseLLMOutput reads the first flat JSON object in generated text. A
// scalar "symptoms" value is wrapped into a one-element list.
func parseLLMOutput(generated string) (*domain.Entities, error) {
	raw := jsonObject.FindString(generated)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in model output")
	}

	var parsed llmEntities
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("invalid JSON in model output: %w", err)
	}
	if parsed.Drug == nil || len(parsed.Symptoms) == 0 {
		return nil, fmt.Errorf("model output missing drug or symptoms")
	}

	var symptoms []string
	if err := json.Unmarshal(parsed.Symptoms, &symptoms); err != nil {
		var single string
		if err := json.Unmarshal(parsed.Symptoms, &single); err != nil {
			return nil, fmt.Errorf("unexpected symptoms value: %s", string(parsed.Symptoms))
		}
		symptoms = []string{single}
	}
	if symptoms == nil {
		symptoms = []string{}
	}

	return &domain.Entities{
		Drug:             *parsed.Drug,
		Symptoms:         symptoms,
		ExtractionMethod: MethodLLM,
	}, nil
}

// ExtractWithKeywords matches known symptom terms in the narrative. When none
// match, the trimmed narrative itself is the single symptom.
func ExtractWithKeywords(drugName, adverseEvent string) *domain.Entities {
	drug := strings.TrimSpace(drugName)
	if drug == "" {
		drug = "Unknown"
	}

	symptoms := []string{}
	lower := strings.ToLower(adverseEvent)
	for _, kw := range symptomKeywords {
		if strings.Contains(lower, kw) {
			symptoms = append(symptoms, titleCase(kw))
		}
	}

	if len(symptoms) == 0 {
		if event := strings.TrimSpace(adverseEvent); event != "" {
			symptoms = []string{event}
		}
	}

	return &domain.Entities{
		Drug:             drug,
		Symptoms:         symptoms,
		ExtractionMethod: MethodRegex,
	}
}

// titleCase upper-cases the first letter of each space separated word
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
