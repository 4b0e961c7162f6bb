// Package classifier predicts adverse event seriousness. A high-recall
// keyword gate runs first; otherwise the preprocessed text is scored by a
// remote model and thresholded.
package classifier

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/pv-ae-server/internal/domain"
	"github.com/pv-ae-server/pkg/external"
)

const (
	// DefaultSeriousThreshold favors recall over precision
	DefaultSeriousThreshold = 0.30

	reasonModel = "ML classifier"
)

// Service implements domain.SeriousnessClassifier
type Service struct {
	client    *ModelClient
	breaker   *gobreaker.CircuitBreaker
	threshold float64
	logger    *logrus.Logger

	mu        sync.RWMutex
	modelType string
	classes   []string
}

// NewService creates a classifier. A nil client leaves only the keyword
// gate; reports it does not catch fail with ErrClassifierUnavailable.
func NewService(client *ModelClient, threshold float64, logger *logrus.Logger) *Service {
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultSeriousThreshold
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &Service{
		client:    client,
		threshold: threshold,
		logger:    logger,
		classes:   []string{domain.PredictionNonSerious, domain.PredictionSerious},
	}
	if client != nil {
		s.breaker = external.NewCircuitBreaker("SeriousnessModel", external.DefaultCircuitBreakerConfig(), logger)
	}
	return s
}

// NewServiceFromConfig builds the classifier from configuration
func NewServiceFromConfig(config domain.ClassifierConfig, logger *logrus.Logger) *Service {
	var client *ModelClient
	if config.ModelURL != "" {
		client = NewModelClient(ModelClientConfig{
			BaseURL:   config.ModelURL,
			Timeout:   config.Timeout,
			RateLimit: config.RateLimit,
		})
	}
	return NewService(client, config.SeriousThreshold, logger)
}

// Predict classifies a drug/event pair
func (s *Service) Predict(ctx context.Context, drugName, adverseEvent string) (*domain.MLPrediction, error) {
	text := CombineFeatures(drugName, adverseEvent)

	if MatchesOverride(text) {
		return &domain.MLPrediction{
			Prediction:            domain.PredictionSerious,
			SeriousProbability:    1.0,
			NonSeriousProbability: 0.0,
			Confidence:            1.0,
			Reason:                OverrideReason,
		}, nil
	}

	if s.client == nil {
		return nil, domain.ErrClassifierUnavailable
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.client.Predict(ctx, text)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrClassifierUnavailable, err)
	}

	resp := result.(*PredictResponse)
	s.rememberModel(resp)

	return s.decide(resp.SeriousProbability), nil
}

// Info describes the classifier for the model info endpoint
func (s *Service) Info() domain.ModelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := domain.ModelInfo{
		Loaded:           s.client != nil,
		SeriousThreshold: s.threshold,
		OverrideKeywords: len(overrideKeywords),
	}
	if s.client != nil {
		info.ModelType = s.modelType
		info.Classes = append([]string(nil), s.classes...)
		info.Endpoint = s.client.Endpoint()
	}
	return info
}

// Ready reports whether model predictions can currently be served
func (s *Service) Ready() bool {
	return s.client != nil && s.breaker.State() != gobreaker.StateOpen
}

func (s *Service) decide(p float64) *domain.MLPrediction {
	prediction := domain.PredictionNonSerious
	if p >= s.threshold {
		prediction = domain.PredictionSerious
	}
	return &domain.MLPrediction{
		Prediction:            prediction,
		SeriousProbability:    p,
		NonSeriousProbability: 1 - p,
		Confidence:            math.Max(p, 1-p),
		Reason:                reasonModel,
	}
}

func (s *Service) rememberModel(resp *PredictResponse) {
	if resp.ModelType == "" && len(resp.Classes) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if resp.ModelType != "" {
		s.modelType = resp.ModelType
	}
	if len(resp.Classes) > 0 {
		s.classes = append([]string(nil), resp.Classes...)
	}
}
