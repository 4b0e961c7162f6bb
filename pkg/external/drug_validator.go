package external

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/pv-ae-server/internal/domain"
)

// Validation sources
const (
	SourceRxNorm  = "rxnorm"
	SourceOpenFDA = "openfda"
)

// DrugValidatorConfig represents configuration for the drug validation service
type DrugValidatorConfig struct {
	RxNorm    RxNormConfig  `json:"rxnorm"`
	OpenFDA   OpenFDAConfig `json:"openfda"`
	CacheSize int           `json:"cache_size"`
	CacheTTL  time.Duration `json:"cache_ttl"`
}

// DrugValidatorConfigFrom maps server configuration onto validator settings
func DrugValidatorConfigFrom(config domain.DrugValidationConfig, cacheTTL time.Duration) DrugValidatorConfig {
	return DrugValidatorConfig{
		RxNorm: RxNormConfig{
			BaseURL:   config.RxNormBaseURL,
			Timeout:   config.Timeout,
			RateLimit: config.RateLimit,
		},
		OpenFDA: OpenFDAConfig{
			BaseURL:   config.OpenFDABaseURL,
			Timeout:   config.Timeout,
			RateLimit: config.RateLimit,
		},
		CacheSize: config.CacheSize,
		CacheTTL:  cacheTTL,
	}
}

// ValidatorStats represents cache and lookup statistics
type ValidatorStats struct {
	MemoryHits    int64     `json:"memory_hits"`
	RedisHits     int64     `json:"redis_hits"`
	RxNormHits    int64     `json:"rxnorm_hits"`
	OpenFDAHits   int64     `json:"openfda_hits"`
	Rejections    int64     `json:"rejections"`
	ExternalCalls int64     `json:"external_calls"`
	LastReset     time.Time `json:"last_reset"`
}

// DrugValidationService validates drug names against RxNorm, with openFDA
// label search as the secondary source. Lookups go memory LRU, then the
// shared Redis cache, then the external APIs.
type DrugValidationService struct {
	rxnorm  *RxNormClient
	openFDA *OpenFDAClient

	rxnormBreaker  *gobreaker.CircuitBreaker
	openFDABreaker *gobreaker.CircuitBreaker

	memoryCache *lru.Cache
	redisCache  *CacheClient
	cacheTTL    time.Duration

	logger  *logrus.Logger
	stats   ValidatorStats
	statsMu sync.Mutex
}

// NewDrugValidationService creates a drug validator. redisCache may be nil.
func NewDrugValidationService(config DrugValidatorConfig, redisCache *CacheClient, logger *logrus.Logger) (*DrugValidationService, error) {
	if config.CacheSize == 0 {
		config.CacheSize = 1000
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	memoryCache, err := lru.New(config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	breakerConfig := DefaultCircuitBreakerConfig()

	return &DrugValidationService{
		rxnorm:         NewRxNormClient(config.RxNorm),
		openFDA:        NewOpenFDAClient(config.OpenFDA),
		rxnormBreaker:  NewCircuitBreaker("RxNorm", breakerConfig, logger),
		openFDABreaker: NewCircuitBreaker("openFDA", breakerConfig, logger),
		memoryCache:    memoryCache,
		redisCache:     redisCache,
		cacheTTL:       config.CacheTTL,
		logger:         logger,
		stats:          ValidatorStats{LastReset: time.Now()},
	}, nil
}

// Validate normalizes drugName or rejects it with domain.ErrInvalidDrug
func (s *DrugValidationService) Validate(ctx context.Context, drugName string) (*domain.DrugValidation, error) {
	drugName = strings.TrimSpace(drugName)
	if drugName == "" {
		return nil, domain.NewValidationError("drugname", "drug name cannot be empty", drugName)
	}
	key := strings.ToLower(drugName)

	if cached, ok := s.memoryCache.Get(key); ok {
		s.incr(func(st *ValidatorStats) { st.MemoryHits++ })
		v := *cached.(*domain.DrugValidation)
		v.Input = drugName
		return &v, nil
	}

	if s.redisCache != nil {
		cached, found, err := s.redisCache.GetDrugValidation(ctx, key)
		if err != nil {
			s.logger.WithError(err).Warn("Drug validation cache read failed")
		}
		if found {
			s.incr(func(st *ValidatorStats) { st.RedisHits++ })
			s.memoryCache.Add(key, cached)
			v := *cached
			v.Input = drugName
			return &v, nil
		}
	}

	validation, err := s.lookup(ctx, drugName)
	if err != nil {
		return nil, err
	}

	s.memoryCache.Add(key, validation)
	if s.redisCache != nil {
		if err := s.redisCache.SetDrugValidation(ctx, key, validation, s.cacheTTL); err != nil {
			s.logger.WithError(err).Warn("Drug validation cache write failed")
		}
	}

	return validation, nil
}

// GetDrugInfo returns FDA label information. A failed lookup yields the
// "Information not available" placeholder rather than an error.
func (s *DrugValidationService) GetDrugInfo(ctx context.Context, drugName string) (*domain.DrugInfo, error) {
	key := strings.ToLower(strings.TrimSpace(drugName))
	if key == "" {
		return nil, domain.NewValidationError("drugname", "drug name cannot be empty", drugName)
	}

	if s.redisCache != nil {
		if cached, found, err := s.redisCache.GetDrugInfo(ctx, key); err == nil && found {
			return cached, nil
		}
	}

	result, err := s.openFDABreaker.Execute(func() (interface{}, error) {
		info, err := s.openFDA.GetDrugInfo(ctx, key)
		if errors.Is(err, ErrNoMatch) {
			return nil, nil
		}
		return info, err
	})
	if err != nil {
		s.logger.WithError(err).WithField("drug", drugName).Warn("FDA label lookup failed")
		return UnavailableDrugInfo(), nil
	}
	info, ok := result.(*domain.DrugInfo)
	if !ok || info == nil {
		return UnavailableDrugInfo(), nil
	}

	if s.redisCache != nil {
		if err := s.redisCache.SetDrugInfo(ctx, key, info, s.cacheTTL); err != nil {
			s.logger.WithError(err).Warn("Drug info cache write failed")
		}
	}
	return info, nil
}

// Stats returns a snapshot of lookup statistics
func (s *DrugValidationService) Stats() ValidatorStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// lookup asks RxNorm first and openFDA second. Rejections are not cached
// since they may stem from an outage.
func (s *DrugValidationService) lookup(ctx context.Context, drugName string) (*domain.DrugValidation, error) {
	s.incr(func(st *ValidatorStats) { st.ExternalCalls++ })

	result, err := s.rxnormBreaker.Execute(func() (interface{}, error) {
		match, err := s.rxnorm.Normalize(ctx, drugName)
		if errors.Is(err, ErrNoMatch) {
			// A miss is an answer, not a service failure
			return nil, nil
		}
		return match, err
	})
	if err == nil && result != nil {
		if match, ok := result.(*RxNormMatch); ok && match != nil {
			s.incr(func(st *ValidatorStats) { st.RxNormHits++ })
			s.logger.WithFields(logrus.Fields{
				"drug":           drugName,
				"canonical_name": match.CanonicalName,
				"rxcui":          match.RxCUI,
			}).Debug("Drug normalized via RxNorm")
			return &domain.DrugValidation{
				Input:         drugName,
				RxCUI:         match.RxCUI,
				CanonicalName: match.CanonicalName,
				Source:        SourceRxNorm,
			}, nil
		}
	}
	if err != nil {
		s.logger.WithError(err).WithField("drug", drugName).Warn("RxNorm lookup failed")
	}

	exists, err := s.openFDABreaker.Execute(func() (interface{}, error) {
		return s.openFDA.LabelExists(ctx, drugName)
	})
	if err != nil {
		s.logger.WithError(err).WithField("drug", drugName).Warn("openFDA lookup failed")
	} else if exists.(bool) {
		s.incr(func(st *ValidatorStats) { st.OpenFDAHits++ })
		return &domain.DrugValidation{
			Input:         drugName,
			CanonicalName: drugName,
			Source:        SourceOpenFDA,
		}, nil
	}

	s.incr(func(st *ValidatorStats) { st.Rejections++ })
	s.logger.WithField("drug", drugName).Info("Rejecting unvalidated drug name")
	return nil, fmt.Errorf("%w: %q", domain.ErrInvalidDrug, drugName)
}

func (s *DrugValidationService) incr(fn func(*ValidatorStats)) {
	s.statsMu.Lock()
	fn(&s.stats)
	s.statsMu.Unlock()
}
