package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/pv-ae-server/internal/audit"
	"github.com/pv-ae-server/internal/classifier"
	litecfg "github.com/pv-ae-server/internal/config"
	"github.com/pv-ae-server/internal/domain"
	"github.com/pv-ae-server/internal/escalation"
	"github.com/pv-ae-server/internal/extraction"
	"github.com/pv-ae-server/internal/review"
	"github.com/pv-ae-server/internal/service"
	"github.com/pv-ae-server/internal/similarity"
	"github.com/pv-ae-server/pkg/external"
)

// LiteServer is a lightweight MCP server that requires no external databases.
// The audit log and the similarity index are SQLite files under the data
// directory, and it owns them.
type LiteServer struct {
	*Server

	config     *litecfg.LiteConfig
	store      audit.Store
	reviews    review.Store
	index      *similarity.Index
	validator  domain.DrugValidator
	classifier domain.SeriousnessClassifier
	logger     *logrus.Logger
}

// LiteServerOption is a functional option for LiteServer.
type LiteServerOption func(*LiteServer) error

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) LiteServerOption {
	return func(s *LiteServer) error {
		s.logger = logger
		return nil
	}
}

// WithAuditStore sets a custom audit store.
func WithAuditStore(store audit.Store) LiteServerOption {
	return func(s *LiteServer) error {
		s.store = store
		return nil
	}
}

// WithDrugValidator replaces the RxNorm/openFDA validator.
func WithDrugValidator(validator domain.DrugValidator) LiteServerOption {
	return func(s *LiteServer) error {
		s.validator = validator
		return nil
	}
}

// WithClassifier replaces the model-backed classifier.
func WithClassifier(c domain.SeriousnessClassifier) LiteServerOption {
	return func(s *LiteServer) error {
		s.classifier = c
		return nil
	}
}

// NewLiteServer creates a new lightweight MCP server instance.
func NewLiteServer(ctx context.Context, cfg *litecfg.LiteConfig, opts ...LiteServerOption) (*LiteServer, error) {
	server := &LiteServer{
		config: cfg,
		logger: newLogger(cfg),
	}

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if server.store == nil {
		store, err := audit.NewSQLiteStore(cfg.AuditDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create audit store: %w", err)
		}
		server.store = store
	}

	index, err := newLiteIndex(ctx, cfg, server.logger)
	if err != nil {
		server.store.Close()
		return nil, err
	}
	server.index = index

	var drugInfo domain.DrugInfoProvider
	if server.validator == nil {
		validator, err := external.NewDrugValidationService(
			external.DrugValidatorConfigFrom(cfg.DrugValidationConfig(), cfg.CacheTTL),
			nil,
			server.logger,
		)
		if err != nil {
			server.Close()
			return nil, fmt.Errorf("failed to create drug validator: %w", err)
		}
		server.validator = validator
		drugInfo = validator
	}

	if server.classifier == nil {
		server.classifier = classifier.NewServiceFromConfig(cfg.ClassifierConfig(), server.logger)
	}

	reviews, err := review.NewSQLiteStore(cfg.AuditDBPath())
	if err != nil {
		server.Close()
		return nil, fmt.Errorf("failed to create review store: %w", err)
	}
	server.reviews = reviews

	recorder := service.NewRecorder(server.store, index, server.logger)
	pipeline := service.NewPipeline(service.PipelineDeps{
		Validator:  server.validator,
		DrugInfo:   drugInfo,
		Classifier: server.classifier,
		Extractor:  extraction.NewExtractorFromConfig(cfg.ExtractionConfig(), server.logger),
		Engine:     escalation.NewEngine(),
		Recorder:   recorder,
	}, server.logger)

	server.Server = NewServer(pipeline, ServeOptions{
		Transport: cfg.Transport,
		HTTPPort:  cfg.HTTPPort,
		ExportDir: cfg.ExportDir(),
		Reviews:   review.NewService(reviews, recorder, server.logger),
	}, server.logger)

	server.logger.WithFields(logrus.Fields{
		"data_dir":  cfg.DataDir,
		"transport": cfg.Transport,
		"embedder":  index.Stats(ctx).Model,
	}).Info("Lite server initialized successfully")
	return server, nil
}

func newLogger(cfg *litecfg.LiteConfig) *logrus.Logger {
	logger := logrus.New()
	// stdout carries the MCP stream
	logger.SetOutput(os.Stderr)
	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	return logger
}

func newLiteIndex(ctx context.Context, cfg *litecfg.LiteConfig, logger *logrus.Logger) (*similarity.Index, error) {
	simCfg := cfg.SimilarityConfig()

	embedder, err := similarity.NewEmbedderFromConfig(ctx, simCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	backend, err := similarity.NewSQLiteBackend(simCfg.SQLitePath)
	if err != nil {
		embedder.Close()
		return nil, fmt.Errorf("failed to open similarity index: %w", err)
	}
	return similarity.NewIndex(backend, embedder, similarity.OptionsFromConfig(simCfg), logger), nil
}

// Close cleans up server resources.
func (s *LiteServer) Close() error {
	var errs []error
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close similarity index")
			errs = append(errs, err)
		}
	}
	if s.reviews != nil {
		if err := s.reviews.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close review store")
			errs = append(errs, err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close audit store")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
