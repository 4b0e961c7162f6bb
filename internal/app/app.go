// Package app assembles the server components from configuration. The HTTP
// server and the operator CLI share this wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/pv-ae-server/internal/archive"
	"github.com/pv-ae-server/internal/audit"
	"github.com/pv-ae-server/internal/classifier"
	"github.com/pv-ae-server/internal/database"
	"github.com/pv-ae-server/internal/domain"
	"github.com/pv-ae-server/internal/drugs"
	"github.com/pv-ae-server/internal/escalation"
	"github.com/pv-ae-server/internal/extraction"
	"github.com/pv-ae-server/internal/notify"
	"github.com/pv-ae-server/internal/review"
	"github.com/pv-ae-server/internal/service"
	"github.com/pv-ae-server/internal/similarity"
	"github.com/pv-ae-server/pkg/external"
)

// Components is everything a running server holds. Optional parts are nil
// when not configured: DB (sqlite driver), Index (open failure), Cache (no
// Redis URL or Redis unreachable), Hub (websocket disabled) and Archiver (no
// bucket).
type Components struct {
	DB         *database.DB
	Store      audit.Store
	Index      *similarity.Index
	Cache      *external.CacheClient
	Validator  *external.DrugValidationService
	Classifier *classifier.Service
	Extractor  *extraction.Extractor
	Catalog    *drugs.Catalog
	Hub        *notify.Hub
	Alerts     *notify.AlertService
	Email      *notify.EmailService
	Archiver   *archive.Archiver
	Recorder   *service.Recorder
	Pipeline   *service.Pipeline
	Reviews    *review.Service

	logger *logrus.Logger
}

// NewLogger configures logrus from the logging section
func NewLogger(cfg domain.LoggingConfig) (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	var out io.Writer
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
	}
	logger.SetOutput(out)
	return logger, nil
}

// OpenStore opens the configured audit store. For postgres it also returns the
// pgx pool used by the pgvector backend and applies migrations when
// auto_migrate is set.
func OpenStore(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (audit.Store, *database.DB, error) {
	switch cfg.Database.Driver {
	case "", "sqlite":
		store, err := audit.NewSQLiteStore(cfg.Database.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite audit store: %w", err)
		}
		return store, nil, nil
	case "postgres":
		dbCfg := database.ConfigFromDomain(cfg.Database)
		if cfg.Database.AutoMigrate {
			if err := database.Migrate(ctx, dbCfg.URL(), logger); err != nil {
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		db, err := database.NewConnection(ctx, dbCfg, logger)
		if err != nil {
			return nil, nil, err
		}
		store, err := audit.NewPostgresStoreFromURL(dbCfg.URL(), cfg.Database)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to open postgres audit store: %w", err)
		}
		return store, db, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

// OpenReviewStore opens the review table next to the audit log
func OpenReviewStore(cfg domain.DatabaseConfig) (review.Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return review.NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		return review.NewPostgresStoreFromURL(database.ConfigFromDomain(cfg).URL())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// OpenIndex builds the similarity index over the configured backend
func OpenIndex(ctx context.Context, cfg domain.SimilarityConfig, db *database.DB, logger *logrus.Logger) (*similarity.Index, error) {
	var backend similarity.Backend
	switch cfg.Backend {
	case "", "sqlite":
		b, err := similarity.NewSQLiteBackend(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open similarity index: %w", err)
		}
		backend = b
	case "pgvector":
		if db == nil {
			return nil, errors.New("pgvector backend requires the postgres database driver")
		}
		backend = similarity.NewPgVectorBackend(db.Pool)
	default:
		return nil, fmt.Errorf("unsupported similarity backend: %s", cfg.Backend)
	}

	embedder, err := similarity.NewEmbedderFromConfig(ctx, cfg, logger)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	return similarity.NewIndex(backend, embedder, similarity.OptionsFromConfig(cfg), logger), nil
}

// Build assembles every component. Only the audit store is mandatory; the
// other collaborators degrade with a warning.
func Build(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (*Components, error) {
	c := &Components{logger: logger}

	store, db, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	c.Store, c.DB = store, db

	index, err := OpenIndex(ctx, cfg.Similarity, db, logger)
	if err != nil {
		logger.WithError(err).Warn("Similarity index unavailable, continuing without similar-case retrieval")
	} else {
		c.Index = index
	}

	if cfg.Cache.RedisURL != "" {
		cache, err := external.NewCacheClient(cfg.Cache)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, drug validation uses the in-process cache only")
		} else {
			c.Cache = cache
		}
	}

	validator, err := external.NewDrugValidationService(
		external.DrugValidatorConfigFrom(cfg.DrugValidation, cfg.Cache.DefaultTTL),
		c.Cache,
		logger,
	)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create drug validator: %w", err)
	}
	c.Validator = validator

	c.Catalog = drugs.DefaultCatalog()
	if path := cfg.DrugValidation.CatalogPath; path != "" {
		catalog, err := drugs.LoadCatalogCSV(path)
		if err != nil {
			logger.WithError(err).WithField("path", path).Warn("Failed to load drug catalog, using built-in list")
		} else {
			c.Catalog = catalog
		}
	}

	c.Classifier = classifier.NewServiceFromConfig(cfg.Classifier, logger)
	c.Extractor = extraction.NewExtractorFromConfig(cfg.Extraction, logger)

	var channels []notify.AlertChannel
	if cfg.Notification.WebSocketEnabled {
		c.Hub = notify.NewHub(logger)
		channels = append(channels, c.Hub)
	}
	if cfg.Notification.WebhookURL != "" {
		channels = append(channels, notify.NewWebhookChannel(cfg.Notification.WebhookURL))
	}
	c.Alerts = notify.NewAlertService(logger, cfg.Notification.RetryAttempts, channels...)
	c.Email = notify.NewEmailService(cfg.Notification, logger)

	if cfg.Archive.S3Bucket != "" {
		archiver, err := archive.NewS3Archiver(ctx, cfg.Archive, logger)
		if err != nil {
			logger.WithError(err).Warn("Audit archive unavailable")
		} else {
			c.Archiver = archiver
		}
	}

	// a nil *similarity.Index must not become a non-nil interface
	var eventIndex service.EventIndex
	if c.Index != nil {
		eventIndex = c.Index
	}
	c.Recorder = service.NewRecorder(c.Store, eventIndex, logger)
	c.Pipeline = service.NewPipeline(service.PipelineDeps{
		Validator:  c.Validator,
		DrugInfo:   c.Validator,
		Classifier: c.Classifier,
		Extractor:  c.Extractor,
		Engine:     escalation.NewEngine(),
		Recorder:   c.Recorder,
		Alerts:     c.Alerts,
		Email:      c.Email,
	}, logger)

	reviews, err := OpenReviewStore(cfg.Database)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open review store: %w", err)
	}
	c.Reviews = review.NewService(reviews, c.Recorder, logger)

	logger.WithFields(logrus.Fields{
		"database":   cfg.Database.Driver,
		"similarity": cfg.Similarity.Backend,
		"index":      c.Index != nil,
		"redis":      c.Cache != nil,
		"websocket":  c.Hub != nil,
		"archive":    c.Archiver != nil,
		"catalog":    c.Catalog.Len(),
	}).Info("Components initialized")

	return c, nil
}

// Close releases every component that holds a resource
func (c *Components) Close() error {
	var errs []error
	if c.Hub != nil {
		c.Hub.Close()
	}
	if c.Index != nil {
		errs = append(errs, c.Index.Close())
	}
	if c.Cache != nil {
		errs = append(errs, c.Cache.Close())
	}
	if c.Reviews != nil {
		errs = append(errs, c.Reviews.Store().Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	if c.DB != nil {
		c.DB.Close()
	}
	return errors.Join(errs...)
}
