package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment    string               `mapstructure:"environment"`
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Similarity     SimilarityConfig     `mapstructure:"similarity"`
	Classifier     ClassifierConfig     `mapstructure:"classifier"`
	Extraction     ExtractionConfig     `mapstructure:"extraction"`
	DrugValidation DrugValidationConfig `mapstructure:"drug_validation"`
	Cache          CacheConfig          `mapstructure:"cache"`
	Notification   NotificationConfig   `mapstructure:"notification"`
	Archive        ArchiveConfig        `mapstructure:"archive"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	BatchWorkers   int           `mapstructure:"batch_workers"`
}

// DatabaseConfig represents audit database configuration.
// Driver is "sqlite" or "postgres".
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SimilarityConfig represents similarity index configuration.
// Backend is "sqlite" or "pgvector"; Embedder is "ollama" or "hashing".
type SimilarityConfig struct {
	Backend        string        `mapstructure:"backend"`
	SQLitePath     string        `mapstructure:"sqlite_path"`
	Embedder       string        `mapstructure:"embedder"`
	EmbeddingURL   string        `mapstructure:"embedding_url"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Dimensions     int           `mapstructure:"dimensions"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
	UpsertTimeout  time.Duration `mapstructure:"upsert_timeout"`
	TopK           int           `mapstructure:"top_k"`
}

// ClassifierConfig represents the seriousness model endpoint
type ClassifierConfig struct {
	ModelURL         string        `mapstructure:"model_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RateLimit        int           `mapstructure:"rate_limit"`
	SeriousThreshold float64       `mapstructure:"serious_threshold"`
}

// ExtractionConfig represents the LLM entity extractor
type ExtractionConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	OllamaURL string        `mapstructure:"ollama_url"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// DrugValidationConfig represents RxNorm / openFDA configuration
type DrugValidationConfig struct {
	RxNormBaseURL  string        `mapstructure:"rxnorm_base_url"`
	OpenFDABaseURL string        `mapstructure:"openfda_base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimit      int           `mapstructure:"rate_limit"`
	CacheSize      int           `mapstructure:"cache_size"`
	CatalogPath    string        `mapstructure:"catalog_path"`
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// NotificationConfig represents alert and email delivery
type NotificationConfig struct {
	SMTPHost         string `mapstructure:"smtp_host"`
	SMTPPort         int    `mapstructure:"smtp_port"`
	SMTPUser         string `mapstructure:"smtp_user"`
	SMTPPassword     string `mapstructure:"smtp_password"`
	SafetyOfficer    string `mapstructure:"safety_officer_email"`
	WebSocketEnabled bool   `mapstructure:"websocket_enabled"`
	WebhookURL       string `mapstructure:"webhook_url"`
	RetryAttempts    int    `mapstructure:"retry_attempts"`
}

// EmailConfigured reports whether every SMTP setting is present
func (n NotificationConfig) EmailConfigured() bool {
	return n.SMTPHost != "" && n.SMTPUser != "" && n.SMTPPassword != "" && n.SafetyOfficer != ""
}

// ArchiveConfig represents S3 archival of audit exports
type ArchiveConfig struct {
	S3Bucket     string `mapstructure:"s3_bucket"`
	S3Region     string `mapstructure:"s3_region"`
	S3Prefix     string `mapstructure:"s3_prefix"`
	S3Endpoint   string `mapstructure:"s3_endpoint"`
	AWSAccessKey string `mapstructure:"aws_access_key"`
	AWSSecretKey string `mapstructure:"aws_secret_key"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig represents Prometheus exposition
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}
