package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"

	"github.com/pv-ae-server/internal/domain"
)

// EnvPrefix is prepended to every environment override, e.g. PV_AE_SERVER_PORT
const EnvPrefix = "PV_AE"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v          *viper.Viper
	configFile string
	config     *domain.Config
}

var _ domain.ConfigManager = (*Manager)(nil)

// NewManager creates a configuration manager that searches the default paths
// for config.yaml
func NewManager() (*Manager, error) {
	return NewManagerWithFile("")
}

// NewManagerWithFile creates a configuration manager reading an explicit
// config file. An empty path searches the default locations.
func NewManagerWithFile(path string) (*Manager, error) {
	m := &Manager{configFile: path}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/pv-ae-server/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional; defaults and environment variables suffice
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults sets a default for every key so each can be overridden from
// the environment
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "45s")
	v.SetDefault("server.batch_workers", 4)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite_path", "data/audit.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "pharmacovigilance")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.auto_migrate", true)

	// Similarity index defaults
	v.SetDefault("similarity.backend", "sqlite")
	v.SetDefault("similarity.sqlite_path", "data/similar_events.db")
	v.SetDefault("similarity.embedder", "hashing")
	v.SetDefault("similarity.embedding_url", "http://localhost:11434")
	v.SetDefault("similarity.embedding_model", "nomic-embed-text")
	v.SetDefault("similarity.dimensions", 384)
	v.SetDefault("similarity.query_timeout", "3s")
	v.SetDefault("similarity.upsert_timeout", "5s")
	v.SetDefault("similarity.top_k", 5)

	// Classifier defaults
	v.SetDefault("classifier.model_url", "")
	v.SetDefault("classifier.timeout", "10s")
	v.SetDefault("classifier.rate_limit", 20)
	v.SetDefault("classifier.serious_threshold", 0.30)

	// Extraction defaults
	v.SetDefault("extraction.enabled", true)
	v.SetDefault("extraction.ollama_url", "http://localhost:11434")
	v.SetDefault("extraction.model", "llama3.2")
	v.SetDefault("extraction.timeout", "60s")

	// Drug validation defaults
	v.SetDefault("drug_validation.rxnorm_base_url", "https://rxnav.nlm.nih.gov/REST")
	v.SetDefault("drug_validation.openfda_base_url", "https://api.fda.gov")
	v.SetDefault("drug_validation.timeout", "10s")
	v.SetDefault("drug_validation.rate_limit", 10)
	v.SetDefault("drug_validation.cache_size", 1000)
	v.SetDefault("drug_validation.catalog_path", "")

	// Cache defaults
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.default_ttl", "24h")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Notification defaults
	v.SetDefault("notification.smtp_host", "")
	v.SetDefault("notification.smtp_port", 587)
	v.SetDefault("notification.smtp_user", "")
	v.SetDefault("notification.smtp_password", "")
	v.SetDefault("notification.safety_officer_email", "")
	v.SetDefault("notification.websocket_enabled", true)
	v.SetDefault("notification.webhook_url", "")
	v.SetDefault("notification.retry_attempts", 2)

	// Archive defaults
	v.SetDefault("archive.s3_bucket", "")
	v.SetDefault("archive.s3_region", "us-east-1")
	v.SetDefault("archive.s3_prefix", "audit-exports")
	v.SetDefault("archive.s3_endpoint", "")
	v.SetDefault("archive.aws_access_key", "")
	v.SetDefault("archive.aws_secret_key", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Database.Driver {
	case "sqlite":
		if config.Database.SQLitePath == "" {
			return fmt.Errorf("database sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	default:
		return fmt.Errorf("invalid database driver: %s", config.Database.Driver)
	}

	switch config.Similarity.Backend {
	case "sqlite", "pgvector":
	default:
		return fmt.Errorf("invalid similarity backend: %s", config.Similarity.Backend)
	}
	if config.Similarity.Backend == "pgvector" && config.Database.Driver != "postgres" {
		return fmt.Errorf("pgvector similarity backend requires the postgres database driver")
	}

	switch config.Similarity.Embedder {
	case "hashing", "ollama":
	default:
		return fmt.Errorf("invalid embedder: %s", config.Similarity.Embedder)
	}

	if t := config.Classifier.SeriousThreshold; t <= 0 || t >= 1 {
		return fmt.Errorf("classifier serious_threshold must be in (0,1): %v", t)
	}

	if config.DrugValidation.RxNormBaseURL == "" {
		return fmt.Errorf("RxNorm base URL is required")
	}
	if config.DrugValidation.OpenFDABaseURL == "" {
		return fmt.Errorf("openFDA base URL is required")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetDatabaseURL returns the postgres:// URL used by migrations and pgx
func (m *Manager) GetDatabaseURL() string {
	db := m.config.Database
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(db.Username, db.Password),
		Host:     fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:     "/" + db.Database,
		RawQuery: url.Values{"sslmode": []string{db.SSLMode}}.Encode(),
	}
	return u.String()
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
