// Package config provides configuration management for the servers.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pv-ae-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external databases: the audit log and the similarity index
// both live in SQLite files under DataDir.
type LiteConfig struct {
	// Data storage
	DataDir string

	// Drug validation cache
	CacheMaxItems int
	CacheTTL      time.Duration

	// Collaborators
	ModelURL       string // seriousness model endpoint; empty uses the override gate and neutral fallback
	OllamaURL      string // entity extraction and, with the ollama embedder, embeddings
	ExtractionLLM  string
	Embedder       string // hashing or ollama
	EmbeddingModel string

	// Transport settings
	Transport string // stdio or http
	HTTPPort  int

	// Logging
	LogLevel  string
	LogFormat string
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".pv-ae-server")

	return &LiteConfig{
		DataDir:        dataDir,
		CacheMaxItems:  1000,
		CacheTTL:       24 * time.Hour,
		ExtractionLLM:  "llama3.2",
		Embedder:       "hashing",
		EmbeddingModel: "nomic-embed-text",
		Transport:      "stdio",
		HTTPPort:       8080,
		LogLevel:       "info",
		LogFormat:      "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("PV_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("PV_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("PV_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	cfg.ModelURL = os.Getenv("PV_MODEL_URL")
	cfg.OllamaURL = os.Getenv("PV_OLLAMA_URL")
	if v := os.Getenv("PV_EXTRACTION_MODEL"); v != "" {
		cfg.ExtractionLLM = v
	}
	if v := os.Getenv("PV_EMBEDDER"); v == "hashing" || v == "ollama" {
		cfg.Embedder = v
	}
	if v := os.Getenv("PV_EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}

	if v := os.Getenv("PV_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("PV_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	if v := os.Getenv("PV_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PV_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	// the ollama embedder needs a server
	if cfg.Embedder == "ollama" && cfg.OllamaURL == "" {
		cfg.Embedder = "hashing"
	}

	return cfg
}

// AuditDBPath returns the path to the audit SQLite database.
func (c *LiteConfig) AuditDBPath() string {
	return filepath.Join(c.DataDir, "audit.db")
}

// IndexDBPath returns the path to the similarity index SQLite database.
func (c *LiteConfig) IndexDBPath() string {
	return filepath.Join(c.DataDir, "similar_events.db")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}

// ClassifierConfig returns the classifier settings
func (c *LiteConfig) ClassifierConfig() domain.ClassifierConfig {
	return domain.ClassifierConfig{
		ModelURL:         c.ModelURL,
		Timeout:          10 * time.Second,
		RateLimit:        20,
		SeriousThreshold: 0.30,
	}
}

// ExtractionConfig returns the entity extractor settings. Extraction falls
// back to keyword matching when no Ollama server is configured.
func (c *LiteConfig) ExtractionConfig() domain.ExtractionConfig {
	return domain.ExtractionConfig{
		Enabled:   c.OllamaURL != "",
		OllamaURL: c.OllamaURL,
		Model:     c.ExtractionLLM,
		Timeout:   60 * time.Second,
	}
}

// SimilarityConfig returns the similarity index settings
func (c *LiteConfig) SimilarityConfig() domain.SimilarityConfig {
	return domain.SimilarityConfig{
		Backend:        "sqlite",
		SQLitePath:     c.IndexDBPath(),
		Embedder:       c.Embedder,
		EmbeddingURL:   c.OllamaURL,
		EmbeddingModel: c.EmbeddingModel,
		Dimensions:     384,
		QueryTimeout:   3 * time.Second,
		UpsertTimeout:  5 * time.Second,
		TopK:           5,
	}
}

// DrugValidationConfig returns the RxNorm and openFDA settings
func (c *LiteConfig) DrugValidationConfig() domain.DrugValidationConfig {
	return domain.DrugValidationConfig{
		RxNormBaseURL:  "https://rxnav.nlm.nih.gov/REST",
		OpenFDABaseURL: "https://api.fda.gov",
		Timeout:        10 * time.Second,
		RateLimit:      10,
		CacheSize:      c.CacheMaxItems,
	}
}
