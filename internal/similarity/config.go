package similarity

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pv-ae-server/internal/domain"
	"github.com/pv-ae-server/pkg/external"
)

// Embedder names accepted in configuration
const (
	EmbedderHashing = "hashing"
	EmbedderOllama  = "ollama"
)

// NewEmbedderFromConfig builds and initializes the configured embedder. An
// Ollama embedder that cannot be initialized falls back to hashing so the
// index stays usable; the fallback is logged.
func NewEmbedderFromConfig(ctx context.Context, config domain.SimilarityConfig, logger *logrus.Logger) (Embedder, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if config.Embedder == EmbedderOllama && config.EmbeddingURL != "" {
		client := external.NewOllamaClient(external.OllamaConfig{
			BaseURL: config.EmbeddingURL,
			Timeout: 30 * time.Second,
		})
		ollama := NewOllamaEmbedder(client, config.EmbeddingModel)
		err := ollama.Init(ctx)
		if err == nil {
			return ollama, nil
		}
		logger.WithError(err).Warn("Embedding model unavailable, falling back to hashing embedder")
	}

	hashing := NewHashingEmbedder(config.Dimensions)
	if err := hashing.Init(ctx); err != nil {
		return nil, err
	}
	return hashing, nil
}

// OptionsFromConfig maps configuration onto index options
func OptionsFromConfig(config domain.SimilarityConfig) Options {
	return Options{
		QueryTimeout:  config.QueryTimeout,
		UpsertTimeout: config.UpsertTimeout,
		TopK:          config.TopK,
	}
}
