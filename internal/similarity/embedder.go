package similarity

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/pv-ae-server/pkg/external"
)

// DefaultDimensions is the hashing embedder's vector size
const DefaultDimensions = 384

// Embedder turns canonical text into a vector. Implementations are
// constructed explicitly and must be initialized before use.
type Embedder interface {
	Init(ctx context.Context) error
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dimensions() int
	Close() error
}

var errEmbedderNotInitialized = errors.New("embedder not initialized")

// HashingEmbedder is a deterministic bag-of-features embedder: unigrams and
// bigrams hashed into a fixed number of buckets and L2-normalized. It needs
// no model server.
type HashingEmbedder struct {
	dims  int
	ready bool
	mu    sync.RWMutex
}

// NewHashingEmbedder creates a hashing embedder with dims buckets
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashingEmbedder{dims: dims}
}

// Init marks the embedder ready
func (h *HashingEmbedder) Init(ctx context.Context) error {
	h.mu.Lock()
	h.ready = true
	h.mu.Unlock()
	return nil
}

// Embed hashes text into a unit vector
func (h *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h.mu.RLock()
	ready := h.ready
	h.mu.RUnlock()
	if !ready {
		return nil, errEmbedderNotInitialized
	}

	vec := make([]float32, h.dims)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	add := func(feature string, weight float32) {
		hasher := fnv.New64a()
		hasher.Write([]byte(feature))
		sum := hasher.Sum64()
		idx := int(sum % uint64(h.dims))
		// top bit selects the sign
		if sum>>63 == 1 {
			weight = -weight
		}
		vec[idx] += weight
	}

	for i, tok := range tokens {
		add(tok, 1)
		if i > 0 {
			add(tokens[i-1]+" "+tok, 0.5)
		}
	}
	return normalize(vec), nil
}

// Model identifies the embedder in index stats
func (h *HashingEmbedder) Model() string {
	return fmt.Sprintf("fnv-hashing-%d", h.dims)
}

// Dimensions returns the vector size
func (h *HashingEmbedder) Dimensions() int {
	return h.dims
}

// Close releases nothing
func (h *HashingEmbedder) Close() error {
	h.mu.Lock()
	h.ready = false
	h.mu.Unlock()
	return nil
}

// OllamaEmbedder embeds text with an Ollama embedding model
type OllamaEmbedder struct {
	client *external.OllamaClient
	model  string

	mu   sync.RWMutex
	dims int
}

// NewOllamaEmbedder creates an embedder backed by client
func NewOllamaEmbedder(client *external.OllamaClient, model string) *OllamaEmbedder {
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaEmbedder{client: client, model: model}
}

// Init probes the model once to learn its dimensions
func (o *OllamaEmbedder) Init(ctx context.Context) error {
	if o.client == nil {
		return fmt.Errorf("ollama client is required")
	}
	vec, err := o.client.Embed(ctx, o.model, "dimension probe")
	if err != nil {
		return fmt.Errorf("failed to initialize embedding model %s: %w", o.model, err)
	}
	o.mu.Lock()
	o.dims = len(vec)
	o.mu.Unlock()
	return nil
}

// Embed returns the normalized model embedding of text
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if o.Dimensions() == 0 {
		return nil, errEmbedderNotInitialized
	}
	vec, err := o.client.Embed(ctx, o.model, text)
	if err != nil {
		return nil, err
	}
	if len(vec) != o.Dimensions() {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), o.Dimensions())
	}
	return normalize(vec), nil
}

// Model returns the Ollama model name
func (o *OllamaEmbedder) Model() string {
	return o.model
}

// Dimensions returns the probed vector size, or 0 before Init
func (o *OllamaEmbedder) Dimensions() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.dims
}

// Close forgets the probed dimensions
func (o *OllamaEmbedder) Close() error {
	o.mu.Lock()
	o.dims = 0
	o.mu.Unlock()
	return nil
}
