package similarity

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pv-ae-server/pkg/external"
)

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestHashingEmbedder(t *testing.T) {
	ctx := context.Background()
	embedder := NewHashingEmbedder(0)

	_, err := embedder.Embed(ctx, "text")
	assert.ErrorIs(t, err, errEmbedderNotInitialized)

	require.NoError(t, embedder.Init(ctx))
	assert.Equal(t, DefaultDimensions, embedder.Dimensions())
	assert.Equal(t, "fnv-hashing-384", embedder.Model())

	a, err := embedder.Embed(ctx, "Drug: Warfarin\nEvent: severe bleeding")
	require.NoError(t, err)
	again, err := embedder.Embed(ctx, "Drug: Warfarin\nEvent: severe bleeding")
	require.NoError(t, err)

	assert.Len(t, a, DefaultDimensions)
	assert.Equal(t, a, again, "embedding must be deterministic")
	assert.InDelta(t, 1.0, norm(a), 1e-5)

	near, _ := embedder.Embed(ctx, "Drug: Warfarin\nEvent: bleeding")
	far, _ := embedder.Embed(ctx, "Drug: Metformin\nEvent: metallic taste")
	assert.Less(t, cosineDistance(a, near), cosineDistance(a, far))

	empty, err := embedder.Embed(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, norm(empty))

	require.NoError(t, embedder.Close())
	_, err = embedder.Embed(ctx, "text")
	assert.ErrorIs(t, err, errEmbedderNotInitialized)
}

func TestOllamaEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embeddings", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "nomic-embed-text", body["model"])
		json.NewEncoder(w).Encode(map[string]interface{}{"embedding": []float32{3, 4, 0}})
	}))
	defer server.Close()

	ctx := context.Background()
	embedder := NewOllamaEmbedder(external.NewOllamaClient(external.OllamaConfig{BaseURL: server.URL}), "")

	_, err := embedder.Embed(ctx, "text")
	assert.ErrorIs(t, err, errEmbedderNotInitialized)

	require.NoError(t, embedder.Init(ctx))
	assert.Equal(t, 3, embedder.Dimensions())

	vec, err := embedder.Embed(ctx, "text")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.6, 0.8, 0}, vec, 1e-6)
}

func TestOllamaEmbedder_InitFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	embedder := NewOllamaEmbedder(external.NewOllamaClient(external.OllamaConfig{BaseURL: server.URL}), "missing")
	assert.Error(t, embedder.Init(context.Background()))
	assert.Equal(t, 0, embedder.Dimensions())
}

func TestVectorHelpers(t *testing.T) {
	v := []float32{0.25, -1.5, 3}
	decoded, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, decoded)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)

	assert.Equal(t, "[0.25,-1.5,3]", formatVector(v))
	assert.InDelta(t, 0.0, cosineDistance(v, v), 1e-9)
	assert.Equal(t, 1.0, cosineDistance(v, []float32{1}))
	assert.Equal(t, 1.0, cosineDistance([]float32{0, 0}, []float32{1, 0}))
}
