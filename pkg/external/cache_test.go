package external

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pv-ae-server/internal/domain"
)

func getTestCache(t *testing.T) *CacheClient {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("TEST_REDIS_URL not set, skipping Redis tests")
	}

	cache, err := NewCacheClient(domain.CacheConfig{
		RedisURL:   redisURL,
		DefaultTTL: time.Minute,
		PoolSize:   5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestCacheClient_DrugValidation(t *testing.T) {
	cache := getTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.InvalidateDrug(ctx, "aspirin"))

	_, found, err := cache.GetDrugValidation(ctx, "aspirin")
	require.NoError(t, err)
	assert.False(t, found)

	want := &domain.DrugValidation{Input: "aspirin", RxCUI: "1191", CanonicalName: "aspirin", Source: SourceRxNorm}
	require.NoError(t, cache.SetDrugValidation(ctx, "Aspirin ", want, 0))

	got, found, err := cache.GetDrugValidation(ctx, "ASPIRIN")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, got)

	require.NoError(t, cache.InvalidateDrug(ctx, "aspirin"))
}

func TestCacheClient_DrugInfo(t *testing.T) {
	cache := getTestCache(t)
	ctx := context.Background()

	info := UnavailableDrugInfo()
	require.NoError(t, cache.SetDrugInfo(ctx, "warfarin", info, time.Minute))

	got, found, err := cache.GetDrugInfo(ctx, "warfarin")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, info, got)

	require.NoError(t, cache.InvalidateDrug(ctx, "warfarin"))
}

func TestCacheClient_KeysAreNormalized(t *testing.T) {
	c := &CacheClient{}
	assert.Equal(t, c.drugKey("validation", "Aspirin"), c.drugKey("validation", "  aspirin "))
	assert.NotEqual(t, c.drugKey("validation", "aspirin"), c.drugKey("druginfo", "aspirin"))
}
