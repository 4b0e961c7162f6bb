package external

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pv-ae-server/internal/domain"
)

// CacheClient wraps a Redis client shared by every server instance for drug
// validation results and FDA label lookups
type CacheClient struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewCacheClient creates a new cache client and verifies the connection
func NewCacheClient(config domain.CacheConfig) (*CacheClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewCacheClientFromRedis(client, config.DefaultTTL), nil
}

// NewCacheClientFromRedis wraps an existing Redis client
func NewCacheClientFromRedis(client *redis.Client, defaultTTL time.Duration) *CacheClient {
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &CacheClient{redis: client, defaultTTL: defaultTTL}
}

// CachedDrugValidation represents a cached RxNorm/openFDA validation
type CachedDrugValidation struct {
	Data      *domain.DrugValidation `json:"data"`
	CachedAt  time.Time              `json:"cached_at"`
	ExpiresAt time.Time              `json:"expires_at"`
}

// CachedDrugInfo represents a cached FDA label lookup
type CachedDrugInfo struct {
	Data      *domain.DrugInfo `json:"data"`
	CachedAt  time.Time        `json:"cached_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// GetDrugValidation retrieves a cached validation
func (c *CacheClient) GetDrugValidation(ctx context.Context, drugName string) (*domain.DrugValidation, bool, error) {
	var cached CachedDrugValidation
	found, err := c.get(ctx, c.drugKey("validation", drugName), &cached)
	if err != nil || !found {
		return nil, false, err
	}
	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, c.drugKey("validation", drugName))
		return nil, false, nil
	}
	return cached.Data, true, nil
}

// SetDrugValidation caches a validation
func (c *CacheClient) SetDrugValidation(ctx context.Context, drugName string, data *domain.DrugValidation, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()
	return c.set(ctx, c.drugKey("validation", drugName), CachedDrugValidation{
		Data:      data,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, ttl)
}

// GetDrugInfo retrieves cached FDA label information
func (c *CacheClient) GetDrugInfo(ctx context.Context, drugName string) (*domain.DrugInfo, bool, error) {
	var cached CachedDrugInfo
	found, err := c.get(ctx, c.drugKey("druginfo", drugName), &cached)
	if err != nil || !found {
		return nil, false, err
	}
	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, c.drugKey("druginfo", drugName))
		return nil, false, nil
	}
	return cached.Data, true, nil
}

// SetDrugInfo caches FDA label information
func (c *CacheClient) SetDrugInfo(ctx context.Context, drugName string, data *domain.DrugInfo, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()
	return c.set(ctx, c.drugKey("druginfo", drugName), CachedDrugInfo{
		Data:      data,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, ttl)
}

// InvalidateDrug removes every cached entry for a drug
func (c *CacheClient) InvalidateDrug(ctx context.Context, drugName string) error {
	return c.redis.Del(ctx,
		c.drugKey("validation", drugName),
		c.drugKey("druginfo", drugName),
	).Err()
}

// Ping checks if Redis connection is alive
func (c *CacheClient) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *CacheClient) Close() error {
	return c.redis.Close()
}

func (c *CacheClient) get(ctx context.Context, key string, dest interface{}) (bool, error) {
	val, err := c.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cache key %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		// Remove corrupted cache entry
		c.redis.Del(ctx, key)
		return false, nil
	}
	return true, nil
}

func (c *CacheClient) set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	return c.redis.Set(ctx, key, data, ttl).Err()
}

// drugKey hashes the normalized drug name so arbitrary input is a safe key
func (c *CacheClient) drugKey(prefix, drugName string) string {
	normalized := strings.ToLower(strings.TrimSpace(drugName))
	hash := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("pv:%s:%x", prefix, hash[:8])
}
