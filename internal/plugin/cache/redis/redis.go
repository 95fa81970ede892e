package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/memoryscope/memoryscope/internal/config"
	"github.com/memoryscope/memoryscope/internal/model"
	registrycache "github.com/memoryscope/memoryscope/internal/registry/cache"
)

const defaultTTL = 45 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.PatternCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: MEMORYSCOPE_REDIS_URL is required")
	}
	return LoadFromURL(ctx, cfg.RedisURL)
}

// LoadFromURL creates a PatternCache from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string) (registrycache.PatternCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	return &redisPatternCache{client: client}, nil
}

type redisPatternCache struct {
	client *goredis.Client
}

func patternKey(tenantID, scopeType, scopeID string) string {
	return fmt.Sprintf("spiral:%s:%s:%s", tenantID, scopeType, scopeID)
}

func (c *redisPatternCache) Available() bool { return true }

func (c *redisPatternCache) Get(ctx context.Context, tenantID, scopeType, scopeID string) (*model.SpiralArtifact, error) {
	data, err := c.client.Get(ctx, patternKey(tenantID, scopeType, scopeID)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var artifact model.SpiralArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

func (c *redisPatternCache) Set(ctx context.Context, tenantID, scopeType, scopeID string, artifact model.SpiralArtifact, ttl time.Duration) error {
	data, err := json.Marshal(artifact)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return c.client.Set(ctx, patternKey(tenantID, scopeType, scopeID), data, ttl).Err()
}

func (c *redisPatternCache) Remove(ctx context.Context, tenantID, scopeType, scopeID string) error {
	return c.client.Del(ctx, patternKey(tenantID, scopeType, scopeID)).Err()
}

var _ registrycache.PatternCache = (*redisPatternCache)(nil)
