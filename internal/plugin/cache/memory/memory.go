// Package memory is an in-process PatternCache for single-instance
// deployments and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/memoryscope/memoryscope/internal/model"
	"github.com/memoryscope/memoryscope/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (cache.PatternCache, error) {
			return New(), nil
		},
	})
}

type entry struct {
	artifact  model.SpiralArtifact
	expiresAt time.Time
}

type memoryPatternCache struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New returns an empty in-process cache.
func New() cache.PatternCache {
	return &memoryPatternCache{entries: map[string]entry{}}
}

func key(tenantID, scopeType, scopeID string) string {
	return fmt.Sprintf("%s:%s:%s", tenantID, scopeType, scopeID)
}

func (c *memoryPatternCache) Available() bool { return true }

func (c *memoryPatternCache) Get(_ context.Context, tenantID, scopeType, scopeID string) (*model.SpiralArtifact, error) {
	c.mu.RLock()
	e, ok := c.entries[key(tenantID, scopeType, scopeID)]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return nil, nil
	}
	artifact := e.artifact
	return &artifact, nil
}

func (c *memoryPatternCache) Set(_ context.Context, tenantID, scopeType, scopeID string, artifact model.SpiralArtifact, ttl time.Duration) error {
	c.mu.Lock()
	c.entries[key(tenantID, scopeType, scopeID)] = entry{artifact: artifact, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *memoryPatternCache) Remove(_ context.Context, tenantID, scopeType, scopeID string) error {
	c.mu.Lock()
	delete(c.entries, key(tenantID, scopeType, scopeID))
	c.mu.Unlock()
	return nil
}

var _ cache.PatternCache = (*memoryPatternCache)(nil)
