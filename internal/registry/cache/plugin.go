package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/memoryscope/memoryscope/internal/model"
)

type patternCacheKey struct{}

// WithPatternCacheContext returns a new context carrying the given PatternCache.
func WithPatternCacheContext(ctx context.Context, c PatternCache) context.Context {
	return context.WithValue(ctx, patternCacheKey{}, c)
}

// PatternCacheFromContext retrieves the PatternCache from the context.
// Returns nil if none was set.
func PatternCacheFromContext(ctx context.Context) PatternCache {
	c, _ := ctx.Value(patternCacheKey{}).(PatternCache)
	return c
}

// PatternCache caches active spiral artifacts per (tenant, scope) so the hot
// policy path avoids a store round trip. Entries expire with the artifact TTL.
type PatternCache interface {
	Available() bool
	Get(ctx context.Context, tenantID, scopeType, scopeID string) (*model.SpiralArtifact, error)
	Set(ctx context.Context, tenantID, scopeType, scopeID string, artifact model.SpiralArtifact, ttl time.Duration) error
	Remove(ctx context.Context, tenantID, scopeType, scopeID string) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (PatternCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
