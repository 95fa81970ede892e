package noop

import (
	"context"
	"time"

	"github.com/memoryscope/memoryscope/internal/model"
	"github.com/memoryscope/memoryscope/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.PatternCache, error) {
			return &noopPatternCache{}, nil
		},
	})
}

type noopPatternCache struct{}

func (n *noopPatternCache) Available() bool { return false }
func (n *noopPatternCache) Get(_ context.Context, _, _, _ string) (*model.SpiralArtifact, error) {
	return nil, nil
}
func (n *noopPatternCache) Set(_ context.Context, _, _, _ string, _ model.SpiralArtifact, _ time.Duration) error {
	return nil
}
func (n *noopPatternCache) Remove(_ context.Context, _, _, _ string) error { return nil }

var _ cache.PatternCache = (*noopPatternCache)(nil)
