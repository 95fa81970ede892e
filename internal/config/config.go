package config

import (
	"context"
	"time"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the memoryscope service.
type Config struct {
	// Mode controls security behavior: "prod" (default) or "testing".
	// In testing mode the static testing API key provisions an ephemeral app.
	Mode string

	// Database
	DBKind string // "postgres" or "sqlite"
	DBURL  string

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Cache backend holding ephemeral thought-pattern artifacts.
	CacheKind string // "memory" or "redis"
	RedisURL  string

	// Directory of policy YAML documents. Empty uses the compiled-in default policy.
	PolicyDir string

	// Static API key accepted in testing mode only.
	TestingAPIKey string

	// Server
	HTTPPort int

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int

	// AccessLogAll also logs /health, /ready and /metrics probes.
	AccessLogAll bool

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Expiry sweep of expired v1 memories and stale grants.
	ExpirySweepInterval time.Duration
	ExpiryBatchSize     int
	// GrantRetention keeps expired grants around for auditability before the
	// sweeper removes them.
	GrantRetention time.Duration

	// DebugStoreErrors surfaces store failures on read paths as 5xx instead
	// of returning an empty result set.
	DebugStoreErrors bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                ModeProd,
		DBKind:              "postgres",
		DBURL:               "postgres://localhost:5432/memoryscope?sslmode=disable",
		DBMaxOpenConns:      15,
		DBMaxIdleConns:      5,
		CacheKind:           "memory",
		RedisURL:            "redis://localhost:6379/0",
		HTTPPort:            8080,
		MaxBodySize:         1024 * 1024, // 1 MB
		DrainTimeout:        30,
		ExpirySweepInterval: time.Hour,
		ExpiryBatchSize:     500,
		GrantRetention:      30 * 24 * time.Hour,
	}
}
