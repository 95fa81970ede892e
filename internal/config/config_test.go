package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, ModeProd, cfg.Mode)
	require.Equal(t, "postgres", cfg.DBKind)
	require.Equal(t, "memory", cfg.CacheKind)
	require.Equal(t, 8080, cfg.HTTPPort)
	require.Equal(t, time.Hour, cfg.ExpirySweepInterval)
	require.NotZero(t, cfg.GrantRetention)
}

func TestFromContext_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	ctx := WithContext(context.Background(), &cfg)
	require.Same(t, &cfg, FromContext(ctx))
}

func TestFromContext_Missing(t *testing.T) {
	require.Nil(t, FromContext(context.Background()))
}
