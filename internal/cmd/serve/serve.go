// Package serve implements the serve sub-command: flag parsing, subsystem
// wiring and the HTTP server lifecycle.
package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	"github.com/memoryscope/memoryscope/internal/config"
	registrycache "github.com/memoryscope/memoryscope/internal/registry/cache"
	registrystore "github.com/memoryscope/memoryscope/internal/registry/store"

	// Import all plugins to trigger init() registration
	_ "github.com/memoryscope/memoryscope/internal/plugin/cache/memory"
	_ "github.com/memoryscope/memoryscope/internal/plugin/cache/noop"
	_ "github.com/memoryscope/memoryscope/internal/plugin/cache/redis"
	_ "github.com/memoryscope/memoryscope/internal/plugin/route/system"
	_ "github.com/memoryscope/memoryscope/internal/plugin/store/postgres"
	_ "github.com/memoryscope/memoryscope/internal/plugin/store/sqlite"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the memoryscope HTTP server",
		Flags: flags(&cfg),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORYSCOPE_PORT"),
			Destination: &cfg.HTTPPort,
			Value:       cfg.HTTPPort,
			Usage:       "HTTP server port",
		},
		&cli.StringFlag{
			Name:        "mode",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORYSCOPE_MODE"),
			Destination: &cfg.Mode,
			Value:       cfg.Mode,
			Usage:       "Run mode (prod|testing)",
		},
		&cli.StringFlag{
			Name:        "testing-api-key",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORYSCOPE_TESTING_API_KEY"),
			Destination: &cfg.TestingAPIKey,
			Usage:       "Static API key accepted in testing mode",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORYSCOPE_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "access-log-all",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORYSCOPE_ACCESS_LOG_ALL"),
			Destination: &cfg.AccessLogAll,
			Usage:       "Also log /health, /ready and /metrics requests",
		},

		// ── Database ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("MEMORYSCOPE_DB_KIND"),
			Destination: &cfg.DBKind,
			Value:       cfg.DBKind,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("MEMORYSCOPE_DB_URL"),
			Destination: &cfg.DBURL,
			Value:       cfg.DBURL,
			Usage:       "Database connection URL",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("MEMORYSCOPE_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("MEMORYSCOPE_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMORYSCOPE_CACHE_KIND"),
			Destination: &cfg.CacheKind,
			Value:       cfg.CacheKind,
			Usage:       "Pattern-artifact cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMORYSCOPE_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},

		// ── Policy ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "policy-dir",
			Category:    "Policy:",
			Sources:     cli.EnvVars("MEMORYSCOPE_POLICY_DIR"),
			Destination: &cfg.PolicyDir,
			Usage:       "Directory of policy YAML documents; empty uses the compiled-in policy",
		},

		// ── Expiry ────────────────────────────────────────────────
		&cli.DurationFlag{
			Name:        "expiry-sweep-interval",
			Category:    "Expiry:",
			Sources:     cli.EnvVars("MEMORYSCOPE_EXPIRY_SWEEP_INTERVAL"),
			Destination: &cfg.ExpirySweepInterval,
			Value:       cfg.ExpirySweepInterval,
			Usage:       "Interval between sweeps of expired memories and stale grants",
		},
		&cli.IntFlag{
			Name:        "expiry-batch-size",
			Category:    "Expiry:",
			Sources:     cli.EnvVars("MEMORYSCOPE_EXPIRY_BATCH_SIZE"),
			Destination: &cfg.ExpiryBatchSize,
			Value:       cfg.ExpiryBatchSize,
			Usage:       "Rows deleted per sweep batch",
		},
		&cli.DurationFlag{
			Name:        "grant-retention",
			Category:    "Expiry:",
			Sources:     cli.EnvVars("MEMORYSCOPE_GRANT_RETENTION"),
			Destination: &cfg.GrantRetention,
			Value:       cfg.GrantRetention,
			Usage:       "How long expired read grants are kept for auditability",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("MEMORYSCOPE_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       "service=memoryscope",
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}
