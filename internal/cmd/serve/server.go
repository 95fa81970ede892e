package serve

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/memoryscope/memoryscope/internal/config"
	"github.com/memoryscope/memoryscope/internal/lifecycle"
	"github.com/memoryscope/memoryscope/internal/plugin/route/apps"
	routelifecycle "github.com/memoryscope/memoryscope/internal/plugin/route/lifecycle"
	"github.com/memoryscope/memoryscope/internal/plugin/route/memories"
	routesystem "github.com/memoryscope/memoryscope/internal/plugin/route/system"
	storemetrics "github.com/memoryscope/memoryscope/internal/plugin/store/metrics"
	registrycache "github.com/memoryscope/memoryscope/internal/registry/cache"
	registrymigrate "github.com/memoryscope/memoryscope/internal/registry/migrate"
	registryroute "github.com/memoryscope/memoryscope/internal/registry/route"
	registrystore "github.com/memoryscope/memoryscope/internal/registry/store"
	"github.com/memoryscope/memoryscope/internal/security"
	"github.com/memoryscope/memoryscope/internal/service"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config *config.Config
	Store  registrystore.MemoryStore
	Policy *lifecycle.Engine
	Router *gin.Engine
	Port   int

	httpServer *http.Server
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// StartServer initializes all subsystems and starts the HTTP server.
// Use cfg.HTTPPort=0 for a random port. Actual port: Server.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting memoryscope",
		"httpPort", cfg.HTTPPort,
		"db", cfg.DBKind,
		"cache", cfg.CacheKind,
		"mode", cfg.Mode,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize the pattern cache and inject it into the context so store
	// loaders can read it.
	var patterns registrycache.PatternCache
	if cacheLoader, err := registrycache.Select(cfg.CacheKind); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheKind, "err", err)
	} else if patterns, err = cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheKind, "err", err)
		patterns = nil
	} else {
		ctx = registrycache.WithPatternCacheContext(ctx, patterns)
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DBKind)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	// Load the policy document.
	policyDoc := lifecycle.DefaultDocument()
	if cfg.PolicyDir != "" {
		policyDoc, err = lifecycle.LoadDir(cfg.PolicyDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load policy: %w", err)
		}
	}
	policy := lifecycle.NewEngine(policyDoc)
	log.Info("Policy loaded", "version", policy.Version())

	retrieval := lifecycle.NewRetrievalEngine(store, policy)
	reconstruction := lifecycle.NewReconstructionEngine(retrieval)
	extractor := lifecycle.NewExtractor(nil)

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(security.RequestIDMiddleware())
	if cfg.AccessLogAll {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))

	// Mount route plugins.
	for _, mount := range registryroute.APIMounters() {
		if err := mount(router); err != nil {
			return nil, fmt.Errorf("failed to mount routes: %w", err)
		}
	}
	for _, mount := range registryroute.OpsMounters() {
		if err := mount(router); err != nil {
			return nil, fmt.Errorf("failed to mount ops routes: %w", err)
		}
	}

	auth := security.AuthMiddleware(cfg, store)

	apps.MountRoutes(router, store)
	memories.MountRoutes(router, store, auth)
	routelifecycle.MountRoutes(router, routelifecycle.Deps{
		Store:          store,
		Policy:         policy,
		Retrieval:      retrieval,
		Reconstruction: reconstruction,
		Extractor:      extractor,
		Patterns:       patterns,
	}, auth)

	// Start background services
	expiry := service.NewExpiryService(store, cfg.ExpirySweepInterval, cfg.ExpiryBatchSize, cfg.GrantRetention)
	go expiry.Start(ctx)

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.HTTPPort))
	if err != nil {
		return nil, err
	}
	port := listener.Addr().(*net.TCPAddr).Port

	httpServer := &http.Server{Handler: router}
	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "err", err)
		}
	}()

	log.Info("Server listening", "port", port)

	routesystem.MarkReady()
	return &Server{
		Config:     cfg,
		Store:      store,
		Policy:     policy,
		Router:     router,
		Port:       port,
		httpServer: httpServer,
	}, nil
}
