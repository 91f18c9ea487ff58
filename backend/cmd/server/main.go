package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"circl/backend/internal/api"
	"circl/backend/internal/cache"
	"circl/backend/internal/discovery"
	"circl/backend/internal/fixture"
	"circl/backend/internal/graph"
	"circl/backend/internal/matching"
	"circl/backend/internal/memstore"
	"circl/backend/internal/metrics"
	"circl/backend/pkg/config"
	"circl/backend/pkg/logger"
)

// backend is what the server needs from a relationship store
type backend interface {
	api.Store
	discovery.Store
	matching.Store
	OneWayConnections(ctx context.Context) (int, error)
	Close(ctx context.Context) error
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting HTTP API server...", zap.String("store", cfg.StoreBackend))

	ctx := context.Background()
	discOpts := discovery.Options{
		DefaultDegree:     cfg.DefaultDegree,
		MaxSearchDegree:   cfg.MaxSearchDegree,
		DegreeConcurrency: cfg.DegreeConcurrency,
		ExcludeLiked:      cfg.ExcludeLiked,
		ExcludeMatched:    cfg.ExcludeMatched,
	}
	var matchOpts []matching.Option
	var onChange graph.ChangeHook

	// The cache comes first so every store write, fixture seeding included,
	// advances its generation.
	if cfg.CacheEnabled() {
		poolCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CandidateCacheTTL)
		defer poolCache.Close()
		if err := poolCache.Ping(ctx); err != nil {
			log.Warn("Redis unreachable, candidate cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			discOpts.Cache = poolCache
			matchOpts = append(matchOpts, matching.WithInvalidator(poolCache))
			onChange = poolCache.Advance
			log.Info("Candidate cache enabled", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.CandidateCacheTTL))
		}
	}

	store, err := openStore(ctx, cfg, log, onChange)
	if err != nil {
		log.Fatal("Failed to open store", zap.Error(err))
	}
	defer store.Close(context.Background())
	auditConnections(ctx, store, log)

	srv := api.NewServer(
		store,
		discovery.NewService(store, discOpts),
		matching.NewService(store, matchOpts...),
		api.Defaults{
			MinDegree:       cfg.MinDegree,
			MaxDegree:       cfg.MaxDegree,
			Limit:           cfg.CandidateLimit,
			MaxSearchDegree: cfg.MaxSearchDegree,
		},
		log.Named("api"),
	)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Start server
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

// openStore connects the configured backend. The memory backend is seeded from
// FIXTURE_PATH when set. onChange may be nil.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger, onChange graph.ChangeHook) (backend, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		store := memstore.New(memstore.WithLogger(log.Named("memstore")), memstore.WithChangeHook(onChange))
		if cfg.FixturePath != "" {
			f, err := fixture.Load(cfg.FixturePath)
			if err != nil {
				return nil, err
			}
			summary, err := fixture.Apply(ctx, store, f, 1)
			if err != nil {
				return nil, err
			}
			log.Info("Fixture loaded",
				zap.String("path", cfg.FixturePath),
				zap.Int("users", summary.Users),
				zap.Int("connections", summary.Connections),
				zap.Int("matches", summary.Matches),
			)
		}
		return store, nil
	default:
		connectCtx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout)
		defer cancel()
		driver, err := graph.Connect(connectCtx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			return nil, err
		}
		repo := graph.NewRepository(driver, graph.Options{
			Database:     cfg.Neo4jDatabase,
			QueryTimeout: cfg.QueryTimeout,
			Logger:       log.Named("graph"),
			OnChange:     onChange,
		})
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = repo.Close(ctx)
			return nil, err
		}
		return repo, nil
	}
}

// auditConnections logs ACCEPTED edges missing their reverse. The server still starts;
// the count is returned for tests.
func auditConnections(ctx context.Context, store interface {
	OneWayConnections(ctx context.Context) (int, error)
}, log *zap.Logger) int {
	broken, err := store.OneWayConnections(ctx)
	if err != nil {
		log.Warn("Connection audit failed", zap.Error(err))
		return 0
	}
	if broken > 0 {
		metrics.ConsistencyViolation(graph.RelConnectedTo)
		log.Error("One-way connections found", zap.Int("edges", broken))
	}
	return broken
}
