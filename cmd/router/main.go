package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/labiium/edurouter/internal/catalog"
	"github.com/labiium/edurouter/internal/config"
	"github.com/labiium/edurouter/internal/embeddings"
	"github.com/labiium/edurouter/internal/health"
	"github.com/labiium/edurouter/internal/overlay"
	"github.com/labiium/edurouter/internal/plancache"
	"github.com/labiium/edurouter/internal/planner"
	"github.com/labiium/edurouter/internal/policy"
	"github.com/labiium/edurouter/internal/server"
	"github.com/labiium/edurouter/internal/stats"
	"github.com/labiium/edurouter/internal/sticky"
	"github.com/labiium/edurouter/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	logger, err := buildLogger(cfg.Dev)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Workers > 0 {
		runtime.GOMAXPROCS(cfg.Workers)
	}

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.TracingEnabled,
		ServiceName:  "edurouter",
		OTLPEndpoint: cfg.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("tracing unavailable", zap.Error(err))
	}

	catalogStore := catalog.NewStore(logger)
	policyStore := policy.NewStore(logger)
	overlayStore := overlay.NewStore(cfg.OverlayDir, logger)

	catSnap, err := catalogStore.LoadFile(cfg.CatalogPath)
	if err != nil {
		logger.Fatal("catalog load failed", zap.Error(err))
	}
	if _, err := policyStore.LoadFile(cfg.PolicyPath, catSnap); err != nil {
		logger.Fatal("policy load failed", zap.Error(err))
	}
	if err := overlayStore.Load(); err != nil {
		logger.Fatal("overlay load failed", zap.Error(err))
	}

	var selector *embeddings.Selector
	if cfg.Embeddings.Enabled {
		svc, err := embeddings.NewService(embeddings.Config{
			Provider:    cfg.Embeddings.Provider,
			BaseURL:     cfg.Embeddings.BaseURL,
			Model:       cfg.Embeddings.FastembedModel,
			CacheTTL:    cfg.EmbeddingsCacheTTL(),
			RedisAddr:   cfg.Embeddings.RedisAddr,
			TopK:        cfg.Embeddings.TopK,
			AllowHashed: cfg.Embeddings.AllowHashed,
		}, logger)
		if err != nil {
			logger.Fatal("embedding service init failed", zap.Error(err))
		}
		if cfg.Embeddings.CanonicalTasks == "" {
			logger.Fatal("ROUTER_CANONICAL_TASKS required when embeddings are enabled")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		selector, err = embeddings.NewSelector(ctx, svc, cfg.Embeddings.CanonicalTasks, logger)
		cancel()
		if err != nil {
			logger.Fatal("canonical bank load failed", zap.Error(err))
		}
	}

	healthTracker := health.NewTracker(policyStore.Current().Doc.Defaults.EWMAAlpha)
	tokenizer := sticky.NewTokenizer(cfg.StickySecret, logger)
	planCache := plancache.New(cfg.CacheSize)
	aggregator := stats.NewAggregator()

	engine := planner.New(planner.Options{
		Logger:     logger,
		Catalog:    catalogStore,
		Policy:     policyStore,
		Overlays:   overlayStore,
		Health:     healthTracker,
		Sticky:     tokenizer,
		Cache:      planCache,
		Stats:      aggregator,
		Selector:   selector,
		CacheTTLMs: cfg.CacheTTLMs,
	})

	srv := server.New(server.Options{
		Engine:       engine,
		Catalog:      catalogStore,
		Policy:       policyStore,
		Overlays:     overlayStore,
		Logger:       logger,
		MaxBodyBytes: cfg.MaxBodyBytes,
		RateRPS:      cfg.RateRPS,
		RateBurst:    cfg.RateBurst,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.WatchDocuments {
		watcher, err := config.NewWatcher(logger)
		if err != nil {
			logger.Warn("document watcher unavailable", zap.Error(err))
		} else {
			_ = watcher.Watch(cfg.CatalogPath, func(path string) error {
				return reloadCatalogFile(engine, path)
			})
			_ = watcher.Watch(cfg.PolicyPath, func(path string) error {
				return reloadPolicyFile(engine, path)
			})
			go watcher.Run(ctx)
		}
	}

	httpSrv := &http.Server{
		Addr:              cfg.Bind,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("router listening", zap.String("bind", cfg.Bind))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
		os.Exit(1)
	}
}

func buildLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
