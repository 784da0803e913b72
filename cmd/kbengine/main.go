package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lexikon-ai/kbengine/internal/adapters/driven/ai"
	redicache "github.com/lexikon-ai/kbengine/internal/adapters/driven/cache/redis"
	"github.com/lexikon-ai/kbengine/internal/adapters/driven/extract"
	"github.com/lexikon-ai/kbengine/internal/adapters/driven/storage/sqlite"
	"github.com/lexikon-ai/kbengine/internal/adapters/driven/usage"
	"github.com/lexikon-ai/kbengine/internal/adapters/driving/cli"
	"github.com/lexikon-ai/kbengine/internal/config"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driven"
	"github.com/lexikon-ai/kbengine/internal/core/services"
	"github.com/lexikon-ai/kbengine/internal/logger"
)

func main() {
	// Optional; secrets may also come from the real environment.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := configPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	rt := config.NewRuntime(cfg)
	if err := config.Watch(ctx, cfgPath, rt); err != nil {
		logger.Debug("Config watch disabled: %v", err)
	}

	store, err := sqlite.NewStore(cfg.Store.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	cacheCfg := redicache.Config{
		Addr:         cfg.Cache.Addr,
		Password:     cfg.Cache.Password,
		DB:           cfg.Cache.DB,
		PoolSize:     cfg.Cache.PoolSize,
		Dimensions:   cfg.Embedding.Dimensions,
		QueryTimeout: cfg.CacheQueryTimeout(),
	}

	// The engine runs degraded (store-only retrieval, no neighbour cache)
	// when Redis is down; the outbox replays once it returns.
	var searchCache driven.SearchCache
	if sc, err := redicache.NewSearchCache(ctx, cacheCfg); err != nil {
		logger.Warn("Search cache unavailable, running degraded: %v", err)
	} else {
		searchCache = sc
		defer sc.Close()
	}

	var neighborCache driven.NeighborCache
	if nc, err := redicache.NewNeighborCache(ctx, cacheCfg); err != nil {
		logger.Warn("Neighbour cache unavailable: %v", err)
	} else {
		neighborCache = nc
		defer nc.Close()
	}

	recorder := usage.NewRecorder()
	embedGW, llmGW, err := ai.BuildGateways(cfg, recorder)
	if err != nil {
		return err
	}
	defer embedGW.Close()
	defer llmGW.Close()

	neighbors := services.NewNeighbors(store, neighborCache, rt)
	indexer := services.NewIndexer(store, embedGW, extract.NewExtractor(), neighbors, rt)
	retriever := services.NewRetriever(store, searchCache, embedGW, rt)
	analyzer := services.NewAnalyzer(store, rt)
	admin := services.NewAdminService(store, searchCache, neighbors, analyzer, embedGW, llmGW)

	propagator := services.NewPropagator(store, searchCache, rt)
	propCtx, stopPropagator := context.WithCancel(ctx)
	propDone := make(chan struct{})
	go func() {
		defer close(propDone)
		if searchCache != nil {
			propagator.Run(propCtx)
		}
	}()

	cli.SetServices(indexer, retriever, neighbors, admin)
	runErr := cli.Execute(ctx)

	// Give pending cache-propagation tasks one last drain before exit.
	stopPropagator()
	<-propDone
	if searchCache != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := propagator.ProcessOnce(drainCtx); err != nil {
			logger.Debug("Outbox drain incomplete: %v", err)
		}
	}

	return runErr
}

// configPath resolves the config file: $KBENGINE_CONFIG wins, otherwise
// ~/.kbengine/config.toml.
func configPath() string {
	if p := os.Getenv("KBENGINE_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".kbengine", "config.toml")
}
