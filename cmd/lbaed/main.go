// Package main is the entry point for the spectral index server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ColasDroin/lbae-sub000/internal/api"
	"github.com/ColasDroin/lbae-sub000/internal/cache"
	"github.com/ColasDroin/lbae-sub000/internal/config"
	"github.com/ColasDroin/lbae-sub000/internal/data/bundle"
	"github.com/ColasDroin/lbae-sub000/internal/service"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting spectral index server", zap.Int("port", cfg.Server.Port))

	// Metrics registry shared by the cache and exposed on /metrics
	metrics := prometheus.NewRegistry()

	// Initialize cache manager (shared across all datasets)
	cacheManager, err := cache.NewManager(cache.Config{
		ImageCacheSizeMB: cfg.Cache.ImageSizeMB,
		ImageTTL:         time.Duration(cfg.Cache.ImageTTLMinutes) * time.Minute,
		QueryCacheSize:   cfg.Cache.QuerySize,
		Codec:            cfg.Cache.Codec,
	}, metrics)
	if err != nil {
		logger.Fatal("failed to initialize cache", zap.Error(err))
	}

	// Initialize dataset registry
	datasetIDs := cfg.Data.DatasetIDs()
	registry := api.NewDatasetRegistry(cfg.Data.DefaultDataset, datasetIDs, cfg.Server.Title)

	logger.Info("initializing datasets",
		zap.Int("count", len(datasetIDs)),
		zap.String("default", cfg.Data.DefaultDataset))

	// Initialize each dataset
	for _, datasetID := range datasetIDs {
		ds := cfg.Data.Datasets[datasetID]

		slices := ds.Slices
		if len(slices) == 0 {
			slices, err = bundle.DiscoverSlices(ds.Root)
			if errors.Is(err, os.ErrNotExist) {
				// A fresh deployment ingests via build jobs first.
				logger.Warn("dataset root does not exist yet",
					zap.String("dataset", datasetID),
					zap.String("root", ds.Root))
				err = nil
			}
			if err != nil {
				logger.Fatal("failed to discover slices",
					zap.String("dataset", datasetID),
					zap.String("root", ds.Root),
					zap.Error(err))
			}
		}

		bundles := make(map[int]*bundle.Bundle, len(slices))
		for _, n := range slices {
			b, err := bundle.Open(bundle.SliceDir(ds.Root, n), ds.Divider)
			if errors.Is(err, bundle.ErrNoLookup) {
				logger.Info("lookup tables missing, building before serving",
					zap.String("dataset", datasetID),
					zap.Int("slice", n),
					zap.Float64("divider", ds.Divider))
				start := time.Now()
				if b, err = buildMissingLookup(ds.Root, n, ds.Divider); err == nil {
					logger.Info("lookup tables built",
						zap.String("dataset", datasetID),
						zap.Int("slice", n),
						zap.Duration("elapsed", time.Since(start)))
				}
			}
			if err != nil {
				logger.Fatal("slice is not servable",
					zap.String("dataset", datasetID),
					zap.Int("slice", n),
					zap.Error(err))
			}
			bundles[n] = b
		}

		svc := service.NewSpectrumService(service.SpectrumServiceConfig{
			DatasetID:        datasetID,
			Root:             ds.Root,
			Divider:          ds.Divider,
			TileDBPath:       ds.TileDBPath,
			Bundles:          bundles,
			Cache:            cacheManager,
			NarrowWindow:     cfg.Query.NarrowWindow,
			RegionResolution: cfg.Query.RegionResolution,
			Logger:           logger.Named(datasetID),
		})
		registry.Register(datasetID, svc)

		logger.Info("dataset ready",
			zap.String("dataset", datasetID),
			zap.String("root", ds.Root),
			zap.Float64("divider", ds.Divider),
			zap.Int("slices", len(bundles)))
	}

	// Initialize job manager for build jobs (SQLite persistence)
	jobManager, err := api.NewJobManager(api.JobManagerConfig{
		MaxConcurrent: cfg.Jobs.Workers,
		SQLitePath:    cfg.Jobs.DBPath,
		RetentionDays: cfg.Jobs.RetentionDays,
		CleanupPeriod: 1 * time.Hour,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("failed to initialize job manager", zap.Error(err))
	}
	logger.Info("build job manager ready",
		zap.Int("workers", cfg.Jobs.Workers),
		zap.Int("retention_days", cfg.Jobs.RetentionDays),
		zap.String("sqlite", cfg.Jobs.DBPath))

	// Wire up build service as job executor
	buildService := service.NewBuildService(registry, logger)
	jobManager.Executor = buildService.ExecuteBuildJob

	jobManager.Start()
	defer jobManager.Stop()

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
		JobManager:  jobManager,
		Metrics:     metrics,
		Logger:      logger,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// buildMissingLookup constructs lookup tables for a slice whose raw arrays
// exist but were never indexed at the serving divider, then opens the
// finished bundle. Runs synchronously; the server does not come up until
// every configured slice is servable.
func buildMissingLookup(root string, slice int, divider float64) (*bundle.Bundle, error) {
	dir := bundle.SliceDir(root, slice)
	man, sp, pixels, err := bundle.ReadRaw(dir)
	if err != nil {
		return nil, err
	}
	if _, err := service.BuildLookup(context.Background(), bundle.NewWriter(root), man, sp, pixels, divider); err != nil {
		return nil, err
	}
	return bundle.Open(dir, divider)
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc.Build()
}
