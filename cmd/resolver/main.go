package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/storm-data-tracks/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/storm-data-tracks/internal/adapter/kafka"
	"github.com/couchcryptid/storm-data-tracks/internal/adapter/regioncache"
	"github.com/couchcryptid/storm-data-tracks/internal/adapter/sqlite"
	"github.com/couchcryptid/storm-data-tracks/internal/config"
	"github.com/couchcryptid/storm-data-tracks/internal/observability"
	"github.com/couchcryptid/storm-data-tracks/internal/pipeline"
	"github.com/couchcryptid/storm-data-tracks/internal/resolver"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.Open(ctx, cfg.DatabasePath, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	regions := regioncache.New(store, cfg.RegionCacheSize, metrics.RegionCache)
	logger.Info("store opened", "path", cfg.DatabasePath, "region_cache_size", cfg.RegionCacheSize)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	processor := pipeline.NewProcessor(store, regions, pipeline.ProcessorOptions{
		ActiveWindow:  cfg.ActiveWindow,
		ArchiveAfter:  cfg.ArchiveAfter,
		StoreRetryMax: cfg.StoreRetryMax,
		Tracks: resolver.TrackOptions{
			LeadTimeGate:       cfg.LeadTimeGate,
			DeterministicIndex: cfg.EnsembleControlIndex,
		},
	}, clockwork.NewRealClock(), logger, metrics)

	p := pipeline.New(reader, processor, writer, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, logger, p, store)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start resolution pipeline.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not stop before shutdown timeout")
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	if err := store.Close(); err != nil {
		logger.Error("store close error", "error", err)
	}

	logger.Info("shutdown complete")
}
