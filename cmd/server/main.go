package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sdko-org/swapi-proxy/internal/cache"
	"github.com/sdko-org/swapi-proxy/internal/config"
	"github.com/sdko-org/swapi-proxy/internal/database"
	"github.com/sdko-org/swapi-proxy/internal/events"
	"github.com/sdko-org/swapi-proxy/internal/handlers"
	httpserver "github.com/sdko-org/swapi-proxy/internal/http"
	"github.com/sdko-org/swapi-proxy/internal/proxy"
	"github.com/sdko-org/swapi-proxy/internal/stats"
	"github.com/sdko-org/swapi-proxy/internal/storage"
	"github.com/sdko-org/swapi-proxy/internal/swapi"
	"github.com/sirupsen/logrus"
)

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithField("level", cfg.LogLevel).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(logger, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	store := storage.NewGormStorage(db)

	// The aggregator outlives the signal context so the trigger from the final
	// event flush is still served; aggregator.Stop ends it.
	aggregator := stats.NewAggregator(logger, store, cfg.MetricsSchedule)
	if err := aggregator.Start(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to start metrics aggregator")
	}

	var spool *events.Spool
	if cfg.EventSpoolDir != "" {
		spool, err = events.NewSpool(cfg.EventSpoolDir, cfg.EventSpoolMaxBytes)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize event spool")
		}
	}

	recorder := events.NewRecorder(logger, events.RecorderConfig{
		Store:         store,
		Spool:         spool,
		QueueSize:     cfg.EventQueueSize,
		FlushBatch:    cfg.EventFlushBatch,
		FlushInterval: cfg.EventFlushInterval,
		OnFlush:       aggregator.Trigger,
	})
	recorder.Start()

	responseCache, err := cache.NewResponseCache(cfg.CacheMaxEntries, cache.DefaultTTL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build response cache")
	}
	defer responseCache.Close()

	client := swapi.NewClient(logger, cfg.SwapiBaseURL, cfg.UpstreamTimeout)
	service := proxy.NewService(logger, responseCache, client, recorder)

	router := handlers.NewRouter(logger,
		handlers.NewProxyHandler(logger, service),
		handlers.NewStatsHandler(logger, aggregator),
	)

	logger.WithFields(logrus.Fields{
		"upstream": cfg.SwapiBaseURL,
		"driver":   cfg.DatabaseDriver,
	}).Info("SWAPI proxy starting")

	err = httpserver.Run(ctx, logger, router, httpserver.Options{
		Addr:    cfg.ListenAddr,
		TLSAddr: cfg.TLSListenAddr,
	})

	// Servers are down; no more events can arrive.
	recorder.Stop()
	aggregator.Stop()

	if sqlDB, dbErr := db.DB(); dbErr == nil {
		sqlDB.Close()
	}

	if err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
	logger.Info("SWAPI proxy stopped")
}
