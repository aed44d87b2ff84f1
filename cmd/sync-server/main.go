package main

import (
	"github.com/life-stream-dev/gaia-sync-server/internal/auth"
	"github.com/life-stream-dev/gaia-sync-server/internal/cache"
	"github.com/life-stream-dev/gaia-sync-server/internal/config"
	"github.com/life-stream-dev/gaia-sync-server/internal/database"
	"github.com/life-stream-dev/gaia-sync-server/internal/engine"
	"github.com/life-stream-dev/gaia-sync-server/internal/event"
	"github.com/life-stream-dev/gaia-sync-server/internal/logger"
	"github.com/life-stream-dev/gaia-sync-server/internal/metrics"
	"github.com/life-stream-dev/gaia-sync-server/internal/presence"
	"github.com/life-stream-dev/gaia-sync-server/internal/server"
	"github.com/life-stream-dev/gaia-sync-server/internal/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func openStore(cfg config.Config) (database.Store, error) {
	if cfg.Database.URI == database.MemoryURI {
		logger.Warn("Using in-memory store, data will not be persisted")
		return database.NewMemoryStore(), nil
	}
	if err := database.ConnectDatabase(); err != nil {
		return nil, err
	}
	return database.NewDatabaseStore(database.Database), nil
}

func main() {
	cfg, err := config.ReadConfig()
	if err != nil {
		logger.FatalF("Error occured while reading config %v", err)
		return
	}
	loggerCallback := logger.Init()
	logger.DebugF("%s initializing...", cfg.AppName)
	cleaner := event.NewCleaner()
	ctx := cleaner.Init(loggerCallback)
	defer cleaner.Clean()

	store, err := openStore(cfg)
	if err != nil {
		logger.FatalF("Error occured while initializing database, details: %v", err)
		return
	}

	verifier, err := auth.New(cfg.JWT.PublicKey, cfg.JWT.Secret)
	if err != nil {
		logger.FatalF("Error occured while loading jwt key, details: %v", err)
		return
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eng := engine.New(store, verifier,
		engine.WithMetrics(metrics.New(registry)),
		engine.WithPollDelay(utils.DurationOr(cfg.Engine.PollDelay, engine.DefaultPollDelay)),
		engine.WithSweepInterval(utils.DurationOr(cfg.Engine.SweepInterval, engine.DefaultSweepInterval)),
		engine.WithPresenceWindow(utils.DurationOr(cfg.Engine.PresenceWindow, presence.DefaultWindow)),
		engine.WithHistoryLimit(cfg.Engine.HistoryLimit),
		engine.WithCache(cache.New(cfg.Engine.CacheSize, utils.DurationOr(cfg.Engine.CacheTTL, cache.DefaultTTL))),
	)
	srv := server.New(cfg.Listen, eng, metrics.Handler(registry))

	// 逆序执行: 先停止接受连接, 再停止引擎
	cleaner.Add(eng)
	cleaner.Add(srv)

	go eng.Run(ctx)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.ErrorF("Sync server stopped unexpectedly, details: %v", err)
		}
	}
}
