package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/ladder-trader/internal/api"
	"github.com/amirphl/ladder-trader/internal/config"
	"github.com/amirphl/ladder-trader/internal/db"
	"github.com/amirphl/ladder-trader/internal/db/conf"
	"github.com/amirphl/ladder-trader/internal/exchange"
	"github.com/amirphl/ladder-trader/internal/feed"
	"github.com/amirphl/ladder-trader/internal/instrument"
	"github.com/amirphl/ladder-trader/internal/market"
	"github.com/amirphl/ladder-trader/internal/notifier"
	"github.com/amirphl/ladder-trader/internal/order"
	"github.com/amirphl/ladder-trader/internal/registry"
	"github.com/amirphl/ladder-trader/internal/runner"
	"github.com/amirphl/ladder-trader/internal/tfutils"
	"github.com/amirphl/ladder-trader/internal/utils"
	"go.uber.org/zap"
)

func main() {
	cfg := config.MustLoadConfig()
	utils.Init(cfg.LogFile, cfg.LogLevel)
	logger := utils.GetLogger()
	defer logger.Sync()
	logger.Info("Starting ladder trader", zap.String("mode", cfg.Mode), zap.String("http_addr", cfg.HTTPAddr))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var n notifier.Notifier = notifier.Nop{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		n = notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, cfg.NotificationRetries, cfg.NotificationDelay)
	}

	cache := openCache(cfg, logger)
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("Closing cache failed", zap.Error(err))
		}
	}()

	storage := openStorage(cfg, logger)

	resolver := openResolver(cfg, logger)

	window, err := cfg.Window()
	if err != nil {
		logger.Fatal("Invalid market window", zap.Error(err))
	}

	// Wallex serves public market data without a key, so every mode can
	// poll real prices.
	wallex := exchange.NewWallexBroker(cfg.WallexAPIKey, n)

	var (
		broker   exchange.Broker
		statuses exchange.StatusSource
	)
	switch cfg.Mode {
	case config.ModeLive:
		broker, statuses = wallex, wallex
	case config.ModePaper:
		paper := exchange.NewPaperBroker(cache)
		broker, statuses = paper, paper
	case config.ModeDry:
		logger.Info("Dry mode: orders are skipped, nothing reaches a broker")
	}

	prices := feed.NewPricePoller(wallex, cache, cfg.PriceSyncInterval, logger)
	pollers := []feed.Poller{prices}

	env := order.Env{
		Broker:       broker,
		Statuses:     cache,
		Journal:      storage,
		Clock:        tfutils.RealClock{},
		CancelAfter:  cfg.CancelAfter,
		AbandonAfter: cfg.AbandonAfter,
		CallTimeout:  cfg.CallTimeout,
	}
	if statuses != nil {
		poller := feed.NewStatusPoller(statuses, cache, cfg.StatusSyncInterval, logger)
		env.Watcher = poller
		pollers = append(pollers, poller)
	}
	// Waited on before the deferred cache.Close above.
	feeds := feed.Start(ctx, pollers...)
	defer feeds.Wait()

	builder := &registry.Builder{
		Resolver:   resolver,
		Prices:     cache,
		Subscriber: prices,
		Env:        env,
		Runner: runner.Config{
			Interval:      cfg.PollInterval,
			Window:        window,
			Clock:         tfutils.RealClock{},
			MaxTickErrors: cfg.MaxTickErrors,
		},
		Notifier: n,
		Logger:   logger,
	}
	reg := registry.New(ctx, builder, tfutils.RealClock{}, logger)

	server := api.NewServer(reg, api.Options{
		Defaults:          cfg.Defaults,
		Journal:           storage,
		AllowedOrigins:    cfg.AllowedOrigins,
		BroadcastInterval: cfg.BroadcastInterval,
		Logger:            logger,
	})
	go server.Run(ctx)
	go func() {
		if err := server.ListenAndServe(cfg.HTTPAddr); err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown failed", zap.Error(err))
	}
	if err := reg.StopAll(shutdownCtx); err != nil {
		logger.Warn("Some ladders did not stop in time", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

func openCache(cfg config.Config, logger *zap.Logger) market.Cache {
	if cfg.CachePath == "" {
		logger.Info("Using in-memory shared cache")
		return market.NewMemoryCache()
	}
	c, err := market.OpenPebbleCache(cfg.CachePath)
	if err != nil {
		logger.Fatal("Failed to open pebble cache", zap.String("path", cfg.CachePath), zap.Error(err))
	}
	logger.Info("Using pebble shared cache", zap.String("path", cfg.CachePath))
	return c
}

func openStorage(cfg config.Config, logger *zap.Logger) db.Storage {
	if cfg.DBConnStr == "" {
		logger.Info("No database configured, journaling in memory")
		return db.NewMemory()
	}
	dbCfg, err := conf.NewConfig(cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if schema, err := conf.LoadSchema(); err == nil {
		if err := conf.ApplySchema(dbCfg.DB, schema); err != nil {
			logger.Fatal("Failed to apply schema", zap.Error(err))
		}
	} else {
		logger.Warn("Schema file not found, assuming tables exist", zap.Error(err))
	}
	storage, err := db.New(*dbCfg)
	if err != nil {
		logger.Fatal("Failed to create storage", zap.Error(err))
	}
	return storage
}

func openResolver(cfg config.Config, logger *zap.Logger) instrument.Resolver {
	if cfg.InstrumentsFile == "" {
		return instrument.Identity{}
	}
	tbl, err := instrument.LoadFile(cfg.InstrumentsFile, instrument.NSEEquity)
	if err != nil {
		logger.Fatal("Failed to load instruments", zap.String("path", cfg.InstrumentsFile), zap.Error(err))
	}
	if tbl.Len() == 0 {
		logger.Fatal("Instrument file has no matching rows", zap.String("path", cfg.InstrumentsFile))
	}
	logger.Info("Loaded instruments", zap.Int("count", tbl.Len()))
	return tbl
}
