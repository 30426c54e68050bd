package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RitaChen0/QuantLab-sub000/internal/api"
	"github.com/RitaChen0/QuantLab-sub000/internal/cache"
	"github.com/RitaChen0/QuantLab-sub000/internal/config"
	"github.com/RitaChen0/QuantLab-sub000/internal/database"
	"github.com/RitaChen0/QuantLab-sub000/internal/lifecycle"
	"github.com/RitaChen0/QuantLab-sub000/internal/logging"
	"github.com/RitaChen0/QuantLab-sub000/internal/market/kline"
	"github.com/RitaChen0/QuantLab-sub000/internal/monitoring"
	"github.com/RitaChen0/QuantLab-sub000/internal/storage/postgres"
)

func main() {
	configFile := flag.String("config", "configs/config.yaml", "Configuration file path")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		LogDir:     cfg.Logging.LogDir,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}

	db, err := database.NewConnection(&database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxOpen:  cfg.Database.MaxOpen,
		MaxIdle:  cfg.Database.MaxIdle,
		Timeout:  cfg.Database.Timeout,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	var cacher cache.Cacher
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(&cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to redis")
		}
		cacher = redisCache
	} else {
		logger.Warn("redis disabled, using in-process cache; leases do not survive restarts")
		cacher = cache.NewMemoryCache()
	}
	defer cacher.Close()

	metrics := monitoring.NewMetrics()
	repo := postgres.NewRepository(db)
	store := kline.NewStore(db.DB)
	loader := kline.NewLoader(store, kline.Interval(cfg.Backtest.BaseInterval))

	lease := lifecycle.NewLeaseService(cacher, cfg.Backtest.LeaseTTL)
	queue := lifecycle.NewQueue(
		cfg.Backtest.Workers,
		cfg.Backtest.QueueSize,
		cfg.Backtest.MaxRetries,
		cfg.Backtest.RetryBaseWait,
		logger,
	)
	manager := lifecycle.NewManager(repo, lease, queue, loader, cfg.Backtest, metrics, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		logger.WithError(err).Fatal("failed to start lifecycle manager")
	}

	server := api.NewServer(cfg, db, cacher, repo, manager, metrics, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server exited")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown failed")
	}
	manager.Stop()
}
