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

	"github.com/mcclellann/prestaya/pkg/cache"
	"github.com/mcclellann/prestaya/pkg/config"
	"github.com/mcclellann/prestaya/pkg/jobs"
	"github.com/mcclellann/prestaya/pkg/store"
	"go.uber.org/zap"
)

// previewCache picks Redis when an address is configured and reachable,
// otherwise an in-process map.
func previewCache(ctx context.Context, conf config.CacheConfig, logger *zap.Logger) (cache.Cache, func()) {
	if conf.RedisAddr == "" {
		return cache.NewMemoryCache(), func() {}
	}
	rc := cache.NewRedisCache(conf.RedisAddr, conf.TTL)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		logger.Warn("redis unavailable, using in-memory preview cache",
			zap.String("op", "main"),
			zap.String("addr", conf.RedisAddr),
			zap.Error(err),
		)
		_ = rc.Close()
		return cache.NewMemoryCache(), func() {}
	}
	return rc, func() { _ = rc.Close() }
}

func main() {
	configLocation := flag.String("config", "", "path to configuration file")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	flag.Parse()

	conf, err := config.Load(*configLocation)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to load configuration\", \"error\": \"%v\"}\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(conf.Logging, *logLevel)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to initialize logger\", \"error\": \"%v\"}\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	loc, err := conf.Location()
	if err != nil {
		logger.Fatal("failed to load business time zone", zap.String("op", "main"), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := store.Open(conf.Database.Driver, conf.Database.DSN)
	if err != nil {
		logger.Fatal("failed to open store",
			zap.String("op", "main"),
			zap.String("driver", conf.Database.Driver),
			zap.Error(err),
		)
	}
	defer storage.Close()

	c, closeCache := previewCache(ctx, conf.Cache, logger)
	defer closeCache()

	server := NewServer(storage, c, loc, logger)

	scheduler := jobs.NewScheduler(logger)
	if err := scheduler.AddDelinquencySweep(conf.Jobs.DelinquencySchedule, server.ledger); err != nil {
		logger.Fatal("failed to schedule delinquency sweep", zap.String("op", "main"), zap.Error(err))
	}
	scheduler.Start()

	httpServer := &http.Server{
		Addr:              conf.Addr(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("op", "main"), zap.String("addr", httpServer.Addr), zap.String("timezone", loc.String()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.String("op", "main"), zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down", zap.String("op", "main"))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.String("op", "main"), zap.Error(err))
	}
	scheduler.Stop(shutdownCtx)
}
