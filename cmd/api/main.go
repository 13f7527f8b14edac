package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-sales/internal/config"
	"github.com/ariefcatur/go-realtime-sales/internal/httpx"
	kafkax "github.com/ariefcatur/go-realtime-sales/internal/kafka"
	"github.com/ariefcatur/go-realtime-sales/internal/logging"
	"github.com/ariefcatur/go-realtime-sales/internal/outbox"
	"github.com/ariefcatur/go-realtime-sales/internal/postgres"
	"github.com/ariefcatur/go-realtime-sales/internal/redisx"
	"github.com/ariefcatur/go-realtime-sales/internal/sales"
	"github.com/ariefcatur/go-realtime-sales/internal/tracing"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName:  cfg.ServiceName,
		OTLPEndpoint: cfg.OTelEndpoint,
		Enabled:      cfg.OTelEnabled,
	})
	if err != nil {
		logger.Fatal("tracing init", zap.Error(err))
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		logger.Fatal("redis", zap.Error(err))
	}

	// Kafka producer, fed only by the outbox relay
	prod := kafkax.NewProducer(cfg.Brokers())
	defer func() {
		if err := prod.Close(); err != nil {
			logger.Warn("close producer", zap.Error(err))
		}
	}()

	svc := sales.NewService(sales.NewRepo(db), redisx.NewStatusCache(rdb), cfg.SalesTopic, logger)
	router := httpx.NewRouter(logger)
	(&httpx.SalesHandler{Service: svc, Log: logger}).Register(router)

	relay := outbox.NewRelay(outbox.NewPgStore(db), prod, outbox.RelayConfig{
		BatchSize:   cfg.OutboxBatch,
		Interval:    cfg.OutboxInterval,
		MaxAttempts: cfg.OutboxMaxAttempts,
		RetryBase:   cfg.OutboxRetryBase,
		RetryMax:    cfg.OutboxRetryMax,
	}, logger)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		_ = relay.Run(ctx)
	}()

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	<-relayDone
	if err := shutdownTracing(ctx2); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
