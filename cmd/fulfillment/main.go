package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-sales/internal/config"
	"github.com/ariefcatur/go-realtime-sales/internal/fulfillment"
	"github.com/ariefcatur/go-realtime-sales/internal/httpclient"
	"github.com/ariefcatur/go-realtime-sales/internal/inventory"
	kafkax "github.com/ariefcatur/go-realtime-sales/internal/kafka"
	"github.com/ariefcatur/go-realtime-sales/internal/logging"
	"github.com/ariefcatur/go-realtime-sales/internal/redisx"
	"github.com/ariefcatur/go-realtime-sales/internal/tracing"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	name := cfg.ServiceName + "-fulfillment"
	logger, err := logging.New(name, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName:  name,
		OTLPEndpoint: cfg.OTelEndpoint,
		Enabled:      cfg.OTelEnabled,
	})
	if err != nil {
		logger.Fatal("tracing init", zap.Error(err))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		logger.Fatal("redis", zap.Error(err))
	}

	// Collaborators, each behind its own breaker
	inv := inventory.NewClient(cfg.InventoryURL,
		httpclient.New(httpclient.DefaultConfig("inventory", cfg.InventoryTimeout), logger))
	reporter := fulfillment.NewReporter(fulfillment.ReporterConfig{
		BaseURL:    cfg.SalesURL,
		MaxRetries: cfg.ReportMaxRetries,
	}, httpclient.New(httpclient.DefaultConfig("sales", cfg.ReportTimeout), logger), logger)

	handler := fulfillment.NewHandler(
		fulfillment.NewOrchestrator(inv, logger),
		reporter,
		redisx.NewDeduper(rdb, "fulfillment"),
		logger,
	)

	dlq := kafkax.NewWriter(cfg.Brokers())
	defer func() {
		if err := dlq.Close(); err != nil {
			logger.Warn("close dlq writer", zap.Error(err))
		}
	}()

	// Metrics
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listen", zap.Error(err))
		}
	}()

	cons := kafkax.NewConsumer(kafkax.ConsumerConfig{
		Brokers:   cfg.Brokers(),
		GroupID:   cfg.FulfillmentGroup,
		Topic:     cfg.SalesTopic,
		Workers:   cfg.FulfillmentWorkers,
		DLQPrefix: cfg.DLQPrefix,
	}, dlq, logger)

	// Start returns once in-flight messages are finished and committed.
	if err := cons.Start(ctx, handler.Handle); err != nil {
		logger.Error("consumer exit", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
