package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/internal/stock/consumers"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/events"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/handler"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/service"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/store"
	"github.com/kitchenflow/kitchenflow-backend/pkg/config"
	"github.com/kitchenflow/kitchenflow-backend/pkg/database"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
	"github.com/kitchenflow/kitchenflow-backend/pkg/messaging"
	"github.com/kitchenflow/kitchenflow-backend/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("stock-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("stock-service", cfg.Server.Environment)
	log.Info().Str("store", cfg.Stock.Store).Msg("starting Stock Service")

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	stockMetrics := metrics.New(registry)

	health := map[string]func(ctx context.Context) any{}

	// Ledger store
	var txRunner service.TxRunner
	switch cfg.Stock.Store {
	case config.StorePostgres:
		db, err := database.New(&cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		if cfg.Database.AutoMigrate {
			if err := db.Migrate(); err != nil {
				log.Fatal().Err(err).Msg("failed to run migrations")
			}
		}
		health["database"] = func(ctx context.Context) any { return db.Health(ctx) }
		txRunner = store.NewPostgres(db)
	default:
		log.Warn().Msg("using in-memory stock store, data is lost on restart")
		txRunner = store.NewMemory()
	}

	// RabbitMQ is optional; without it events are dropped and no orders are consumed
	var (
		rmq       *messaging.RabbitMQ
		publisher *events.StockEventPublisher
	)
	if cfg.RabbitMQ.Enabled {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		if err := rmq.DeclareDeadLetterQueue(events.ServiceName); err != nil {
			log.Fatal().Err(err).Msg("failed to declare dead letter queue")
		}

		publisher, err = events.NewRabbitPublisher(rmq, stockMetrics, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
		health["rabbitmq"] = func(ctx context.Context) any { return rmq.Health() }
	}

	// Services
	stockService := service.NewStockService(txRunner, publisher, stockMetrics, service.Options{
		ReconcileAdjustments: cfg.Stock.ReconcileAdjustments,
		LockTimeout:          cfg.Stock.LockTimeout,
	}, log)
	scanner := service.NewAlertScanner(txRunner, publisher, stockMetrics, service.ScannerOptions{
		ExpiryHorizon: cfg.Alerts.ExpiryHorizon,
		LockTimeout:   cfg.Stock.LockTimeout,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if rmq != nil {
		orderConsumer, err := consumers.NewOrderStockConsumer(rmq, stockService, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create order consumer")
		}
		if err := orderConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start order consumer")
		}
	}

	var scheduler *service.AlertScheduler
	if cfg.Alerts.Enabled {
		scheduler = service.NewAlertScheduler(scanner, cfg.Alerts.ScanInterval, log)
		scheduler.Start(ctx)
	}

	routerOpts := handler.RouterOptions{
		Metrics:     stockMetrics,
		CORSOrigins: cfg.Server.CORSOrigins,
		Health: func(ctx context.Context) map[string]any {
			status := make(map[string]any, len(health))
			for name, check := range health {
				status[name] = check(ctx)
			}
			return status
		},
	}
	if cfg.Metrics.Enabled {
		routerOpts.Gatherer = registry
		routerOpts.MetricsPath = cfg.Metrics.Path
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.NewRouter(stockService, scanner, routerOpts, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Stop consumers and let a running scan finish
	cancel()
	if scheduler != nil {
		scheduler.Stop()
	}

	log.Info().Msg("server stopped")
}
