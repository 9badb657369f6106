package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kitchenflow/kitchenflow-backend/internal/stock/service"
	"github.com/kitchenflow/kitchenflow-backend/pkg/httputil"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
	"github.com/kitchenflow/kitchenflow-backend/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures the outer HTTP surface
type RouterOptions struct {
	Metrics *metrics.StockMetrics
	// Gatherer backs the metrics endpoint; nil disables it
	Gatherer    prometheus.Gatherer
	MetricsPath string
	CORSOrigins []string
	// Health reports dependency status for /health
	Health func(ctx context.Context) map[string]any
}

// NewRouter mounts the stock API under /api/v1/stock
func NewRouter(svc *service.StockService, scanner *service.AlertScanner, opts RouterOptions, log *logger.Logger) http.Handler {
	stockHandler := NewStockHandler(svc, log)
	orderHandler := NewPurchaseOrderHandler(svc, log)
	alertHandler := NewAlertHandler(svc, scanner, log)

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-User-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(instrument(opts.Metrics))
	r.Use(httputil.Actor)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{
			"status":  "healthy",
			"service": "stock-service",
		}
		if opts.Health != nil {
			for k, v := range opts.Health(r.Context()) {
				status[k] = v
			}
		}
		httputil.JSON(w, http.StatusOK, status)
	})

	if opts.Gatherer != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/stock", func(r chi.Router) {
		r.Route("/ingredients/{id}", func(r chi.Router) {
			r.Get("/", stockHandler.GetIngredient)
			r.Get("/balance", stockHandler.Balance)
			r.Get("/batches", stockHandler.ListBatches)
			r.Get("/batches/consumable", stockHandler.ListConsumableBatches)
			r.Post("/deduct", stockHandler.Deduct)
			r.Post("/waste", stockHandler.Waste)
			r.Post("/adjust", stockHandler.Adjust)
		})

		r.Post("/batches/{id}/consume", stockHandler.ConsumeBatch)
		r.Get("/transactions", stockHandler.ListTransactions)

		r.Route("/purchase-orders/{id}", func(r chi.Router) {
			r.Get("/", orderHandler.Get)
			r.Post("/receive", orderHandler.Receive)
			r.Post("/cancel", orderHandler.Cancel)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", alertHandler.List)
			r.Post("/scan", alertHandler.Scan)
			r.Post("/{id}/resolve", alertHandler.Resolve)
		})
	})

	return r
}

// instrument records request counts and latency per route pattern
func instrument(m *metrics.StockMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &httputil.ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			m.ObserveRequest(r.Method, route, strconv.Itoa(wrapped.StatusCode), time.Since(start))
		})
	}
}
