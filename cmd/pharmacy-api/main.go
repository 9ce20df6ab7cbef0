// Package main provides the pharmacy API service entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/medassure/go-dispense/internal/api/handlers"
	"github.com/medassure/go-dispense/internal/api/middleware"
	"github.com/medassure/go-dispense/internal/config"
	"github.com/medassure/go-dispense/internal/core/fulfillment"
	"github.com/medassure/go-dispense/internal/core/reconcile"
	"github.com/medassure/go-dispense/internal/core/share"
	"github.com/medassure/go-dispense/internal/core/stock"
	"github.com/medassure/go-dispense/internal/infrastructure/catalog"
	"github.com/medassure/go-dispense/internal/infrastructure/postgres"
	"github.com/medassure/go-dispense/internal/infrastructure/rediscache"
	"github.com/medassure/go-dispense/internal/observability/metrics"
	"github.com/medassure/go-dispense/internal/observability/tracing"
	"github.com/medassure/go-dispense/internal/port"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx := context.Background()

	tp, err := tracing.Init(ctx, tracing.DefaultConfig("pharmacy-api", cfg.OTLPEndpoint))
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	} else {
		defer tp.Shutdown(context.Background())
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}
	if err := postgres.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	logger.Info("connected to database")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	cache := rediscache.New(redisClient, cfg.StockCacheTTL, logger)

	var prices port.PriceCatalog
	if cfg.CatalogURL != "" {
		prices = catalog.NewClient(cfg.CatalogURL, logger)
	} else {
		logger.Warn("CATALOG_URL not set, using empty static catalog")
		prices = catalog.NewStatic(map[string]decimal.Decimal{})
	}

	store := postgres.NewStore(pool, logger)
	stockSvc := stock.NewService(store, cache, logger)
	reconcileSvc := reconcile.NewService(store, cache, logger)
	calc := share.NewCalculator(share.DefaultCoverageRate)
	fulfillSvc := fulfillment.NewService(store, prices, stockSvc, cache, calc, logger)

	m := metrics.New()
	fulfillmentHandler := handlers.NewFulfillmentHandler(fulfillSvc, m, logger)
	inventoryHandler := handlers.NewInventoryHandler(stockSvc, reconcileSvc, m, logger)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing("pharmacy-api"))

	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.JWTAuth([]byte(cfg.JWTSecret)))
		r.Mount("/", fulfillmentHandler.Routes())
		r.Mount("/inventory", inventoryHandler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting pharmacy API", zap.String("port", cfg.HTTPPort))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"pharmacy-api","version":"1.0.0"}`)
}
