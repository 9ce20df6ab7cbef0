// Package main provides the outbox relay service entry point.
// Drains staged dispensing events from Postgres to the broker.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/medassure/go-dispense/internal/config"
	"github.com/medassure/go-dispense/internal/infrastructure/postgres"
	"github.com/medassure/go-dispense/internal/infrastructure/redpanda"
	"github.com/medassure/go-dispense/internal/observability/metrics"
	"github.com/medassure/go-dispense/internal/observability/tracing"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx := context.Background()

	tp, err := tracing.Init(ctx, tracing.DefaultConfig("outbox-relay", cfg.OTLPEndpoint))
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	} else {
		defer tp.Shutdown(context.Background())
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("connected to database")

	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	if err := admin.EnsureTopics(ctx); err != nil {
		logger.Warn("topic creation failed", zap.Error(err))
	}
	admin.Close()

	producer, err := redpanda.NewProducer(redpanda.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()
	logger.Info("connected to broker", zap.Strings("brokers", cfg.KafkaBrokers))

	relay := postgres.NewRelay(pool, producer, postgres.DefaultRelayConfig(), logger)
	relay.Start()

	m := metrics.New()
	go func() {
		http.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(":"+cfg.HTTPPort, nil); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	// housekeeping: dead-letter exhausted rows, trim published ones, and
	// keep the pending gauge fresh
	houseCtx, houseCancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-houseCtx.Done():
				return
			case <-ticker.C:
				if n, err := relay.MoveToDeadLetter(houseCtx); err != nil {
					logger.Error("dead letter sweep failed", zap.Error(err))
				} else if n > 0 {
					logger.Warn("rows moved to dead letter", zap.Int64("count", n))
				}
				if _, err := relay.CleanupProcessed(houseCtx, 24*time.Hour); err != nil {
					logger.Error("outbox cleanup failed", zap.Error(err))
				}
				if pending, err := relay.PendingCount(houseCtx); err == nil {
					m.OutboxPending.Set(float64(pending))
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	houseCancel()
	relay.Stop()
	logger.Info("outbox relay stopped")
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
