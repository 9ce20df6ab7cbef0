// Package main provides the fulfillment worker entry point.
// Consumes fulfillment requests from the broker and dispenses them through
// the same core services the API uses, guarded by the idempotency inbox.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/medassure/go-dispense/internal/config"
	"github.com/medassure/go-dispense/internal/core/fulfillment"
	"github.com/medassure/go-dispense/internal/core/share"
	"github.com/medassure/go-dispense/internal/core/stock"
	"github.com/medassure/go-dispense/internal/infrastructure/catalog"
	"github.com/medassure/go-dispense/internal/infrastructure/postgres"
	"github.com/medassure/go-dispense/internal/infrastructure/rediscache"
	"github.com/medassure/go-dispense/internal/infrastructure/redpanda"
	"github.com/medassure/go-dispense/internal/observability/tracing"
	"github.com/medassure/go-dispense/internal/port"
	"github.com/medassure/go-dispense/pkg/idempotency"
	"github.com/medassure/go-dispense/pkg/workerpool"
)

// FulfillmentRequest is the message consumed from the broker
type FulfillmentRequest struct {
	PrescriptionID string `json:"prescription_id"`
	UserID         string `json:"user_id"`
}

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx := context.Background()

	tp, err := tracing.Init(ctx, tracing.DefaultConfig("fulfillment-worker", cfg.OTLPEndpoint))
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

	if err := postgres.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	if err := redpanda.HealthCheck(ctx, cfg.KafkaBrokers); err != nil {
		logger.Fatal("broker unreachable", zap.Error(err))
	}

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
	calc := share.NewCalculator(share.DefaultCoverageRate)
	fulfillSvc := fulfillment.NewService(store, prices, stockSvc, cache, calc, logger)

	inbox := idempotency.New(pool, idempotency.DefaultConfig(), terminalError, logger)
	if n, err := inbox.RecoverStaleEntries(ctx); err != nil {
		logger.Warn("stale inbox recovery failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("recovered stale inbox entries", zap.Int64("count", n))
	}
	inbox.StartCleanup()
	defer inbox.Stop()

	workers, err := workerpool.New(workerpool.DefaultConfig(), func(ctx context.Context, task *workerpool.Task) error {
		return handleRequest(ctx, task, inbox, fulfillSvc, logger)
	}, logger)
	if err != nil {
		logger.Fatal("worker pool creation failed", zap.Error(err))
	}
	workers.Start()
	defer workers.Stop()

	consumerCfg := redpanda.DefaultConsumerConfig(cfg.KafkaBrokers, cfg.ConsumerGroup, port.TopicFulfillmentRequest)
	consumer, err := redpanda.NewConsumer(consumerCfg, func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		return workers.Submit(&workerpool.Task{
			ID:      string(msg.Key),
			Payload: msg.Value,
		})
	}, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}

	consumer.Start()
	logger.Info("fulfillment worker started", zap.String("group", cfg.ConsumerGroup))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	consumer.Stop()
	logger.Info("fulfillment worker stopped")
}

func handleRequest(ctx context.Context, task *workerpool.Task, inbox *idempotency.Inbox, svc *fulfillment.Service, logger *zap.Logger) error {
	payload, ok := task.Payload.([]byte)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", task.Payload)
	}

	var req FulfillmentRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode fulfillment request: %w", err)
	}

	key := "fulfill:" + req.PrescriptionID
	result, err := inbox.Process(ctx, key, "fulfillment", payload, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		saleResult, err := svc.Fulfill(ctx, req.PrescriptionID, req.UserID)
		if err != nil {
			// a concurrent API call winning the race is not a failure
			if errors.Is(err, fulfillment.ErrAlreadyFulfilled) {
				return json.Marshal(map[string]string{"status": "already_fulfilled"})
			}
			return nil, err
		}
		return json.Marshal(saleResult)
	})
	if err != nil {
		if errors.Is(err, idempotency.ErrInProgress) {
			return err // redeliver later
		}
		logger.Error("fulfillment request failed",
			zap.String("prescription_id", req.PrescriptionID),
			zap.Error(err))
		return err
	}

	if !result.IsNew {
		logger.Info("duplicate fulfillment request skipped",
			zap.String("prescription_id", req.PrescriptionID))
	}
	return nil
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

// terminalError classifies handler failures that will never succeed on retry
func terminalError(err error) bool {
	return errors.Is(err, fulfillment.ErrInvalidArgument) ||
		errors.Is(err, fulfillment.ErrInactivePerson) ||
		errors.Is(err, port.ErrNotFound)
}
