// Package rediscache implements the stock snapshot cache on Redis.
// The cache is advisory: every error degrades to a miss so storage stays
// the source of truth.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/medassure/go-dispense/internal/domain/inventory"
)

const keyPrefix = "stock:"

// StockCache caches inventory.ItemView snapshots keyed by medication
type StockCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New creates a stock cache with the given snapshot TTL
func New(client *redis.Client, ttl time.Duration, logger *zap.Logger) *StockCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &StockCache{client: client, ttl: ttl, logger: logger}
}

func (c *StockCache) Get(ctx context.Context, medicationID string) (*inventory.ItemView, bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+medicationID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		c.logger.Warn("stock cache read failed", zap.String("medication_id", medicationID), zap.Error(err))
		return nil, false, nil
	}

	view := &inventory.ItemView{}
	if err := json.Unmarshal(data, view); err != nil {
		// stale or corrupt snapshot, drop it
		c.client.Del(ctx, keyPrefix+medicationID)
		return nil, false, nil
	}
	return view, true, nil
}

func (c *StockCache) Set(ctx context.Context, view *inventory.ItemView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("marshal stock snapshot: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+view.MedicationID, data, c.ttl).Err(); err != nil {
		c.logger.Warn("stock cache write failed", zap.String("medication_id", view.MedicationID), zap.Error(err))
	}
	return nil
}

func (c *StockCache) Invalidate(ctx context.Context, medicationIDs ...string) error {
	if len(medicationIDs) == 0 {
		return nil
	}
	keys := make([]string, len(medicationIDs))
	for i, id := range medicationIDs {
		keys[i] = keyPrefix + id
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("stock cache invalidate failed", zap.Strings("medication_ids", medicationIDs), zap.Error(err))
	}
	return nil
}
