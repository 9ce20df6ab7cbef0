package port

import (
	"context"

	"github.com/medassure/go-dispense/internal/domain/inventory"
)

// StockCache is a read-through snapshot cache for stock-level reporting.
// It is advisory only: misses and cache errors fall back to storage, and
// every stock mutation invalidates the affected medication.
type StockCache interface {
	Get(ctx context.Context, medicationID string) (*inventory.ItemView, bool, error)
	Set(ctx context.Context, view *inventory.ItemView) error
	Invalidate(ctx context.Context, medicationIDs ...string) error
}
