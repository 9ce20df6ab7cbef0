package port

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceCatalog resolves unit prices from the external medication catalog.
// Implementations must be safe for concurrent use; fulfillment resolves all
// prices before opening its storage transaction so no lock is held across
// catalog I/O.
type PriceCatalog interface {
	// UnitPrices returns the unit price for each requested medication.
	// Returns ErrNotFound if any medication is unknown to the catalog.
	UnitPrices(ctx context.Context, medicationIDs []string) (map[string]decimal.Decimal, error)
}
