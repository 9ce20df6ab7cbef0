package stock

import (
	"fmt"
	"sort"

	"github.com/medassure/go-dispense/internal/domain/inventory"
)

// lotDraw is one lot consumption decided by the deduction planner
type lotDraw struct {
	LotID     string
	Remaining int64 // lot quantity after the draw
	Taken     int64
}

// sortFEFO orders lots for consumption: earliest expiry first, lots without
// expiry metadata last by receipt time, ties broken by id for determinism.
func sortFEFO(lots []inventory.Lot) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		switch {
		case a.ExpiryDate != nil && b.ExpiryDate != nil:
			if !a.ExpiryDate.Equal(*b.ExpiryDate) {
				return a.ExpiryDate.Before(*b.ExpiryDate)
			}
		case a.ExpiryDate != nil:
			return true
		case b.ExpiryDate != nil:
			return false
		}
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		return a.ID < b.ID
	})
}

// planDeduction decides which lots satisfy a deduction of quantity units.
// Lots with non-positive quantity (drained lots, negative reconciliation
// adjustments) are skipped. The caller must already have verified the
// aggregate quantity; a shortfall here means the lot-sum invariant is broken.
func planDeduction(medicationID string, lots []inventory.Lot, quantity int64) ([]lotDraw, error) {
	ordered := make([]inventory.Lot, len(lots))
	copy(ordered, lots)
	sortFEFO(ordered)

	remaining := quantity
	var draws []lotDraw
	for _, lot := range ordered {
		if remaining == 0 {
			break
		}
		if lot.Quantity <= 0 {
			continue
		}
		take := lot.Quantity
		if take > remaining {
			take = remaining
		}
		draws = append(draws, lotDraw{
			LotID:     lot.ID,
			Remaining: lot.Quantity - take,
			Taken:     take,
		})
		remaining -= take
	}

	if remaining > 0 {
		return nil, fmt.Errorf("lot quantities for medication %s sum below the aggregate (short %d)",
			medicationID, remaining)
	}
	return draws, nil
}
