package stock

import (
	"errors"
	"fmt"
)

// ErrInvalidQuantity rejects non-positive quantities on any stock operation
var ErrInvalidQuantity = errors.New("quantity must be positive")

// ErrInsufficientStock is the kind matched by errors.Is for short stock;
// the concrete error carries the offending medication and amounts
var ErrInsufficientStock = errors.New("insufficient stock")

// InsufficientStockError reports exactly which medication is short and by
// how much, so callers can show the user the offending line
type InsufficientStockError struct {
	MedicationID string
	Requested    int64
	Available    int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for medication %s: requested %d, available %d",
		e.MedicationID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }
