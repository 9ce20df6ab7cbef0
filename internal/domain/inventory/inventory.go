// Package inventory defines the stock-keeping entities.
// The aggregate Item quantity must equal the sum of its lot quantities at
// every committed state; lot rows are the unit of FEFO consumption and of
// reconciliation adjustments.
package inventory

import "time"

// Item holds the aggregate on-hand quantity for one medication.
// Version supports optimistic concurrency on top of row locking.
type Item struct {
	MedicationID string
	Quantity     int64
	Version      int64
	UpdatedAt    time.Time
}

// Lot is a batch-level stock record contributing to the aggregate.
// ExpiryDate is nil for lots without expiry metadata; such lots are consumed
// last, oldest first. Reconciliation writes synthetic adjustment lots whose
// quantity may be negative.
type Lot struct {
	ID           string     `json:"id"`
	MedicationID string     `json:"medication_id"`
	BatchNumber  string     `json:"batch_number"`
	ExpiryDate   *time.Time `json:"expiry_date,omitempty"`
	Quantity     int64      `json:"quantity"`
	ReceivedAt   time.Time  `json:"received_at"`
}

// ItemView is a read snapshot of an item with its lots, exposed for
// stock-level reporting
type ItemView struct {
	MedicationID string     `json:"medication_id"`
	Quantity     int64      `json:"quantity"`
	Lots         []Lot      `json:"lots,omitempty"`
	AsOf         time.Time  `json:"as_of"`
}

// CheckLine is one physically counted medication within an inventory check
type CheckLine struct {
	MedicationID    string
	CountedQuantity int64
}

// Check records a physical inventory count. Once processed by reconciliation
// it is terminal and may not be applied again.
type Check struct {
	ID        string
	UserID    string
	Lines     []CheckLine
	Processed bool
	CreatedAt time.Time
}
