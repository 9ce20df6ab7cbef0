// Package sale defines the committed sale entities produced by fulfillment.
package sale

import (
	"time"

	"github.com/shopspring/decimal"
)

// Detail is one line item of a sale
type Detail struct {
	MedicationID string          `json:"medication_id"`
	Quantity     int64           `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

// Sale records a completed dispensing transaction. Immutable once committed.
// PrescriptionID is nil for over-the-counter sales.
type Sale struct {
	ID             string
	PrescriptionID *string
	Total          decimal.Decimal
	PatientShare   decimal.Decimal
	InsurerShare   decimal.Decimal
	UserID         string
	Details        []Detail
	CreatedAt      time.Time
}
