// Package prescription defines the prescription entity consumed by fulfillment.
package prescription

import "time"

// Line is one prescribed medication with its quantity
type Line struct {
	MedicationID string
	Quantity     int64
}

// Prescription is an ordered set of prescribed lines for an insured person.
// Prescriptions are created by a doctor-facing workflow and consumed exactly
// once by fulfillment.
type Prescription struct {
	ID              string
	InsuredPersonID string
	Lines           []Line
	CreatedAt       time.Time
}
