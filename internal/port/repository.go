// Package port defines the capability interfaces the dispensing core depends
// on: transactional storage, the external price catalog, and the stock
// snapshot cache. Adapters live under internal/infrastructure.
package port

import (
	"context"
	"encoding/json"

	"github.com/medassure/go-dispense/internal/domain/insured"
	"github.com/medassure/go-dispense/internal/domain/inventory"
	"github.com/medassure/go-dispense/internal/domain/medication"
	"github.com/medassure/go-dispense/internal/domain/prescription"
	"github.com/medassure/go-dispense/internal/domain/sale"
)

// InsuredPersonRepository reads insured persons
type InsuredPersonRepository interface {
	FindByID(ctx context.Context, id string) (*insured.Person, error)
}

// MedicationRepository reads medication reference data. The catalog service
// owns this data; the core never writes it.
type MedicationRepository interface {
	FindByID(ctx context.Context, id string) (*medication.Medication, error)
}

// PrescriptionRepository reads prescriptions with their lines
type PrescriptionRepository interface {
	FindByID(ctx context.Context, id string) (*prescription.Prescription, error)
}

// InventoryRepository mutates stock state. All mutating calls run inside the
// unit-of-work transaction they were obtained from.
type InventoryRepository interface {
	// GetItem reads the aggregate row without locking it
	GetItem(ctx context.Context, medicationID string) (*inventory.Item, error)

	// GetItemForUpdate reads the aggregate row and holds an exclusive lock on
	// it until the transaction ends. All writers for a medication must go
	// through this call so deductions, additions and reconciliation
	// adjustments serialize per medication.
	GetItemForUpdate(ctx context.Context, medicationID string) (*inventory.Item, error)

	// ListLots returns the lots for a medication in consumption order:
	// earliest expiry first, lots without expiry last, ties broken by
	// receipt time.
	ListLots(ctx context.Context, medicationID string) ([]inventory.Lot, error)

	CreateItem(ctx context.Context, item *inventory.Item) error

	// SaveItem writes the aggregate quantity with a version check. Returns
	// ErrConcurrencyConflict when the row moved under us.
	SaveItem(ctx context.Context, item *inventory.Item) error

	InsertLot(ctx context.Context, lot *inventory.Lot) error
	UpdateLotQuantity(ctx context.Context, lotID string, quantity int64) error
}

// SaleRepository appends committed sales and serves read projections
type SaleRepository interface {
	// Insert persists a sale with its details. Returns ErrAlreadyExists when
	// a sale already references the same prescription.
	Insert(ctx context.Context, s *sale.Sale) error
	FindByID(ctx context.Context, id string) (*sale.Sale, error)
	FindByPrescriptionID(ctx context.Context, prescriptionID string) (*sale.Sale, error)
}

// InventoryCheckRepository reads and closes physical inventory checks
type InventoryCheckRepository interface {
	// FindByIDForUpdate loads a check and locks it so concurrent reconcile
	// runs for the same check serialize.
	FindByIDForUpdate(ctx context.Context, id string) (*inventory.Check, error)
	MarkProcessed(ctx context.Context, id string) error
}

// OutboxEvent is a domain event staged for publication in the same
// transaction as the state change that produced it
type OutboxEvent struct {
	AggregateID   string
	AggregateType string
	EventType     string
	Topic         string
	Key           string
	Payload       json.RawMessage
}

// OutboxWriter stages events inside the current unit of work
type OutboxWriter interface {
	Write(ctx context.Context, event *OutboxEvent) error
}

// UnitOfWork bundles the repositories bound to one open transaction.
// Everything obtained from the same unit of work commits or rolls back
// atomically.
type UnitOfWork interface {
	InsuredPersons() InsuredPersonRepository
	Medications() MedicationRepository
	Prescriptions() PrescriptionRepository
	Inventory() InventoryRepository
	Sales() SaleRepository
	Checks() InventoryCheckRepository
	Outbox() OutboxWriter
}

// TxRunner owns the transaction boundary. Execute opens a transaction, runs
// fn against it and commits; any error from fn (or from commit) rolls the
// whole scope back.
type TxRunner interface {
	Execute(ctx context.Context, fn func(uow UnitOfWork) error) error
}
