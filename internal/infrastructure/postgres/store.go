// Package postgres implements the storage ports on PostgreSQL with pgx.
// Per-medication serialization uses SELECT ... FOR UPDATE on the aggregate
// row plus a version column; a unit of work maps to one transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medassure/go-dispense/internal/port"
)

// Store is the pgx-backed implementation of port.TxRunner
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

// NewStore creates a store on the given pool
func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("postgres-store"),
	}
}

// Execute runs fn inside one transaction. Row locks acquired by the
// repositories live until commit or rollback, which is how deductions,
// additions and reconciliation serialize per medication.
func (s *Store) Execute(ctx context.Context, fn func(uow port.UnitOfWork) error) error {
	ctx, span := s.tracer.Start(ctx, "unit_of_work")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &port.PersistenceError{Op: "begin", Err: err}
	}
	defer tx.Rollback(ctx)

	if err := fn(&unitOfWork{tx: tx}); err != nil {
		span.RecordError(err)
		return translateError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		if conflictErr := conflict(err); conflictErr != nil {
			return conflictErr
		}
		return &port.PersistenceError{Op: "commit", Err: err}
	}
	return nil
}

// unitOfWork binds the repositories to one open transaction
type unitOfWork struct {
	tx pgx.Tx
}

func (u *unitOfWork) InsuredPersons() port.InsuredPersonRepository { return &insuredRepo{tx: u.tx} }
func (u *unitOfWork) Medications() port.MedicationRepository       { return &medicationRepo{tx: u.tx} }
func (u *unitOfWork) Prescriptions() port.PrescriptionRepository   { return &prescriptionRepo{tx: u.tx} }
func (u *unitOfWork) Inventory() port.InventoryRepository          { return &inventoryRepo{tx: u.tx} }
func (u *unitOfWork) Sales() port.SaleRepository                   { return &saleRepo{tx: u.tx} }
func (u *unitOfWork) Checks() port.InventoryCheckRepository        { return &checkRepo{tx: u.tx} }
func (u *unitOfWork) Outbox() port.OutboxWriter                    { return &outboxWriter{tx: u.tx} }

// translateError maps pgx/pg errors bubbling out of repository calls onto the
// shared port error kinds; domain errors pass through untouched
func translateError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", port.ErrNotFound, err)
	}
	if conflictErr := conflict(err); conflictErr != nil {
		return conflictErr
	}
	return err
}

// conflict recognizes serialization and deadlock failures that are safe to
// retry as a whole new unit of work
func conflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", port.ErrConcurrencyConflict, pgErr.Code)
		}
	}
	return nil
}

// isUniqueViolation reports whether err is a unique-constraint violation
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
