// Package fulfillment orchestrates the atomic prescription fulfillment flow:
// person validation, FEFO stock reservation, patient-share pricing and sale
// commit, all inside one unit of work.
package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medassure/go-dispense/internal/core/share"
	"github.com/medassure/go-dispense/internal/domain/prescription"
	"github.com/medassure/go-dispense/internal/domain/sale"
	"github.com/medassure/go-dispense/internal/port"
)

// State tracks a fulfillment attempt through its lifecycle. Committed and
// RolledBack are terminal; an attempt is never resumed, only retried as a
// brand-new attempt.
type State string

const (
	StateStarted         State = "started"
	StatePersonValidated State = "person_validated"
	StateStockReserved   State = "stock_reserved"
	StatePriceComputed   State = "price_computed"
	StateCommitted       State = "committed"
	StateRolledBack      State = "rolled_back"
)

// StockDeducter reserves stock inside the caller's unit of work
type StockDeducter interface {
	Deduct(ctx context.Context, uow port.UnitOfWork, medicationID string, quantity int64) error
}

// SaleResult is returned to the caller after a committed fulfillment
type SaleResult struct {
	SaleID         string          `json:"sale_id"`
	PrescriptionID string          `json:"prescription_id"`
	Total          decimal.Decimal `json:"total"`
	PatientShare   decimal.Decimal `json:"patient_share"`
	InsurerShare   decimal.Decimal `json:"insurer_share"`
	Details        []sale.Detail   `json:"details"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Service runs fulfillment attempts. Catalog prices are resolved before the
// storage transaction opens so no row lock is ever held across external I/O.
type Service struct {
	db      port.TxRunner
	catalog port.PriceCatalog
	stock   StockDeducter
	cache   port.StockCache
	calc    share.Calculator
	logger  *zap.Logger
	tracer  trace.Tracer

	// Bounded internal retry for concurrency conflicts.
	maxRetries int
	retryDelay time.Duration
}

// NewService creates a fulfillment service. cache may be nil.
func NewService(db port.TxRunner, catalog port.PriceCatalog, stock StockDeducter, cache port.StockCache, calc share.Calculator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         db,
		catalog:    catalog,
		stock:      stock,
		cache:      cache,
		calc:       calc,
		logger:     logger,
		tracer:     otel.Tracer("fulfillment-service"),
		maxRetries: 3,
		retryDelay: 50 * time.Millisecond,
	}
}

// Fulfill turns a prescription into a committed sale with stock deducted.
// Concurrency conflicts are retried internally with backoff; every other
// error surfaces untranslated as the terminal result of the attempt.
func (s *Service) Fulfill(ctx context.Context, prescriptionID, userID string) (*SaleResult, error) {
	ctx, span := s.tracer.Start(ctx, "fulfill_prescription",
		trace.WithAttributes(
			attribute.String("prescription_id", prescriptionID),
			attribute.String("user_id", userID),
		))
	defer span.End()

	if prescriptionID == "" || userID == "" {
		return nil, fmt.Errorf("%w: prescription id and user id are required", ErrInvalidArgument)
	}

	for attempt := 0; ; attempt++ {
		result, err := s.attempt(ctx, prescriptionID, userID)
		if err == nil {
			span.SetAttributes(attribute.String("sale_id", result.SaleID))
			return result, nil
		}
		if !errors.Is(err, port.ErrConcurrencyConflict) || attempt >= s.maxRetries {
			span.RecordError(err)
			return nil, err
		}

		backoff := s.retryDelay * time.Duration(attempt+1)
		s.logger.Warn("fulfillment attempt hit concurrency conflict, retrying",
			zap.String("prescription_id", prescriptionID),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// attempt runs a single pass of the state machine
func (s *Service) attempt(ctx context.Context, prescriptionID, userID string) (*SaleResult, error) {
	state := StateStarted

	rx, err := s.loadPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	if len(rx.Lines) == 0 {
		return nil, fmt.Errorf("%w: prescription %s has no lines", ErrInvalidArgument, prescriptionID)
	}

	prices, err := s.resolvePrices(ctx, rx)
	if err != nil {
		return nil, err
	}

	var result *SaleResult
	err = s.db.Execute(ctx, func(uow port.UnitOfWork) error {
		person, err := uow.InsuredPersons().FindByID(ctx, rx.InsuredPersonID)
		if err != nil {
			return fmt.Errorf("insured person %s: %w", rx.InsuredPersonID, err)
		}
		if !person.IsActive() {
			return fmt.Errorf("insured person %s: %w", person.ID, ErrInactivePerson)
		}
		state = StatePersonValidated

		// Idempotency pre-check; the unique index on sales.prescription_id
		// is the race-proof backstop at insert time.
		if _, err := uow.Sales().FindByPrescriptionID(ctx, rx.ID); err == nil {
			return ErrAlreadyFulfilled
		} else if !errors.Is(err, port.ErrNotFound) {
			return err
		}

		for _, line := range rx.Lines {
			if err := s.stock.Deduct(ctx, uow, line.MedicationID, line.Quantity); err != nil {
				return err
			}
		}
		state = StateStockReserved

		details := make([]sale.Detail, 0, len(rx.Lines))
		total := decimal.Zero
		for _, line := range rx.Lines {
			unitPrice := prices[line.MedicationID]
			subtotal := unitPrice.Mul(decimal.NewFromInt(line.Quantity))
			details = append(details, sale.Detail{
				MedicationID: line.MedicationID,
				Quantity:     line.Quantity,
				UnitPrice:    unitPrice,
				Subtotal:     subtotal,
			})
			total = total.Add(subtotal)
		}
		// Unit prices are validated to whole cents, so each subtotal and
		// the total are exact at two decimals and the total always equals
		// the sum of the line subtotals.
		patientShare := s.calc.PatientShare(person.Type, total)
		insurerShare := s.calc.InsurerShare(total, patientShare)
		state = StatePriceComputed

		newSale := &sale.Sale{
			ID:             uuid.New().String(),
			PrescriptionID: &rx.ID,
			Total:          total,
			PatientShare:   patientShare,
			InsurerShare:   insurerShare,
			UserID:         userID,
			Details:        details,
			CreatedAt:      time.Now().UTC(),
		}
		if err := uow.Sales().Insert(ctx, newSale); err != nil {
			if errors.Is(err, port.ErrAlreadyExists) {
				return ErrAlreadyFulfilled
			}
			return err
		}

		if err := s.writeSaleEvent(ctx, uow, newSale); err != nil {
			return err
		}

		result = &SaleResult{
			SaleID:         newSale.ID,
			PrescriptionID: rx.ID,
			Total:          total,
			PatientShare:   patientShare,
			InsurerShare:   insurerShare,
			Details:        details,
			CreatedAt:      newSale.CreatedAt,
		}
		return nil
	})
	if err != nil {
		s.logger.Info("fulfillment attempt rolled back",
			zap.String("prescription_id", prescriptionID),
			zap.String("last_state", string(state)),
			zap.Error(err),
		)
		return nil, err
	}
	state = StateCommitted

	s.invalidateStock(ctx, rx)
	s.logger.Info("prescription fulfilled",
		zap.String("prescription_id", prescriptionID),
		zap.String("sale_id", result.SaleID),
		zap.String("user_id", userID),
		zap.String("total", result.Total.StringFixed(2)),
		zap.String("patient_share", result.PatientShare.StringFixed(2)),
		zap.String("state", string(state)),
	)
	return result, nil
}

// GetSale serves the committed-sale read projection for reporting
func (s *Service) GetSale(ctx context.Context, saleID string) (*sale.Sale, error) {
	var found *sale.Sale
	err := s.db.Execute(ctx, func(uow port.UnitOfWork) error {
		loaded, err := uow.Sales().FindByID(ctx, saleID)
		if err != nil {
			return fmt.Errorf("sale %s: %w", saleID, err)
		}
		found = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// loadPrescription reads the prescription in its own short read transaction
func (s *Service) loadPrescription(ctx context.Context, prescriptionID string) (*prescription.Prescription, error) {
	var rx *prescription.Prescription
	err := s.db.Execute(ctx, func(uow port.UnitOfWork) error {
		loaded, err := uow.Prescriptions().FindByID(ctx, prescriptionID)
		if err != nil {
			return fmt.Errorf("prescription %s: %w", prescriptionID, err)
		}
		rx = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rx, nil
}

// resolvePrices fetches unit prices for every prescribed medication from the
// external catalog, outside any storage transaction. Prices must be whole
// cents; a finer-grained price would make line subtotals and the sale total
// round apart, so it is rejected before any stock is touched.
func (s *Service) resolvePrices(ctx context.Context, rx *prescription.Prescription) (map[string]decimal.Decimal, error) {
	ids := make([]string, 0, len(rx.Lines))
	for _, line := range rx.Lines {
		ids = append(ids, line.MedicationID)
	}
	prices, err := s.catalog.UnitPrices(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("price lookup: %w", err)
	}
	for _, id := range ids {
		price, ok := prices[id]
		if !ok {
			return nil, fmt.Errorf("price for medication %s: %w", id, port.ErrNotFound)
		}
		if !price.Equal(price.Round(2)) {
			return nil, fmt.Errorf("price %s for medication %s is not in whole cents: %w", price, id, ErrInvalidArgument)
		}
	}
	return prices, nil
}

func (s *Service) writeSaleEvent(ctx context.Context, uow port.UnitOfWork, newSale *sale.Sale) error {
	payload, err := json.Marshal(struct {
		SaleID         string `json:"sale_id"`
		PrescriptionID string `json:"prescription_id"`
		Total          string `json:"total"`
		PatientShare   string `json:"patient_share"`
		InsurerShare   string `json:"insurer_share"`
		UserID         string `json:"user_id"`
	}{
		SaleID:         newSale.ID,
		PrescriptionID: *newSale.PrescriptionID,
		Total:          newSale.Total.StringFixed(2),
		PatientShare:   newSale.PatientShare.StringFixed(2),
		InsurerShare:   newSale.InsurerShare.StringFixed(2),
		UserID:         newSale.UserID,
	})
	if err != nil {
		return err
	}
	return uow.Outbox().Write(ctx, &port.OutboxEvent{
		AggregateID:   newSale.ID,
		AggregateType: "sale",
		EventType:     port.EventTypeSaleCompleted,
		Topic:         port.TopicSalesCompleted,
		Key:           *newSale.PrescriptionID,
		Payload:       payload,
	})
}

func (s *Service) invalidateStock(ctx context.Context, rx *prescription.Prescription) {
	if s.cache == nil {
		return
	}
	ids := make([]string, 0, len(rx.Lines))
	for _, line := range rx.Lines {
		ids = append(ids, line.MedicationID)
	}
	if err := s.cache.Invalidate(ctx, ids...); err != nil {
		s.logger.Warn("stock cache invalidation failed", zap.Strings("medication_ids", ids), zap.Error(err))
	}
}
