// Package stock implements the inventory service: stock lookup, stock
// addition and the FEFO deduction hot path used by fulfillment.
package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medassure/go-dispense/internal/domain/inventory"
	"github.com/medassure/go-dispense/internal/domain/medication"
	"github.com/medassure/go-dispense/internal/port"
)

// LotInfo describes the batch being received by AddStock
type LotInfo struct {
	BatchNumber string
	ExpiryDate  *time.Time
}

// Service provides stock operations. All mutations go through the unit of
// work so they serialize per medication on the aggregate row lock.
type Service struct {
	db     port.TxRunner
	cache  port.StockCache
	logger *zap.Logger
	tracer trace.Tracer
}

// NewService creates a stock service. cache may be nil.
func NewService(db port.TxRunner, cache port.StockCache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     db,
		cache:  cache,
		logger: logger,
		tracer: otel.Tracer("stock-service"),
	}
}

// GetStock returns a snapshot of the inventory item for a medication.
// Served from the cache when possible; a miss reads storage and refills it.
func (s *Service) GetStock(ctx context.Context, medicationID string) (*inventory.ItemView, error) {
	ctx, span := s.tracer.Start(ctx, "get_stock",
		trace.WithAttributes(attribute.String("medication_id", medicationID)))
	defer span.End()

	if s.cache != nil {
		view, hit, err := s.cache.Get(ctx, medicationID)
		if err != nil {
			s.logger.Warn("stock cache read failed", zap.String("medication_id", medicationID), zap.Error(err))
		} else if hit {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return view, nil
		}
	}

	var view *inventory.ItemView
	err := s.db.Execute(ctx, func(uow port.UnitOfWork) error {
		item, err := uow.Inventory().GetItem(ctx, medicationID)
		if err != nil {
			return err
		}
		lots, err := uow.Inventory().ListLots(ctx, medicationID)
		if err != nil {
			return err
		}
		view = &inventory.ItemView{
			MedicationID: item.MedicationID,
			Quantity:     item.Quantity,
			Lots:         lots,
			AsOf:         time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, view); err != nil {
			s.logger.Warn("stock cache write failed", zap.String("medication_id", medicationID), zap.Error(err))
		}
	}
	return view, nil
}

// GetMedication returns the read-only reference record for a medication
func (s *Service) GetMedication(ctx context.Context, medicationID string) (*medication.Medication, error) {
	ctx, span := s.tracer.Start(ctx, "get_medication",
		trace.WithAttributes(attribute.String("medication_id", medicationID)))
	defer span.End()

	var med *medication.Medication
	err := s.db.Execute(ctx, func(uow port.UnitOfWork) error {
		m, err := uow.Medications().FindByID(ctx, medicationID)
		if err != nil {
			return err
		}
		med = m
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return med, nil
}

// AddStock receives a new lot for a medication and increments the aggregate,
// creating the inventory item on first receipt
func (s *Service) AddStock(ctx context.Context, medicationID string, quantity int64, lot LotInfo) (*inventory.ItemView, error) {
	ctx, span := s.tracer.Start(ctx, "add_stock",
		trace.WithAttributes(
			attribute.String("medication_id", medicationID),
			attribute.Int64("quantity", quantity),
		))
	defer span.End()

	if quantity <= 0 {
		return nil, fmt.Errorf("add stock for medication %s: %w", medicationID, ErrInvalidQuantity)
	}

	var view *inventory.ItemView
	err := s.db.Execute(ctx, func(uow port.UnitOfWork) error {
		inv := uow.Inventory()

		item, err := inv.GetItemForUpdate(ctx, medicationID)
		if errors.Is(err, port.ErrNotFound) {
			item = &inventory.Item{MedicationID: medicationID}
			if err := inv.CreateItem(ctx, item); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		newLot := &inventory.Lot{
			ID:           uuid.New().String(),
			MedicationID: medicationID,
			BatchNumber:  lot.BatchNumber,
			ExpiryDate:   lot.ExpiryDate,
			Quantity:     quantity,
			ReceivedAt:   time.Now().UTC(),
		}
		if err := inv.InsertLot(ctx, newLot); err != nil {
			return err
		}

		item.Quantity += quantity
		if err := inv.SaveItem(ctx, item); err != nil {
			return err
		}

		lots, err := inv.ListLots(ctx, medicationID)
		if err != nil {
			return err
		}
		view = &inventory.ItemView{
			MedicationID: medicationID,
			Quantity:     item.Quantity,
			Lots:         lots,
			AsOf:         time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.invalidate(ctx, medicationID)
	s.logger.Info("stock added",
		zap.String("medication_id", medicationID),
		zap.Int64("quantity", quantity),
		zap.String("batch", lot.BatchNumber),
	)
	return view, nil
}

// Deduct removes quantity units for a medication inside the caller's unit of
// work, consuming lots earliest-expiry-first. The aggregate row lock taken
// here serializes concurrent deductions, additions and reconciliation for the
// medication. The caller must invalidate cache snapshots after its
// transaction commits.
func (s *Service) Deduct(ctx context.Context, uow port.UnitOfWork, medicationID string, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("deduct stock for medication %s: %w", medicationID, ErrInvalidQuantity)
	}

	inv := uow.Inventory()
	item, err := inv.GetItemForUpdate(ctx, medicationID)
	if err != nil {
		return fmt.Errorf("inventory item for medication %s: %w", medicationID, err)
	}

	if item.Quantity < quantity {
		return &InsufficientStockError{
			MedicationID: medicationID,
			Requested:    quantity,
			Available:    item.Quantity,
		}
	}

	lots, err := inv.ListLots(ctx, medicationID)
	if err != nil {
		return err
	}
	draws, err := planDeduction(medicationID, lots, quantity)
	if err != nil {
		return err
	}

	for _, d := range draws {
		if err := inv.UpdateLotQuantity(ctx, d.LotID, d.Remaining); err != nil {
			return err
		}
	}

	item.Quantity -= quantity
	return inv.SaveItem(ctx, item)
}

func (s *Service) invalidate(ctx context.Context, medicationIDs ...string) {
	if s.cache == nil || len(medicationIDs) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, medicationIDs...); err != nil {
		s.logger.Warn("stock cache invalidation failed",
			zap.Strings("medication_ids", medicationIDs), zap.Error(err))
	}
}
