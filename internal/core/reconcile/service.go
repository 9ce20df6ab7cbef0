// Package reconcile aligns recorded inventory with physical inventory-check
// counts by writing signed adjustment lots.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medassure/go-dispense/internal/domain/inventory"
	"github.com/medassure/go-dispense/internal/port"
)

// ErrAlreadyReconciled indicates the inventory check was processed before;
// checks are terminal once applied
var ErrAlreadyReconciled = errors.New("inventory check already reconciled")

// Adjustment is one correction applied to a medication's aggregate
type Adjustment struct {
	MedicationID string `json:"medication_id"`
	Delta        int64  `json:"delta"`
	NewQuantity  int64  `json:"new_quantity"`
}

// Result summarizes a reconciliation run
type Result struct {
	CheckID     string       `json:"check_id"`
	Adjustments []Adjustment `json:"adjustments"`
}

// Service applies inventory checks. It locks each affected aggregate row
// inside the same unit of work as the adjustment write, so a deduction can
// never land between the count comparison and the correction.
type Service struct {
	db     port.TxRunner
	cache  port.StockCache
	logger *zap.Logger
	tracer trace.Tracer
}

// NewService creates a reconciliation service. cache may be nil.
func NewService(db port.TxRunner, cache port.StockCache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     db,
		cache:  cache,
		logger: logger,
		tracer: otel.Tracer("reconcile-service"),
	}
}

// Reconcile applies the physical counts of an inventory check and marks the
// check processed, all in one transaction
func (s *Service) Reconcile(ctx context.Context, checkID, userID string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "reconcile_inventory",
		trace.WithAttributes(attribute.String("check_id", checkID)))
	defer span.End()

	var result *Result
	err := s.db.Execute(ctx, func(uow port.UnitOfWork) error {
		check, err := uow.Checks().FindByIDForUpdate(ctx, checkID)
		if err != nil {
			return fmt.Errorf("inventory check %s: %w", checkID, err)
		}
		if check.Processed {
			return ErrAlreadyReconciled
		}

		result = &Result{CheckID: checkID}
		for _, line := range check.Lines {
			adj, err := s.applyLine(ctx, uow, check, line)
			if err != nil {
				return err
			}
			if adj != nil {
				result.Adjustments = append(result.Adjustments, *adj)
			}
		}

		return uow.Checks().MarkProcessed(ctx, checkID)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	adjusted := make([]string, 0, len(result.Adjustments))
	for _, adj := range result.Adjustments {
		adjusted = append(adjusted, adj.MedicationID)
	}
	s.invalidate(ctx, adjusted)

	s.logger.Info("inventory check reconciled",
		zap.String("check_id", checkID),
		zap.String("user_id", userID),
		zap.Int("adjustments", len(result.Adjustments)),
	)
	span.SetAttributes(attribute.Int("adjustments", len(result.Adjustments)))
	return result, nil
}

// applyLine compares one counted medication against the recorded aggregate
// and writes the correcting adjustment lot. Returns nil when counts match.
func (s *Service) applyLine(ctx context.Context, uow port.UnitOfWork, check *inventory.Check, line inventory.CheckLine) (*Adjustment, error) {
	inv := uow.Inventory()

	item, err := inv.GetItemForUpdate(ctx, line.MedicationID)
	if errors.Is(err, port.ErrNotFound) {
		// Physical count found stock the system never recorded.
		item = &inventory.Item{MedicationID: line.MedicationID}
		if err := inv.CreateItem(ctx, item); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	delta := line.CountedQuantity - item.Quantity
	if delta == 0 {
		return nil, nil
	}

	lot := &inventory.Lot{
		ID:           uuid.New().String(),
		MedicationID: line.MedicationID,
		BatchNumber:  "ADJ-" + check.ID,
		Quantity:     delta,
		ReceivedAt:   time.Now().UTC(),
	}
	if err := inv.InsertLot(ctx, lot); err != nil {
		return nil, err
	}

	item.Quantity = line.CountedQuantity
	if err := inv.SaveItem(ctx, item); err != nil {
		return nil, err
	}

	adj := &Adjustment{
		MedicationID: line.MedicationID,
		Delta:        delta,
		NewQuantity:  line.CountedQuantity,
	}
	payload, err := json.Marshal(struct {
		Adjustment
		CheckID string `json:"check_id"`
		UserID  string `json:"user_id"`
	}{Adjustment: *adj, CheckID: check.ID, UserID: check.UserID})
	if err != nil {
		return nil, err
	}
	err = uow.Outbox().Write(ctx, &port.OutboxEvent{
		AggregateID:   line.MedicationID,
		AggregateType: "inventory_item",
		EventType:     port.EventTypeInventoryAdjusted,
		Topic:         port.TopicInventoryAdjusted,
		Key:           line.MedicationID,
		Payload:       payload,
	})
	if err != nil {
		return nil, err
	}
	return adj, nil
}

func (s *Service) invalidate(ctx context.Context, medicationIDs []string) {
	if s.cache == nil || len(medicationIDs) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, medicationIDs...); err != nil {
		s.logger.Warn("stock cache invalidation failed",
			zap.Strings("medication_ids", medicationIDs), zap.Error(err))
	}
}
