package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medassure/go-dispense/internal/core/reconcile"
	"github.com/medassure/go-dispense/internal/core/stock"
	"github.com/medassure/go-dispense/internal/domain/inventory"
	"github.com/medassure/go-dispense/internal/infrastructure/memory"
	"github.com/medassure/go-dispense/internal/port"
)

func TestReconcile_WritesAdjustmentToPhysicalCount(t *testing.T) {
	store := memory.NewStore()
	stockSvc := stock.NewService(store, nil, nil)
	svc := reconcile.NewService(store, nil, nil)
	ctx := context.Background()

	if _, err := stockSvc.AddStock(ctx, "med-1", 40, stock.LotInfo{BatchNumber: "B-1"}); err != nil {
		t.Fatal(err)
	}
	store.PutCheck(inventory.Check{
		ID:        "check-1",
		UserID:    "user-7",
		Lines:     []inventory.CheckLine{{MedicationID: "med-1", CountedQuantity: 37}},
		CreatedAt: time.Now().UTC(),
	})

	result, err := svc.Reconcile(ctx, "check-1", "user-7")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(result.Adjustments) != 1 {
		t.Fatalf("adjustments = %d, want 1", len(result.Adjustments))
	}
	adj := result.Adjustments[0]
	if adj.Delta != -3 || adj.NewQuantity != 37 {
		t.Errorf("adjustment = %+v, want delta -3, new quantity 37", adj)
	}

	view, err := stockSvc.GetStock(ctx, "med-1")
	if err != nil {
		t.Fatal(err)
	}
	if view.Quantity != 37 {
		t.Errorf("aggregate = %d, want 37", view.Quantity)
	}
	var lotSum int64
	for _, lot := range view.Lots {
		lotSum += lot.Quantity
	}
	if lotSum != 37 {
		t.Errorf("lot sum = %d, want 37", lotSum)
	}

	events := store.OutboxEvents()
	if len(events) != 1 || events[0].EventType != port.EventTypeInventoryAdjusted {
		t.Errorf("outbox events = %+v, want one inventory.adjusted", events)
	}
}

func TestReconcile_RerunFailsAndMutatesNothing(t *testing.T) {
	store := memory.NewStore()
	stockSvc := stock.NewService(store, nil, nil)
	svc := reconcile.NewService(store, nil, nil)
	ctx := context.Background()

	if _, err := stockSvc.AddStock(ctx, "med-1", 40, stock.LotInfo{}); err != nil {
		t.Fatal(err)
	}
	store.PutCheck(inventory.Check{
		ID:    "check-1",
		Lines: []inventory.CheckLine{{MedicationID: "med-1", CountedQuantity: 37}},
	})

	if _, err := svc.Reconcile(ctx, "check-1", "user-7"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Reconcile(ctx, "check-1", "user-7"); !errors.Is(err, reconcile.ErrAlreadyReconciled) {
		t.Fatalf("second run = %v, want ErrAlreadyReconciled", err)
	}

	view, err := stockSvc.GetStock(ctx, "med-1")
	if err != nil {
		t.Fatal(err)
	}
	if view.Quantity != 37 {
		t.Errorf("aggregate after rerun = %d, want 37", view.Quantity)
	}
	if events := store.OutboxEvents(); len(events) != 1 {
		t.Errorf("outbox events after rerun = %d, want 1", len(events))
	}
}

func TestReconcile_MatchingCountWritesNoAdjustment(t *testing.T) {
	store := memory.NewStore()
	stockSvc := stock.NewService(store, nil, nil)
	svc := reconcile.NewService(store, nil, nil)
	ctx := context.Background()

	if _, err := stockSvc.AddStock(ctx, "med-1", 12, stock.LotInfo{}); err != nil {
		t.Fatal(err)
	}
	store.PutCheck(inventory.Check{
		ID:    "check-1",
		Lines: []inventory.CheckLine{{MedicationID: "med-1", CountedQuantity: 12}},
	})

	result, err := svc.Reconcile(ctx, "check-1", "user-7")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Adjustments) != 0 {
		t.Errorf("adjustments = %+v, want none", result.Adjustments)
	}
}

func TestReconcile_CountForUnknownMedicationCreatesItem(t *testing.T) {
	store := memory.NewStore()
	stockSvc := stock.NewService(store, nil, nil)
	svc := reconcile.NewService(store, nil, nil)
	ctx := context.Background()

	store.PutCheck(inventory.Check{
		ID:    "check-1",
		Lines: []inventory.CheckLine{{MedicationID: "med-new", CountedQuantity: 5}},
	})

	result, err := svc.Reconcile(ctx, "check-1", "user-7")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Adjustments) != 1 || result.Adjustments[0].Delta != 5 {
		t.Fatalf("adjustments = %+v, want +5 for med-new", result.Adjustments)
	}

	view, err := stockSvc.GetStock(ctx, "med-new")
	if err != nil {
		t.Fatal(err)
	}
	if view.Quantity != 5 {
		t.Errorf("aggregate = %d, want 5", view.Quantity)
	}
}

func TestReconcile_UnknownCheck(t *testing.T) {
	svc := reconcile.NewService(memory.NewStore(), nil, nil)

	if _, err := svc.Reconcile(context.Background(), "missing", "user-7"); !errors.Is(err, port.ErrNotFound) {
		t.Errorf("Reconcile = %v, want ErrNotFound", err)
	}
}
