package stock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/medassure/go-dispense/internal/core/stock"
	"github.com/medassure/go-dispense/internal/domain/medication"
	"github.com/medassure/go-dispense/internal/infrastructure/memory"
	"github.com/medassure/go-dispense/internal/port"
)

func TestAddStock_CreatesItemAndLot(t *testing.T) {
	store := memory.NewStore()
	svc := stock.NewService(store, nil, nil)

	view, err := svc.AddStock(context.Background(), "med-1", 10, stock.LotInfo{BatchNumber: "B-001"})
	if err != nil {
		t.Fatalf("AddStock failed: %v", err)
	}
	if view.Quantity != 10 {
		t.Errorf("quantity = %d, want 10", view.Quantity)
	}
	if len(view.Lots) != 1 || view.Lots[0].BatchNumber != "B-001" {
		t.Errorf("lots = %+v, want single lot B-001", view.Lots)
	}
}

func TestAddStock_RejectsNonPositiveQuantity(t *testing.T) {
	svc := stock.NewService(memory.NewStore(), nil, nil)

	for _, qty := range []int64{0, -5} {
		if _, err := svc.AddStock(context.Background(), "med-1", qty, stock.LotInfo{}); !errors.Is(err, stock.ErrInvalidQuantity) {
			t.Errorf("AddStock(qty=%d) = %v, want ErrInvalidQuantity", qty, err)
		}
	}
}

func TestGetStock_UnknownMedication(t *testing.T) {
	svc := stock.NewService(memory.NewStore(), nil, nil)

	if _, err := svc.GetStock(context.Background(), "missing"); !errors.Is(err, port.ErrNotFound) {
		t.Errorf("GetStock = %v, want ErrNotFound", err)
	}
}

func TestGetMedication(t *testing.T) {
	store := memory.NewStore()
	store.PutMedication(medication.Medication{
		ID:   "med-1",
		Name: "Amoxicillin 500mg",
		Form: "capsule",
	})
	svc := stock.NewService(store, nil, nil)

	med, err := svc.GetMedication(context.Background(), "med-1")
	if err != nil {
		t.Fatalf("GetMedication failed: %v", err)
	}
	if med.Name != "Amoxicillin 500mg" || med.Form != "capsule" {
		t.Errorf("medication = %+v, want Amoxicillin 500mg capsule", med)
	}

	if _, err := svc.GetMedication(context.Background(), "missing"); !errors.Is(err, port.ErrNotFound) {
		t.Errorf("GetMedication(missing) = %v, want ErrNotFound", err)
	}
}

func TestDeduct_MaintainsLotSumInvariant(t *testing.T) {
	store := memory.NewStore()
	svc := stock.NewService(store, nil, nil)
	ctx := context.Background()

	exp := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	if _, err := svc.AddStock(ctx, "med-1", 4, stock.LotInfo{BatchNumber: "B-1", ExpiryDate: &exp}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddStock(ctx, "med-1", 6, stock.LotInfo{BatchNumber: "B-2"}); err != nil {
		t.Fatal(err)
	}

	err := store.Execute(ctx, func(uow port.UnitOfWork) error {
		return svc.Deduct(ctx, uow, "med-1", 5)
	})
	if err != nil {
		t.Fatalf("Deduct failed: %v", err)
	}

	view, err := svc.GetStock(ctx, "med-1")
	if err != nil {
		t.Fatal(err)
	}
	if view.Quantity != 5 {
		t.Errorf("aggregate = %d, want 5", view.Quantity)
	}
	var lotSum int64
	for _, lot := range view.Lots {
		lotSum += lot.Quantity
	}
	if lotSum != view.Quantity {
		t.Errorf("lot sum %d != aggregate %d", lotSum, view.Quantity)
	}
	// The expiring lot must be fully drained before the undated one.
	for _, lot := range view.Lots {
		if lot.BatchNumber == "B-1" && lot.Quantity != 0 {
			t.Errorf("expiring lot B-1 has %d left, want 0", lot.Quantity)
		}
		if lot.BatchNumber == "B-2" && lot.Quantity != 5 {
			t.Errorf("lot B-2 has %d left, want 5", lot.Quantity)
		}
	}
}

func TestDeduct_InsufficientStock(t *testing.T) {
	store := memory.NewStore()
	svc := stock.NewService(store, nil, nil)
	ctx := context.Background()

	if _, err := svc.AddStock(ctx, "med-1", 3, stock.LotInfo{}); err != nil {
		t.Fatal(err)
	}

	err := store.Execute(ctx, func(uow port.UnitOfWork) error {
		return svc.Deduct(ctx, uow, "med-1", 4)
	})

	var short *stock.InsufficientStockError
	if !errors.As(err, &short) {
		t.Fatalf("Deduct = %v, want InsufficientStockError", err)
	}
	if short.MedicationID != "med-1" || short.Requested != 4 || short.Available != 3 {
		t.Errorf("error detail = %+v", short)
	}
	if !errors.Is(err, stock.ErrInsufficientStock) {
		t.Error("InsufficientStockError should match ErrInsufficientStock")
	}

	// The failed transaction must not have touched the aggregate.
	view, err := svc.GetStock(ctx, "med-1")
	if err != nil {
		t.Fatal(err)
	}
	if view.Quantity != 3 {
		t.Errorf("aggregate after failed deduct = %d, want 3", view.Quantity)
	}
}

// TestDeduct_ConcurrentNeverOversells drives N concurrent deductions against
// limited stock and verifies the successful ones never exceed it.
func TestDeduct_ConcurrentNeverOversells(t *testing.T) {
	store := memory.NewStore()
	svc := stock.NewService(store, nil, nil)
	ctx := context.Background()

	const initial = 25
	if _, err := svc.AddStock(ctx, "med-1", initial, stock.LotInfo{}); err != nil {
		t.Fatal(err)
	}

	const writers = 40
	const perWriter = 2

	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded, short int

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Execute(ctx, func(uow port.UnitOfWork) error {
				return svc.Deduct(ctx, uow, "med-1", perWriter)
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, stock.ErrInsufficientStock):
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	deducted := int64(succeeded * perWriter)
	if deducted > initial {
		t.Fatalf("oversold: %d deducted from stock of %d", deducted, initial)
	}
	if succeeded+short != writers {
		t.Errorf("accounted %d outcomes, want %d", succeeded+short, writers)
	}

	view, err := svc.GetStock(ctx, "med-1")
	if err != nil {
		t.Fatal(err)
	}
	if view.Quantity != initial-deducted {
		t.Errorf("final stock = %d, want %d", view.Quantity, initial-deducted)
	}
	if view.Quantity < 0 {
		t.Error("stock went negative")
	}
}
