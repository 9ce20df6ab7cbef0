package fulfillment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medassure/go-dispense/internal/core/fulfillment"
	"github.com/medassure/go-dispense/internal/core/share"
	"github.com/medassure/go-dispense/internal/core/stock"
	"github.com/medassure/go-dispense/internal/domain/insured"
	"github.com/medassure/go-dispense/internal/domain/prescription"
	"github.com/medassure/go-dispense/internal/infrastructure/memory"
	"github.com/medassure/go-dispense/internal/port"
)

// staticCatalog is a fixed-price catalog fake
type staticCatalog struct {
	prices map[string]string
}

func (c *staticCatalog) UnitPrices(_ context.Context, ids []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(ids))
	for _, id := range ids {
		p, ok := c.prices[id]
		if !ok {
			return nil, port.ErrNotFound
		}
		out[id] = decimal.RequireFromString(p)
	}
	return out, nil
}

type fixture struct {
	store    *memory.Store
	stockSvc *stock.Service
	svc      *fulfillment.Service
}

func newFixture(t *testing.T, prices map[string]string) *fixture {
	t.Helper()
	store := memory.NewStore()
	stockSvc := stock.NewService(store, nil, nil)
	calc := share.NewCalculator(share.DefaultCoverageRate)
	svc := fulfillment.NewService(store, &staticCatalog{prices: prices}, stockSvc, nil, calc, nil)
	return &fixture{store: store, stockSvc: stockSvc, svc: svc}
}

func (f *fixture) seedPerson(id string, personType insured.PersonType, status insured.Status) {
	f.store.PutPerson(insured.Person{
		ID:     id,
		Name:   "Test Person",
		Status: status,
		Type:   personType,
	})
}

func (f *fixture) seedPrescription(id, personID string, lines ...prescription.Line) {
	f.store.PutPrescription(prescription.Prescription{
		ID:              id,
		InsuredPersonID: personID,
		Lines:           lines,
		CreatedAt:       time.Now().UTC(),
	})
}

func (f *fixture) stockOf(t *testing.T, medicationID string) int64 {
	t.Helper()
	view, err := f.stockSvc.GetStock(context.Background(), medicationID)
	if err != nil {
		t.Fatalf("GetStock(%s): %v", medicationID, err)
	}
	return view.Quantity
}

func TestFulfill_FamilyMemberEndToEnd(t *testing.T) {
	f := newFixture(t, map[string]string{"med-1": "50.00"})
	ctx := context.Background()

	f.seedPerson("person-1", insured.TypeFamilyMember, insured.StatusActive)
	f.seedPrescription("rx-1", "person-1", prescription.Line{MedicationID: "med-1", Quantity: 2})
	if _, err := f.stockSvc.AddStock(ctx, "med-1", 10, stock.LotInfo{}); err != nil {
		t.Fatal(err)
	}

	result, err := f.svc.Fulfill(ctx, "rx-1", "user-1")
	if err != nil {
		t.Fatalf("Fulfill failed: %v", err)
	}

	if !result.Total.Equal(decimal.RequireFromString("100.00")) {
		t.Errorf("total = %s, want 100.00", result.Total)
	}
	if !result.PatientShare.Equal(decimal.RequireFromString("25.00")) {
		t.Errorf("patient share = %s, want 25.00", result.PatientShare)
	}
	if !result.InsurerShare.Equal(decimal.RequireFromString("75.00")) {
		t.Errorf("insurer share = %s, want 75.00", result.InsurerShare)
	}
	if got := f.stockOf(t, "med-1"); got != 8 {
		t.Errorf("stock after fulfillment = %d, want 8", got)
	}

	loaded, err := f.svc.GetSale(ctx, result.SaleID)
	if err != nil {
		t.Fatalf("GetSale failed: %v", err)
	}
	lineSum := decimal.Zero
	for _, d := range loaded.Details {
		lineSum = lineSum.Add(d.Subtotal)
	}
	if !lineSum.Equal(loaded.Total) {
		t.Errorf("line subtotals %s != sale total %s", lineSum, loaded.Total)
	}

	events := f.store.OutboxEvents()
	if len(events) != 1 || events[0].EventType != port.EventTypeSaleCompleted {
		t.Errorf("outbox = %+v, want one sale.completed event", events)
	}
}

func TestFulfill_EmployeePaysNothing(t *testing.T) {
	f := newFixture(t, map[string]string{"med-1": "50.00"})
	ctx := context.Background()

	f.seedPerson("person-1", insured.TypeEmployee, insured.StatusActive)
	f.seedPrescription("rx-1", "person-1", prescription.Line{MedicationID: "med-1", Quantity: 2})
	if _, err := f.stockSvc.AddStock(ctx, "med-1", 10, stock.LotInfo{}); err != nil {
		t.Fatal(err)
	}

	result, err := f.svc.Fulfill(ctx, "rx-1", "user-1")
	if err != nil {
		t.Fatalf("Fulfill failed: %v", err)
	}
	if !result.PatientShare.IsZero() {
		t.Errorf("patient share = %s, want 0", result.PatientShare)
	}
	if !result.InsurerShare.Equal(result.Total) {
		t.Errorf("insurer share %s != total %s", result.InsurerShare, result.Total)
	}
}

func TestFulfill_InactivePersonLeavesStockUntouched(t *testing.T) {
	f := newFixture(t, map[string]string{"med-1": "50.00"})
	ctx := context.Background()

	f.seedPerson("person-1", insured.TypeFamilyMember, insured.StatusInactive)
	f.seedPrescription("rx-1", "person-1", prescription.Line{MedicationID: "med-1", Quantity: 2})
	if _, err := f.stockSvc.AddStock(ctx, "med-1", 10, stock.LotInfo{}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Fulfill(ctx, "rx-1", "user-1"); !errors.Is(err, fulfillment.ErrInactivePerson) {
		t.Fatalf("Fulfill = %v, want ErrInactivePerson", err)
	}
	if got := f.stockOf(t, "med-1"); got != 10 {
		t.Errorf("stock = %d, want 10 (no deduction attempted)", got)
	}
}

func TestFulfill_SubCentPriceRejected(t *testing.T) {
	f := newFixture(t, map[string]string{"med-1": "0.125"})
	ctx := context.Background()

	f.seedPerson("person-1", insured.TypeFamilyMember, insured.StatusActive)
	f.seedPrescription("rx-1", "person-1", prescription.Line{MedicationID: "med-1", Quantity: 1})
	if _, err := f.stockSvc.AddStock(ctx, "med-1", 10, stock.LotInfo{}); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Fulfill(ctx, "rx-1", "user-1")
	if !errors.Is(err, fulfillment.ErrInvalidArgument) {
		t.Fatalf("Fulfill = %v, want ErrInvalidArgument", err)
	}
	if got := f.stockOf(t, "med-1"); got != 10 {
		t.Errorf("stock = %d, want 10 (no deduction attempted)", got)
	}
}

func TestFulfill_TotalEqualsLineSubtotalSum(t *testing.T) {
	f := newFixture(t, map[string]string{"med-1": "0.13", "med-2": "19.99"})
	ctx := context.Background()

	f.seedPerson("person-1", insured.TypeFamilyMember, insured.StatusActive)
	f.seedPrescription("rx-1", "person-1",
		prescription.Line{MedicationID: "med-1", Quantity: 3},
		prescription.Line{MedicationID: "med-2", Quantity: 7},
	)
	for _, id := range []string{"med-1", "med-2"} {
		if _, err := f.stockSvc.AddStock(ctx, id, 10, stock.LotInfo{}); err != nil {
			t.Fatal(err)
		}
	}

	result, err := f.svc.Fulfill(ctx, "rx-1", "user-1")
	if err != nil {
		t.Fatalf("Fulfill failed: %v", err)
	}

	lineSum := decimal.Zero
	for _, d := range result.Details {
		lineSum = lineSum.Add(d.Subtotal)
	}
	if !lineSum.Equal(result.Total) {
		t.Errorf("line subtotals %s != sale total %s", lineSum, result.Total)
	}
	if want := decimal.RequireFromString("140.32"); !result.Total.Equal(want) {
		t.Errorf("total = %s, want %s", result.Total, want)
	}
	if !result.PatientShare.Add(result.InsurerShare).Equal(result.Total) {
		t.Errorf("shares %s + %s != total %s", result.PatientShare, result.InsurerShare, result.Total)
	}
}

func TestFulfill_InsufficientLineRollsBackAllLines(t *testing.T) {
	f := newFixture(t, map[string]string{"med-1": "10.00", "med-2": "20.00"})
	ctx := context.Background()

	f.seedPerson("person-1", insured.TypeEmployee, insured.StatusActive)
	f.seedPrescription("rx-1", "person-1",
		prescription.Line{MedicationID: "med-1", Quantity: 5},
		prescription.Line{MedicationID: "med-2", Quantity: 5},
	)
	if _, err := f.stockSvc.AddStock(ctx, "med-1", 10, stock.LotInfo{}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.stockSvc.AddStock(ctx, "med-2", 3, stock.LotInfo{}); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Fulfill(ctx, "rx-1", "user-1")
	var short *stock.InsufficientStockError
	if !errors.As(err, &short) {
		t.Fatalf("Fulfill = %v, want InsufficientStockError", err)
	}
	if short.MedicationID != "med-2" {
		t.Errorf("short medication = %s, want med-2", short.MedicationID)
	}

	// The first line's deduction must not survive the rollback.
	if got := f.stockOf(t, "med-1"); got != 10 {
		t.Errorf("med-1 stock = %d, want 10", got)
	}
	if got := f.stockOf(t, "med-2"); got != 3 {
		t.Errorf("med-2 stock = %d, want 3", got)
	}
	if events := f.store.OutboxEvents(); len(events) != 0 {
		t.Errorf("outbox = %+v, want no events after rollback", events)
	}
}

func TestFulfill_AlreadyFulfilledIsIdempotent(t *testing.T) {
	f := newFixture(t, map[string]string{"med-1": "50.00"})
	ctx := context.Background()

	f.seedPerson("person-1", insured.TypeFamilyMember, insured.StatusActive)
	f.seedPrescription("rx-1", "person-1", prescription.Line{MedicationID: "med-1", Quantity: 2})
	if _, err := f.stockSvc.AddStock(ctx, "med-1", 10, stock.LotInfo{}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Fulfill(ctx, "rx-1", "user-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Fulfill(ctx, "rx-1", "user-2"); !errors.Is(err, fulfillment.ErrAlreadyFulfilled) {
		t.Fatalf("second Fulfill = %v, want ErrAlreadyFulfilled", err)
	}

	if got := f.stockOf(t, "med-1"); got != 8 {
		t.Errorf("stock after duplicate attempt = %d, want 8 (no extra deduction)", got)
	}
	if events := f.store.OutboxEvents(); len(events) != 1 {
		t.Errorf("outbox events = %d, want 1 (no duplicate sale)", len(events))
	}
}

func TestFulfill_MissingPrescriptionOrPerson(t *testing.T) {
	f := newFixture(t, map[string]string{"med-1": "50.00"})
	ctx := context.Background()

	if _, err := f.svc.Fulfill(ctx, "rx-missing", "user-1"); !errors.Is(err, port.ErrNotFound) {
		t.Errorf("missing prescription: got %v, want ErrNotFound", err)
	}

	f.seedPrescription("rx-1", "person-missing", prescription.Line{MedicationID: "med-1", Quantity: 1})
	if _, err := f.svc.Fulfill(ctx, "rx-1", "user-1"); !errors.Is(err, port.ErrNotFound) {
		t.Errorf("missing person: got %v, want ErrNotFound", err)
	}
}

func TestFulfill_EmptyArguments(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.svc.Fulfill(context.Background(), "", "user-1"); !errors.Is(err, fulfillment.ErrInvalidArgument) {
		t.Errorf("empty prescription id: got %v, want ErrInvalidArgument", err)
	}
	if _, err := f.svc.Fulfill(context.Background(), "rx-1", ""); !errors.Is(err, fulfillment.ErrInvalidArgument) {
		t.Errorf("empty user id: got %v, want ErrInvalidArgument", err)
	}
}

func TestFulfill_ConcurrentSamePrescriptionProducesOneSale(t *testing.T) {
	f := newFixture(t, map[string]string{"med-1": "50.00"})
	ctx := context.Background()

	f.seedPerson("person-1", insured.TypeFamilyMember, insured.StatusActive)
	f.seedPrescription("rx-1", "person-1", prescription.Line{MedicationID: "med-1", Quantity: 2})
	if _, err := f.stockSvc.AddStock(ctx, "med-1", 10, stock.LotInfo{}); err != nil {
		t.Fatal(err)
	}

	const callers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var committed, duplicate int

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Fulfill(ctx, "rx-1", "user-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				committed++
			case errors.Is(err, fulfillment.ErrAlreadyFulfilled):
				duplicate++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if committed != 1 {
		t.Errorf("committed = %d, want exactly 1", committed)
	}
	if duplicate != callers-1 {
		t.Errorf("duplicates = %d, want %d", duplicate, callers-1)
	}
	if got := f.stockOf(t, "med-1"); got != 8 {
		t.Errorf("stock = %d, want 8 (deducted once)", got)
	}
}
