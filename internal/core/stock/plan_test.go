package stock

import (
	"testing"
	"time"

	"github.com/medassure/go-dispense/internal/domain/inventory"
)

func expiry(t *testing.T, s string) *time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("bad expiry %q: %v", s, err)
	}
	return &ts
}

func TestPlanDeduction_EarliestExpiryFirst(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lots := []inventory.Lot{
		{ID: "late", ExpiryDate: expiry(t, "2027-06-01"), Quantity: 10, ReceivedAt: base},
		{ID: "early", ExpiryDate: expiry(t, "2026-09-01"), Quantity: 4, ReceivedAt: base.Add(time.Hour)},
	}

	draws, err := planDeduction("med-1", lots, 6)
	if err != nil {
		t.Fatalf("planDeduction failed: %v", err)
	}
	if len(draws) != 2 {
		t.Fatalf("expected 2 draws, got %d", len(draws))
	}
	if draws[0].LotID != "early" || draws[0].Taken != 4 || draws[0].Remaining != 0 {
		t.Errorf("first draw = %+v, want early lot drained", draws[0])
	}
	if draws[1].LotID != "late" || draws[1].Taken != 2 || draws[1].Remaining != 8 {
		t.Errorf("second draw = %+v, want 2 from late lot", draws[1])
	}
}

func TestPlanDeduction_NoExpiryFallsBackToReceiptOrder(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lots := []inventory.Lot{
		{ID: "newer", Quantity: 5, ReceivedAt: base.Add(48 * time.Hour)},
		{ID: "older", Quantity: 5, ReceivedAt: base},
		{ID: "dated", ExpiryDate: expiry(t, "2026-12-01"), Quantity: 3, ReceivedAt: base.Add(72 * time.Hour)},
	}

	draws, err := planDeduction("med-1", lots, 9)
	if err != nil {
		t.Fatalf("planDeduction failed: %v", err)
	}
	// The dated lot expires and must go first; the undated lots follow by
	// receipt time.
	want := []string{"dated", "older", "newer"}
	for i, id := range want {
		if draws[i].LotID != id {
			t.Errorf("draw %d = %s, want %s", i, draws[i].LotID, id)
		}
	}
	if draws[2].Taken != 1 || draws[2].Remaining != 4 {
		t.Errorf("final draw = %+v, want 1 taken, 4 remaining", draws[2])
	}
}

func TestPlanDeduction_SkipsDrainedAndAdjustmentLots(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lots := []inventory.Lot{
		{ID: "drained", Quantity: 0, ReceivedAt: base},
		{ID: "adjustment", Quantity: -3, ReceivedAt: base.Add(time.Hour)},
		{ID: "live", Quantity: 7, ReceivedAt: base.Add(2 * time.Hour)},
	}

	draws, err := planDeduction("med-1", lots, 5)
	if err != nil {
		t.Fatalf("planDeduction failed: %v", err)
	}
	if len(draws) != 1 || draws[0].LotID != "live" {
		t.Fatalf("draws = %+v, want single draw from live lot", draws)
	}
}

func TestPlanDeduction_ShortfallReportsBrokenInvariant(t *testing.T) {
	lots := []inventory.Lot{
		{ID: "only", Quantity: 2, ReceivedAt: time.Now()},
	}
	if _, err := planDeduction("med-1", lots, 5); err == nil {
		t.Fatal("expected error when lot sum is below the requested quantity")
	}
}
