package share

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/medassure/go-dispense/internal/domain/insured"
)

func TestPatientShare_EmployeeAlwaysZero(t *testing.T) {
	calc := NewCalculator(DefaultCoverageRate)

	for _, total := range []string{"0", "0.01", "100.00", "99999.99", "33.335"} {
		got := calc.PatientShare(insured.TypeEmployee, decimal.RequireFromString(total))
		if !got.IsZero() {
			t.Errorf("PatientShare(employee, %s) = %s, want 0", total, got)
		}
	}
}

func TestPatientShare_FamilyMember(t *testing.T) {
	calc := NewCalculator(DefaultCoverageRate)

	cases := []struct {
		total string
		want  string
	}{
		{"100.00", "25.00"},
		{"0", "0.00"},
		{"50.00", "12.50"},
		{"0.02", "0.01"}, // 0.005 rounds half-up
		{"33.33", "8.33"},
	}

	for _, tc := range cases {
		got := calc.PatientShare(insured.TypeFamilyMember, decimal.RequireFromString(tc.total))
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Errorf("PatientShare(family, %s) = %s, want %s", tc.total, got, tc.want)
		}
	}
}

func TestInsurerShare_ReconcilesWithTotal(t *testing.T) {
	calc := NewCalculator(DefaultCoverageRate)

	total := decimal.RequireFromString("100.00")
	patient := calc.PatientShare(insured.TypeFamilyMember, total)
	insurer := calc.InsurerShare(total, patient)

	if !insurer.Equal(decimal.RequireFromString("75.00")) {
		t.Errorf("InsurerShare = %s, want 75.00", insurer)
	}
	if !patient.Add(insurer).Equal(total) {
		t.Errorf("patient %s + insurer %s != total %s", patient, insurer, total)
	}
}

func TestPatientShare_RoundingAppliedOnceAtTotal(t *testing.T) {
	calc := NewCalculator(DefaultCoverageRate)

	// Three lines of 0.03 each: per-line rounding would give 0.01*3 = 0.03,
	// total-level rounding gives round(0.0225) = 0.02.
	total := decimal.RequireFromString("0.09")
	got := calc.PatientShare(insured.TypeFamilyMember, total)
	if !got.Equal(decimal.RequireFromString("0.02")) {
		t.Errorf("PatientShare(family, 0.09) = %s, want 0.02", got)
	}
}
