// Package share computes the patient's out-of-pocket portion of a sale.
package share

import (
	"github.com/shopspring/decimal"

	"github.com/medassure/go-dispense/internal/domain/insured"
)

// DefaultCoverageRate is the insurer-covered fraction for family members
// under the current policy: family members pay 25% of the charge.
var DefaultCoverageRate = decimal.NewFromFloat(0.75)

// Calculator is a pure patient-share calculator. The zero value is not
// usable; construct with NewCalculator.
type Calculator struct {
	coverageRate decimal.Decimal
}

// NewCalculator creates a calculator with the given family-member coverage
// rate in [0, 1]
func NewCalculator(coverageRate decimal.Decimal) Calculator {
	return Calculator{coverageRate: coverageRate}
}

// PatientShare returns the amount owed by the patient for a total charge.
// Employees are fully covered. For family members the share is computed once
// at the total level at full precision, then rounded half-up to the smallest
// currency unit; line subtotals must be summed before calling this so rounding
// is applied exactly once.
func (c Calculator) PatientShare(personType insured.PersonType, total decimal.Decimal) decimal.Decimal {
	if personType == insured.TypeEmployee {
		return decimal.Zero.Round(2)
	}
	patientRate := decimal.NewFromInt(1).Sub(c.coverageRate)
	// Round is half away from zero, which equals half-up for the
	// non-negative amounts handled here.
	return total.Mul(patientRate).Round(2)
}

// InsurerShare returns the remainder owed by the insurer
func (c Calculator) InsurerShare(total, patientShare decimal.Decimal) decimal.Decimal {
	return total.Sub(patientShare)
}
