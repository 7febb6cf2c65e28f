// Package fine computes the overdue penalty for a returned loan.
package fine

import (
	"time"

	"github.com/Astemirdum/lending-service/lending/internal/errs"
	"github.com/shopspring/decimal"
)

// Calculate returns the fine owed when a loan due at due is settled at now,
// charging perDay for every started day past the due date. The result is
// rounded to the currency's minor unit. Returning on or before the due date
// costs nothing.
func Calculate(due, now time.Time, perDay decimal.Decimal) (decimal.Decimal, error) {
	if due.IsZero() || now.IsZero() {
		return decimal.Zero, errs.ErrInvalidInput
	}
	if perDay.IsNegative() {
		return decimal.Zero, errs.ErrInvalidInput
	}
	if !now.After(due) {
		return decimal.Zero, nil
	}
	const day = 24 * time.Hour
	late := now.Sub(due)
	daysLate := int64(late / day)
	if late%day != 0 {
		daysLate++
	}
	return perDay.Mul(decimal.NewFromInt(daysLate)).Round(2), nil
}
