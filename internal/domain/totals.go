package domain

import (
	"errors"
	"math"
)

// ErrAmountOverflow is returned when money arithmetic leaves the int64 range.
var ErrAmountOverflow = errors.New("domain: amount overflow")

// ComputeTotals recomputes each line total and the order totals from unit
// prices, per-unit discounts and quantities. Lines are returned as a new slice.
func ComputeTotals(items []OrderItem) ([]OrderItem, Totals, error) {
	out := make([]OrderItem, len(items))
	var totals Totals
	for i, item := range items {
		gross, err := MulAmount(item.UnitPrice, int64(item.Quantity))
		if err != nil {
			return nil, Totals{}, err
		}
		savings, err := MulAmount(item.AppliedDiscount, int64(item.Quantity))
		if err != nil {
			return nil, Totals{}, err
		}
		item.TotalPrice = gross - savings
		out[i] = item

		if totals.SubtotalAmount, err = AddAmount(totals.SubtotalAmount, gross); err != nil {
			return nil, Totals{}, err
		}
		if totals.TotalSavings, err = AddAmount(totals.TotalSavings, savings); err != nil {
			return nil, Totals{}, err
		}
	}
	totals.TotalAmount = totals.SubtotalAmount - totals.TotalSavings
	return out, totals, nil
}

// AddAmount adds two non-negative amounts, failing on overflow.
func AddAmount(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, ErrAmountOverflow
	}
	return a + b, nil
}

// MulAmount multiplies a non-negative amount by a non-negative factor.
func MulAmount(amount, factor int64) (int64, error) {
	if amount == 0 || factor == 0 {
		return 0, nil
	}
	if amount > math.MaxInt64/factor {
		return 0, ErrAmountOverflow
	}
	return amount * factor, nil
}
