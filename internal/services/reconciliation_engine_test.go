package services

import (
	"errors"
	"testing"

	domain "github.com/hanko-field/order-engine/internal/domain"
)

func twoLineOrder() domain.Order {
	return testOrderWith(
		domain.OrderItem{ProductID: "p1", Name: "Tea", Quantity: 5, UnitPrice: 200},
		domain.OrderItem{ProductID: "p2", Name: "Cup", Quantity: 1, UnitPrice: 300},
	)
}

func TestReconcileReducesQuantityToAvailable(t *testing.T) {
	order := twoLineOrder()
	stock := domain.StockSnapshot{
		"p1": {Exists: true, Available: 10},
		"p2": {Exists: true, Available: 2},
	}

	result, err := ReconcileItemEdit(order, map[string]int{"p2": 5}, stock, 500)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !result.Accepted || result.Outcome != ReconciliationModified {
		t.Fatalf("expected accepted MODIFIED, got %+v", result)
	}
	if len(result.Adjustments) != 1 {
		t.Fatalf("expected one adjustment, got %+v", result.Adjustments)
	}
	want := ItemAdjustment{ProductID: "p2", Kind: AdjustmentQuantityReduced, Old: 5, Corrected: 3}
	if result.Adjustments[0] != want {
		t.Fatalf("expected %+v, got %+v", want, result.Adjustments[0])
	}
	if result.Items[1].Quantity != 3 || result.Totals.TotalAmount != 1900 {
		t.Fatalf("expected qty 3 and total 1900, got %d and %d", result.Items[1].Quantity, result.Totals.TotalAmount)
	}
	if !errors.Is(result.Notice(), ErrStockAdjusted) {
		t.Fatalf("expected stock adjusted notice")
	}
}

func TestReconcileAdjustmentKinds(t *testing.T) {
	order := twoLineOrder()

	cases := []struct {
		name     string
		proposed map[string]int
		stock    domain.StockSnapshot
		want     []ItemAdjustment
		outcome  ReconciliationOutcome
		lines    int
	}{
		{
			name:     "within stock",
			proposed: map[string]int{"p2": 2},
			stock:    domain.StockSnapshot{"p2": {Exists: true, Available: 4}},
			outcome:  ReconciliationApplied,
			lines:    2,
		},
		{
			name:     "decrease ignores stock",
			proposed: map[string]int{"p1": 3},
			stock:    domain.StockSnapshot{"p1": {Exists: true, Available: 0}},
			outcome:  ReconciliationApplied,
			lines:    2,
		},
		{
			name:     "out of stock keeps current quantity",
			proposed: map[string]int{"p2": 4},
			stock:    domain.StockSnapshot{"p2": {Exists: true, Available: 0}},
			want:     []ItemAdjustment{{ProductID: "p2", Kind: AdjustmentOutOfStock, Old: 4, Corrected: 1}},
			outcome:  ReconciliationModified,
			lines:    2,
		},
		{
			name:     "deleted product is removed",
			proposed: map[string]int{"p2": 1},
			stock:    domain.StockSnapshot{},
			want:     []ItemAdjustment{{ProductID: "p2", Kind: AdjustmentDeleted, Old: 1, Corrected: 0}},
			outcome:  ReconciliationModified,
			lines:    1,
		},
		{
			name:     "zero removes line",
			proposed: map[string]int{"p2": 0},
			stock:    domain.StockSnapshot{},
			outcome:  ReconciliationApplied,
			lines:    1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := ReconcileItemEdit(order, tc.proposed, tc.stock, 500)
			if err != nil {
				t.Fatalf("reconcile: %v", err)
			}
			if result.Outcome != tc.outcome {
				t.Fatalf("expected %s, got %s", tc.outcome, result.Outcome)
			}
			if len(result.Adjustments) != len(tc.want) {
				t.Fatalf("expected %d adjustments, got %+v", len(tc.want), result.Adjustments)
			}
			for i := range tc.want {
				if result.Adjustments[i] != tc.want[i] {
					t.Fatalf("adjustment %d: expected %+v, got %+v", i, tc.want[i], result.Adjustments[i])
				}
			}
			if len(result.Items) != tc.lines {
				t.Fatalf("expected %d lines, got %d", tc.lines, len(result.Items))
			}
		})
	}
}

func TestReconcileBelowMinimumIsLimitation(t *testing.T) {
	order := thousandYenOrder()

	result, err := ReconcileItemEdit(order, map[string]int{"p1": 2}, domain.StockSnapshot{"p1": {Exists: true, Available: 5}}, 500)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Accepted || result.Outcome != ReconciliationLimitation {
		t.Fatalf("expected rejected LIMITATION, got %+v", result)
	}
	if result.Totals.TotalAmount != 400 {
		t.Fatalf("expected proposed total 400, got %d", result.Totals.TotalAmount)
	}
	if order.Totals.TotalAmount != 1000 {
		t.Fatalf("order totals must be untouched")
	}
}

func TestReconcileInvalidProposal(t *testing.T) {
	order := twoLineOrder()

	result, err := ReconcileItemEdit(order, map[string]int{"p9": 1, "p1": -1}, domain.StockSnapshot{}, 0)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Outcome != ReconciliationInvalid || len(result.FieldErrors) != 2 {
		t.Fatalf("expected INVALID with two field errors, got %+v", result)
	}
	if result.FieldErrors[0].Field != "quantities.p1" || result.FieldErrors[1].Field != "quantities.p9" {
		t.Fatalf("unexpected field errors %+v", result.FieldErrors)
	}

	empty, err := ReconcileItemEdit(order, map[string]int{"p1": 0, "p2": 0}, domain.StockSnapshot{}, 0)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if empty.Outcome != ReconciliationInvalid || empty.Accepted {
		t.Fatalf("removing every line must be invalid, got %+v", empty)
	}
}

func TestReconcileFinalOrder(t *testing.T) {
	order := thousandYenOrder()
	order, _, err := TransitionStatus(order, domain.OrderStatusCancelled, "staff_1", TransitionOptions{EntryID: "sth_1", At: testNow, CancellationReason: "duplicate"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := ReconcileItemEdit(order, map[string]int{"p1": 1}, domain.StockSnapshot{}, 0); !errors.Is(err, ErrOrderFinalized) {
		t.Fatalf("expected ErrOrderFinalized, got %v", err)
	}
}
