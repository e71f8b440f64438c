package services

import (
	"fmt"
	"slices"
	"sort"

	domain "github.com/hanko-field/order-engine/internal/domain"
)

// AdjustmentKind names an automatic correction made to a proposed line.
type AdjustmentKind string

const (
	AdjustmentDeleted         AdjustmentKind = "deleted"
	AdjustmentOutOfStock      AdjustmentKind = "outOfStock"
	AdjustmentQuantityReduced AdjustmentKind = "quantityReduced"
)

// ItemAdjustment reports how a proposed quantity was corrected. Old is the
// requested quantity and Corrected the quantity that was kept.
type ItemAdjustment struct {
	ProductID string         `json:"productId"`
	Kind      AdjustmentKind `json:"kind"`
	Old       int            `json:"old"`
	Corrected int            `json:"corrected"`
}

// ReconciliationOutcome classifies the result of an item edit.
type ReconciliationOutcome string

const (
	ReconciliationApplied    ReconciliationOutcome = "APPLIED"
	ReconciliationModified   ReconciliationOutcome = "MODIFIED"
	ReconciliationLimitation ReconciliationOutcome = "LIMITATION"
	ReconciliationInvalid    ReconciliationOutcome = "INVALID"
)

// ReconciliationResult is the pure output of ReconcileItemEdit. Items and
// Totals hold the adjusted proposal whether or not it was accepted.
type ReconciliationResult struct {
	Accepted    bool
	Outcome     ReconciliationOutcome
	Adjustments []ItemAdjustment
	Items       []domain.OrderItem
	Totals      domain.Totals
	Changes     []domain.FieldChange
	FieldErrors []FieldError
}

// Notice returns ErrStockAdjusted for edits applied with corrections.
func (r ReconciliationResult) Notice() error {
	if r.Outcome == ReconciliationModified {
		return ErrStockAdjusted
	}
	return nil
}

// ReconcileItemEdit fits proposed quantities to the stock snapshot and checks
// the resulting total against minimumAmount. Lines missing from proposed keep
// their quantity; a proposed quantity of zero removes the line.
func ReconcileItemEdit(order domain.Order, proposed map[string]int, stock domain.StockSnapshot, minimumAmount int64) (ReconciliationResult, error) {
	if !order.IsActive() {
		return ReconciliationResult{}, fmt.Errorf("%w: order %s is %s", ErrOrderFinalized, order.ID, order.Status())
	}

	if fieldErrs := validateProposal(order.Items, proposed); len(fieldErrs) > 0 {
		return ReconciliationResult{
			Outcome:     ReconciliationInvalid,
			Items:       slices.Clone(order.Items),
			Totals:      order.Totals,
			FieldErrors: fieldErrs,
		}, nil
	}

	var (
		items       = make([]domain.OrderItem, 0, len(order.Items))
		adjustments []ItemAdjustment
		changes     []domain.FieldChange
	)
	for _, line := range order.Items {
		requested, listed := proposed[line.ProductID]
		if !listed {
			items = append(items, line)
			continue
		}

		quantity := requested
		level, known := stock[line.ProductID]
		switch {
		case requested == 0:
		case !known || !level.Exists:
			quantity = 0
			adjustments = append(adjustments, ItemAdjustment{ProductID: line.ProductID, Kind: AdjustmentDeleted, Old: requested, Corrected: 0})
		case requested <= line.Quantity:
		case level.Available <= 0:
			quantity = line.Quantity
			adjustments = append(adjustments, ItemAdjustment{ProductID: line.ProductID, Kind: AdjustmentOutOfStock, Old: requested, Corrected: line.Quantity})
		case requested > line.Quantity+level.Available:
			quantity = line.Quantity + level.Available
			adjustments = append(adjustments, ItemAdjustment{ProductID: line.ProductID, Kind: AdjustmentQuantityReduced, Old: requested, Corrected: quantity})
		}

		if quantity != line.Quantity {
			changes = append(changes, domain.FieldChange{
				Field:  "items." + line.ProductID + ".quantity",
				Before: line.Quantity,
				After:  quantity,
			})
		}
		if quantity == 0 {
			continue
		}
		line.Quantity = quantity
		items = append(items, line)
	}

	if len(items) == 0 {
		return ReconciliationResult{
			Outcome:     ReconciliationInvalid,
			Adjustments: adjustments,
			Items:       items,
			FieldErrors: []FieldError{{Field: "items", Message: "at least one line must remain"}},
		}, nil
	}

	items, totals, err := domain.ComputeTotals(items)
	if err != nil {
		return ReconciliationResult{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if totals != order.Totals {
		changes = append(changes, domain.FieldChange{Field: domain.PathTotalsTotalAmount, Before: order.Totals.TotalAmount, After: totals.TotalAmount})
	}

	result := ReconciliationResult{
		Adjustments: adjustments,
		Items:       items,
		Totals:      totals,
		Changes:     changes,
	}
	switch {
	case totals.TotalAmount < minimumAmount:
		result.Outcome = ReconciliationLimitation
	case len(adjustments) > 0:
		result.Accepted = true
		result.Outcome = ReconciliationModified
	default:
		result.Accepted = true
		result.Outcome = ReconciliationApplied
	}
	return result, nil
}

func validateProposal(items []domain.OrderItem, proposed map[string]int) []FieldError {
	if len(proposed) == 0 {
		return []FieldError{{Field: "quantities", Message: "at least one quantity is required"}}
	}
	known := make(map[string]struct{}, len(items))
	for _, item := range items {
		known[item.ProductID] = struct{}{}
	}
	productIDs := make([]string, 0, len(proposed))
	for productID := range proposed {
		productIDs = append(productIDs, productID)
	}
	sort.Strings(productIDs)

	var errs []FieldError
	for _, productID := range productIDs {
		field := "quantities." + productID
		if _, ok := known[productID]; !ok {
			errs = append(errs, FieldError{Field: field, Message: "product is not on this order"})
			continue
		}
		if proposed[productID] < 0 {
			errs = append(errs, FieldError{Field: field, Message: "quantity must not be negative"})
		}
	}
	return errs
}
