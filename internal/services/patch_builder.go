package services

import (
	"reflect"
	"slices"
	"time"

	domain "github.com/hanko-field/order-engine/internal/domain"
)

// BuildPatch diffs two versions of an order over the tracked paths and picks
// up the log entries appended or voided in between. A mutation appends at
// most one entry per log.
func BuildPatch(before, after domain.Order, committedAt time.Time) domain.Patch {
	patch := domain.Patch{
		OrderID:     after.ID,
		Version:     after.Version,
		CommittedAt: committedAt.UTC(),
	}
	add := func(path string, changed bool, value any) {
		if changed {
			patch.FieldPatches = append(patch.FieldPatches, domain.FieldPatch{Path: path, Value: value})
		}
	}

	add(domain.PathStatus, before.Status() != after.Status(), after.Status())
	add(domain.PathItems, !slices.Equal(before.Items, after.Items), cloneItems(after.Items))
	add(domain.PathTotalsSubtotalAmount, before.Totals.SubtotalAmount != after.Totals.SubtotalAmount, after.Totals.SubtotalAmount)
	add(domain.PathTotalsTotalSavings, before.Totals.TotalSavings != after.Totals.TotalSavings, after.Totals.TotalSavings)
	add(domain.PathTotalsTotalAmount, before.Totals.TotalAmount != after.Totals.TotalAmount, after.Totals.TotalAmount)
	add(domain.PathCustomer, before.Customer != after.Customer, after.Customer)
	add(domain.PathDelivery, !reflect.DeepEqual(before.Delivery, after.Delivery), after.Delivery)

	bf, af := before.Financials, after.Financials
	add(domain.PathFinancialState, bf.State != af.State, af.State)
	add(domain.PathFinancialTotalPaid, bf.TotalPaid != af.TotalPaid, af.TotalPaid)
	add(domain.PathFinancialTotalRefunded, bf.TotalRefunded != af.TotalRefunded, af.TotalRefunded)
	add(domain.PathFinancialDefaultMethod, bf.DefaultPaymentMethod != af.DefaultPaymentMethod, af.DefaultPaymentMethod)
	add(domain.PathFinancialOnlineTx, !reflect.DeepEqual(bf.CurrentOnlineTransaction, af.CurrentOnlineTransaction), af.CurrentOnlineTransaction)

	add(domain.PathVersion, before.Version != after.Version, after.Version)
	add(domain.PathUpdatedAt, !before.UpdatedAt.Equal(after.UpdatedAt), after.UpdatedAt)

	if entries := after.StatusHistory.Since(before.StatusHistory.Len()); len(entries) > 0 {
		entry := entries[len(entries)-1]
		patch.AppendedStatusEntry = &entry
	}
	if entries := af.EventHistory.Since(bf.EventHistory.Len()); len(entries) > 0 {
		entry := entries[len(entries)-1]
		patch.AppendedEventEntry = &entry
	}
	if entries := after.AuditLog.Since(before.AuditLog.Len()); len(entries) > 0 {
		entry := entries[len(entries)-1]
		patch.AppendedAuditEntry = &entry
	}
	for i := 0; i < bf.EventHistory.Len() && i < af.EventHistory.Len(); i++ {
		prev, next := bf.EventHistory.At(i), af.EventHistory.At(i)
		if !prev.IsVoided() && next.IsVoided() {
			voided := next
			patch.VoidedEventEntry = &voided
		}
	}
	return patch
}

func cloneItems(items []domain.OrderItem) []domain.OrderItem {
	if items == nil {
		return nil
	}
	return slices.Clone(items)
}
