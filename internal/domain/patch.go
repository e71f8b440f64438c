package domain

import "time"

// Paths addressed by field patches. They follow the JSON shape of Order.
const (
	PathStatus                 = "status"
	PathItems                  = "items"
	PathTotals                 = "totals"
	PathCustomer               = "customer"
	PathDelivery               = "delivery"
	PathFinancialState         = "financials.state"
	PathFinancialTotalPaid     = "financials.totalPaid"
	PathFinancialTotalRefunded = "financials.totalRefunded"
	PathFinancialDefaultMethod = "financials.defaultPaymentMethod"
	PathFinancialOnlineTx      = "financials.currentOnlineTransaction"
	PathFinancialOnlineTxIDs   = "financials.onlineTransactionIds"
	PathVersion                = "version"
	PathUpdatedAt              = "updatedAt"
	PathStatusHistory          = "statusHistory"
	PathEventHistory           = "financials.eventHistory"
	PathAuditLog               = "auditLog"
	PathTotalsSubtotalAmount   = "totals.subtotalAmount"
	PathTotalsTotalSavings     = "totals.totalSavings"
	PathTotalsTotalAmount      = "totals.totalAmount"
)

// FieldPatch overwrites the value at Path.
type FieldPatch struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Patch is the minimal description of one committed mutation. Receivers
// apply it to their local copy without refetching the order.
type Patch struct {
	OrderID             string       `json:"orderId"`
	Version             int64        `json:"version"`
	CommittedAt         time.Time    `json:"committedAt"`
	FieldPatches        []FieldPatch `json:"fieldPatches"`
	AppendedStatusEntry *StatusEntry `json:"appendedStatusEntry,omitempty"`
	AppendedEventEntry  *LedgerEvent `json:"appendedEventEntry,omitempty"`
	VoidedEventEntry    *LedgerEvent `json:"voidedEventEntry,omitempty"`
	AppendedAuditEntry  *AuditEntry  `json:"appendedAuditEntry,omitempty"`
}

// IsEmpty reports whether the patch carries no change.
func (p Patch) IsEmpty() bool {
	return len(p.FieldPatches) == 0 && p.AppendedStatusEntry == nil && p.AppendedEventEntry == nil &&
		p.VoidedEventEntry == nil && p.AppendedAuditEntry == nil
}
