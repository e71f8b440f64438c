package domain

import (
	"encoding/json"
	"time"
)

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	// OrderStatusConfirmed is the initial status once checkout is confirmed.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusReadyForPickup indicates the order awaits in-store pickup.
	OrderStatusReadyForPickup OrderStatus = "ready_for_pickup"
	// OrderStatusInDelivery indicates the order is out for delivery.
	OrderStatusInDelivery OrderStatus = "in_delivery"
	// OrderStatusCompleted is final: the customer received the order.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled is final: the order will not be fulfilled.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsFinal reports whether no further edits are allowed in this status.
func (s OrderStatus) IsFinal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusConfirmed, OrderStatusProcessing, OrderStatusReadyForPickup,
		OrderStatusInDelivery, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// Order is the root aggregate. One document per order holds the full status
// history, the financial ledger and the audit trail.
type Order struct {
	ID            string        `json:"id"`
	OrderNumber   string        `json:"orderNumber"`
	CustomerID    string        `json:"customerId"`
	Currency      string        `json:"currency"`
	Customer      CustomerInfo  `json:"customer"`
	Delivery      DeliveryInfo  `json:"delivery"`
	Items         []OrderItem   `json:"items"`
	Totals        Totals        `json:"totals"`
	StatusHistory StatusHistory `json:"statusHistory"`
	Financials    Financials    `json:"financials"`
	AuditLog      AuditLog      `json:"auditLog"`
	Version       int64         `json:"version"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Status is the status of the last history entry.
func (o Order) Status() OrderStatus {
	last, ok := o.StatusHistory.Last()
	if !ok {
		return ""
	}
	return last.Status
}

// IsActive reports whether the order still accepts edits.
func (o Order) IsActive() bool {
	status := o.Status()
	return status != "" && !status.IsFinal()
}

// Clone returns a deep copy that shares no mutable state with o.
func (o Order) Clone() Order {
	out := o
	out.Items = cloneItems(o.Items)
	out.Delivery = o.Delivery.clone()
	out.StatusHistory = o.StatusHistory.clone()
	out.AuditLog = o.AuditLog.clone()
	out.Financials = o.Financials.clone()
	return out
}

// MarshalJSON adds the derived current status so stream clients can patch it
// like any other field.
func (o Order) MarshalJSON() ([]byte, error) {
	type plain Order
	return json.Marshal(struct {
		plain
		Status OrderStatus `json:"status"`
	}{plain: plain(o), Status: o.Status()})
}

// CustomerInfo is the contact snapshot stored on the order.
type CustomerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// DeliveryMethod is how the order reaches the customer.
type DeliveryMethod string

const (
	DeliveryMethodPickup   DeliveryMethod = "pickup"
	DeliveryMethodDelivery DeliveryMethod = "delivery"
)

// DeliveryInfo holds fulfilment details editable until the order is final.
type DeliveryInfo struct {
	Method       DeliveryMethod `json:"method"`
	Address      *Address       `json:"address,omitempty"`
	ScheduledFor *time.Time     `json:"scheduledFor,omitempty"`
	Notes        string         `json:"notes,omitempty"`
}

func (d DeliveryInfo) clone() DeliveryInfo {
	out := d
	if d.Address != nil {
		addr := *d.Address
		out.Address = &addr
	}
	if d.ScheduledFor != nil {
		at := *d.ScheduledFor
		out.ScheduledFor = &at
	}
	return out
}

// Address is a postal address.
type Address struct {
	PostalCode string `json:"postalCode"`
	Region     string `json:"region"`
	Locality   string `json:"locality"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
}

// OrderItem is a price and name snapshot taken at confirmation time.
type OrderItem struct {
	ProductID       string `json:"productId"`
	SKU             string `json:"sku"`
	Name            string `json:"name"`
	Variant         string `json:"variant,omitempty"`
	Quantity        int    `json:"quantity"`
	UnitPrice       int64  `json:"unitPrice"`
	AppliedDiscount int64  `json:"appliedDiscount"`
	TotalPrice      int64  `json:"totalPrice"`
}

func cloneItems(items []OrderItem) []OrderItem {
	if items == nil {
		return nil
	}
	out := make([]OrderItem, len(items))
	copy(out, items)
	return out
}

// Totals are always recomputed from items.
type Totals struct {
	SubtotalAmount int64 `json:"subtotalAmount"`
	TotalSavings   int64 `json:"totalSavings"`
	TotalAmount    int64 `json:"totalAmount"`
}

// FieldChange is a before/after delta recorded on history and audit entries.
type FieldChange struct {
	Field  string `json:"field"`
	Before any    `json:"before"`
	After  any    `json:"after"`
}

// StatusEntry is one element of the status history.
type StatusEntry struct {
	ID                 string        `json:"id"`
	Status             OrderStatus   `json:"status"`
	ChangedAt          time.Time     `json:"changedAt"`
	ChangedBy          string        `json:"changedBy"`
	IsRollback         bool          `json:"isRollback"`
	CancellationReason string        `json:"cancellationReason,omitempty"`
	Changes            []FieldChange `json:"changes,omitempty"`
}

// AuditEntry records a free-form edit of order details or items.
type AuditEntry struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind"`
	Changes   []FieldChange `json:"changes"`
	Reason    string        `json:"reason,omitempty"`
	ChangedBy string        `json:"changedBy"`
	ChangedAt time.Time     `json:"changedAt"`
}

// Audit entry kinds.
const (
	AuditKindDetails = "details"
	AuditKindItems   = "items"
)

// StockLevel is the live availability of one product.
type StockLevel struct {
	Exists    bool `json:"exists"`
	Available int  `json:"available"`
}

// StockSnapshot maps product ids to availability at reconciliation time.
type StockSnapshot map[string]StockLevel
