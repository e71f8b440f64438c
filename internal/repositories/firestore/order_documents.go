package firestore

import (
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/hanko-field/order-engine/internal/domain"
)

type orderDocument struct {
	OrderNumber   string                `firestore:"orderNumber"`
	CustomerID    string                `firestore:"customerId"`
	Currency      string                `firestore:"currency"`
	Status        string                `firestore:"status"`
	Customer      customerDocument      `firestore:"customer"`
	Delivery      deliveryDocument      `firestore:"delivery"`
	Items         []itemDocument        `firestore:"items"`
	Totals        totalsDocument        `firestore:"totals"`
	StatusHistory []statusEntryDocument `firestore:"statusHistory"`
	Financials    financialsDocument    `firestore:"financials"`
	AuditLog      []auditEntryDocument  `firestore:"auditLog"`
	Version       int64                 `firestore:"version"`
	CreatedAt     time.Time             `firestore:"createdAt"`
	UpdatedAt     time.Time             `firestore:"updatedAt"`
}

type customerDocument struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email"`
	Phone string `firestore:"phone,omitempty"`
}

type deliveryDocument struct {
	Method       string           `firestore:"method"`
	Address      *addressDocument `firestore:"address,omitempty"`
	ScheduledFor *time.Time       `firestore:"scheduledFor,omitempty"`
	Notes        string           `firestore:"notes,omitempty"`
}

type addressDocument struct {
	PostalCode string `firestore:"postalCode"`
	Region     string `firestore:"region"`
	Locality   string `firestore:"locality"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
}

type itemDocument struct {
	ProductID       string `firestore:"productId"`
	SKU             string `firestore:"sku"`
	Name            string `firestore:"name"`
	Variant         string `firestore:"variant,omitempty"`
	Quantity        int    `firestore:"quantity"`
	UnitPrice       int64  `firestore:"unitPrice"`
	AppliedDiscount int64  `firestore:"appliedDiscount"`
	TotalPrice      int64  `firestore:"totalPrice"`
}

type totalsDocument struct {
	SubtotalAmount int64 `firestore:"subtotalAmount"`
	TotalSavings   int64 `firestore:"totalSavings"`
	TotalAmount    int64 `firestore:"totalAmount"`
}

// changeDocument stores before/after values as JSON because they hold
// arbitrary shapes.
type changeDocument struct {
	Field  string `firestore:"field"`
	Before string `firestore:"before"`
	After  string `firestore:"after"`
}

type statusEntryDocument struct {
	ID                 string           `firestore:"id"`
	Status             string           `firestore:"status"`
	ChangedAt          time.Time        `firestore:"changedAt"`
	ChangedBy          string           `firestore:"changedBy"`
	IsRollback         bool             `firestore:"isRollback"`
	CancellationReason string           `firestore:"cancellationReason,omitempty"`
	Changes            []changeDocument `firestore:"changes,omitempty"`
}

type auditEntryDocument struct {
	ID        string           `firestore:"id"`
	Kind      string           `firestore:"kind"`
	Changes   []changeDocument `firestore:"changes"`
	Reason    string           `firestore:"reason,omitempty"`
	ChangedBy string           `firestore:"changedBy"`
	ChangedAt time.Time        `firestore:"changedAt"`
}

type ledgerEventDocument struct {
	EventID   string               `firestore:"eventId"`
	Event     string               `firestore:"event"`
	Action    ledgerActionDocument `firestore:"action"`
	ChangedBy string               `firestore:"changedBy"`
	ChangedAt time.Time            `firestore:"changedAt"`
	Voided    *voidDocument        `firestore:"voided,omitempty"`
}

type ledgerActionDocument struct {
	Method            string `firestore:"method"`
	Amount            int64  `firestore:"amount"`
	Provider          string `firestore:"provider,omitempty"`
	TransactionID     string `firestore:"transactionId,omitempty"`
	OriginalPaymentID string `firestore:"originalPaymentId,omitempty"`
	ExternalReference string `firestore:"externalReference,omitempty"`
}

type voidDocument struct {
	Flag      bool      `firestore:"flag"`
	ChangedBy string    `firestore:"changedBy"`
	ChangedAt time.Time `firestore:"changedAt"`
	Note      string    `firestore:"note,omitempty"`
}

type onlineTransactionDocument struct {
	ID                string    `firestore:"id"`
	Kind              string    `firestore:"kind"`
	Status            string    `firestore:"status"`
	Amount            int64     `firestore:"amount"`
	Currency          string    `firestore:"currency"`
	Provider          string    `firestore:"provider"`
	ProviderReference string    `firestore:"providerReference,omitempty"`
	OriginalPaymentID string    `firestore:"originalPaymentId,omitempty"`
	InitiatedBy       string    `firestore:"initiatedBy"`
	InitiatedAt       time.Time `firestore:"initiatedAt"`
	UpdatedAt         time.Time `firestore:"updatedAt"`
	ExpiresAt         time.Time `firestore:"expiresAt"`
}

type financialsDocument struct {
	State                    string                     `firestore:"state"`
	DefaultPaymentMethod     string                     `firestore:"defaultPaymentMethod"`
	TotalPaid                int64                      `firestore:"totalPaid"`
	TotalRefunded            int64                      `firestore:"totalRefunded"`
	CurrentOnlineTransaction *onlineTransactionDocument `firestore:"currentOnlineTransaction"`
	EventHistory             []ledgerEventDocument      `firestore:"eventHistory"`
	OnlineTransactionIDs     []string                   `firestore:"onlineTransactionIds"`
}

func newOrderDocument(order domain.Order) (orderDocument, error) {
	doc := orderDocument{
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		Currency:    order.Currency,
		Status:      string(order.Status()),
		Customer: customerDocument{
			Name:  order.Customer.Name,
			Email: order.Customer.Email,
			Phone: order.Customer.Phone,
		},
		Delivery: deliveryDocument{
			Method:       string(order.Delivery.Method),
			ScheduledFor: order.Delivery.ScheduledFor,
			Notes:        order.Delivery.Notes,
		},
		Totals: totalsDocument{
			SubtotalAmount: order.Totals.SubtotalAmount,
			TotalSavings:   order.Totals.TotalSavings,
			TotalAmount:    order.Totals.TotalAmount,
		},
		Financials: financialsDocument{
			State:                string(order.Financials.State),
			DefaultPaymentMethod: string(order.Financials.DefaultPaymentMethod),
			TotalPaid:            order.Financials.TotalPaid,
			TotalRefunded:        order.Financials.TotalRefunded,
			OnlineTransactionIDs: append([]string{}, order.Financials.OnlineTransactionIDs...),
		},
		Version:   order.Version,
		CreatedAt: order.CreatedAt.UTC(),
		UpdatedAt: order.UpdatedAt.UTC(),
	}
	if addr := order.Delivery.Address; addr != nil {
		doc.Delivery.Address = &addressDocument{
			PostalCode: addr.PostalCode,
			Region:     addr.Region,
			Locality:   addr.Locality,
			Line1:      addr.Line1,
			Line2:      addr.Line2,
		}
	}

	doc.Items = make([]itemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, itemDocument(item))
	}

	for _, entry := range order.StatusHistory.Entries() {
		changes, err := encodeChanges(entry.Changes)
		if err != nil {
			return orderDocument{}, err
		}
		doc.StatusHistory = append(doc.StatusHistory, statusEntryDocument{
			ID:                 entry.ID,
			Status:             string(entry.Status),
			ChangedAt:          entry.ChangedAt.UTC(),
			ChangedBy:          entry.ChangedBy,
			IsRollback:         entry.IsRollback,
			CancellationReason: entry.CancellationReason,
			Changes:            changes,
		})
	}

	doc.AuditLog = []auditEntryDocument{}
	for _, entry := range order.AuditLog.Entries() {
		changes, err := encodeChanges(entry.Changes)
		if err != nil {
			return orderDocument{}, err
		}
		doc.AuditLog = append(doc.AuditLog, auditEntryDocument{
			ID:        entry.ID,
			Kind:      entry.Kind,
			Changes:   changes,
			Reason:    entry.Reason,
			ChangedBy: entry.ChangedBy,
			ChangedAt: entry.ChangedAt.UTC(),
		})
	}

	doc.Financials.EventHistory = []ledgerEventDocument{}
	for _, event := range order.Financials.EventHistory.Entries() {
		eventDoc := ledgerEventDocument{
			EventID:   event.EventID,
			Event:     string(event.Event),
			Action:    ledgerActionDocument{Method: string(event.Action.Method), Amount: event.Action.Amount, Provider: event.Action.Provider, TransactionID: event.Action.TransactionID, OriginalPaymentID: event.Action.OriginalPaymentID, ExternalReference: event.Action.ExternalReference},
			ChangedBy: event.ChangedBy,
			ChangedAt: event.ChangedAt.UTC(),
		}
		if v := event.Voided; v != nil {
			eventDoc.Voided = &voidDocument{Flag: v.Flag, ChangedBy: v.ChangedBy, ChangedAt: v.ChangedAt.UTC(), Note: v.Note}
		}
		doc.Financials.EventHistory = append(doc.Financials.EventHistory, eventDoc)
	}

	if tx := order.Financials.CurrentOnlineTransaction; tx != nil {
		doc.Financials.CurrentOnlineTransaction = &onlineTransactionDocument{
			ID:                tx.ID,
			Kind:              string(tx.Kind),
			Status:            string(tx.Status),
			Amount:            tx.Amount,
			Currency:          tx.Currency,
			Provider:          tx.Provider,
			ProviderReference: tx.ProviderReference,
			OriginalPaymentID: tx.OriginalPaymentID,
			InitiatedBy:       tx.InitiatedBy,
			InitiatedAt:       tx.InitiatedAt.UTC(),
			UpdatedAt:         tx.UpdatedAt.UTC(),
			ExpiresAt:         tx.ExpiresAt.UTC(),
		}
	}
	return doc, nil
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	order := domain.Order{
		ID:          id,
		OrderNumber: d.OrderNumber,
		CustomerID:  d.CustomerID,
		Currency:    d.Currency,
		Customer:    domain.CustomerInfo(d.Customer),
		Delivery: domain.DeliveryInfo{
			Method:       domain.DeliveryMethod(d.Delivery.Method),
			ScheduledFor: d.Delivery.ScheduledFor,
			Notes:        d.Delivery.Notes,
		},
		Totals: domain.Totals(d.Totals),
		Financials: domain.Financials{
			State:                domain.FinancialState(d.Financials.State),
			DefaultPaymentMethod: domain.PaymentMethod(d.Financials.DefaultPaymentMethod),
			TotalPaid:            d.Financials.TotalPaid,
			TotalRefunded:        d.Financials.TotalRefunded,
			OnlineTransactionIDs: d.Financials.OnlineTransactionIDs,
		},
		Version:   d.Version,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
	if addr := d.Delivery.Address; addr != nil {
		order.Delivery.Address = &domain.Address{
			PostalCode: addr.PostalCode,
			Region:     addr.Region,
			Locality:   addr.Locality,
			Line1:      addr.Line1,
			Line2:      addr.Line2,
		}
	}

	order.Items = make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem(item))
	}

	statuses := make([]domain.StatusEntry, 0, len(d.StatusHistory))
	for _, entry := range d.StatusHistory {
		changes, err := decodeChanges(entry.Changes)
		if err != nil {
			return domain.Order{}, err
		}
		statuses = append(statuses, domain.StatusEntry{
			ID:                 entry.ID,
			Status:             domain.OrderStatus(entry.Status),
			ChangedAt:          entry.ChangedAt.UTC(),
			ChangedBy:          entry.ChangedBy,
			IsRollback:         entry.IsRollback,
			CancellationReason: entry.CancellationReason,
			Changes:            changes,
		})
	}
	order.StatusHistory = domain.NewStatusHistory(statuses...)

	audits := make([]domain.AuditEntry, 0, len(d.AuditLog))
	for _, entry := range d.AuditLog {
		changes, err := decodeChanges(entry.Changes)
		if err != nil {
			return domain.Order{}, err
		}
		audits = append(audits, domain.AuditEntry{
			ID:        entry.ID,
			Kind:      entry.Kind,
			Changes:   changes,
			Reason:    entry.Reason,
			ChangedBy: entry.ChangedBy,
			ChangedAt: entry.ChangedAt.UTC(),
		})
	}
	order.AuditLog = domain.NewAuditLog(audits...)

	events := make([]domain.LedgerEvent, 0, len(d.Financials.EventHistory))
	for _, event := range d.Financials.EventHistory {
		a := event.Action
		decoded := domain.LedgerEvent{
			EventID: event.EventID,
			Event:   domain.LedgerEventKind(event.Event),
			Action: domain.LedgerAction{
				Method:            domain.PaymentMethod(a.Method),
				Amount:            a.Amount,
				Provider:          a.Provider,
				TransactionID:     a.TransactionID,
				OriginalPaymentID: a.OriginalPaymentID,
				ExternalReference: a.ExternalReference,
			},
			ChangedBy: event.ChangedBy,
			ChangedAt: event.ChangedAt.UTC(),
		}
		if v := event.Voided; v != nil {
			decoded.Voided = &domain.VoidInfo{Flag: v.Flag, ChangedBy: v.ChangedBy, ChangedAt: v.ChangedAt.UTC(), Note: v.Note}
		}
		events = append(events, decoded)
	}
	order.Financials.EventHistory = domain.NewEventHistory(events...)

	if tx := d.Financials.CurrentOnlineTransaction; tx != nil {
		order.Financials.CurrentOnlineTransaction = &domain.OnlineTransaction{
			ID:                tx.ID,
			Kind:              domain.LedgerEventKind(tx.Kind),
			Status:            domain.OnlineTransactionStatus(tx.Status),
			Amount:            tx.Amount,
			Currency:          tx.Currency,
			Provider:          tx.Provider,
			ProviderReference: tx.ProviderReference,
			OriginalPaymentID: tx.OriginalPaymentID,
			InitiatedBy:       tx.InitiatedBy,
			InitiatedAt:       tx.InitiatedAt.UTC(),
			UpdatedAt:         tx.UpdatedAt.UTC(),
			ExpiresAt:         tx.ExpiresAt.UTC(),
		}
	}
	return order, nil
}

func encodeChanges(changes []domain.FieldChange) ([]changeDocument, error) {
	if len(changes) == 0 {
		return nil, nil
	}
	out := make([]changeDocument, 0, len(changes))
	for _, change := range changes {
		before, err := json.Marshal(change.Before)
		if err != nil {
			return nil, fmt.Errorf("encode change %s: %w", change.Field, err)
		}
		after, err := json.Marshal(change.After)
		if err != nil {
			return nil, fmt.Errorf("encode change %s: %w", change.Field, err)
		}
		out = append(out, changeDocument{Field: change.Field, Before: string(before), After: string(after)})
	}
	return out, nil
}

func decodeChanges(docs []changeDocument) ([]domain.FieldChange, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	out := make([]domain.FieldChange, 0, len(docs))
	for _, doc := range docs {
		change := domain.FieldChange{Field: doc.Field}
		if err := json.Unmarshal([]byte(doc.Before), &change.Before); err != nil {
			return nil, fmt.Errorf("decode change %s: %w", doc.Field, err)
		}
		if err := json.Unmarshal([]byte(doc.After), &change.After); err != nil {
			return nil, fmt.Errorf("decode change %s: %w", doc.Field, err)
		}
		out = append(out, change)
	}
	return out, nil
}
