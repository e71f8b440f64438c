package domain

import "time"

// LedgerEventKind distinguishes money in from money out.
type LedgerEventKind string

const (
	LedgerEventPayment LedgerEventKind = "payment"
	LedgerEventRefund  LedgerEventKind = "refund"
)

// PaymentMethod identifies how money moved.
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCardTerminal PaymentMethod = "card_terminal"
	PaymentMethodOnline       PaymentMethod = "online"
	PaymentMethodOther        PaymentMethod = "other"
)

// IsOffline reports whether the method is recorded manually by staff.
func (m PaymentMethod) IsOffline() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodBankTransfer, PaymentMethodCardTerminal, PaymentMethodOther:
		return true
	}
	return false
}

// LedgerAction is the immutable money movement described by an event.
type LedgerAction struct {
	Method            PaymentMethod `json:"method"`
	Amount            int64         `json:"amount"`
	Provider          string        `json:"provider,omitempty"`
	TransactionID     string        `json:"transactionId,omitempty"`
	OriginalPaymentID string        `json:"originalPaymentId,omitempty"`
	ExternalReference string        `json:"externalReference,omitempty"`
}

// VoidInfo marks an event as logically reversed. It is set at most once.
type VoidInfo struct {
	Flag      bool      `json:"flag"`
	ChangedBy string    `json:"changedBy"`
	ChangedAt time.Time `json:"changedAt"`
	Note      string    `json:"note,omitempty"`
}

// LedgerEvent is one entry of the financial ledger.
type LedgerEvent struct {
	EventID   string          `json:"eventId"`
	Event     LedgerEventKind `json:"event"`
	Action    LedgerAction    `json:"action"`
	ChangedBy string          `json:"changedBy"`
	ChangedAt time.Time       `json:"changedAt"`
	Voided    *VoidInfo       `json:"voided,omitempty"`
}

// IsVoided reports whether the event no longer counts towards totals.
func (e LedgerEvent) IsVoided() bool {
	return e.Voided != nil && e.Voided.Flag
}

// EventHistory is the append-only ledger. Besides Append, the only allowed
// change is setting the voided marker of an entry once.
type EventHistory struct {
	appendLog[LedgerEvent]
}

// NewEventHistory rebuilds a ledger from stored entries.
func NewEventHistory(entries ...LedgerEvent) EventHistory {
	return EventHistory{newAppendLog(entries)}
}

// Append adds event at the end.
func (h *EventHistory) Append(event LedgerEvent) { h.append(event) }

// Find returns the event with the given id.
func (h EventHistory) Find(eventID string) (LedgerEvent, bool) {
	for _, e := range h.entries {
		if e.EventID == eventID {
			return e, true
		}
	}
	return LedgerEvent{}, false
}

// FindByTransaction returns the event finalised from an online transaction.
func (h EventHistory) FindByTransaction(transactionID string) (LedgerEvent, bool) {
	if transactionID == "" {
		return LedgerEvent{}, false
	}
	for _, e := range h.entries {
		if e.Action.TransactionID == transactionID {
			return e, true
		}
	}
	return LedgerEvent{}, false
}

// MarkVoided sets the voided marker on eventID. It reports false when the
// event does not exist or is already voided. The backing array is copied so
// earlier copies of the history keep their view.
func (h *EventHistory) MarkVoided(eventID string, info VoidInfo) (LedgerEvent, bool) {
	for i, e := range h.entries {
		if e.EventID != eventID {
			continue
		}
		if e.IsVoided() {
			return e, false
		}
		entries := make([]LedgerEvent, len(h.entries))
		copy(entries, h.entries)
		info.Flag = true
		e.Voided = &info
		entries[i] = e
		h.entries = entries
		return e, true
	}
	return LedgerEvent{}, false
}

// LiveSums totals the non-voided payments and refunds.
func (h EventHistory) LiveSums() (paid, refunded int64, live int) {
	for _, e := range h.entries {
		if e.IsVoided() {
			continue
		}
		live++
		switch e.Event {
		case LedgerEventPayment:
			paid += e.Action.Amount
		case LedgerEventRefund:
			refunded += e.Action.Amount
		}
	}
	return paid, refunded, live
}

// RefundedAgainst sums non-voided refunds referencing paymentID.
func (h EventHistory) RefundedAgainst(paymentID string) (total int64, count int) {
	for _, e := range h.entries {
		if e.IsVoided() || e.Event != LedgerEventRefund || e.Action.OriginalPaymentID != paymentID {
			continue
		}
		total += e.Action.Amount
		count++
	}
	return total, count
}

func (h EventHistory) clone() EventHistory { return NewEventHistory(h.entries...) }

// FinancialState summarises the ledger against the order total.
type FinancialState string

const (
	FinancialStateUnpaid        FinancialState = "unpaid"
	FinancialStatePartiallyPaid FinancialState = "partially_paid"
	FinancialStatePaid          FinancialState = "paid"
	FinancialStateOverpaid      FinancialState = "overpaid"
	FinancialStateRefunded      FinancialState = "refunded"
)

// DeriveFinancialState is the pure mapping from ledger sums to state.
func DeriveFinancialState(totalPaid, totalRefunded, totalAmount int64, liveEvents int) FinancialState {
	net := totalPaid - totalRefunded
	switch {
	case liveEvents == 0 || (totalPaid == 0 && totalRefunded == 0):
		return FinancialStateUnpaid
	case totalRefunded > 0 && net <= 0:
		return FinancialStateRefunded
	case net <= 0:
		return FinancialStateUnpaid
	case net < totalAmount:
		return FinancialStatePartiallyPaid
	case net == totalAmount:
		return FinancialStatePaid
	default:
		return FinancialStateOverpaid
	}
}

// OnlineTransactionStatus is the transient sub-state of an online flow.
type OnlineTransactionStatus string

const (
	OnlineTransactionInit       OnlineTransactionStatus = "init"
	OnlineTransactionProcessing OnlineTransactionStatus = "processing"
)

// OnlineTransaction is an online payment or refund awaiting provider
// confirmation. It lives on the order only until a webhook or the timeout
// sweeper resolves it.
type OnlineTransaction struct {
	ID                string                  `json:"id"`
	Kind              LedgerEventKind         `json:"kind"`
	Status            OnlineTransactionStatus `json:"status"`
	Amount            int64                   `json:"amount"`
	Currency          string                  `json:"currency"`
	Provider          string                  `json:"provider"`
	ProviderReference string                  `json:"providerReference,omitempty"`
	OriginalPaymentID string                  `json:"originalPaymentId,omitempty"`
	InitiatedBy       string                  `json:"initiatedBy"`
	InitiatedAt       time.Time               `json:"initiatedAt"`
	UpdatedAt         time.Time               `json:"updatedAt"`
	ExpiresAt         time.Time               `json:"expiresAt"`
}

// Financials is the money side of the order. State, TotalPaid and
// TotalRefunded are a cache of the ledger and are only written by
// Order.RecomputeFinancials.
type Financials struct {
	State                    FinancialState     `json:"state"`
	DefaultPaymentMethod     PaymentMethod      `json:"defaultPaymentMethod"`
	TotalPaid                int64              `json:"totalPaid"`
	TotalRefunded            int64              `json:"totalRefunded"`
	CurrentOnlineTransaction *OnlineTransaction `json:"currentOnlineTransaction"`
	EventHistory             EventHistory       `json:"eventHistory"`
	OnlineTransactionIDs     []string           `json:"onlineTransactionIds,omitempty"`
}

func (f Financials) clone() Financials {
	out := f
	out.EventHistory = f.EventHistory.clone()
	if f.CurrentOnlineTransaction != nil {
		tx := *f.CurrentOnlineTransaction
		out.CurrentOnlineTransaction = &tx
	}
	if f.OnlineTransactionIDs != nil {
		out.OnlineTransactionIDs = append([]string(nil), f.OnlineTransactionIDs...)
	}
	return out
}

// RecomputeFinancials refreshes the cached totals and state from the live
// ledger and the current order total.
func (o *Order) RecomputeFinancials() {
	paid, refunded, live := o.Financials.EventHistory.LiveSums()
	o.Financials.TotalPaid = paid
	o.Financials.TotalRefunded = refunded
	o.Financials.State = DeriveFinancialState(paid, refunded, o.Totals.TotalAmount, live)
}

// NetPaid is total paid minus total refunded.
func (f Financials) NetPaid() int64 {
	return f.TotalPaid - f.TotalRefunded
}

// PendingRefund returns the amount and referenced payment of an online refund
// that the provider has not confirmed yet.
func (f Financials) PendingRefund() (amount int64, paymentID string) {
	tx := f.CurrentOnlineTransaction
	if tx == nil || tx.Kind != LedgerEventRefund {
		return 0, ""
	}
	return tx.Amount, tx.OriginalPaymentID
}
