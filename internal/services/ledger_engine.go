package services

import (
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/order-engine/internal/domain"
)

// LedgerStamp identifies who appended a ledger event and when.
type LedgerStamp struct {
	EventID string
	Actor   string
	At      time.Time
}

// VoidStamp identifies who voided a ledger event and why.
type VoidStamp struct {
	Actor string
	At    time.Time
	Note  string
}

// ApplyPaymentEvent appends a payment to a copy of order and refreshes the
// derived financial fields.
func ApplyPaymentEvent(order domain.Order, action domain.LedgerAction, stamp LedgerStamp) (domain.Order, domain.LedgerEvent, error) {
	if err := validateLedgerAction(action, stamp); err != nil {
		return domain.Order{}, domain.LedgerEvent{}, err
	}
	if _, err := domain.AddAmount(order.Financials.TotalPaid, action.Amount); err != nil {
		return domain.Order{}, domain.LedgerEvent{}, fmt.Errorf("%w: payment overflows total paid", ErrInvalidAmount)
	}
	action.OriginalPaymentID = ""
	return appendLedgerEvent(order, domain.LedgerEventPayment, action, stamp)
}

// ApplyRefundEvent appends a refund. The refund may not exceed the net paid
// amount, nor the remaining balance of the payment it references. An online
// refund awaiting confirmation is already spoken for on both counts.
func ApplyRefundEvent(order domain.Order, action domain.LedgerAction, stamp LedgerStamp) (domain.Order, domain.LedgerEvent, error) {
	if err := validateLedgerAction(action, stamp); err != nil {
		return domain.Order{}, domain.LedgerEvent{}, err
	}
	pending, pendingPaymentID := order.Financials.PendingRefund()
	if net := order.Financials.NetPaid() - pending; action.Amount > net {
		return domain.Order{}, domain.LedgerEvent{}, fmt.Errorf("%w: refund %d exceeds net paid %d", ErrInvalidAmount, action.Amount, net)
	}
	if paymentID := strings.TrimSpace(action.OriginalPaymentID); paymentID != "" {
		remaining, err := refundableBalance(order.Financials.EventHistory, paymentID)
		if err != nil {
			return domain.Order{}, domain.LedgerEvent{}, err
		}
		if paymentID == pendingPaymentID {
			remaining -= pending
		}
		if action.Amount > remaining {
			return domain.Order{}, domain.LedgerEvent{}, fmt.Errorf("%w: refund %d exceeds remaining %d of payment %s", ErrInvalidAmount, action.Amount, remaining, paymentID)
		}
		action.OriginalPaymentID = paymentID
	}
	return appendLedgerEvent(order, domain.LedgerEventRefund, action, stamp)
}

// VoidEvent marks eventID as voided on a copy of order. Voiding has the same
// effect on totals as an inverse event without adding a ledger entry.
func VoidEvent(order domain.Order, eventID string, stamp VoidStamp) (domain.Order, domain.LedgerEvent, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return domain.Order{}, domain.LedgerEvent{}, fmt.Errorf("%w: event id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(stamp.Actor) == "" {
		return domain.Order{}, domain.LedgerEvent{}, fmt.Errorf("%w: actor is required", ErrOrderInvalidInput)
	}
	target, ok := order.Financials.EventHistory.Find(eventID)
	if !ok {
		return domain.Order{}, domain.LedgerEvent{}, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	if target.IsVoided() {
		return domain.Order{}, domain.LedgerEvent{}, fmt.Errorf("%w: %s", ErrAlreadyVoided, eventID)
	}
	if target.Event == domain.LedgerEventPayment {
		if _, count := order.Financials.EventHistory.RefundedAgainst(eventID); count > 0 {
			return domain.Order{}, domain.LedgerEvent{}, fmt.Errorf("%w: payment %s has %d live refunds", ErrEventSuperseded, eventID, count)
		}
		pending, pendingPaymentID := order.Financials.PendingRefund()
		if pendingPaymentID == eventID {
			return domain.Order{}, domain.LedgerEvent{}, fmt.Errorf("%w: payment %s has a pending online refund", ErrEventSuperseded, eventID)
		}
		if net := order.Financials.NetPaid() - pending; net-target.Action.Amount < 0 {
			return domain.Order{}, domain.LedgerEvent{}, fmt.Errorf("%w: voiding %s leaves net paid negative", ErrInvalidAmount, eventID)
		}
	}

	next := order.Clone()
	voided, ok := next.Financials.EventHistory.MarkVoided(eventID, domain.VoidInfo{
		ChangedBy: stamp.Actor,
		ChangedAt: stamp.At.UTC(),
		Note:      strings.TrimSpace(stamp.Note),
	})
	if !ok {
		return domain.Order{}, domain.LedgerEvent{}, fmt.Errorf("%w: %s", ErrAlreadyVoided, eventID)
	}
	next.RecomputeFinancials()
	next.UpdatedAt = stamp.At.UTC()
	return next, voided, nil
}

func appendLedgerEvent(order domain.Order, kind domain.LedgerEventKind, action domain.LedgerAction, stamp LedgerStamp) (domain.Order, domain.LedgerEvent, error) {
	event := domain.LedgerEvent{
		EventID:   stamp.EventID,
		Event:     kind,
		Action:    action,
		ChangedBy: stamp.Actor,
		ChangedAt: stamp.At.UTC(),
	}
	next := order.Clone()
	next.Financials.EventHistory.Append(event)
	next.RecomputeFinancials()
	next.UpdatedAt = event.ChangedAt
	return next, event, nil
}

func validateLedgerAction(action domain.LedgerAction, stamp LedgerStamp) error {
	if action.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidAmount, action.Amount)
	}
	if !action.Method.IsOffline() && action.Method != domain.PaymentMethodOnline {
		return fmt.Errorf("%w: unknown payment method %q", ErrOrderInvalidInput, action.Method)
	}
	if strings.TrimSpace(stamp.EventID) == "" || strings.TrimSpace(stamp.Actor) == "" {
		return fmt.Errorf("%w: event id and actor are required", ErrOrderInvalidInput)
	}
	return nil
}

func refundableBalance(history domain.EventHistory, paymentID string) (int64, error) {
	payment, ok := history.Find(paymentID)
	if !ok || payment.Event != domain.LedgerEventPayment {
		return 0, fmt.Errorf("%w: payment %s", ErrEventNotFound, paymentID)
	}
	if payment.IsVoided() {
		return 0, fmt.Errorf("%w: payment %s", ErrAlreadyVoided, paymentID)
	}
	refunded, _ := history.RefundedAgainst(paymentID)
	return payment.Action.Amount - refunded, nil
}
