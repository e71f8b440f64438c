package services

import (
	"errors"
	"math"
	"testing"
	"time"

	domain "github.com/hanko-field/order-engine/internal/domain"
)

func stamp(id string) LedgerStamp {
	return LedgerStamp{EventID: id, Actor: "staff_1", At: testNow}
}

func cash(amount int64) domain.LedgerAction {
	return domain.LedgerAction{Method: domain.PaymentMethodCash, Amount: amount}
}

func TestPaymentThenVoidRestoresUnpaid(t *testing.T) {
	order := thousandYenOrder()

	paid, event, err := ApplyPaymentEvent(order, cash(1000), stamp("evt_1"))
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if paid.Financials.State != domain.FinancialStatePaid || paid.Financials.TotalPaid != 1000 {
		t.Fatalf("expected paid/1000, got %s/%d", paid.Financials.State, paid.Financials.TotalPaid)
	}
	if order.Financials.EventHistory.Len() != 0 {
		t.Fatalf("input order was mutated")
	}

	voided, entry, err := VoidEvent(paid, event.EventID, VoidStamp{Actor: "staff_2", At: testNow.Add(time.Minute), Note: "wrong order"})
	if err != nil {
		t.Fatalf("void: %v", err)
	}
	if voided.Financials.State != domain.FinancialStateUnpaid || voided.Financials.TotalPaid != 0 {
		t.Fatalf("expected unpaid/0, got %s/%d", voided.Financials.State, voided.Financials.TotalPaid)
	}
	if !entry.IsVoided() || entry.Voided.ChangedBy != "staff_2" {
		t.Fatalf("expected voided marker, got %+v", entry.Voided)
	}
	if voided.Financials.EventHistory.Len() != 1 {
		t.Fatalf("void must not append entries")
	}
	kept := voided.Financials.EventHistory.At(0)
	if kept.Action != event.Action || !kept.ChangedAt.Equal(event.ChangedAt) || kept.ChangedBy != event.ChangedBy {
		t.Fatalf("voiding changed the original action: %+v", kept)
	}

	if _, _, err := VoidEvent(voided, event.EventID, VoidStamp{Actor: "staff_2", At: testNow}); !errors.Is(err, ErrAlreadyVoided) {
		t.Fatalf("expected ErrAlreadyVoided, got %v", err)
	}
	if _, _, err := VoidEvent(voided, "evt_missing", VoidStamp{Actor: "staff_2", At: testNow}); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestFinancialStates(t *testing.T) {
	order := thousandYenOrder()

	partial, _, err := ApplyPaymentEvent(order, cash(400), stamp("evt_1"))
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if partial.Financials.State != domain.FinancialStatePartiallyPaid {
		t.Fatalf("expected partially_paid, got %s", partial.Financials.State)
	}

	over, _, err := ApplyPaymentEvent(partial, cash(700), stamp("evt_2"))
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if over.Financials.State != domain.FinancialStateOverpaid {
		t.Fatalf("expected overpaid, got %s", over.Financials.State)
	}

	refund := domain.LedgerAction{Method: domain.PaymentMethodCash, Amount: 100, OriginalPaymentID: "evt_2"}
	settled, _, err := ApplyRefundEvent(over, refund, stamp("evt_3"))
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if settled.Financials.State != domain.FinancialStatePaid || settled.Financials.TotalRefunded != 100 {
		t.Fatalf("expected paid with 100 refunded, got %s/%d", settled.Financials.State, settled.Financials.TotalRefunded)
	}

	full, _, err := ApplyRefundEvent(settled, cash(1000), stamp("evt_4"))
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if full.Financials.State != domain.FinancialStateRefunded || full.Financials.NetPaid() != 0 {
		t.Fatalf("expected refunded, got %s net %d", full.Financials.State, full.Financials.NetPaid())
	}
}

func TestRefundValidation(t *testing.T) {
	order := thousandYenOrder()
	paid, _, err := ApplyPaymentEvent(order, cash(600), stamp("evt_1"))
	if err != nil {
		t.Fatalf("payment: %v", err)
	}

	cases := []struct {
		name    string
		action  domain.LedgerAction
		wantErr error
	}{
		{name: "exceeds net paid", action: cash(601), wantErr: ErrInvalidAmount},
		{name: "zero amount", action: cash(0), wantErr: ErrInvalidAmount},
		{name: "unknown payment", action: domain.LedgerAction{Method: domain.PaymentMethodCash, Amount: 10, OriginalPaymentID: "evt_x"}, wantErr: ErrEventNotFound},
		{name: "unknown method", action: domain.LedgerAction{Method: "barter", Amount: 10}, wantErr: ErrOrderInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := ApplyRefundEvent(paid, tc.action, stamp("evt_r")); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	partial, _, err := ApplyRefundEvent(paid, domain.LedgerAction{Method: domain.PaymentMethodCash, Amount: 500, OriginalPaymentID: "evt_1"}, stamp("evt_2"))
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if _, _, err := ApplyRefundEvent(partial, domain.LedgerAction{Method: domain.PaymentMethodCash, Amount: 101, OriginalPaymentID: "evt_1"}, stamp("evt_3")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected remaining balance check, got %v", err)
	}
}

func TestVoidPaymentWithLiveRefundIsSuperseded(t *testing.T) {
	order := thousandYenOrder()
	paid, _, err := ApplyPaymentEvent(order, cash(1000), stamp("evt_1"))
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	refunded, _, err := ApplyRefundEvent(paid, domain.LedgerAction{Method: domain.PaymentMethodCash, Amount: 200, OriginalPaymentID: "evt_1"}, stamp("evt_2"))
	if err != nil {
		t.Fatalf("refund: %v", err)
	}

	if _, _, err := VoidEvent(refunded, "evt_1", VoidStamp{Actor: "staff_1", At: testNow}); !errors.Is(err, ErrEventSuperseded) {
		t.Fatalf("expected ErrEventSuperseded, got %v", err)
	}

	refundVoided, _, err := VoidEvent(refunded, "evt_2", VoidStamp{Actor: "staff_1", At: testNow})
	if err != nil {
		t.Fatalf("void refund: %v", err)
	}
	if refundVoided.Financials.TotalRefunded != 0 || refundVoided.Financials.State != domain.FinancialStatePaid {
		t.Fatalf("expected paid after voiding refund, got %s/%d", refundVoided.Financials.State, refundVoided.Financials.TotalRefunded)
	}
	if _, _, err := VoidEvent(refundVoided, "evt_1", VoidStamp{Actor: "staff_1", At: testNow}); err != nil {
		t.Fatalf("payment should be voidable once its refunds are voided: %v", err)
	}
}

func TestVoidPaymentCannotLeaveNetNegative(t *testing.T) {
	order := thousandYenOrder()
	order, _, err := ApplyPaymentEvent(order, cash(300), stamp("evt_1"))
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	order, _, err = ApplyPaymentEvent(order, cash(300), stamp("evt_2"))
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	order, _, err = ApplyRefundEvent(order, cash(500), stamp("evt_3"))
	if err != nil {
		t.Fatalf("refund: %v", err)
	}

	if _, _, err := VoidEvent(order, "evt_2", VoidStamp{Actor: "staff_1", At: testNow}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestPaymentOverflowRejected(t *testing.T) {
	order := thousandYenOrder()
	order, _, err := ApplyPaymentEvent(order, cash(math.MaxInt64-10), stamp("evt_1"))
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if _, _, err := ApplyPaymentEvent(order, cash(11), stamp("evt_2")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount on overflow, got %v", err)
	}
}

func TestLedgerSumsMatchLiveEvents(t *testing.T) {
	order := thousandYenOrder()
	steps := []func(domain.Order) (domain.Order, domain.LedgerEvent, error){
		func(o domain.Order) (domain.Order, domain.LedgerEvent, error) { return ApplyPaymentEvent(o, cash(500), stamp("evt_1")) },
		func(o domain.Order) (domain.Order, domain.LedgerEvent, error) { return ApplyPaymentEvent(o, cash(700), stamp("evt_2")) },
		func(o domain.Order) (domain.Order, domain.LedgerEvent, error) { return ApplyRefundEvent(o, cash(150), stamp("evt_3")) },
		func(o domain.Order) (domain.Order, domain.LedgerEvent, error) {
			return VoidEvent(o, "evt_3", VoidStamp{Actor: "staff_1", At: testNow})
		},
		func(o domain.Order) (domain.Order, domain.LedgerEvent, error) {
			return VoidEvent(o, "evt_1", VoidStamp{Actor: "staff_1", At: testNow})
		},
	}

	for i, step := range steps {
		next, _, err := step(order)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		for j := 0; j < order.Financials.EventHistory.Len(); j++ {
			prev, cur := order.Financials.EventHistory.At(j), next.Financials.EventHistory.At(j)
			if prev.Action != cur.Action || prev.EventID != cur.EventID || !prev.ChangedAt.Equal(cur.ChangedAt) {
				t.Fatalf("step %d rewrote entry %d", i, j)
			}
		}
		order = next

		var paid, refunded int64
		for _, event := range order.Financials.EventHistory.Entries() {
			if event.IsVoided() {
				continue
			}
			if event.Event == domain.LedgerEventPayment {
				paid += event.Action.Amount
			} else {
				refunded += event.Action.Amount
			}
		}
		if order.Financials.TotalPaid != paid || order.Financials.TotalRefunded != refunded {
			t.Fatalf("step %d: cache %d/%d, ledger %d/%d", i, order.Financials.TotalPaid, order.Financials.TotalRefunded, paid, refunded)
		}
	}
	if order.Financials.State != domain.FinancialStatePartiallyPaid {
		t.Fatalf("expected partially_paid with 700 net, got %s", order.Financials.State)
	}
}
