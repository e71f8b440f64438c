package services

import (
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/order-engine/internal/domain"
)

func TestTransitionStatusTable(t *testing.T) {
	cases := []struct {
		name    string
		path    []domain.OrderStatus
		target  domain.OrderStatus
		wantErr error
	}{
		{name: "confirmed to processing", target: domain.OrderStatusProcessing},
		{name: "confirmed to completed skips processing", target: domain.OrderStatusCompleted, wantErr: ErrInvalidTransition},
		{name: "processing to pickup", path: []domain.OrderStatus{domain.OrderStatusProcessing}, target: domain.OrderStatusReadyForPickup},
		{name: "pickup to delivery", path: []domain.OrderStatus{domain.OrderStatusProcessing, domain.OrderStatusReadyForPickup}, target: domain.OrderStatusInDelivery, wantErr: ErrInvalidTransition},
		{name: "delivery to completed", path: []domain.OrderStatus{domain.OrderStatusProcessing, domain.OrderStatusInDelivery}, target: domain.OrderStatusCompleted},
		{name: "completed is final", path: []domain.OrderStatus{domain.OrderStatusProcessing, domain.OrderStatusInDelivery, domain.OrderStatusCompleted}, target: domain.OrderStatusCancelled, wantErr: ErrOrderFinalized},
		{name: "unknown target", target: domain.OrderStatus("lost"), wantErr: ErrOrderInvalidInput},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := thousandYenOrder()
			var err error
			for i, status := range tc.path {
				order, _, err = TransitionStatus(order, status, "staff_1", TransitionOptions{EntryID: "sth_p" + string(rune('a'+i)), At: testNow})
				if err != nil {
					t.Fatalf("setup transition to %s: %v", status, err)
				}
			}
			before := order.StatusHistory.Len()

			next, entry, err := TransitionStatus(order, tc.target, "staff_1", TransitionOptions{EntryID: "sth_x", At: testNow})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				if order.StatusHistory.Len() != before {
					t.Fatalf("history changed on failure")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if next.StatusHistory.Len() != before+1 {
				t.Fatalf("expected exactly one appended entry")
			}
			if next.Status() != tc.target || entry.Status != tc.target {
				t.Fatalf("expected current status %s, got %s", tc.target, next.Status())
			}
			if order.StatusHistory.Len() != before {
				t.Fatalf("input order was mutated")
			}
		})
	}
}

func TestTransitionCancelRequiresReason(t *testing.T) {
	order := thousandYenOrder()

	if _, _, err := TransitionStatus(order, domain.OrderStatusCancelled, "staff_1", TransitionOptions{EntryID: "sth_1", At: testNow}); !errors.Is(err, ErrMissingReason) {
		t.Fatalf("expected ErrMissingReason, got %v", err)
	}

	next, entry, err := TransitionStatus(order, domain.OrderStatusCancelled, "staff_1", TransitionOptions{
		EntryID:            "sth_1",
		At:                 testNow,
		CancellationReason: "customer request",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if entry.CancellationReason != "customer request" {
		t.Fatalf("expected reason on entry, got %q", entry.CancellationReason)
	}
	if next.IsActive() {
		t.Fatalf("cancelled order should be final")
	}
}

func TestTransitionRollbackAppendsCorrectingEntry(t *testing.T) {
	order := thousandYenOrder()
	order, _, err := TransitionStatus(order, domain.OrderStatusProcessing, "staff_1", TransitionOptions{EntryID: "sth_1", At: testNow})
	if err != nil {
		t.Fatalf("processing: %v", err)
	}
	order, _, err = TransitionStatus(order, domain.OrderStatusInDelivery, "staff_1", TransitionOptions{EntryID: "sth_2", At: testNow})
	if err != nil {
		t.Fatalf("in delivery: %v", err)
	}

	if _, _, err := TransitionStatus(order, domain.OrderStatusConfirmed, "staff_1", TransitionOptions{EntryID: "sth_3", At: testNow, IsRollback: true}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("rollback must target the previous status, got %v", err)
	}

	rolled, entry, err := TransitionStatus(order, domain.OrderStatusProcessing, "staff_1", TransitionOptions{EntryID: "sth_3", At: testNow, IsRollback: true})
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if !entry.IsRollback || rolled.Status() != domain.OrderStatusProcessing {
		t.Fatalf("expected rollback entry to processing, got %+v", entry)
	}
	if rolled.StatusHistory.Len() != 4 {
		t.Fatalf("rollback must append, history length %d", rolled.StatusHistory.Len())
	}
	if rolled.StatusHistory.At(2).Status != domain.OrderStatusInDelivery {
		t.Fatalf("erroneous entry must be preserved")
	}

	if _, _, err := TransitionStatus(rolled, domain.OrderStatusInDelivery, "staff_1", TransitionOptions{EntryID: "sth_4", At: testNow, IsRollback: true}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("rolling back a rollback must fail, got %v", err)
	}
}

func TestTransitionKeepsHistoryMonotonic(t *testing.T) {
	order := thousandYenOrder()
	earlier := testNow.Add(-time.Hour)
	next, entry, err := TransitionStatus(order, domain.OrderStatusProcessing, "staff_1", TransitionOptions{EntryID: "sth_1", At: earlier})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if entry.ChangedAt.Before(order.StatusHistory.At(0).ChangedAt) {
		t.Fatalf("entry time went backwards: %s", entry.ChangedAt)
	}
	if next.Status() != domain.OrderStatusProcessing {
		t.Fatalf("unexpected status %s", next.Status())
	}
}
