package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	domain "github.com/hanko-field/order-engine/internal/domain"
	"github.com/hanko-field/order-engine/internal/repositories"
	"github.com/hanko-field/order-engine/internal/services"
)

func TestAdminOrderHandlersRejectCustomers(t *testing.T) {
	handler := NewAdminOrderHandlers(nil, &stubOrderService{})
	router := mountRoutes(customerIdentity("c1"), handler.Routes)

	rr := doJSON(t, router, http.MethodGet, "/orders/ord_1", nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestAdminOrderHandlersRequireIdentity(t *testing.T) {
	handler := NewAdminOrderHandlers(nil, &stubOrderService{})
	router := mountRoutes(nil, handler.Routes)

	rr := doJSON(t, router, http.MethodPost, "/orders/ord_1/payments", map[string]any{"method": "cash", "amount": 100})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestAdminOrderHandlersApplyPayment(t *testing.T) {
	var captured services.ApplyPaymentCommand
	svc := &stubOrderService{
		paymentFn: func(_ context.Context, cmd services.ApplyPaymentCommand) (services.LedgerResult, error) {
			captured = cmd
			order := testOrder(cmd.OrderID, "c1", domain.OrderStatusConfirmed)
			event := domain.LedgerEvent{
				EventID:   "evt_1",
				Event:     domain.LedgerEventPayment,
				Action:    domain.LedgerAction{Method: cmd.Method, Amount: cmd.Amount},
				ChangedBy: cmd.ActorID,
				ChangedAt: testNow,
			}
			order.Financials.EventHistory.Append(event)
			order.RecomputeFinancials()
			return services.LedgerResult{Order: order, Event: event}, nil
		},
	}
	router := mountRoutes(staffIdentity(), NewAdminOrderHandlers(nil, svc).Routes)

	rr := doJSON(t, router, http.MethodPost, "/orders/ord_1/payments", map[string]any{
		"method":            "cash",
		"amount":            1000,
		"externalReference": "till-7",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.Amount != 1000 || captured.Method != domain.PaymentMethodCash {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.ActorID != "staff:s1" {
		t.Fatalf("expected staff actor, got %q", captured.ActorID)
	}
	body := decodeBody(t, rr)
	order := body["order"].(map[string]any)
	financials := order["financials"].(map[string]any)
	if financials["state"] != string(domain.FinancialStatePaid) {
		t.Fatalf("expected paid state, got %v", financials["state"])
	}
	if order["status"] != string(domain.OrderStatusConfirmed) {
		t.Fatalf("expected derived status in payload, got %v", order["status"])
	}
	event := body["event"].(map[string]any)
	if event["eventId"] != "evt_1" {
		t.Fatalf("expected event evt_1, got %v", event["eventId"])
	}
}

func TestAdminOrderHandlersRejectUnknownFields(t *testing.T) {
	router := mountRoutes(staffIdentity(), NewAdminOrderHandlers(nil, &stubOrderService{}).Routes)

	rr := doJSON(t, router, http.MethodPost, "/orders/ord_1/payments", map[string]any{"amount": 10, "surprise": true})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAdminOrderHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid transition", fmt.Errorf("%w: confirmed -> completed", services.ErrInvalidTransition), http.StatusConflict, "invalid_transition"},
		{"finalized", services.ErrOrderFinalized, http.StatusConflict, "order_finalized"},
		{"missing reason", services.ErrMissingReason, http.StatusBadRequest, "missing_reason"},
		{"not found", services.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
		{"conflict", services.ErrConcurrentModification, http.StatusConflict, "concurrent_modification"},
		{"unavailable", services.ErrOrderUnavailable, http.StatusServiceUnavailable, "order_store_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{
				transitionFn: func(context.Context, services.TransitionStatusCommand) (services.TransitionResult, error) {
					return services.TransitionResult{}, tc.err
				},
			}
			router := mountRoutes(staffIdentity(), NewAdminOrderHandlers(nil, svc).Routes)

			rr := doJSON(t, router, http.MethodPost, "/orders/ord_1/status", map[string]any{"status": "completed"})
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if body := decodeBody(t, rr); body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestAdminOrderHandlersTransitionRejectsUnknownStatus(t *testing.T) {
	called := false
	svc := &stubOrderService{
		transitionFn: func(context.Context, services.TransitionStatusCommand) (services.TransitionResult, error) {
			called = true
			return services.TransitionResult{}, nil
		},
	}
	router := mountRoutes(staffIdentity(), NewAdminOrderHandlers(nil, svc).Routes)

	rr := doJSON(t, router, http.MethodPost, "/orders/ord_1/status", map[string]any{"status": "shipped"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if called {
		t.Fatalf("service must not be called for unknown status")
	}
}

func TestAdminOrderHandlersEditItemsBelowMinimum(t *testing.T) {
	svc := &stubOrderService{
		itemsFn: func(context.Context, services.EditItemsCommand) (services.ItemEditResult, error) {
			return services.ItemEditResult{}, &services.ItemEditRejectedError{
				Reason:      services.ErrBelowMinimumOrderAmount,
				Adjustments: []services.ItemAdjustment{{ProductID: "p1", Kind: services.AdjustmentQuantityReduced, Old: 5, Corrected: 3}},
				Totals:      domain.Totals{SubtotalAmount: 400, TotalAmount: 400},
			}
		},
	}
	router := mountRoutes(staffIdentity(), NewAdminOrderHandlers(nil, svc).Routes)

	rr := doJSON(t, router, http.MethodPost, "/orders/ord_1/items", map[string]any{"quantities": map[string]int{"p1": 5}})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error"] != "below_minimum_order_amount" {
		t.Fatalf("unexpected code %v", body["error"])
	}
	if body["outcome"] != string(services.ReconciliationLimitation) {
		t.Fatalf("expected LIMITATION outcome, got %v", body["outcome"])
	}
	adjustments, ok := body["adjustments"].([]any)
	if !ok || len(adjustments) != 1 {
		t.Fatalf("expected one adjustment, got %v", body["adjustments"])
	}
	totals := body["totals"].(map[string]any)
	if totals["totalAmount"] != float64(400) {
		t.Fatalf("expected proposed totals, got %v", totals)
	}
}

func TestAdminOrderHandlersEditItemsModified(t *testing.T) {
	svc := &stubOrderService{
		itemsFn: func(_ context.Context, cmd services.EditItemsCommand) (services.ItemEditResult, error) {
			if cmd.Quantities["p1"] != 5 || cmd.Reason != "customer call" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return services.ItemEditResult{
				Order:       testOrder(cmd.OrderID, "c1", domain.OrderStatusConfirmed),
				Outcome:     services.ReconciliationModified,
				Adjustments: []services.ItemAdjustment{{ProductID: "p1", Kind: services.AdjustmentQuantityReduced, Old: 5, Corrected: 3}},
			}, nil
		},
	}
	router := mountRoutes(staffIdentity(), NewAdminOrderHandlers(nil, svc).Routes)

	rr := doJSON(t, router, http.MethodPost, "/orders/ord_1/items", map[string]any{
		"quantities": map[string]int{"p1": 5},
		"reason":     "customer call",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["notice"] != "stock_adjusted" || body["outcome"] != string(services.ReconciliationModified) {
		t.Fatalf("unexpected payload %v", body)
	}
}

func TestAdminOrderHandlersVoidWithoutBody(t *testing.T) {
	var captured services.VoidEventCommand
	svc := &stubOrderService{
		voidFn: func(_ context.Context, cmd services.VoidEventCommand) (services.LedgerResult, error) {
			captured = cmd
			return services.LedgerResult{Order: testOrder(cmd.OrderID, "c1", domain.OrderStatusConfirmed)}, nil
		},
	}
	router := mountRoutes(staffIdentity(), NewAdminOrderHandlers(nil, svc).Routes)

	rr := doJSON(t, router, http.MethodPost, "/orders/ord_1/events/evt_9:void", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.EventID != "evt_9" {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestAdminOrderHandlersListFilters(t *testing.T) {
	var captured repositories.OrderListFilter
	svc := &stubOrderService{
		listFn: func(_ context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
			captured = filter
			return []domain.Order{testOrder("ord_1", "c1", domain.OrderStatusProcessing)}, nil
		},
	}
	router := mountRoutes(staffIdentity(), NewAdminOrderHandlers(nil, svc).Routes)

	rr := doJSON(t, router, http.MethodGet, "/orders?status=processing,confirmed&status=processing&limit=500&customerId=c1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(captured.Statuses) != 2 || captured.Statuses[0] != domain.OrderStatusProcessing {
		t.Fatalf("unexpected statuses %v", captured.Statuses)
	}
	if captured.Limit != maxAdminOrderListLimit || captured.CustomerID != "c1" {
		t.Fatalf("unexpected filter %+v", captured)
	}
	items := decodeBody(t, rr)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one order, got %d", len(items))
	}

	rr = doJSON(t, router, http.MethodGet, "/orders?status=shipped", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}
}

func TestAdminOrderHandlersRegisterOrder(t *testing.T) {
	svc := &stubOrderService{
		registerFn: func(_ context.Context, cmd services.RegisterOrderCommand) (domain.Order, error) {
			if cmd.CustomerID != "c1" || len(cmd.Items) != 1 || cmd.ActorID != "staff:s1" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return testOrder("ord_new", cmd.CustomerID, domain.OrderStatusConfirmed), nil
		},
	}
	router := mountRoutes(staffIdentity(), NewAdminOrderHandlers(nil, svc).Routes)

	rr := doJSON(t, router, http.MethodPost, "/orders", map[string]any{
		"customerId": "c1",
		"currency":   "JPY",
		"customer":   map[string]any{"name": "Aiko", "email": "aiko@example.com"},
		"delivery":   map[string]any{"method": "pickup"},
		"items": []map[string]any{
			{"productId": "p1", "sku": "sku-1", "name": "Tea", "quantity": 2, "unitPrice": 500},
		},
		"defaultPaymentMethod": "cash",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/api/v1/admin/orders/ord_new" {
		t.Fatalf("unexpected location %q", loc)
	}
}

func TestAdminOrderHandlersOnlineRefund(t *testing.T) {
	online := &stubOnlinePayments{
		startRefundFn: func(_ context.Context, cmd services.StartOnlineRefundCommand) (services.OnlineTransactionResult, error) {
			if cmd.OriginalPaymentID != "evt_1" || cmd.Amount != 300 {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return services.OnlineTransactionResult{
				Order:       testOrder(cmd.OrderID, "c1", domain.OrderStatusProcessing),
				Transaction: domain.OnlineTransaction{ID: "otx_1", Kind: domain.LedgerEventRefund, Status: domain.OnlineTransactionProcessing},
			}, nil
		},
	}
	router := mountRoutes(staffIdentity(), NewAdminOrderHandlers(nil, &stubOrderService{}, WithOnlinePayments(online)).Routes)

	rr := doJSON(t, router, http.MethodPost, "/orders/ord_1/online-refunds", map[string]any{"amount": 300, "originalPaymentId": "evt_1"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if _, ok := body["clientSecret"]; ok {
		t.Fatalf("refunds carry no client secret")
	}
	if tx := body["transaction"].(map[string]any); tx["id"] != "otx_1" {
		t.Fatalf("unexpected transaction %v", tx)
	}
}

func TestAdminOrderHandlersOnlinePaymentsDisabled(t *testing.T) {
	router := mountRoutes(staffIdentity(), NewAdminOrderHandlers(nil, &stubOrderService{}).Routes)

	rr := doJSON(t, router, http.MethodPost, "/orders/ord_1/online-payments", map[string]any{"amount": 300})
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
