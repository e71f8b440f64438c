package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/order-engine/internal/domain"
	"github.com/hanko-field/order-engine/internal/platform/auth"
	"github.com/hanko-field/order-engine/internal/repositories"
	"github.com/hanko-field/order-engine/internal/services"
)

var errNotStubbed = errors.New("not implemented")

type stubOrderService struct {
	registerFn   func(context.Context, services.RegisterOrderCommand) (domain.Order, error)
	getFn        func(context.Context, string) (domain.Order, error)
	listFn       func(context.Context, repositories.OrderListFilter) ([]domain.Order, error)
	transitionFn func(context.Context, services.TransitionStatusCommand) (services.TransitionResult, error)
	paymentFn    func(context.Context, services.ApplyPaymentCommand) (services.LedgerResult, error)
	refundFn     func(context.Context, services.ApplyRefundCommand) (services.LedgerResult, error)
	voidFn       func(context.Context, services.VoidEventCommand) (services.LedgerResult, error)
	itemsFn      func(context.Context, services.EditItemsCommand) (services.ItemEditResult, error)
	detailsFn    func(context.Context, services.EditDetailsCommand) (domain.Order, error)
}

func (s *stubOrderService) RegisterOrder(ctx context.Context, cmd services.RegisterOrderCommand) (domain.Order, error) {
	if s.registerFn != nil {
		return s.registerFn(ctx, cmd)
	}
	return domain.Order{}, errNotStubbed
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return domain.Order{}, errNotStubbed
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return nil, nil
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.TransitionStatusCommand) (services.TransitionResult, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.TransitionResult{}, errNotStubbed
}

func (s *stubOrderService) ApplyPayment(ctx context.Context, cmd services.ApplyPaymentCommand) (services.LedgerResult, error) {
	if s.paymentFn != nil {
		return s.paymentFn(ctx, cmd)
	}
	return services.LedgerResult{}, errNotStubbed
}

func (s *stubOrderService) ApplyRefund(ctx context.Context, cmd services.ApplyRefundCommand) (services.LedgerResult, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx, cmd)
	}
	return services.LedgerResult{}, errNotStubbed
}

func (s *stubOrderService) VoidEvent(ctx context.Context, cmd services.VoidEventCommand) (services.LedgerResult, error) {
	if s.voidFn != nil {
		return s.voidFn(ctx, cmd)
	}
	return services.LedgerResult{}, errNotStubbed
}

func (s *stubOrderService) EditItems(ctx context.Context, cmd services.EditItemsCommand) (services.ItemEditResult, error) {
	if s.itemsFn != nil {
		return s.itemsFn(ctx, cmd)
	}
	return services.ItemEditResult{}, errNotStubbed
}

func (s *stubOrderService) EditDetails(ctx context.Context, cmd services.EditDetailsCommand) (domain.Order, error) {
	if s.detailsFn != nil {
		return s.detailsFn(ctx, cmd)
	}
	return domain.Order{}, errNotStubbed
}

type stubOnlinePayments struct {
	startPaymentFn func(context.Context, services.StartOnlinePaymentCommand) (services.OnlineTransactionResult, error)
	startRefundFn  func(context.Context, services.StartOnlineRefundCommand) (services.OnlineTransactionResult, error)
	webhookFn      func(context.Context, services.WebhookNotification) (services.WebhookResult, error)
	sweepFn        func(context.Context) (services.SweepResult, error)
}

func (s *stubOnlinePayments) StartOnlinePayment(ctx context.Context, cmd services.StartOnlinePaymentCommand) (services.OnlineTransactionResult, error) {
	if s.startPaymentFn != nil {
		return s.startPaymentFn(ctx, cmd)
	}
	return services.OnlineTransactionResult{}, errNotStubbed
}

func (s *stubOnlinePayments) StartOnlineRefund(ctx context.Context, cmd services.StartOnlineRefundCommand) (services.OnlineTransactionResult, error) {
	if s.startRefundFn != nil {
		return s.startRefundFn(ctx, cmd)
	}
	return services.OnlineTransactionResult{}, errNotStubbed
}

func (s *stubOnlinePayments) HandleWebhook(ctx context.Context, n services.WebhookNotification) (services.WebhookResult, error) {
	if s.webhookFn != nil {
		return s.webhookFn(ctx, n)
	}
	return services.WebhookResult{}, errNotStubbed
}

func (s *stubOnlinePayments) SweepExpired(ctx context.Context) (services.SweepResult, error) {
	if s.sweepFn != nil {
		return s.sweepFn(ctx)
	}
	return services.SweepResult{}, errNotStubbed
}

var testNow = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func testOrder(id, customerID string, status domain.OrderStatus) domain.Order {
	return domain.Order{
		ID:          id,
		OrderNumber: "ORD-20261019-1",
		CustomerID:  customerID,
		Currency:    "JPY",
		Items: []domain.OrderItem{
			{ProductID: "p1", SKU: "sku-1", Name: "Tea", Quantity: 2, UnitPrice: 500, TotalPrice: 1000},
		},
		Totals:        domain.Totals{SubtotalAmount: 1000, TotalAmount: 1000},
		StatusHistory: domain.NewStatusHistory(domain.StatusEntry{ID: "sth_1", Status: status, ChangedAt: testNow, ChangedBy: "staff:s1"}),
		Financials:    domain.Financials{State: domain.FinancialStateUnpaid, DefaultPaymentMethod: domain.PaymentMethodCash},
		Version:       3,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
}

// withIdentity injects identity the way the Firebase middleware would.
func withIdentity(identity *auth.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}

func staffIdentity() *auth.Identity {
	return &auth.Identity{UID: "s1", Roles: []string{auth.RoleStaff}}
}

func customerIdentity(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Roles: []string{auth.RoleCustomer}}
}

func mountRoutes(identity *auth.Identity, routes func(chi.Router)) chi.Router {
	router := chi.NewRouter()
	if identity != nil {
		router.Use(withIdentity(identity))
	}
	routes(router)
	return router
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return body
}
