package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/order-engine/internal/domain"
	"github.com/hanko-field/order-engine/internal/platform/auth"
	"github.com/hanko-field/order-engine/internal/platform/httpx"
	"github.com/hanko-field/order-engine/internal/platform/storage"
	"github.com/hanko-field/order-engine/internal/realtime"
	"github.com/hanko-field/order-engine/internal/repositories"
	"github.com/hanko-field/order-engine/internal/services"
)

const defaultCustomerOrderLimit = 20

type customerOnlinePaymentRequest struct {
	Amount int64 `json:"amount"`
}

// OrderHandlers exposes the orders of the authenticated customer, their
// patch stream and the online checkout of the outstanding balance.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
	cfg    orderHandlerConfig
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
		cfg:    newOrderHandlerConfig(opts),
	}
}

// Routes registers the /me/orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireRoles())
	}
	r.Get("/orders/{orderID}/stream", h.streamOrder)
	h.cfg.commandGroup(r, func(cmd chi.Router) {
		cmd.Get("/orders", h.listOrders)
		cmd.Get("/orders/{orderID}", h.getOrder)
		cmd.Get("/orders/{orderID}/archive", h.archiveLink)
		cmd.Post("/orders/{orderID}/online-payments", h.startOnlinePayment)
	})
}

func (h *OrderHandlers) caller(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order_service")
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// ownedOrder loads the order and hides it from anyone but its customer.
func (h *OrderHandlers) ownedOrder(w http.ResponseWriter, r *http.Request, identity *auth.Identity) (domain.Order, bool) {
	ctx := r.Context()
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeBadRequest(ctx, w, "order id is required")
		return domain.Order{}, false
	}
	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return domain.Order{}, false
	}
	if order.CustomerID != strings.TrimSpace(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return domain.Order{}, false
	}
	return order, true
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.caller(w, r)
	if !ok {
		return
	}
	limit := defaultCustomerOrderLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(ctx, w, "limit must be an integer")
			return
		}
		if parsed > 0 && parsed < maxAdminOrderListLimit {
			limit = parsed
		}
	}
	orders, err := h.orders.ListOrders(ctx, repositories.OrderListFilter{
		CustomerID: strings.TrimSpace(identity.UID),
		Limit:      limit,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": orders})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.caller(w, r)
	if !ok {
		return
	}
	order, ok := h.ownedOrder(w, r, identity)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (h *OrderHandlers) startOnlinePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.caller(w, r)
	if !ok {
		return
	}
	if h.cfg.online == nil {
		writeServiceUnavailable(ctx, w, "online_payments")
		return
	}
	var req customerOnlinePaymentRequest
	if err := decodeJSONBody(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	order, ok := h.ownedOrder(w, r, identity)
	if !ok {
		return
	}
	amount := req.Amount
	if amount == 0 {
		amount = order.Totals.TotalAmount - order.Financials.NetPaid()
	}
	result, err := h.cfg.online.StartOnlinePayment(ctx, services.StartOnlinePaymentCommand{
		OrderID: order.ID,
		Amount:  amount,
		ActorID: identity.ActorID(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeOnlineTransaction(w, result)
}

func (h *OrderHandlers) archiveLink(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.caller(w, r)
	if !ok {
		return
	}
	serveArchiveLink(w, r, h.orders, h.cfg.archive, identity)
}

func (h *OrderHandlers) streamOrder(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.caller(w, r)
	if !ok {
		return
	}
	order, ok := h.ownedOrder(w, r, identity)
	if !ok {
		return
	}
	h.cfg.streams.Serve(w, r, realtime.OrderTopic(order.ID))
}

// serveArchiveLink returns a signed URL for the snapshot written when the
// order reached a final status. The version query parameter is required.
func serveArchiveLink(w http.ResponseWriter, r *http.Request, orders services.OrderService, linker ArchiveLinker, identity *auth.Identity) {
	ctx := r.Context()
	if linker == nil {
		writeServiceUnavailable(ctx, w, "archive")
		return
	}
	version, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("version")), 10, 64)
	if err != nil || version <= 0 {
		writeBadRequest(ctx, w, "version must be a positive integer")
		return
	}
	var expiresIn time.Duration
	if raw := strings.TrimSpace(r.URL.Query().Get("expiresIn")); raw != "" {
		expiresIn, err = time.ParseDuration(raw)
		if err != nil {
			writeBadRequest(ctx, w, "expiresIn must be a duration")
			return
		}
	}

	order, err := orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if err := storage.AuthorizeArchiveDownload(identity, order.CustomerID); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}
	if !order.Status().IsFinal() || version > order.Version {
		httpx.WriteError(ctx, w, httpx.NewError("archive_not_found", "no archive for this order version", http.StatusNotFound))
		return
	}

	link, err := linker.SignedDownloadURL(order.ID, version, expiresIn)
	if err != nil {
		if errors.Is(err, storage.ErrExpiryTooLong) {
			writeBadRequest(ctx, w, err.Error())
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("archive_link_failed", "failed to sign archive link", http.StatusInternalServerError))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, link)
}
