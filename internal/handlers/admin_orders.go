package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/order-engine/internal/domain"
	"github.com/hanko-field/order-engine/internal/platform/auth"
	"github.com/hanko-field/order-engine/internal/platform/httpx"
	"github.com/hanko-field/order-engine/internal/realtime"
	"github.com/hanko-field/order-engine/internal/repositories"
	"github.com/hanko-field/order-engine/internal/services"
)

const maxAdminOrderListLimit = 200

type registerOrderRequest struct {
	OrderID              string               `json:"orderId"`
	CustomerID           string               `json:"customerId"`
	Currency             string               `json:"currency"`
	Customer             domain.CustomerInfo  `json:"customer"`
	Delivery             domain.DeliveryInfo  `json:"delivery"`
	Items                []domain.OrderItem   `json:"items"`
	DefaultPaymentMethod domain.PaymentMethod `json:"defaultPaymentMethod"`
}

type transitionStatusRequest struct {
	Status             string               `json:"status"`
	IsRollback         bool                 `json:"isRollback"`
	CancellationReason string               `json:"cancellationReason"`
	Changes            []domain.FieldChange `json:"changes"`
}

type paymentRequest struct {
	Method            domain.PaymentMethod `json:"method"`
	Amount            int64                `json:"amount"`
	ExternalReference string               `json:"externalReference"`
}

type refundRequest struct {
	Method            domain.PaymentMethod `json:"method"`
	Amount            int64                `json:"amount"`
	OriginalPaymentID string               `json:"originalPaymentId"`
	ExternalReference string               `json:"externalReference"`
}

type voidRequest struct {
	Note string `json:"note"`
}

type editItemsRequest struct {
	Quantities map[string]int `json:"quantities"`
	Reason     string         `json:"reason"`
}

type editDetailsRequest struct {
	Customer             *domain.CustomerInfo  `json:"customer"`
	Delivery             *domain.DeliveryInfo  `json:"delivery"`
	DefaultPaymentMethod *domain.PaymentMethod `json:"defaultPaymentMethod"`
	Reason               string                `json:"reason"`
}

type onlinePaymentRequest struct {
	Amount   int64  `json:"amount"`
	Provider string `json:"provider"`
}

type onlineRefundRequest struct {
	Amount            int64  `json:"amount"`
	OriginalPaymentID string `json:"originalPaymentId"`
}

// AdminOrderHandlers exposes the management command surface and the
// management-wide patch stream to staff.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
	cfg    orderHandlerConfig
}

// NewAdminOrderHandlers constructs the management order endpoints.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:  authn,
		orders: orders,
		cfg:    newOrderHandlerConfig(opts),
	}
}

// Routes registers the /admin endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireRoles(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Get("/orders/stream", h.streamOrders)
	h.cfg.commandGroup(r, func(cmd chi.Router) {
		cmd.Get("/orders", h.listOrders)
		cmd.Post("/orders", h.registerOrder)
		cmd.Get("/orders/{orderID}", h.getOrder)
		cmd.Get("/orders/{orderID}/archive", h.archiveLink)
		cmd.Post("/orders/{orderID}/status", h.transitionStatus)
		cmd.Post("/orders/{orderID}/payments", h.applyPayment)
		cmd.Post("/orders/{orderID}/refunds", h.applyRefund)
		cmd.Post("/orders/{orderID}/events/{eventID}:void", h.voidEvent)
		cmd.Post("/orders/{orderID}/items", h.editItems)
		cmd.Post("/orders/{orderID}/details", h.editDetails)
		cmd.Post("/orders/{orderID}/online-payments", h.startOnlinePayment)
		cmd.Post("/orders/{orderID}/online-refunds", h.startOnlineRefund)
	})
}

func (h *AdminOrderHandlers) staff(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
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
	if !identity.IsStaff() {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "staff role required", http.StatusForbidden))
		return nil, false
	}
	return identity, true
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.staff(w, r); !ok {
		return
	}

	query := r.URL.Query()
	filter := repositories.OrderListFilter{CustomerID: strings.TrimSpace(query.Get("customerId"))}
	for _, raw := range parseFilterValues(query["status"]) {
		status := domain.OrderStatus(raw)
		if !status.Valid() {
			writeBadRequest(ctx, w, "unknown status "+raw)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(ctx, w, "limit must be an integer")
			return
		}
		if limit > maxAdminOrderListLimit {
			limit = maxAdminOrderListLimit
		}
		filter.Limit = limit
	}

	orders, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": orders})
}

func (h *AdminOrderHandlers) registerOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.staff(w, r)
	if !ok {
		return
	}
	var req registerOrderRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	order, err := h.orders.RegisterOrder(ctx, services.RegisterOrderCommand{
		OrderID:              req.OrderID,
		CustomerID:           req.CustomerID,
		Currency:             req.Currency,
		Customer:             req.Customer,
		Delivery:             req.Delivery,
		Items:                req.Items,
		DefaultPaymentMethod: req.DefaultPaymentMethod,
		ActorID:              identity.ActorID(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/admin/orders/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"order": order})
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.staff(w, r); !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (h *AdminOrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.staff(w, r)
	if !ok {
		return
	}
	var req transitionStatusRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !target.Valid() {
		writeBadRequest(ctx, w, "status is invalid")
		return
	}
	result, err := h.orders.TransitionStatus(ctx, services.TransitionStatusCommand{
		OrderID:            chi.URLParam(r, "orderID"),
		TargetStatus:       target,
		ActorID:            identity.ActorID(),
		IsRollback:         req.IsRollback,
		CancellationReason: req.CancellationReason,
		Changes:            req.Changes,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": result.Order, "entry": result.Entry})
}

func (h *AdminOrderHandlers) applyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.staff(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	result, err := h.orders.ApplyPayment(ctx, services.ApplyPaymentCommand{
		OrderID:           chi.URLParam(r, "orderID"),
		Method:            req.Method,
		Amount:            req.Amount,
		ExternalReference: req.ExternalReference,
		ActorID:           identity.ActorID(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"order": result.Order, "event": result.Event})
}

func (h *AdminOrderHandlers) applyRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.staff(w, r)
	if !ok {
		return
	}
	var req refundRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	result, err := h.orders.ApplyRefund(ctx, services.ApplyRefundCommand{
		OrderID:           chi.URLParam(r, "orderID"),
		Method:            req.Method,
		Amount:            req.Amount,
		OriginalPaymentID: req.OriginalPaymentID,
		ExternalReference: req.ExternalReference,
		ActorID:           identity.ActorID(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"order": result.Order, "event": result.Event})
}

func (h *AdminOrderHandlers) voidEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.staff(w, r)
	if !ok {
		return
	}
	var req voidRequest
	if err := decodeJSONBody(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	result, err := h.orders.VoidEvent(ctx, services.VoidEventCommand{
		OrderID: chi.URLParam(r, "orderID"),
		EventID: chi.URLParam(r, "eventID"),
		Note:    req.Note,
		ActorID: identity.ActorID(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": result.Order, "event": result.Event})
}

func (h *AdminOrderHandlers) editItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.staff(w, r)
	if !ok {
		return
	}
	var req editItemsRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	if len(req.Quantities) == 0 {
		writeBadRequest(ctx, w, "quantities are required")
		return
	}
	result, err := h.orders.EditItems(ctx, services.EditItemsCommand{
		OrderID:    chi.URLParam(r, "orderID"),
		Quantities: req.Quantities,
		Reason:     req.Reason,
		ActorID:    identity.ActorID(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	payload := map[string]any{
		"order":       result.Order,
		"outcome":     result.Outcome,
		"adjustments": result.Adjustments,
	}
	if result.Outcome == services.ReconciliationModified {
		payload["notice"] = "stock_adjusted"
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *AdminOrderHandlers) editDetails(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.staff(w, r)
	if !ok {
		return
	}
	var req editDetailsRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	if req.Customer == nil && req.Delivery == nil && req.DefaultPaymentMethod == nil {
		writeBadRequest(ctx, w, "at least one of customer, delivery or defaultPaymentMethod is required")
		return
	}
	order, err := h.orders.EditDetails(ctx, services.EditDetailsCommand{
		OrderID:              chi.URLParam(r, "orderID"),
		Customer:             req.Customer,
		Delivery:             req.Delivery,
		DefaultPaymentMethod: req.DefaultPaymentMethod,
		Reason:               req.Reason,
		ActorID:              identity.ActorID(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (h *AdminOrderHandlers) startOnlinePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.staff(w, r)
	if !ok {
		return
	}
	if h.cfg.online == nil {
		writeServiceUnavailable(ctx, w, "online_payments")
		return
	}
	var req onlinePaymentRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	result, err := h.cfg.online.StartOnlinePayment(ctx, services.StartOnlinePaymentCommand{
		OrderID:  chi.URLParam(r, "orderID"),
		Amount:   req.Amount,
		Provider: req.Provider,
		ActorID:  identity.ActorID(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeOnlineTransaction(w, result)
}

func (h *AdminOrderHandlers) startOnlineRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.staff(w, r)
	if !ok {
		return
	}
	if h.cfg.online == nil {
		writeServiceUnavailable(ctx, w, "online_payments")
		return
	}
	var req onlineRefundRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	result, err := h.cfg.online.StartOnlineRefund(ctx, services.StartOnlineRefundCommand{
		OrderID:           chi.URLParam(r, "orderID"),
		Amount:            req.Amount,
		OriginalPaymentID: req.OriginalPaymentID,
		ActorID:           identity.ActorID(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeOnlineTransaction(w, result)
}

func (h *AdminOrderHandlers) archiveLink(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.staff(w, r)
	if !ok {
		return
	}
	serveArchiveLink(w, r, h.orders, h.cfg.archive, identity)
}

func (h *AdminOrderHandlers) streamOrders(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.staff(w, r); !ok {
		return
	}
	h.cfg.streams.Serve(w, r, realtime.ManagementTopic)
}

func writeOnlineTransaction(w http.ResponseWriter, result services.OnlineTransactionResult) {
	payload := map[string]any{
		"order":       result.Order,
		"transaction": result.Transaction,
	}
	if result.ClientSecret != "" {
		payload["clientSecret"] = result.ClientSecret
	}
	httpx.WriteJSON(w, http.StatusAccepted, payload)
}

func parseFilterValues(values []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			if _, dup := seen[part]; dup {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}
	return out
}
