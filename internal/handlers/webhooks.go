package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/order-engine/internal/payments"
	"github.com/hanko-field/order-engine/internal/platform/auth"
	"github.com/hanko-field/order-engine/internal/platform/httpx"
	"github.com/hanko-field/order-engine/internal/platform/requestctx"
	"github.com/hanko-field/order-engine/internal/services"
)

const (
	maxWebhookBodySize    = 64 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// StripeEventParser verifies and normalises Stripe deliveries.
type StripeEventParser interface {
	Parse(payload []byte, signature string) (payments.WebhookEvent, bool, error)
}

type providerWebhookRequest struct {
	TransactionID     string `json:"transactionId"`
	Status            string `json:"status"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	ProviderReference string `json:"providerReference"`
}

// WebhookHandlers finalises online transactions from provider callbacks.
type WebhookHandlers struct {
	online services.OnlinePaymentService
	stripe StripeEventParser
	signer *auth.WebhookSigner
}

// WebhookOption customises WebhookHandlers.
type WebhookOption func(*WebhookHandlers)

// WithStripeParser enables POST /webhooks/payments/stripe.
func WithStripeParser(parser StripeEventParser) WebhookOption {
	return func(h *WebhookHandlers) {
		h.stripe = parser
	}
}

// WithWebhookSigner enables the HMAC-signed generic provider endpoint.
func WithWebhookSigner(signer *auth.WebhookSigner) WebhookOption {
	return func(h *WebhookHandlers) {
		h.signer = signer
	}
}

// NewWebhookHandlers constructs the provider callback endpoints.
func NewWebhookHandlers(online services.OnlinePaymentService, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{online: online}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.stripe != nil {
		r.Post("/payments/stripe", h.handleStripe)
	}
	if h.signer != nil {
		r.With(h.signer.RequireSignature(func(req *http.Request) string {
			return chi.URLParam(req, "provider")
		})).Post("/payments/{provider}", h.handleProvider)
	}
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.online == nil {
		writeServiceUnavailable(ctx, w, "online_payments")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		writeBadRequest(ctx, w, "failed to read body")
		return
	}
	event, ok, err := h.stripe.Parse(body, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
			return
		}
		writeBadRequest(ctx, w, err.Error())
		return
	}
	if !ok || strings.TrimSpace(event.TransactionID) == "" {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	status := services.WebhookStatusFailed
	if event.Status == payments.StatusSucceeded {
		status = services.WebhookStatusSucceeded
	}
	h.finalize(w, r, services.WebhookNotification{
		Provider:          event.Provider,
		TransactionID:     event.TransactionID,
		Status:            status,
		Amount:            event.Amount,
		Currency:          event.Currency,
		ProviderReference: event.Reference,
	})
}

func (h *WebhookHandlers) handleProvider(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.online == nil {
		writeServiceUnavailable(ctx, w, "online_payments")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		writeBadRequest(ctx, w, "failed to read body")
		return
	}
	var req providerWebhookRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&req); err != nil {
		writeBadRequest(ctx, w, "invalid webhook payload")
		return
	}
	status := services.WebhookStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if status != services.WebhookStatusSucceeded && status != services.WebhookStatusFailed {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}
	h.finalize(w, r, services.WebhookNotification{
		Provider:          chi.URLParam(r, "provider"),
		TransactionID:     req.TransactionID,
		Status:            status,
		Amount:            req.Amount,
		Currency:          req.Currency,
		ProviderReference: req.ProviderReference,
	})
}

// finalize acknowledges replays and unknown transactions with 200 so the
// provider stops retrying. Conflicts and outages are surfaced for a retry.
func (h *WebhookHandlers) finalize(w http.ResponseWriter, r *http.Request, n services.WebhookNotification) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx)

	result, err := h.online.HandleWebhook(ctx, n)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			logger.Warn("webhook: unknown transaction",
				zap.String("provider", n.Provider),
				zap.String("transactionId", n.TransactionID),
			)
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
			return
		}
		writeOrderError(ctx, w, err)
		return
	}

	payload := map[string]any{
		"status":  "ok",
		"outcome": result.Outcome,
		"orderId": result.Order.ID,
	}
	if result.Event != nil {
		payload["eventId"] = result.Event.EventID
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}
