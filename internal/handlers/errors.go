package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/hanko-field/order-engine/internal/platform/httpx"
	"github.com/hanko-field/order-engine/internal/services"
)

const maxCommandBodySize = 64 * 1024

var errEmptyBody = errors.New("request body is required")

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var rejected *services.ItemEditRejectedError
	if errors.As(err, &rejected) {
		status := http.StatusUnprocessableEntity
		code := "below_minimum_order_amount"
		if errors.Is(rejected.Reason, services.ErrOrderInvalidInput) {
			status = http.StatusBadRequest
			code = "invalid_items"
		}
		httpx.WriteError(ctx, w, httpx.NewError(code, rejected.Error(), status).WithDetails(map[string]any{
			"outcome":     rejectionOutcome(rejected),
			"adjustments": rejected.Adjustments,
			"totals":      rejected.Totals,
			"fieldErrors": rejected.FieldErrors,
		}))
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrMissingReason):
		httpx.WriteError(ctx, w, httpx.NewError("missing_reason", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrEventNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("event_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderFinalized):
		httpx.WriteError(ctx, w, httpx.NewError("order_finalized", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrAlreadyVoided):
		httpx.WriteError(ctx, w, httpx.NewError("already_voided", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrEventSuperseded):
		httpx.WriteError(ctx, w, httpx.NewError("event_superseded", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOnlineTransactionInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("online_transaction_in_progress", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrConcurrentModification):
		httpx.WriteError(ctx, w, httpx.NewError("concurrent_modification", "order is being modified; retry later", http.StatusConflict))
	case errors.Is(err, services.ErrInvalidAmount):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_amount", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPaymentProvider):
		httpx.WriteError(ctx, w, httpx.NewError("payment_provider_error", "payment provider request failed", http.StatusBadGateway))
	case errors.Is(err, services.ErrOrderUnavailable), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("order_store_unavailable", "order store unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func rejectionOutcome(rejected *services.ItemEditRejectedError) services.ReconciliationOutcome {
	if errors.Is(rejected.Reason, services.ErrBelowMinimumOrderAmount) {
		return services.ReconciliationLimitation
	}
	return services.ReconciliationInvalid
}

// decodeJSONBody reads a bounded JSON body into dst and rejects unknown fields.
func decodeJSONBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxCommandBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func writeBadRequest(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
}

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_unavailable", strings.ReplaceAll(name, "_", " ")+" unavailable", http.StatusServiceUnavailable))
}
