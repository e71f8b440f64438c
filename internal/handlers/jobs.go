package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/order-engine/internal/platform/auth"
	"github.com/hanko-field/order-engine/internal/platform/httpx"
	"github.com/hanko-field/order-engine/internal/platform/requestctx"
	"github.com/hanko-field/order-engine/internal/services"
)

// JobHandlers exposes scheduler triggered maintenance jobs. Callers are
// authenticated by the OIDC middleware mounted on the /internal group.
type JobHandlers struct {
	online services.OnlinePaymentService
}

// NewJobHandlers constructs the internal job endpoints.
func NewJobHandlers(online services.OnlinePaymentService) *JobHandlers {
	return &JobHandlers{online: online}
}

// Routes registers the /internal endpoints.
func (h *JobHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/jobs/online-transactions:sweep", h.sweepOnlineTransactions)
}

func (h *JobHandlers) sweepOnlineTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.online == nil {
		writeServiceUnavailable(ctx, w, "online_payments")
		return
	}
	result, err := h.online.SweepExpired(ctx)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	fields := []zap.Field{
		zap.Int("scanned", result.Scanned),
		zap.Int("cleared", result.Cleared),
		zap.Int("failed", result.Failed),
	}
	if caller, ok := auth.ServiceIdentityFromContext(ctx); ok {
		fields = append(fields, zap.String("caller", caller.Email))
	}
	requestctx.Logger(ctx).Info("online transaction sweep", fields...)

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"scanned": result.Scanned,
		"cleared": result.Cleared,
		"failed":  result.Failed,
		"cutoff":  result.Cutoff,
	})
}
