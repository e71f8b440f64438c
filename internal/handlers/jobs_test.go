package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/hanko-field/order-engine/internal/services"
)

func TestJobHandlersSweep(t *testing.T) {
	online := &stubOnlinePayments{
		sweepFn: func(context.Context) (services.SweepResult, error) {
			return services.SweepResult{Scanned: 3, Cleared: 2, Failed: 1, Cutoff: testNow}, nil
		},
	}
	router := mountRoutes(nil, NewJobHandlers(online).Routes)

	rr := doJSON(t, router, http.MethodPost, "/jobs/online-transactions:sweep", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["scanned"] != float64(3) || body["cleared"] != float64(2) || body["failed"] != float64(1) {
		t.Fatalf("unexpected payload %v", body)
	}
}

func TestJobHandlersSweepUnavailable(t *testing.T) {
	online := &stubOnlinePayments{
		sweepFn: func(context.Context) (services.SweepResult, error) {
			return services.SweepResult{}, services.ErrOrderUnavailable
		},
	}
	router := mountRoutes(nil, NewJobHandlers(online).Routes)

	rr := doJSON(t, router, http.MethodPost, "/jobs/online-transactions:sweep", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
