package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hanko-field/order-engine/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("below_minimum_order_amount", "total below\nminimum", http.StatusUnprocessableEntity).
		WithDetails(map[string]any{"status": "ignored", "adjustments": []string{"a"}}))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "below_minimum_order_amount" {
		t.Fatalf("error code = %v", body["error"])
	}
	if body["message"] != "total below minimum" {
		t.Fatalf("message = %v", body["message"])
	}
	if body["status"] != float64(http.StatusUnprocessableEntity) {
		t.Fatalf("status field overwritten: %v", body["status"])
	}
	if body["trace_id"] != "trace-1" {
		t.Fatalf("trace id = %v", body["trace_id"])
	}
	if _, ok := body["adjustments"]; !ok {
		t.Fatalf("expected details to be merged")
	}
}
