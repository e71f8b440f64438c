package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hanko-field/order-engine/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if got := sc.TraceID().String(); got != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("trace id = %s", got)
	}
	if got := sc.SpanID().String(); got != "0000000000000001" {
		t.Fatalf("span id = %s", got)
	}
	if !sc.IsSampled() {
		t.Fatalf("expected sampled flag")
	}

	for _, bad := range []string{"", "abc/1", "105445aa7843bc8bf206b12000100000/x", "105445aa7843bc8bf206b12000100000/0"} {
		if _, ok := parseCloudTraceContext(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestTraceMiddlewareStoresTraceInfo(t *testing.T) {
	var info requestctx.TraceInfo
	handler := TraceMiddleware("proj")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Trace(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if info.ProjectID != "proj" {
		t.Fatalf("project id not propagated: %+v", info)
	}
}
