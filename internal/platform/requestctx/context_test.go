package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerFallsBackToNop(t *testing.T) {
	if Logger(context.Background()) == nil {
		t.Fatalf("expected nop logger")
	}
	logger := zap.NewExample()
	ctx := WithLogger(context.Background(), logger)
	if Logger(ctx) != logger {
		t.Fatalf("expected stored logger")
	}
}

func TestTraceAndActor(t *testing.T) {
	ctx := WithTrace(context.Background(), TraceInfo{TraceID: "abc", Sampled: true})
	ctx = WithActor(ctx, "staff_1")
	if got := TraceID(ctx); got != "abc" {
		t.Fatalf("trace id = %q", got)
	}
	if got := Actor(ctx); got != "staff_1" {
		t.Fatalf("actor = %q", got)
	}
	if got := Actor(context.Background()); got != "" {
		t.Fatalf("expected empty actor, got %q", got)
	}
}
