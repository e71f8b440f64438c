package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassification(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{codes.NotFound, true, false, false},
		{codes.Aborted, false, true, false},
		{codes.FailedPrecondition, false, true, false},
		{codes.Unavailable, false, false, true},
		{codes.DeadlineExceeded, false, false, true},
		{codes.PermissionDenied, false, false, false},
	}
	for _, tc := range cases {
		err := WrapError("orders.update", status.Error(tc.code, "boom"))
		var repoErr *Error
		if !errors.As(err, &repoErr) {
			t.Fatalf("%s: expected *Error, got %T", tc.code, err)
		}
		if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
			t.Fatalf("%s: unexpected classification %+v", tc.code, repoErr)
		}
	}
}

func TestWrapErrorPassesContextErrors(t *testing.T) {
	if err := WrapError("op", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", status.Error(codes.Canceled, "cancelled")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected grpc cancel to map to context.Canceled, got %v", err)
	}
	if WrapError("op", nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestNewConflictErrorKeepsOp(t *testing.T) {
	err := WrapError("outer", NewConflictError("orders.update", "version mismatch"))
	var repoErr *Error
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if got := repoErr.Error(); got != "orders.update: version mismatch" {
		t.Fatalf("error string = %q", got)
	}
}
