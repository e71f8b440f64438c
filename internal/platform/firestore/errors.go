package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error carries repository semantics (not found, conflict, unavailable) for a
// failed Firestore call.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports a missing document.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports a write that lost a race.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable reports a transient backend failure.
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

// NewConflictError reports an application level conflict detected inside a
// transaction, e.g. a stale document version.
func NewConflictError(op, message string) *Error {
	return &Error{op: op, err: errors.New(message), conflict: true}
}

// NewNotFoundError reports a missing document found by a query.
func NewNotFoundError(op, message string) *Error {
	return &Error{op: op, err: errors.New(message), notFound: true}
}

// WrapError maps gRPC status codes to repository semantics. Context errors pass
// through untouched.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr *Error
	if errors.As(err, &repoErr) {
		if repoErr.op == "" {
			repoErr.op = op
		}
		return repoErr
	}

	e := &Error{op: op, err: err}
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.NotFound:
		e.notFound = true
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		e.conflict = true
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		e.unavailable = true
	}
	return e
}
