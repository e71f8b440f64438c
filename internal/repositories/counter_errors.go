package repositories

import "fmt"

// CounterErrorCode enumerates failure reasons for sequence allocation.
type CounterErrorCode string

const (
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorExhausted means every number of the scope is taken.
	CounterErrorExhausted CounterErrorCode = "counter_exhausted"
)

// CounterError reports why a sequence could not advance.
type CounterError struct {
	Scope string
	Code  CounterErrorCode
	Limit int64
}

func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code == CounterErrorExhausted {
		return fmt.Sprintf("counter %s: exhausted at %d", e.Scope, e.Limit)
	}
	return fmt.Sprintf("counter %q: %s", e.Scope, e.Code)
}

// NewCounterError constructs a typed counter error.
func NewCounterError(scope string, code CounterErrorCode, limit int64) *CounterError {
	return &CounterError{Scope: scope, Code: code, Limit: limit}
}
