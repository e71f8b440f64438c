package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/hanko-field/order-engine/internal/repositories"
)

// CounterRepository hands out per-scope sequences.
type CounterRepository struct {
	mu     sync.Mutex
	values map[string]int64
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func NewCounterRepository() *CounterRepository {
	return &CounterRepository{values: make(map[string]int64)}
}

func (r *CounterRepository) Next(ctx context.Context, scope string, limit int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	scope = strings.TrimSpace(scope)
	if scope == "" || limit <= 0 {
		return 0, repositories.NewCounterError(scope, repositories.CounterErrorInvalidInput, limit)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.values[scope] >= limit {
		return 0, repositories.NewCounterError(scope, repositories.CounterErrorExhausted, limit)
	}
	r.values[scope]++
	return r.values[scope], nil
}
