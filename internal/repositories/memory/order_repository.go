package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/order-engine/internal/domain"
	"github.com/hanko-field/order-engine/internal/repositories"
)

// OrderRepository keeps order documents in process memory. Stored values are
// deep copies so callers never share state with the store.
type OrderRepository struct {
	mu      sync.RWMutex
	orders  map[string]domain.Order
	txIndex map[string]string
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs an empty repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:  make(map[string]domain.Order),
		txIndex: make(map[string]string),
	}
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.ID]; exists {
		return conflict("orders.insert", "order %s already exists", order.ID)
	}
	r.store(order)
	return nil
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.orders[order.ID]
	if !ok {
		return notFound("orders.update", "order %s not found", order.ID)
	}
	if current.Version != expectedVersion {
		return conflict("orders.update", "order %s is at version %d, expected %d", order.ID, current.Version, expectedVersion)
	}
	r.store(order)
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.find", "order %s not found", orderID)
	}
	return order.Clone(), nil
}

func (r *OrderRepository) FindByOnlineTransaction(ctx context.Context, transactionID string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	orderID, ok := r.txIndex[transactionID]
	if !ok {
		return domain.Order{}, notFound("orders.find_by_transaction", "transaction %s not found", transactionID)
	}
	return r.orders[orderID].Clone(), nil
}

func (r *OrderRepository) ListExpiredOnlineTransactions(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Order
	for _, order := range r.orders {
		tx := order.Financials.CurrentOnlineTransaction
		if tx == nil || tx.ExpiresAt.After(cutoff) {
			continue
		}
		out = append(out, order.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Financials.CurrentOnlineTransaction.ExpiresAt.Before(out[j].Financials.CurrentOnlineTransaction.ExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	customerID := strings.TrimSpace(filter.CustomerID)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Order
	for _, order := range r.orders {
		if customerID != "" && order.CustomerID != customerID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, order.Status()) {
			continue
		}
		out = append(out, order.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *OrderRepository) store(order domain.Order) {
	r.orders[order.ID] = order.Clone()
	for _, txID := range order.Financials.OnlineTransactionIDs {
		r.txIndex[txID] = order.ID
	}
}
