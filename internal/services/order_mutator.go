package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domain "github.com/hanko-field/order-engine/internal/domain"
	"github.com/hanko-field/order-engine/internal/platform/observability"
	"github.com/hanko-field/order-engine/internal/repositories"
)

const defaultMutationRetries = 5

// errNoChange lets a mutation report that nothing needs to be persisted.
var errNoChange = errors.New("order: no change")

// OrderLocks serialises mutations per order id. Different orders never
// contend. Share one instance between services that mutate orders.
type OrderLocks struct {
	mu    sync.Mutex
	locks map[string]*orderLock
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

// NewOrderLocks constructs an empty lock table.
func NewOrderLocks() *OrderLocks {
	return &OrderLocks{locks: make(map[string]*orderLock)}
}

// Lock blocks until orderID is free and returns the matching unlock func.
func (l *OrderLocks) Lock(orderID string) func() {
	l.mu.Lock()
	lock, ok := l.locks[orderID]
	if !ok {
		lock = &orderLock{}
		l.locks[orderID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, orderID)
		}
		l.mu.Unlock()
	}
}

type mutationFunc func(order domain.Order, now time.Time) (domain.Order, error)

type orderMutator struct {
	orders    repositories.OrderRepository
	inventory repositories.InventoryRepository
	locks     *OrderLocks
	retries   int
	clock     func() time.Time
	publisher PatchPublisher
	archiver  OrderArchiver
	metrics   *observability.EngineMetrics
	logger    func(context.Context, string, map[string]any)
}

// mutate runs one read-modify-persist-publish cycle under the order lock.
// Version conflicts re-read the order and re-apply fn. When fn changes item
// quantities, added units are reserved before the write and removed units
// released after it; a write that does not land gives the reservation back.
func (m *orderMutator) mutate(ctx context.Context, orderID, command string, fn mutationFunc) (domain.Order, domain.Patch, error) {
	unlock := m.locks.Lock(orderID)
	defer unlock()

	started := time.Now()
	defer func() {
		m.metrics.MutationDurationMs.WithLabelValues(command).Observe(float64(time.Since(started).Milliseconds()))
	}()

	for attempt := 0; attempt <= m.retries; attempt++ {
		current, err := m.orders.FindByID(ctx, orderID)
		if err != nil {
			return domain.Order{}, domain.Patch{}, mapRepositoryError(err)
		}

		now := m.clock()
		next, err := fn(current.Clone(), now)
		if errors.Is(err, errNoChange) {
			return current, domain.Patch{}, nil
		}
		if err != nil {
			return domain.Order{}, domain.Patch{}, err
		}
		next.Version = current.Version + 1
		next.UpdatedAt = now

		take, give := stockMoves(current.Items, next.Items)
		if err := m.reserveStock(ctx, next, take, now); err != nil {
			if !isStockContention(err) {
				return domain.Order{}, domain.Patch{}, fmt.Errorf("order: reserve stock: %w", mapRepositoryError(err))
			}
			m.metrics.MutationConflicts.Inc()
			m.logger(ctx, "order.mutation.stock_moved", map[string]any{
				"orderId": orderID,
				"command": command,
				"attempt": attempt + 1,
				"error":   err.Error(),
			})
			continue
		}

		err = m.orders.Update(ctx, next, current.Version)
		if err != nil {
			m.releaseStock(ctx, next, take, now)
		}
		if isConflict(err) {
			m.metrics.MutationConflicts.Inc()
			m.logger(ctx, "order.mutation.conflict", map[string]any{
				"orderId": orderID,
				"command": command,
				"attempt": attempt + 1,
				"version": current.Version,
			})
			continue
		}
		if err != nil {
			return domain.Order{}, domain.Patch{}, mapRepositoryError(err)
		}

		m.releaseStock(ctx, next, give, now)
		patch := BuildPatch(current, next, now)
		if m.publisher != nil {
			m.publisher.Publish(ctx, patch)
		}
		if !current.Status().IsFinal() && next.Status().IsFinal() {
			m.archive(ctx, next)
		}
		return next, patch, nil
	}

	m.logger(ctx, "order.mutation.failed", map[string]any{
		"orderId":  orderID,
		"command":  command,
		"attempts": m.retries + 1,
	})
	return domain.Order{}, domain.Patch{}, fmt.Errorf("%w: order %s after %d attempts", ErrConcurrentModification, orderID, m.retries+1)
}

func (m *orderMutator) archive(ctx context.Context, order domain.Order) {
	if m.archiver == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := m.archiver.ArchiveOrder(ctx, order); err != nil {
			m.logger(ctx, "order.archive.failed", map[string]any{
				"orderId": order.ID,
				"version": order.Version,
				"error":   err.Error(),
			})
		}
	}()
}

func (m *orderMutator) reserveStock(ctx context.Context, order domain.Order, lines map[string]int, now time.Time) error {
	if m.inventory == nil || len(lines) == 0 {
		return nil
	}
	return m.inventory.Reserve(ctx, repositories.InventoryMoveRequest{
		Reference: stockReference(order),
		Lines:     lines,
		Now:       now,
	})
}

func (m *orderMutator) releaseStock(ctx context.Context, order domain.Order, lines map[string]int, now time.Time) {
	if m.inventory == nil || len(lines) == 0 {
		return
	}
	err := m.inventory.Release(context.WithoutCancel(ctx), repositories.InventoryMoveRequest{
		Reference: stockReference(order),
		Lines:     lines,
		Now:       now,
	})
	if err != nil {
		m.logger(ctx, "order.stock.release_failed", map[string]any{
			"orderId": order.ID,
			"version": order.Version,
			"lines":   lines,
			"error":   err.Error(),
		})
	}
}

func stockReference(order domain.Order) string {
	return fmt.Sprintf("%s@v%d", order.ID, order.Version)
}

// stockMoves compares per-product quantities before and after a mutation.
func stockMoves(before, after []domain.OrderItem) (take, give map[string]int) {
	delta := make(map[string]int)
	for _, item := range before {
		delta[item.ProductID] -= item.Quantity
	}
	for _, item := range after {
		delta[item.ProductID] += item.Quantity
	}
	for productID, d := range delta {
		switch {
		case d > 0:
			if take == nil {
				take = make(map[string]int)
			}
			take[productID] = d
		case d < 0:
			if give == nil {
				give = make(map[string]int)
			}
			give[productID] = -d
		}
	}
	return take, give
}

func isStockContention(err error) bool {
	var invErr *repositories.InventoryError
	if !errors.As(err, &invErr) {
		return false
	}
	return invErr.Code == repositories.InventoryErrorInsufficientStock || invErr.Code == repositories.InventoryErrorStockNotFound
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}

func newMutator(orders repositories.OrderRepository, locks *OrderLocks, retries int, clock func() time.Time,
	publisher PatchPublisher, archiver OrderArchiver, metrics *observability.EngineMetrics,
	logger func(context.Context, string, map[string]any)) *orderMutator {
	if locks == nil {
		locks = NewOrderLocks()
	}
	if retries <= 0 {
		retries = defaultMutationRetries
	}
	if metrics == nil {
		metrics = observability.NewEngineMetrics("", nil)
	}
	return &orderMutator{
		orders:    orders,
		locks:     locks,
		retries:   retries,
		clock:     clock,
		publisher: publisher,
		archiver:  archiver,
		metrics:   metrics,
		logger:    logger,
	}
}
