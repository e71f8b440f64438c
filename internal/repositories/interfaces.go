package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/order-engine/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Inventory() InventoryRepository
	Counters() CounterRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists whole order documents. Update is a compare-and-set
// on the document version: it must return a conflict RepositoryError when
// the stored version differs from expectedVersion.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order, expectedVersion int64) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindByOnlineTransaction locates the order that ever started transactionID.
	FindByOnlineTransaction(ctx context.Context, transactionID string) (domain.Order, error)
	// ListExpiredOnlineTransactions returns orders whose pending online
	// transaction expired at or before cutoff.
	ListExpiredOnlineTransactions(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
}

// OrderListFilter narrows order listings for dashboards.
type OrderListFilter struct {
	CustomerID string
	Statuses   []domain.OrderStatus
	Limit      int
}

// InventoryRepository reads live availability for reconciliation and moves
// units between availability and the orders holding them.
type InventoryRepository interface {
	Snapshot(ctx context.Context, productIDs []string) (domain.StockSnapshot, error)
	// Reserve takes every line out of availability or none of them. A line
	// above what is available fails with InventoryErrorInsufficientStock, an
	// unknown or withdrawn product with InventoryErrorStockNotFound.
	Reserve(ctx context.Context, req InventoryMoveRequest) error
	// Release returns units to availability. Products that no longer exist
	// are skipped.
	Release(ctx context.Context, req InventoryMoveRequest) error
}

// InventoryMoveRequest moves positive quantities per product on behalf of Reference.
type InventoryMoveRequest struct {
	Reference string
	Lines     map[string]int
	Now       time.Time
}

// CounterRepository allocates order number sequences, one per scope
// (typically a calendar day).
type CounterRepository interface {
	// Next returns the next value of scope. Once limit has been handed out it
	// fails with a CounterError coded CounterErrorExhausted.
	Next(ctx context.Context, scope string, limit int64) (int64, error)
}
