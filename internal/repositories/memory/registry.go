package memory

import (
	"context"

	"github.com/hanko-field/order-engine/internal/repositories"
)

// Registry bundles the in-memory repositories used for local runs and tests.
type Registry struct {
	orders    *OrderRepository
	inventory *InventoryRepository
	counters  *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs empty repositories with the given stock levels.
func NewRegistry(stock map[string]int) *Registry {
	return &Registry{
		orders:    NewOrderRepository(),
		inventory: NewInventoryRepository(stock),
		counters:  NewCounterRepository(),
	}
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// Stock exposes the inventory for seeding.
func (r *Registry) Stock() *InventoryRepository { return r.inventory }
