package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/hanko-field/order-engine/internal/platform/firestore"
	"github.com/hanko-field/order-engine/internal/repositories"
)

// Registry wires the Firestore repositories onto one shared provider.
type Registry struct {
	provider  *pfirestore.Provider
	orders    *OrderRepository
	inventory *InventoryRepository
	counters  *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs all Firestore repositories.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	inventory, err := NewInventoryRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{provider: provider, orders: orders, inventory: inventory, counters: counters}, nil
}

// Close releases the Firestore client.
func (r *Registry) Close(context.Context) error { return r.provider.Close() }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// Ping reads a missing document to verify connectivity for readiness checks.
func (r *Registry) Ping(ctx context.Context) error {
	coll, err := r.provider.Collection(ctx, countersCollection)
	if err != nil {
		return err
	}
	_, err = coll.Doc("_healthz").Get(ctx)
	if err = pfirestore.WrapError("ping", err); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil
		}
		return err
	}
	return nil
}
