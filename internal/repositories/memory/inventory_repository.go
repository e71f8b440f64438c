package memory

import (
	"context"
	"sync"

	domain "github.com/hanko-field/order-engine/internal/domain"
	"github.com/hanko-field/order-engine/internal/repositories"
)

// InventoryRepository keeps available quantities per product. Reserved units
// are simply subtracted.
type InventoryRepository struct {
	mu    sync.RWMutex
	stock map[string]int
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)

// NewInventoryRepository constructs a repository seeded with levels.
func NewInventoryRepository(levels map[string]int) *InventoryRepository {
	stock := make(map[string]int, len(levels))
	for productID, available := range levels {
		stock[productID] = available
	}
	return &InventoryRepository{stock: stock}
}

// SetAvailable records the available quantity of productID.
func (r *InventoryRepository) SetAvailable(productID string, available int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stock[productID] = available
}

// Remove forgets productID, as if it were withdrawn from the catalogue.
func (r *InventoryRepository) Remove(productID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stock, productID)
}

func (r *InventoryRepository) Snapshot(ctx context.Context, productIDs []string) (domain.StockSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(domain.StockSnapshot, len(productIDs))
	for _, productID := range productIDs {
		available, ok := r.stock[productID]
		snapshot[productID] = domain.StockLevel{Exists: ok, Available: max(available, 0)}
	}
	return snapshot, nil
}

func (r *InventoryRepository) Reserve(ctx context.Context, req repositories.InventoryMoveRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateLines("inventory.reserve", req.Lines); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for productID, quantity := range req.Lines {
		available, ok := r.stock[productID]
		if !ok {
			return repositories.NewInventoryError("inventory.reserve", repositories.InventoryErrorStockNotFound, productID, nil)
		}
		if available < quantity {
			return repositories.NewInventoryError("inventory.reserve", repositories.InventoryErrorInsufficientStock, productID, nil)
		}
	}
	for productID, quantity := range req.Lines {
		r.stock[productID] -= quantity
	}
	return nil
}

func (r *InventoryRepository) Release(ctx context.Context, req repositories.InventoryMoveRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateLines("inventory.release", req.Lines); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for productID, quantity := range req.Lines {
		if _, ok := r.stock[productID]; ok {
			r.stock[productID] += quantity
		}
	}
	return nil
}

func validateLines(op string, lines map[string]int) error {
	for productID, quantity := range lines {
		if productID == "" || quantity <= 0 {
			return repositories.NewInventoryError(op, repositories.InventoryErrorInvalidQuantity, productID, nil)
		}
	}
	return nil
}
