package repositories

import "fmt"

// InventoryErrorCode enumerates repository error causes for inventory operations.
type InventoryErrorCode string

const (
	// InventoryErrorInsufficientStock means a requested quantity exceeds availability.
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	// InventoryErrorStockNotFound means the product has no active stock record.
	InventoryErrorStockNotFound     InventoryErrorCode = "inventory_stock_not_found"
	InventoryErrorInvalidQuantity   InventoryErrorCode = "inventory_invalid_quantity"
)

// InventoryError reports which product blocked a stock movement.
type InventoryError struct {
	Op        string
	Code      InventoryErrorCode
	ProductID string
	Err       error
}

func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: product %s", e.Code, e.ProductID)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewInventoryError constructs a typed inventory error.
func NewInventoryError(op string, code InventoryErrorCode, productID string, err error) *InventoryError {
	return &InventoryError{Op: op, Code: code, ProductID: productID, Err: err}
}
