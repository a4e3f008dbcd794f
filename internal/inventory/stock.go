package inventory

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInsufficientStock indicates the requested quantity exceeds what is available.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrReleaseExceedsReserved is a caller contract violation: more units released
	// or consumed than the product currently has reserved.
	ErrReleaseExceedsReserved = errors.New("inventory: release exceeds reserved")
	// ErrNegativeStock rejects any write that would leave quantity or reserved below zero.
	ErrNegativeStock = errors.New("inventory: quantity and reserved must stay non-negative")
	// ErrStockNotFound indicates the product has no inventory row.
	ErrStockNotFound = errors.New("inventory: stock not found")
	// ErrInvalidQuantity indicates a non-positive adjustment quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
)

// Stock is the inventory row of a single product.
type Stock struct {
	ProductID         string    `json:"product_id"`
	Quantity          int       `json:"quantity"`
	Reserved          int       `json:"reserved"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Validate enforces the non-negativity invariant.
func (s Stock) Validate() error {
	if s.Quantity < 0 || s.Reserved < 0 {
		return fmt.Errorf("%w: product %s quantity=%d reserved=%d", ErrNegativeStock, s.ProductID, s.Quantity, s.Reserved)
	}
	return nil
}

// IsLow reports whether sellable quantity is at or below the threshold.
func (s Stock) IsLow() bool {
	return s.Quantity <= s.LowStockThreshold
}

// StockError describes a failed availability check. It unwraps to ErrInsufficientStock.
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }
