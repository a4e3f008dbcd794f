package orders

import (
	"context"
	"time"

	"github.com/fusionaura/storefront-orders/internal/inventory"
)

// Snapshot is an order locked for update together with the inventory rows of
// the products it touches.
type Snapshot struct {
	Order  Order
	Stocks map[string]inventory.Stock
}

// Tx is an open transaction scoped to one order and its inventory rows.
// Implementations lock rows for the lifetime of the transaction.
type Tx interface {
	inventory.Locker

	// LockOrder locks a non-archived order and loads its items.
	LockOrder(ctx context.Context, orderID string) (Order, error)
	// LoadOrderWithItemsAndInventory locks the order, then the inventory rows of
	// its items plus extraProductIDs in ascending product id order. Products
	// without an inventory row are absent from Snapshot.Stocks.
	LoadOrderWithItemsAndInventory(ctx context.Context, orderID string, extraProductIDs ...string) (Snapshot, error)
	// LoadProducts returns the requested products keyed by id; missing ids are absent.
	LoadProducts(ctx context.Context, ids []string) (map[string]Product, error)

	InsertOrder(ctx context.Context, o Order) error
	UpdateOrderStatus(ctx context.Context, orderID string, status Status, at time.Time) error
	ReplaceItems(ctx context.Context, orderID string, items []Item) error
	UpdateTotals(ctx context.Context, orderID string, totals Totals, at time.Time) error
	ArchiveOrder(ctx context.Context, orderID string, at time.Time) error
	DeleteOrder(ctx context.Context, orderID string) error
}

// Store runs transactions and read-only queries. InTx commits when fn returns
// nil and rolls back otherwise; contention surfaces as ErrTransactionConflict.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	FindOrder(ctx context.Context, idOrNumber string) (Order, error)
	ListOrders(ctx context.Context, q ListOrdersQuery) ([]Order, int, error)
	PurgeTerminalOrders(ctx context.Context, before time.Time) (int, error)
}

type ListOrdersQuery struct {
	UserID string
	Status Status
	Search string
	Page   int
	Limit  int
}

func (q ListOrdersQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

type OrderPage struct {
	Orders     []Order `json:"orders"`
	Page       int     `json:"page"`
	Limit      int     `json:"limit"`
	Total      int     `json:"total"`
	TotalPages int     `json:"total_pages"`
}
