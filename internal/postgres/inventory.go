package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fusionaura/storefront-orders/internal/inventory"
)

// InventoryRepo serves admin stock reads and overwrites outside the order flow.
type InventoryRepo struct {
	pool *pgxpool.Pool
}

func NewInventoryRepo(pool *pgxpool.Pool) *InventoryRepo {
	return &InventoryRepo{pool: pool}
}

func (r *InventoryRepo) GetStock(ctx context.Context, productID string) (inventory.Stock, error) {
	st, err := scanStock(r.pool.QueryRow(ctx, `SELECT `+stockColumns+` FROM inventory WHERE product_id = $1`, productID))
	if err != nil {
		return inventory.Stock{}, mapError(err, "get stock", inventory.ErrStockNotFound)
	}
	return st, nil
}

// SetStock overwrites sellable quantity and optionally the low stock
// threshold, creating the row for a product that has none. Reserved units are
// left alone.
func (r *InventoryRepo) SetStock(ctx context.Context, productID string, quantity int, lowStockThreshold *int) (inventory.Stock, error) {
	st, err := scanStock(r.pool.QueryRow(ctx, `
		INSERT INTO inventory (product_id, quantity, low_stock_threshold)
		VALUES ($1, $2, COALESCE($3::integer, 5))
		ON CONFLICT (product_id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			low_stock_threshold = COALESCE($3::integer, inventory.low_stock_threshold),
			updated_at = now()
		RETURNING `+stockColumns, productID, quantity, lowStockThreshold))
	if err != nil {
		return inventory.Stock{}, mapError(err, "set stock", inventory.ErrStockNotFound)
	}
	return st, nil
}

func (r *InventoryRepo) ListLowStock(ctx context.Context) ([]inventory.Stock, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+stockColumns+` FROM inventory
		WHERE quantity <= low_stock_threshold ORDER BY quantity, product_id`)
	if err != nil {
		return nil, mapError(err, "list low stock", nil)
	}
	defer rows.Close()

	out := []inventory.Stock{}
	for rows.Next() {
		st, err := scanStock(rows)
		if err != nil {
			return nil, mapError(err, "scan stock", nil)
		}
		out = append(out, st)
	}
	return out, mapError(rows.Err(), "iterate low stock", nil)
}
