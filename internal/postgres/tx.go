package postgres

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fusionaura/storefront-orders/internal/inventory"
	"github.com/fusionaura/storefront-orders/internal/orders"
)

// orderTx implements orders.Tx. Every read that precedes a write takes a row
// lock with SELECT ... FOR UPDATE.
type orderTx struct {
	tx pgx.Tx
}

func (t *orderTx) LockStock(ctx context.Context, productID string) (inventory.Stock, error) {
	st, err := scanStock(t.tx.QueryRow(ctx, `SELECT `+stockColumns+` FROM inventory
		WHERE product_id = $1 FOR UPDATE`, productID))
	if err != nil {
		return inventory.Stock{}, mapError(err, "lock stock "+productID, inventory.ErrStockNotFound)
	}
	return st, nil
}

func (t *orderTx) SaveStock(ctx context.Context, st inventory.Stock) error {
	tag, err := t.tx.Exec(ctx, `UPDATE inventory SET quantity = $2, reserved = $3, updated_at = $4
		WHERE product_id = $1`, st.ProductID, st.Quantity, st.Reserved, st.UpdatedAt)
	if err != nil {
		return mapError(err, "save stock "+st.ProductID, nil)
	}
	if tag.RowsAffected() != 1 {
		return mapError(pgx.ErrNoRows, "save stock "+st.ProductID, inventory.ErrStockNotFound)
	}
	return nil
}

func (t *orderTx) LockOrder(ctx context.Context, orderID string) (orders.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, orderID))
	if err != nil {
		return orders.Order{}, mapError(err, "lock order", orders.ErrNotFound)
	}
	items, err := loadItems(ctx, t.tx, []string{o.ID})
	if err != nil {
		return orders.Order{}, err
	}
	o.Items = items[o.ID]
	return o, nil
}

// LoadOrderWithItemsAndInventory locks the order row first and then every
// touched inventory row in product id order, so two transactions over
// overlapping products always queue instead of deadlocking.
func (t *orderTx) LoadOrderWithItemsAndInventory(ctx context.Context, orderID string, extraProductIDs ...string) (orders.Snapshot, error) {
	o, err := t.LockOrder(ctx, orderID)
	if err != nil {
		return orders.Snapshot{}, err
	}

	seen := make(map[string]struct{}, len(o.Items)+len(extraProductIDs))
	ids := make([]string, 0, len(o.Items)+len(extraProductIDs))
	for _, it := range o.Items {
		if _, ok := seen[it.ProductID]; !ok {
			seen[it.ProductID] = struct{}{}
			ids = append(ids, it.ProductID)
		}
	}
	for _, id := range extraProductIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	rows, err := t.tx.Query(ctx, `SELECT `+stockColumns+` FROM inventory
		WHERE product_id = ANY($1) ORDER BY product_id FOR UPDATE`, ids)
	if err != nil {
		return orders.Snapshot{}, mapError(err, "lock inventory", nil)
	}
	defer rows.Close()

	snap := orders.Snapshot{Order: o, Stocks: make(map[string]inventory.Stock, len(ids))}
	for rows.Next() {
		st, err := scanStock(rows)
		if err != nil {
			return orders.Snapshot{}, mapError(err, "scan inventory", nil)
		}
		snap.Stocks[st.ProductID] = st
	}
	if err := rows.Err(); err != nil {
		return orders.Snapshot{}, mapError(err, "iterate inventory", nil)
	}
	return snap, nil
}

func (t *orderTx) LoadProducts(ctx context.Context, ids []string) (map[string]orders.Product, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, name, price::text, active, deleted_at
		FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, mapError(err, "load products", nil)
	}
	defer rows.Close()

	out := make(map[string]orders.Product, len(ids))
	for rows.Next() {
		var (
			p     orders.Product
			price string
		)
		if err := rows.Scan(&p.ID, &p.Name, &price, &p.Active, &p.DeletedAt); err != nil {
			return nil, mapError(err, "scan product", nil)
		}
		amounts, err := parseDecimals(price)
		if err != nil {
			return nil, mapError(err, "product "+p.ID+" price", nil)
		}
		p.Price = amounts[0]
		out[p.ID] = p
	}
	return out, mapError(rows.Err(), "iterate products", nil)
}

func (t *orderTx) InsertOrder(ctx context.Context, o orders.Order) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO orders (
			id, order_number, status, user_id, payment_method,
			subtotal, tax, shipping, discount, total,
			shipping_name, shipping_email, shipping_line1, shipping_line2, shipping_city,
			shipping_province, shipping_postal_code, shipping_country, shipping_phone,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5,
			$6::numeric, $7::numeric, $8::numeric, $9::numeric, $10::numeric,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		o.ID, o.Number, string(o.Status), o.UserID, o.PaymentMethod,
		o.Subtotal.String(), o.Tax.String(), o.Shipping.String(), o.Discount.String(), o.Total.String(),
		o.Address.Name, o.Address.Email, o.Address.Line1, o.Address.Line2, o.Address.City,
		o.Address.Province, o.Address.PostalCode, o.Address.Country, o.Address.Phone,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "insert order", nil)
	}
	return t.insertItems(ctx, o.ID, o.Items)
}

func (t *orderTx) UpdateOrderStatus(ctx context.Context, orderID string, status orders.Status, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`, orderID, string(status), at)
	return t.expectOne(tag.RowsAffected(), err, "update order status")
}

func (t *orderTx) ReplaceItems(ctx context.Context, orderID string, items []orders.Item) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID); err != nil {
		return mapError(err, "delete order items", nil)
	}
	return t.insertItems(ctx, orderID, items)
}

func (t *orderTx) UpdateTotals(ctx context.Context, orderID string, totals orders.Totals, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET
			subtotal = $2::numeric, tax = $3::numeric, shipping = $4::numeric,
			discount = $5::numeric, total = $6::numeric, updated_at = $7
		WHERE id = $1`,
		orderID, totals.Subtotal.String(), totals.Tax.String(), totals.Shipping.String(),
		totals.Discount.String(), totals.Total.String(), at)
	return t.expectOne(tag.RowsAffected(), err, "update order totals")
}

func (t *orderTx) ArchiveOrder(ctx context.Context, orderID string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL`, orderID, at)
	return t.expectOne(tag.RowsAffected(), err, "archive order")
}

func (t *orderTx) DeleteOrder(ctx context.Context, orderID string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	return t.expectOne(tag.RowsAffected(), err, "delete order")
}

func (t *orderTx) insertItems(ctx context.Context, orderID string, items []orders.Item) error {
	for i, it := range items {
		_, err := t.tx.Exec(ctx, `INSERT INTO order_items (id, order_id, position, product_id, quantity, price, total)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric)`,
			it.ID, orderID, i, it.ProductID, it.Quantity, it.Price.String(), it.Total.String())
		if err != nil {
			return mapError(err, "insert order item", orders.ErrProductNotFound)
		}
	}
	return nil
}

func (t *orderTx) expectOne(affected int64, err error, op string) error {
	if err != nil {
		return mapError(err, op, nil)
	}
	if affected != 1 {
		return mapError(pgx.ErrNoRows, op, orders.ErrNotFound)
	}
	return nil
}
