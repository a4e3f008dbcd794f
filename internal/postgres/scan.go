package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/fusionaura/storefront-orders/internal/inventory"
	"github.com/fusionaura/storefront-orders/internal/orders"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Money columns travel as text so no precision is lost to float conversion.
const orderColumns = `id, order_number, status, user_id, payment_method,
	subtotal::text, tax::text, shipping::text, discount::text, total::text,
	shipping_name, shipping_email, shipping_line1, shipping_line2, shipping_city,
	shipping_province, shipping_postal_code, shipping_country, shipping_phone,
	deleted_at, created_at, updated_at`

const itemColumns = `id, order_id, product_id, quantity, price::text, total::text`

const stockColumns = `product_id, quantity, reserved, low_stock_threshold, updated_at`

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o                                        orders.Order
		status                                   string
		subtotal, tax, shipping, discount, total string
	)
	err := row.Scan(
		&o.ID, &o.Number, &status, &o.UserID, &o.PaymentMethod,
		&subtotal, &tax, &shipping, &discount, &total,
		&o.Address.Name, &o.Address.Email, &o.Address.Line1, &o.Address.Line2, &o.Address.City,
		&o.Address.Province, &o.Address.PostalCode, &o.Address.Country, &o.Address.Phone,
		&o.DeletedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return orders.Order{}, err
	}
	o.Status = orders.Status(status)

	amounts, err := parseDecimals(subtotal, tax, shipping, discount, total)
	if err != nil {
		return orders.Order{}, errors.Wrapf(err, "order %s amounts", o.ID)
	}
	o.Subtotal, o.Tax, o.Shipping, o.Discount, o.Total = amounts[0], amounts[1], amounts[2], amounts[3], amounts[4]
	return o, nil
}

func scanItem(row pgx.Row) (orders.Item, error) {
	var (
		it           orders.Item
		price, total string
	)
	if err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &price, &total); err != nil {
		return orders.Item{}, err
	}
	amounts, err := parseDecimals(price, total)
	if err != nil {
		return orders.Item{}, errors.Wrapf(err, "item %s amounts", it.ID)
	}
	it.Price, it.Total = amounts[0], amounts[1]
	return it, nil
}

func scanStock(row pgx.Row) (inventory.Stock, error) {
	var s inventory.Stock
	err := row.Scan(&s.ProductID, &s.Quantity, &s.Reserved, &s.LowStockThreshold, &s.UpdatedAt)
	return s, err
}

func parseDecimals(values ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

// loadItems returns the items of every order in ids, keyed by order id.
func loadItems(ctx context.Context, q querier, ids []string) (map[string][]orders.Item, error) {
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM order_items
		WHERE order_id = ANY($1) ORDER BY order_id, position`, ids)
	if err != nil {
		return nil, mapError(err, "query order items", nil)
	}
	defer rows.Close()

	out := make(map[string][]orders.Item, len(ids))
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, mapError(err, "scan order item", nil)
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, mapError(rows.Err(), "iterate order items", nil)
}
