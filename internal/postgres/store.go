package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/fusionaura/storefront-orders/internal/orders"
)

const defaultLockTimeout = 2 * time.Second

// Store is the Postgres implementation of orders.Store.
type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

var (
	_ orders.Store = (*Store)(nil)
	_ orders.Tx    = (*orderTx)(nil)
)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, lockTimeout: defaultLockTimeout}
}

// InTx runs fn inside a READ COMMITTED transaction. Row locks taken by the Tx
// are held until commit; waiting longer than the lock timeout surfaces as
// orders.ErrTransactionConflict.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError(err, "begin tx", nil)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds())); err != nil {
		return mapError(err, "set lock timeout", nil)
	}
	if err := fn(ctx, &orderTx{tx: tx}); err != nil {
		return err
	}
	return mapError(tx.Commit(ctx), "commit", nil)
}

func (s *Store) FindOrder(ctx context.Context, idOrNumber string) (orders.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE (id = $1 OR order_number = $1) AND deleted_at IS NULL`, idOrNumber))
	if err != nil {
		return orders.Order{}, mapError(err, "find order", orders.ErrNotFound)
	}
	items, err := loadItems(ctx, s.pool, []string{o.ID})
	if err != nil {
		return orders.Order{}, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context, q orders.ListOrdersQuery) ([]orders.Order, int, error) {
	where := []string{"deleted_at IS NULL"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.UserID != "" {
		where = append(where, "user_id = "+arg(q.UserID))
	}
	if q.Status != "" {
		where = append(where, "status = "+arg(string(q.Status)))
	}
	if q.Search != "" {
		p := arg("%" + q.Search + "%")
		where = append(where, fmt.Sprintf("(order_number ILIKE %[1]s OR shipping_name ILIKE %[1]s OR shipping_phone ILIKE %[1]s)", p))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err, "count orders", nil)
	}

	limit, offset := arg(q.Limit), arg(q.Offset())
	rows, err := s.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+cond+
		` ORDER BY created_at DESC, id LIMIT `+limit+` OFFSET `+offset, args...)
	if err != nil {
		return nil, 0, mapError(err, "list orders", nil)
	}
	defer rows.Close()

	var out []orders.Order
	var ids []string
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, mapError(err, "scan order", nil)
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapError(err, "iterate orders", nil)
	}
	if len(ids) == 0 {
		return out, total, nil
	}

	items, err := loadItems(ctx, s.pool, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, total, nil
}

func (s *Store) PurgeTerminalOrders(ctx context.Context, before time.Time) (int, error) {
	terminal := make([]string, 0, len(orders.TerminalStatuses))
	for _, st := range orders.TerminalStatuses {
		terminal = append(terminal, string(st))
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE status = ANY($1) AND updated_at <= $2`, terminal, before)
	if err != nil {
		return 0, mapError(err, "purge terminal orders", nil)
	}
	return int(tag.RowsAffected()), nil
}

// Ping is used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return errors.Wrap(s.pool.Ping(ctx), "ping postgres")
}
