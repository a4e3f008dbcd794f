package orders

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fusionaura/storefront-orders/internal/inventory"
)

// memStore is a serializable in-memory Store: one transaction at a time, each
// working on a private copy that is published only on commit.
type memStore struct {
	mu       sync.Mutex
	products map[string]Product
	stocks   map[string]inventory.Stock
	orders   map[string]Order

	// conflicts makes the next N transactions fail after fn ran, discarding writes.
	conflicts int
	inTxCalls int
	// beforeCommit runs between fn and commit while the lock is held.
	beforeCommit func()
}

func newMemStore() *memStore {
	return &memStore{
		products: map[string]Product{},
		stocks:   map[string]inventory.Stock{},
		orders:   map[string]Order{},
	}
}

func (m *memStore) addProduct(id, price string, quantity int) {
	m.products[id] = Product{ID: id, Name: "Product " + id, Price: decimal.RequireFromString(price), Active: true}
	m.stocks[id] = inventory.Stock{ProductID: id, Quantity: quantity, LowStockThreshold: 5}
}

func (m *memStore) stock(id string) inventory.Stock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stocks[id]
}

func (m *memStore) order(id string) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	return cloneOrder(o), ok
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inTxCalls++

	tx := &memTx{
		products: m.products,
		stocks:   make(map[string]inventory.Stock, len(m.stocks)),
		orders:   make(map[string]Order, len(m.orders)),
	}
	for k, v := range m.stocks {
		tx.stocks[k] = v
	}
	for k, v := range m.orders {
		tx.orders[k] = cloneOrder(v)
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if m.beforeCommit != nil {
		m.beforeCommit()
	}
	if m.conflicts > 0 {
		m.conflicts--
		return ErrTransactionConflict
	}
	m.stocks = tx.stocks
	m.orders = tx.orders
	return nil
}

func (m *memStore) FindOrder(_ context.Context, key string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if (o.ID == key || o.Number == key) && o.DeletedAt == nil {
			return cloneOrder(o), nil
		}
	}
	return Order{}, ErrNotFound
}

func (m *memStore) ListOrders(_ context.Context, q ListOrdersQuery) ([]Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []Order
	for _, o := range m.orders {
		if o.DeletedAt != nil {
			continue
		}
		if q.UserID != "" && (o.UserID == nil || *o.UserID != q.UserID) {
			continue
		}
		if q.Status != "" && o.Status != q.Status {
			continue
		}
		if q.Search != "" && !strings.Contains(o.Number, q.Search) && !strings.Contains(o.Address.Name, q.Search) {
			continue
		}
		matched = append(matched, cloneOrder(o))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)
	start := q.Offset()
	if start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *memStore) PurgeTerminalOrders(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, o := range m.orders {
		if o.Status.IsTerminal() && !o.UpdatedAt.After(before) {
			delete(m.orders, id)
			n++
		}
	}
	return n, nil
}

type memTx struct {
	products map[string]Product
	stocks   map[string]inventory.Stock
	orders   map[string]Order
}

func (t *memTx) LockStock(_ context.Context, productID string) (inventory.Stock, error) {
	st, ok := t.stocks[productID]
	if !ok {
		return inventory.Stock{}, inventory.ErrStockNotFound
	}
	return st, nil
}

func (t *memTx) SaveStock(_ context.Context, st inventory.Stock) error {
	t.stocks[st.ProductID] = st
	return nil
}

func (t *memTx) LockOrder(_ context.Context, orderID string) (Order, error) {
	o, ok := t.orders[orderID]
	if !ok || o.DeletedAt != nil {
		return Order{}, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (t *memTx) LoadOrderWithItemsAndInventory(ctx context.Context, orderID string, extra ...string) (Snapshot, error) {
	o, err := t.LockOrder(ctx, orderID)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Order: o, Stocks: map[string]inventory.Stock{}}
	ids := append([]string(nil), extra...)
	for _, it := range o.Items {
		ids = append(ids, it.ProductID)
	}
	for _, id := range ids {
		if st, ok := t.stocks[id]; ok {
			snap.Stocks[id] = st
		}
	}
	return snap, nil
}

func (t *memTx) LoadProducts(_ context.Context, ids []string) (map[string]Product, error) {
	out := make(map[string]Product, len(ids))
	for _, id := range ids {
		if p, ok := t.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *memTx) InsertOrder(_ context.Context, o Order) error {
	t.orders[o.ID] = cloneOrder(o)
	return nil
}

func (t *memTx) UpdateOrderStatus(_ context.Context, orderID string, status Status, at time.Time) error {
	o := t.orders[orderID]
	o.Status = status
	o.UpdatedAt = at
	t.orders[orderID] = o
	return nil
}

func (t *memTx) ReplaceItems(_ context.Context, orderID string, items []Item) error {
	o := t.orders[orderID]
	o.Items = append([]Item(nil), items...)
	t.orders[orderID] = o
	return nil
}

func (t *memTx) UpdateTotals(_ context.Context, orderID string, totals Totals, at time.Time) error {
	o := t.orders[orderID]
	o.applyTotals(totals)
	o.UpdatedAt = at
	t.orders[orderID] = o
	return nil
}

func (t *memTx) ArchiveOrder(_ context.Context, orderID string, at time.Time) error {
	o := t.orders[orderID]
	o.DeletedAt = &at
	t.orders[orderID] = o
	return nil
}

func (t *memTx) DeleteOrder(_ context.Context, orderID string) error {
	delete(t.orders, orderID)
	return nil
}
