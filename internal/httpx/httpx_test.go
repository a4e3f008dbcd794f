package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusionaura/storefront-orders/internal/inventory"
	"github.com/fusionaura/storefront-orders/internal/orders"
	"github.com/fusionaura/storefront-orders/internal/redisx"
)

type fakeOrders struct {
	created    []orders.CreateOrderInput
	createErr  error
	byID       map[string]orders.Order
	listQuery  orders.ListOrdersQuery
	transition func(id string, target orders.Status) (orders.Order, error)
	edited     []orders.ItemInput
	archiveErr error
}

func (f *fakeOrders) CreateOrder(_ context.Context, in orders.CreateOrderInput) (orders.Order, error) {
	f.created = append(f.created, in)
	if f.createErr != nil {
		return orders.Order{}, f.createErr
	}
	o := orders.Order{ID: fmt.Sprintf("o%d", len(f.created)), Number: "FUS-20240101-AAAA0000", Status: orders.StatusPending}
	if f.byID == nil {
		f.byID = map[string]orders.Order{}
	}
	f.byID[o.ID] = o
	return o, nil
}

func (f *fakeOrders) GetOrder(_ context.Context, id string) (orders.Order, error) {
	o, ok := f.byID[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrders) ListOrders(_ context.Context, q orders.ListOrdersQuery) (orders.OrderPage, error) {
	f.listQuery = q
	return orders.OrderPage{Orders: []orders.Order{}, Page: 1, Limit: 20}, nil
}

func (f *fakeOrders) TransitionStatus(_ context.Context, id string, target orders.Status) (orders.Order, error) {
	return f.transition(id, target)
}

func (f *fakeOrders) EditItems(_ context.Context, id string, items []orders.ItemInput) (orders.Order, error) {
	f.edited = items
	return orders.Order{ID: id, Status: orders.StatusPending}, nil
}

func (f *fakeOrders) ArchiveOrder(context.Context, string) error {
	return f.archiveErr
}

type fakeIdempotency struct {
	existing  string
	claimErr  error
	completed map[string]string
	abandoned []string
}

func (f *fakeIdempotency) Claim(context.Context, string) (string, bool, error) {
	if f.claimErr != nil {
		return "", false, f.claimErr
	}
	if f.existing != "" {
		return f.existing, false, nil
	}
	return "", true, nil
}

func (f *fakeIdempotency) Complete(_ context.Context, key, orderID string) error {
	if f.completed == nil {
		f.completed = map[string]string{}
	}
	f.completed[key] = orderID
	return nil
}

func (f *fakeIdempotency) Abandon(_ context.Context, key string) error {
	f.abandoned = append(f.abandoned, key)
	return nil
}

type fakeStatus struct {
	entries       map[string]redisx.StatusEntry
	sets          int
	invalidateErr error
}

func (f *fakeStatus) Get(_ context.Context, id string) (redisx.StatusEntry, bool, error) {
	e, ok := f.entries[id]
	return e, ok, nil
}

func (f *fakeStatus) Set(_ context.Context, e redisx.StatusEntry) error {
	f.sets++
	f.entries[e.OrderID] = e
	return nil
}

func (f *fakeStatus) Invalidate(_ context.Context, id string) error {
	if f.invalidateErr != nil {
		return f.invalidateErr
	}
	delete(f.entries, id)
	return nil
}

type fakeStock struct {
	set  inventory.SetStockCommand
	low  []inventory.Stock
	miss bool
}

func (f *fakeStock) GetStock(_ context.Context, id string) (inventory.Stock, error) {
	if f.miss {
		return inventory.Stock{}, inventory.ErrStockNotFound
	}
	return inventory.Stock{ProductID: id, Quantity: 3}, nil
}

func (f *fakeStock) SetStock(_ context.Context, cmd inventory.SetStockCommand) (inventory.Stock, error) {
	f.set = cmd
	return inventory.Stock{ProductID: cmd.ProductID, Quantity: cmd.Quantity}, nil
}

func (f *fakeStock) ListLowStock(context.Context) ([]inventory.Stock, error) {
	return f.low, nil
}

func newTestRouter(handlers ...Registrar) *chi.Mux {
	return NewRouter(RouterDeps{Logger: zerolog.Nop(), Gatherer: prometheus.NewRegistry()}, handlers...)
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

const createBody = `{
	"payment_method": "cod",
	"shipping_address": {"name": "Ana", "address_line1": "1 Main St", "city": "Lisbon", "postal_code": "1000", "phone": "+351000"},
	"items": [{"product_id": "p1", "quantity": 2}],
	"shipping": "5.00"
}`

func TestCreateOrder(t *testing.T) {
	svc := &fakeOrders{}
	r := newTestRouter(&OrdersHandler{Orders: svc})

	rec := do(t, r, http.MethodPost, "/orders", createBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	o := decodeBody[orders.Order](t, rec)
	assert.Equal(t, "o1", o.ID)
	require.Len(t, svc.created, 1)
	in := svc.created[0]
	assert.Equal(t, "cod", in.PaymentMethod)
	assert.Equal(t, "Lisbon", in.Address.City)
	assert.Equal(t, []orders.ItemInput{{ProductID: "p1", Quantity: 2}}, in.Items)
	assert.Equal(t, "5", in.Shipping.String())
}

func TestCreateOrderRejectsBadBodies(t *testing.T) {
	r := newTestRouter(&OrdersHandler{Orders: &fakeOrders{}})

	cases := map[string]string{
		"malformed":     `{"items":`,
		"unknown field": `{"items":[{"product_id":"p1","quantity":1}],"coupon":"X"}`,
		"no items":      `{"shipping_address":{"name":"a","address_line1":"b","city":"c","postal_code":"d","phone":"e"},"items":[]}`,
		"zero quantity": `{"shipping_address":{"name":"a","address_line1":"b","city":"c","postal_code":"d","phone":"e"},"items":[{"product_id":"p1","quantity":0}]}`,
		"no address":    `{"items":[{"product_id":"p1","quantity":1}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, r, http.MethodPost, "/orders", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decodeBody[errorBody](t, rec).Error)
		})
	}
}

func TestCreateOrderInsufficientStockReportsProduct(t *testing.T) {
	svc := &fakeOrders{createErr: &orders.StockError{ProductID: "p1", Requested: 2, Available: 0}}
	r := newTestRouter(&OrdersHandler{Orders: svc})

	rec := do(t, r, http.MethodPost, "/orders", createBody)
	require.Equal(t, http.StatusConflict, rec.Code)

	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "p1", body.ProductID)
	assert.Equal(t, 2, body.Requested)
	require.NotNil(t, body.Available)
	assert.Equal(t, 0, *body.Available)
}

func TestCreateOrderIdempotency(t *testing.T) {
	t.Run("first request completes the claim", func(t *testing.T) {
		idem := &fakeIdempotency{}
		r := newTestRouter(&OrdersHandler{Orders: &fakeOrders{}, Idempotency: idem})

		rec := do(t, r, http.MethodPost, "/orders", createBody, HeaderIdempotencyKey, "k1")
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, map[string]string{"k1": "o1"}, idem.completed)
	})

	t.Run("replay returns the stored order", func(t *testing.T) {
		svc := &fakeOrders{byID: map[string]orders.Order{"o9": {ID: "o9", Status: orders.StatusAccepted}}}
		r := newTestRouter(&OrdersHandler{Orders: svc, Idempotency: &fakeIdempotency{existing: "o9"}})

		rec := do(t, r, http.MethodPost, "/orders", createBody, HeaderIdempotencyKey, "k1")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "true", rec.Header().Get("Idempotent-Replayed"))
		assert.Equal(t, "o9", decodeBody[orders.Order](t, rec).ID)
		assert.Empty(t, svc.created)
	})

	t.Run("in flight is a conflict", func(t *testing.T) {
		svc := &fakeOrders{}
		r := newTestRouter(&OrdersHandler{Orders: svc, Idempotency: &fakeIdempotency{claimErr: redisx.ErrRequestInFlight}})

		rec := do(t, r, http.MethodPost, "/orders", createBody, HeaderIdempotencyKey, "k1")
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Empty(t, svc.created)
	})

	t.Run("unreachable store creates without the guard", func(t *testing.T) {
		idem := &fakeIdempotency{claimErr: errors.New("dial tcp 127.0.0.1:6379: connection refused")}
		svc := &fakeOrders{}
		r := newTestRouter(&OrdersHandler{Orders: svc, Idempotency: idem})

		rec := do(t, r, http.MethodPost, "/orders", createBody, HeaderIdempotencyKey, "k1")
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "o1", decodeBody[orders.Order](t, rec).ID)
		assert.Len(t, svc.created, 1)
		assert.Empty(t, idem.completed)
		assert.Empty(t, idem.abandoned)
	})

	t.Run("failure abandons the claim", func(t *testing.T) {
		idem := &fakeIdempotency{}
		svc := &fakeOrders{createErr: orders.ErrProductNotFound}
		r := newTestRouter(&OrdersHandler{Orders: svc, Idempotency: idem})

		rec := do(t, r, http.MethodPost, "/orders", createBody, HeaderIdempotencyKey, "k1")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, []string{"k1"}, idem.abandoned)
		assert.Empty(t, idem.completed)
	})
}

func TestListOrdersRequiresUser(t *testing.T) {
	svc := &fakeOrders{}
	r := newTestRouter(&OrdersHandler{Orders: svc})

	rec := do(t, r, http.MethodGet, "/orders", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodGet, "/orders?user_id=u1&page=2&limit=5&status=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.ListOrdersQuery{UserID: "u1", Status: orders.StatusPending, Page: 2, Limit: 5}, svc.listQuery)
}

func TestGetOrderNotFound(t *testing.T) {
	r := newTestRouter(&OrdersHandler{Orders: &fakeOrders{}})
	rec := do(t, r, http.MethodGet, "/orders/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStatusReadsThroughCache(t *testing.T) {
	updated := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := &fakeOrders{byID: map[string]orders.Order{"o1": {ID: "o1", Status: orders.StatusAccepted, UpdatedAt: updated}}}
	cache := &fakeStatus{entries: map[string]redisx.StatusEntry{}}
	r := newTestRouter(&OrdersHandler{Orders: svc, Status: cache})

	rec := do(t, r, http.MethodGet, "/orders/o1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusAccepted, decodeBody[redisx.StatusEntry](t, rec).Status)
	assert.Equal(t, 1, cache.sets)

	// Served from cache even though the store has moved on.
	svc.byID["o1"] = orders.Order{ID: "o1", Status: orders.StatusCompleted}
	rec = do(t, r, http.MethodGet, "/orders/o1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusAccepted, decodeBody[redisx.StatusEntry](t, rec).Status)
	assert.Equal(t, 1, cache.sets)
}

func TestAdminUpdateStatus(t *testing.T) {
	svc := &fakeOrders{transition: func(id string, target orders.Status) (orders.Order, error) {
		if target == orders.StatusCompleted {
			return orders.Order{}, &orders.TransitionError{From: orders.StatusCancelled, To: target}
		}
		return orders.Order{ID: id, Status: target}, nil
	}}
	r := newTestRouter(&AdminHandler{Orders: svc})

	rec := do(t, r, http.MethodPatch, "/admin/orders/o1/status", `{"status":"accepted"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusAccepted, decodeBody[orders.Order](t, rec).Status)

	rec = do(t, r, http.MethodPatch, "/admin/orders/o1/status", `{"status":"COMPLETED"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, r, http.MethodPatch, "/admin/orders/o1/status", `{"status":"SHIPPED"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodPatch, "/admin/orders/o1/status", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminEditItems(t *testing.T) {
	svc := &fakeOrders{}
	r := newTestRouter(&AdminHandler{Orders: svc})

	rec := do(t, r, http.MethodPatch, "/admin/orders/o1/items", `{"items":[{"product_id":"p2","quantity":4}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []orders.ItemInput{{ProductID: "p2", Quantity: 4}}, svc.edited)
}

func TestAdminListPassesFilters(t *testing.T) {
	svc := &fakeOrders{}
	r := newTestRouter(&AdminHandler{Orders: svc})

	rec := do(t, r, http.MethodGet, "/admin/orders?status=accepted&search=FUS-2024&page=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.ListOrdersQuery{Status: orders.StatusAccepted, Search: "FUS-2024", Page: 3}, svc.listQuery)
}

func TestAdminArchive(t *testing.T) {
	svc := &fakeOrders{}
	r := newTestRouter(&AdminHandler{Orders: svc})

	rec := do(t, r, http.MethodDelete, "/admin/orders/o1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	svc.archiveErr = fmt.Errorf("%w: order o1 is PENDING", orders.ErrOrderNotArchivable)
	rec = do(t, r, http.MethodDelete, "/admin/orders/o1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdminArchiveEvictsCachedStatus(t *testing.T) {
	svc := &fakeOrders{byID: map[string]orders.Order{}}
	cache := &fakeStatus{entries: map[string]redisx.StatusEntry{
		"o1": {OrderID: "o1", Status: orders.StatusCompleted},
		"o2": {OrderID: "o2", Status: orders.StatusCancelled},
	}}
	r := newTestRouter(&AdminHandler{Orders: svc, Status: cache}, &OrdersHandler{Orders: svc, Status: cache})

	rec := do(t, r, http.MethodGet, "/orders/o1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, r, http.MethodDelete, "/admin/orders/o1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, cache.entries, "o1")
	assert.Contains(t, cache.entries, "o2")

	rec = do(t, r, http.MethodGet, "/orders/o1/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A rejected archive leaves the cache alone.
	svc.archiveErr = orders.ErrOrderNotArchivable
	rec = do(t, r, http.MethodDelete, "/admin/orders/o2", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, cache.entries, "o2")

	// Eviction failures are logged, not returned.
	svc.archiveErr = nil
	cache.invalidateErr = errors.New("redis: connection pool timeout")
	rec = do(t, r, http.MethodDelete, "/admin/orders/o2", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{orders.ErrInvalidAmount, http.StatusBadRequest},
		{inventory.ErrInvalidInput, http.StatusBadRequest},
		{orders.ErrNotFound, http.StatusNotFound},
		{inventory.ErrStockNotFound, http.StatusNotFound},
		{orders.ErrOrderNotEditable, http.StatusConflict},
		{&orders.TransitionError{From: orders.StatusPending, To: orders.StatusCompleted}, http.StatusConflict},
		{orders.ErrTransactionConflict, http.StatusServiceUnavailable},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, statusOf(tc.err), tc.err.Error())
	}
}

func TestSystemErrorsAreHidden(t *testing.T) {
	svc := &fakeOrders{createErr: errors.New("pq: connection refused")}
	r := newTestRouter(&OrdersHandler{Orders: svc})

	rec := do(t, r, http.MethodPost, "/orders", createBody)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decodeBody[errorBody](t, rec).Error)

	svc.createErr = orders.ErrTransactionConflict
	rec = do(t, r, http.MethodPost, "/orders", createBody)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestInventoryRoutes(t *testing.T) {
	stock := &fakeStock{low: []inventory.Stock{{ProductID: "p1", Quantity: 1, LowStockThreshold: 5}}}
	r := newTestRouter(&InventoryHandler{Stock: stock})

	rec := do(t, r, http.MethodGet, "/admin/inventory/low-stock", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]inventory.Stock](t, rec), 1)

	rec = do(t, r, http.MethodGet, "/admin/inventory/p1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decodeBody[inventory.Stock](t, rec).Quantity)

	rec = do(t, r, http.MethodPatch, "/admin/inventory/p1", `{"quantity":12,"low_stock_threshold":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p1", stock.set.ProductID)
	assert.Equal(t, 12, stock.set.Quantity)
	require.NotNil(t, stock.set.LowStockThreshold)
	assert.Equal(t, 2, *stock.set.LowStockThreshold)

	rec = do(t, r, http.MethodPatch, "/admin/inventory/p1", `{"low_stock_threshold":2}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodPatch, "/admin/inventory/p1", `{"quantity":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	stock.miss = true
	rec = do(t, r, http.MethodGet, "/admin/inventory/p9", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter()
	rec := do(t, r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	down := NewRouter(RouterDeps{Logger: zerolog.Nop(), Health: func(context.Context) error { return errors.New("pg down") }})
	rec = do(t, down, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
