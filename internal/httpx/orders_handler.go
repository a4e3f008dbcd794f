package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/fusionaura/storefront-orders/internal/orders"
	"github.com/fusionaura/storefront-orders/internal/redisx"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// OrderService is the engine surface the HTTP layer drives.
type OrderService interface {
	CreateOrder(ctx context.Context, in orders.CreateOrderInput) (orders.Order, error)
	GetOrder(ctx context.Context, idOrNumber string) (orders.Order, error)
	ListOrders(ctx context.Context, q orders.ListOrdersQuery) (orders.OrderPage, error)
	TransitionStatus(ctx context.Context, orderID string, target orders.Status) (orders.Order, error)
	EditItems(ctx context.Context, orderID string, items []orders.ItemInput) (orders.Order, error)
	ArchiveOrder(ctx context.Context, orderID string) error
}

// IdempotencyStore is satisfied by *redisx.Idempotency.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string) (orderID string, claimed bool, err error)
	Complete(ctx context.Context, key, orderID string) error
	Abandon(ctx context.Context, key string) error
}

// StatusReader is satisfied by *redisx.StatusCache.
type StatusReader interface {
	Get(ctx context.Context, orderID string) (redisx.StatusEntry, bool, error)
	Set(ctx context.Context, e redisx.StatusEntry) error
}

type OrdersHandler struct {
	Orders      OrderService
	Idempotency IdempotencyStore
	Status      StatusReader
}

type CreateOrderReq struct {
	UserID          *string            `json:"user_id"`
	PaymentMethod   string             `json:"payment_method" validate:"omitempty,max=32"`
	ShippingAddress orders.Address     `json:"shipping_address"`
	Items           []orders.ItemInput `json:"items" validate:"required,min=1,dive"`
	Shipping        decimal.Decimal    `json:"shipping"`
	Discount        decimal.Decimal    `json:"discount"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	guarded := key != "" && h.Idempotency != nil
	if guarded {
		existing, claimed, err := h.Idempotency.Claim(ctx, key)
		switch {
		case errors.Is(err, redisx.ErrRequestInFlight):
			writeError(w, r, err)
			return
		case err != nil:
			// Without Redis the request runs unguarded rather than failing.
			zerolog.Ctx(ctx).Warn().Err(err).Str("idempotency_key", key).Msg("idempotency claim failed")
			guarded = false
		case !claimed:
			o, err := h.Orders.GetOrder(ctx, existing)
			if err != nil {
				writeError(w, r, err)
				return
			}
			w.Header().Set("Idempotent-Replayed", "true")
			writeJSON(w, http.StatusOK, o)
			return
		}
	}

	o, err := h.Orders.CreateOrder(ctx, orders.CreateOrderInput{
		UserID:        req.UserID,
		PaymentMethod: req.PaymentMethod,
		Address:       req.ShippingAddress,
		Items:         req.Items,
		Shipping:      req.Shipping,
		Discount:      req.Discount,
	})
	if guarded {
		h.settleClaim(ctx, key, o.ID, err)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// settleClaim records the created order under key, or frees key after a failure.
func (h *OrdersHandler) settleClaim(ctx context.Context, key, orderID string, createErr error) {
	ctx = context.WithoutCancel(ctx)
	var err error
	if createErr != nil {
		err = h.Idempotency.Abandon(ctx, key)
	} else {
		err = h.Idempotency.Complete(ctx, key, orderID)
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("idempotency_key", key).Msg("idempotency claim not settled")
	}
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "user_id is required"})
		return
	}
	page, limit := pageParams(r)
	out, err := h.Orders.ListOrders(r.Context(), orders.ListOrdersQuery{
		UserID: userID,
		Status: orders.Status(strings.ToUpper(r.URL.Query().Get("status"))),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getStatus serves from the status cache and falls back to Postgres on a miss.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	log := zerolog.Ctx(ctx)

	if h.Status != nil {
		entry, ok, err := h.Status.Get(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("order_id", id).Msg("status cache read failed")
		}
		if ok {
			writeJSON(w, http.StatusOK, entry)
			return
		}
	}

	o, err := h.Orders.GetOrder(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entry := redisx.StatusEntry{OrderID: o.ID, Status: o.Status, UpdatedAt: o.UpdatedAt}
	if h.Status != nil {
		if err := h.Status.Set(ctx, entry); err != nil {
			log.Warn().Err(err).Str("order_id", id).Msg("status cache write failed")
		}
	}
	writeJSON(w, http.StatusOK, entry)
}
