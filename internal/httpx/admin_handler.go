package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/fusionaura/storefront-orders/internal/orders"
)

// AdminHandler exposes staff operations on orders. Authentication is enforced
// by the gateway in front of /admin.
type AdminHandler struct {
	Orders OrderService
	// Status, when set, has archived orders evicted so the status endpoint
	// stops serving them.
	Status StatusInvalidator
}

// StatusInvalidator is satisfied by *redisx.StatusCache.
type StatusInvalidator interface {
	Invalidate(ctx context.Context, orderID string) error
}

type UpdateStatusReq struct {
	Status string `json:"status" validate:"required"`
}

type EditItemsReq struct {
	Items []orders.ItemInput `json:"items" validate:"required,min=1,dive"`
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Route("/admin/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
		r.Patch("/{id}/status", h.updateStatus)
		r.Patch("/{id}/items", h.editItems)
		r.Delete("/{id}", h.archiveOrder)
	})
}

func (h *AdminHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit := pageParams(r)
	out, err := h.Orders.ListOrders(r.Context(), orders.ListOrdersQuery{
		UserID: q.Get("user_id"),
		Status: orders.Status(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
		Search: q.Get("search"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *AdminHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *AdminHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	target, err := orders.ParseStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.TransitionStatus(r.Context(), chi.URLParam(r, "id"), target)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *AdminHandler) editItems(w http.ResponseWriter, r *http.Request) {
	var req EditItemsReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.EditItems(r.Context(), chi.URLParam(r, "id"), req.Items)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *AdminHandler) archiveOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := h.Orders.ArchiveOrder(ctx, id); err != nil {
		writeError(w, r, err)
		return
	}
	if h.Status != nil {
		if err := h.Status.Invalidate(context.WithoutCancel(ctx), id); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("order_id", id).Msg("invalidate status cache")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
