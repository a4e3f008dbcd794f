package httpx

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fusionaura/storefront-orders/internal/inventory"
)

// StockService is satisfied by *inventory.Service.
type StockService interface {
	GetStock(ctx context.Context, productID string) (inventory.Stock, error)
	SetStock(ctx context.Context, cmd inventory.SetStockCommand) (inventory.Stock, error)
	ListLowStock(ctx context.Context) ([]inventory.Stock, error)
}

type InventoryHandler struct {
	Stock StockService
}

type SetStockReq struct {
	Quantity          *int `json:"quantity" validate:"required,min=0"`
	LowStockThreshold *int `json:"low_stock_threshold" validate:"omitempty,min=0"`
}

func (h *InventoryHandler) Register(r chi.Router) {
	r.Route("/admin/inventory", func(r chi.Router) {
		r.Get("/low-stock", h.lowStock)
		r.Get("/{productID}", h.getStock)
		r.Patch("/{productID}", h.setStock)
	})
}

func (h *InventoryHandler) lowStock(w http.ResponseWriter, r *http.Request) {
	list, err := h.Stock.ListLowStock(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []inventory.Stock{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *InventoryHandler) getStock(w http.ResponseWriter, r *http.Request) {
	st, err := h.Stock.GetStock(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// setStock overwrites sellable quantity. Reserved units are managed only by
// order transitions.
func (h *InventoryHandler) setStock(w http.ResponseWriter, r *http.Request) {
	var req SetStockReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	st, err := h.Stock.SetStock(r.Context(), inventory.SetStockCommand{
		ProductID:         chi.URLParam(r, "productID"),
		Quantity:          *req.Quantity,
		LowStockThreshold: req.LowStockThreshold,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
