package orders

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product is the read-only catalog view the engine prices items from.
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Active    bool            `json:"active"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty"`
}

// Purchasable reports whether new orders may be placed for the product.
func (p Product) Purchasable() bool {
	return p.Active && p.DeletedAt == nil
}

// Address is the shipping snapshot stored on the order.
type Address struct {
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email,omitempty" validate:"omitempty,email"`
	Line1      string `json:"address_line1" validate:"required"`
	Line2      string `json:"address_line2,omitempty"`
	City       string `json:"city" validate:"required"`
	Province   string `json:"province,omitempty"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone" validate:"required"`
}

type Order struct {
	ID            string          `json:"id"`
	Number        string          `json:"order_number"`
	Status        Status          `json:"status"`
	UserID        *string         `json:"user_id,omitempty"`
	PaymentMethod string          `json:"payment_method"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Shipping      decimal.Decimal `json:"shipping"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	Address       Address         `json:"shipping_address"`
	Items         []Item          `json:"items"`
	DeletedAt     *time.Time      `json:"deleted_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Item is an immutable line snapshot; editing an order replaces the whole set.
type Item struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
}

// ItemInput is a requested line: product and quantity only, prices come from the catalog.
type ItemInput struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

// Totals returns the order's stored money fields.
func (o Order) Totals() Totals {
	return Totals{
		Subtotal: o.Subtotal,
		Tax:      o.Tax,
		Shipping: o.Shipping,
		Discount: o.Discount,
		Total:    o.Total,
	}
}

func (o *Order) applyTotals(t Totals) {
	o.Subtotal = t.Subtotal
	o.Tax = t.Tax
	o.Shipping = t.Shipping
	o.Discount = t.Discount
	o.Total = t.Total
}

// quantitiesByProduct sums item quantities per product and returns the
// product ids in lock order.
func quantitiesByProduct(items []Item) (map[string]int, []string) {
	qty := make(map[string]int, len(items))
	for _, it := range items {
		qty[it.ProductID] += it.Quantity
	}
	return qty, sortedKeys(qty)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normaliseInputs trims ids, rejects non-positive quantities and merges
// duplicate products into a single line, keeping first-seen order.
func normaliseInputs(items []ItemInput) ([]ItemInput, error) {
	if len(items) == 0 {
		return nil, invalidInput("at least one item is required")
	}
	out := make([]ItemInput, 0, len(items))
	index := make(map[string]int, len(items))
	for _, it := range items {
		id := strings.TrimSpace(it.ProductID)
		if id == "" {
			return nil, invalidInput("product id is required")
		}
		if it.Quantity <= 0 {
			return nil, invalidInput("quantity for product %s must be positive", id)
		}
		if i, ok := index[id]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		index[id] = len(out)
		out = append(out, ItemInput{ProductID: id, Quantity: it.Quantity})
	}
	return out, nil
}

func inputQuantities(items []ItemInput) (map[string]int, []string) {
	qty := make(map[string]int, len(items))
	for _, it := range items {
		qty[it.ProductID] += it.Quantity
	}
	return qty, sortedKeys(qty)
}

func cloneOrder(o Order) Order {
	cp := o
	cp.Items = append([]Item(nil), o.Items...)
	return cp
}
