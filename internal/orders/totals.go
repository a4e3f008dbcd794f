package orders

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// VATRate is the fixed tax policy applied to every order subtotal.
var VATRate = decimal.RequireFromString("0.15")

const moneyPlaces = 2

// Line is the pricing input for one order item.
type Line struct {
	Price    decimal.Decimal
	Quantity int
}

type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// CalculateTotals prices lines with decimal arithmetic:
// subtotal = Σ price×qty, tax = subtotal×VAT rounded to cents,
// total = subtotal + tax + shipping − discount.
func CalculateTotals(lines []Line, shipping, discount decimal.Decimal) (Totals, error) {
	if shipping.IsNegative() {
		return Totals{}, fmt.Errorf("%w: shipping %s", ErrInvalidAmount, shipping)
	}
	if discount.IsNegative() {
		return Totals{}, fmt.Errorf("%w: discount %s", ErrInvalidAmount, discount)
	}

	subtotal := decimal.Zero
	for _, l := range lines {
		if l.Price.IsNegative() {
			return Totals{}, fmt.Errorf("%w: price %s", ErrInvalidAmount, l.Price)
		}
		if l.Quantity <= 0 {
			return Totals{}, fmt.Errorf("%w: quantity %d", ErrInvalidAmount, l.Quantity)
		}
		subtotal = subtotal.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}

	tax := subtotal.Mul(VATRate).Round(moneyPlaces)
	total := subtotal.Add(tax).Add(shipping).Sub(discount)
	if total.IsNegative() {
		return Totals{}, fmt.Errorf("%w: total %s", ErrInvalidAmount, total)
	}

	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: discount,
		Total:    total,
	}, nil
}

// Balanced reports whether total == subtotal + tax + shipping − discount.
func (t Totals) Balanced() bool {
	return t.Total.Equal(t.Subtotal.Add(t.Tax).Add(t.Shipping).Sub(t.Discount))
}

func linesOf(items []Item) []Line {
	lines := make([]Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, Line{Price: it.Price, Quantity: it.Quantity})
	}
	return lines
}
