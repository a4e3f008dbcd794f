package orders

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// EditItems replaces the item set of a non-terminal order. If the order holds
// a reservation the old lines are released and the new lines reserved, all in
// one transaction with the new items and recomputed totals. Items are repriced
// from the catalog; shipping and discount are kept.
func (e *Engine) EditItems(ctx context.Context, orderID string, items []ItemInput) (out Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.EditItems", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { endSpan(span, err) }()

	inputs, err := normaliseInputs(items)
	if err != nil {
		return Order{}, err
	}
	newQty, newIDs := inputQuantities(inputs)

	err = e.inTx(ctx, "edit_items", func(ctx context.Context, tx Tx) error {
		snap, err := tx.LoadOrderWithItemsAndInventory(ctx, orderID, newIDs...)
		if err != nil {
			return err
		}
		o := snap.Order
		if !o.Status.Editable() {
			return fmt.Errorf("%w: order %s is %s", ErrOrderNotEditable, o.ID, o.Status)
		}

		products, err := tx.LoadProducts(ctx, newIDs)
		if err != nil {
			return err
		}
		for _, id := range newIDs {
			if p, ok := products[id]; !ok || p.DeletedAt != nil {
				return fmt.Errorf("%w: %s", ErrProductNotFound, id)
			}
		}

		oldQty, oldIDs := quantitiesByProduct(o.Items)
		holds := o.Status.HoldsReservation()

		// Check everything before touching a row so a rejected edit writes nothing.
		for _, id := range newIDs {
			available := snap.Stocks[id].Quantity
			if holds {
				available += oldQty[id]
			}
			if newQty[id] > available {
				return &StockError{ProductID: id, Requested: newQty[id], Available: available}
			}
		}

		if holds {
			for _, id := range oldIDs {
				if _, err := e.ledger.Release(ctx, tx, id, oldQty[id]); err != nil {
					return err
				}
			}
			for _, id := range newIDs {
				if err := e.reserve(ctx, tx, id, newQty[id]); err != nil {
					return err
				}
			}
		}

		newItems := e.priceItems(o.ID, inputs, products)
		totals, err := CalculateTotals(linesOf(newItems), o.Shipping, o.Discount)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		if err := tx.ReplaceItems(ctx, o.ID, newItems); err != nil {
			return err
		}
		if err := tx.UpdateTotals(ctx, o.ID, totals, now); err != nil {
			return err
		}

		o.Items = newItems
		o.applyTotals(totals)
		o.UpdatedAt = now
		out = o
		return nil
	})
	if err != nil {
		e.logFailure(ctx, "edit_items", orderID, err)
		return Order{}, err
	}

	e.logger(ctx).Info().Str("order_id", out.ID).Int("lines", len(out.Items)).Str("total", out.Total.String()).Msg("order items replaced")
	return out, nil
}
