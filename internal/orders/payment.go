package orders

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ConfirmPayment applies a verified gateway outcome to an order awaiting
// payment. Success makes the order PENDING; redelivered successes on a PENDING
// order are ignored. Failure deletes the order and its items outright since
// no stock was ever reserved for it.
//
// The returned bool reports whether the order was deleted.
func (e *Engine) ConfirmPayment(ctx context.Context, orderID string, outcome PaymentOutcome) (out Order, deleted bool, err error) {
	ctx, span := tracer.Start(ctx, "orders.ConfirmPayment", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("payment.outcome", string(outcome)),
	))
	defer func() { endSpan(span, err) }()

	if outcome != PaymentSucceeded && outcome != PaymentFailed {
		return Order{}, false, invalidInput("unknown payment outcome %q", outcome)
	}

	var changed bool
	err = e.inTx(ctx, "confirm_payment", func(ctx context.Context, tx Tx) error {
		changed, deleted = false, false
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}

		switch {
		case outcome == PaymentSucceeded && o.Status == StatusAwaitingPayment:
			now := e.now().UTC()
			if err := tx.UpdateOrderStatus(ctx, o.ID, StatusPending, now); err != nil {
				return err
			}
			o.Status = StatusPending
			o.UpdatedAt = now
			changed = true
		case outcome == PaymentSucceeded && o.Status == StatusPending:
		case outcome == PaymentFailed && o.Status == StatusAwaitingPayment:
			if err := tx.DeleteOrder(ctx, o.ID); err != nil {
				return err
			}
			deleted = true
		default:
			return fmt.Errorf("%w: payment %s for order %s in %s", ErrInvalidTransition, outcome, o.ID, o.Status)
		}
		out = o
		return nil
	})
	if err != nil {
		e.logFailure(ctx, "confirm_payment", orderID, err)
		return Order{}, false, err
	}

	log := e.logger(ctx).Info().Str("order_id", out.ID).Str("outcome", string(outcome))
	switch {
	case changed:
		e.metrics.Transition(string(StatusAwaitingPayment), string(StatusPending), "ok")
		log.Msg("payment confirmed")
		e.notify(ctx, out, StatusAwaitingPayment)
	case deleted:
		log.Msg("payment failed, order removed")
	default:
		log.Msg("payment outcome already applied")
	}
	return out, deleted, nil
}
