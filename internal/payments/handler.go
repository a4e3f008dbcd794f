package payments

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	kafkax "github.com/fusionaura/storefront-orders/internal/kafka"
	"github.com/fusionaura/storefront-orders/internal/orders"
)

// Confirmer is satisfied by *orders.Engine.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, orderID string, outcome orders.PaymentOutcome) (orders.Order, bool, error)
}

// Deduper is satisfied by *redisx.Dedup.
type Deduper interface {
	First(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// StatusInvalidator is satisfied by *redisx.StatusCache.
type StatusInvalidator interface {
	Invalidate(ctx context.Context, orderID string) error
}

// Handler applies verified payment outcomes from the payment.outcome topic.
// Signature verification happens upstream in the webhook receiver.
type Handler struct {
	confirmer Confirmer
	dedup     Deduper
	cache     StatusInvalidator
}

func NewHandler(confirmer Confirmer, dedup Deduper, cache StatusInvalidator) *Handler {
	return &Handler{confirmer: confirmer, dedup: dedup, cache: cache}
}

func (h *Handler) Handle(ctx context.Context, m kafka.Message) error {
	log := zerolog.Ctx(ctx)

	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		log.Warn().Err(err).Msg("drop malformed payment event")
		return nil
	}
	if env.EventType != "" && env.EventType != orders.EventPaymentOutcome {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.PaymentOutcomePayload](env.Payload)
	if err != nil || strings.TrimSpace(p.OrderID) == "" {
		log.Warn().Err(err).Str("event_id", env.EventID).Msg("drop malformed payment event")
		return nil
	}

	dedupID := env.EventID
	if dedupID == "" {
		dedupID = p.OrderID + ":" + string(p.Outcome)
	}
	if h.dedup != nil {
		first, err := h.dedup.First(ctx, dedupID)
		if err != nil {
			return err
		}
		if !first {
			return nil
		}
	}

	_, deleted, err := h.confirmer.ConfirmPayment(ctx, p.OrderID, p.Outcome)
	switch {
	case err == nil:
	case orders.IsBusinessError(err):
		// Late or contradictory outcomes cannot become valid by retrying.
		log.Warn().Err(err).Str("order_id", p.OrderID).Str("outcome", string(p.Outcome)).Msg("payment outcome rejected")
		return nil
	default:
		h.forget(ctx, dedupID)
		return err
	}

	if deleted && h.cache != nil {
		if err := h.cache.Invalidate(ctx, p.OrderID); err != nil {
			log.Warn().Err(err).Str("order_id", p.OrderID).Msg("invalidate status cache")
		}
	}
	return nil
}

func (h *Handler) forget(ctx context.Context, id string) {
	if h.dedup == nil {
		return
	}
	if err := h.dedup.Forget(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
		zerolog.Ctx(ctx).Error().Err(err).Str("event_id", id).Msg("forget dedup mark")
	}
}
