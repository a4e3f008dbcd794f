package notify

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	kafkax "github.com/fusionaura/storefront-orders/internal/kafka"
	"github.com/fusionaura/storefront-orders/internal/orders"
)

// Deduper is satisfied by *redisx.Dedup.
type Deduper interface {
	First(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// Handler consumes order.status.changed and sends customer notifications.
type Handler struct {
	mailer Mailer
	dedup  Deduper
}

func NewHandler(mailer Mailer, dedup Deduper) *Handler {
	return &Handler{mailer: mailer, dedup: dedup}
}

// Handle acknowledges malformed or duplicate messages and returns an error
// only when delivery failed and should be retried.
func (h *Handler) Handle(ctx context.Context, m kafka.Message) error {
	log := zerolog.Ctx(ctx)
	if t := kafkax.HeaderValue(m, kafkax.HeaderEventType); t != "" && t != orders.EventOrderStatusChanged {
		return nil
	}

	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		log.Warn().Err(err).Msg("drop malformed status event")
		return nil
	}
	ev, err := kafkax.UnwrapPayload[orders.StatusChangedEvent](env.Payload)
	if err != nil {
		log.Warn().Err(err).Str("event_id", env.EventID).Msg("drop malformed status event")
		return nil
	}

	msg, ok := BuildMessage(ev)
	if !ok {
		return nil
	}

	if h.dedup != nil && env.EventID != "" {
		first, err := h.dedup.First(ctx, env.EventID)
		if err != nil {
			return err
		}
		if !first {
			log.Debug().Str("event_id", env.EventID).Msg("skip duplicate status event")
			return nil
		}
	}

	if err := h.mailer.Send(ctx, msg); err != nil {
		if h.dedup != nil && env.EventID != "" {
			if ferr := h.dedup.Forget(ctx, env.EventID); ferr != nil {
				log.Error().Err(ferr).Str("event_id", env.EventID).Msg("forget dedup mark")
			}
		}
		return err
	}
	return nil
}
