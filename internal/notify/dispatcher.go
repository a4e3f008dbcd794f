package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	kafkax "github.com/fusionaura/storefront-orders/internal/kafka"
	"github.com/fusionaura/storefront-orders/internal/orders"
	"github.com/fusionaura/storefront-orders/internal/tracing"
)

const eventVersion = 1

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafka.Header) error
}

// Dispatcher publishes committed status changes to the order.status.changed
// topic, keyed by order id.
type Dispatcher struct {
	pub      Publisher
	producer string
	now      func() time.Time
}

func NewDispatcher(pub Publisher, producer string) *Dispatcher {
	return &Dispatcher{pub: pub, producer: producer, now: time.Now}
}

func (d *Dispatcher) NotifyStatusChanged(ctx context.Context, ev orders.StatusChangedEvent) error {
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderStatusChanged,
		EventVersion:  eventVersion,
		OccurredAt:    d.now().UTC(),
		Producer:      d.producer,
		TraceID:       tracing.TraceID(ctx),
		CorrelationID: ev.OrderID,
		Payload:       kafkax.MustMarshal(ev),
	}
	return d.pub.Publish(orders.PartitionKey(ev.OrderID), kafkax.MustMarshal(env),
		kafkax.EventHeaders(orders.EventOrderStatusChanged, eventVersion)...)
}

// Fanout delivers each event to every notifier and joins their errors.
type Fanout []orders.Notifier

func (f Fanout) NotifyStatusChanged(ctx context.Context, ev orders.StatusChangedEvent) error {
	var errs []error
	for _, n := range f {
		if err := n.NotifyStatusChanged(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
