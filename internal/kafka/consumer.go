package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Handler returns nil only when the message is fully processed and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

// Reader is the subset of *kafka.Reader the consumer drives.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r          Reader
	workers    int
	log        zerolog.Logger
	newBackOff func() backoff.BackOff
}

func NewConsumer(brokers []string, group, topic string, workers int, log zerolog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	log = log.With().Str("component", "kafka-consumer").Str("topic", topic).Str("group", group).Logger()
	return newConsumer(r, workers, log)
}

func newConsumer(r Reader, workers int, log zerolog.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, log: log, newBackOff: retryForever}
}

// retryForever backs off between handler attempts without ever giving up;
// only context cancellation ends the loop.
func retryForever() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Start fetches messages and hands them to the worker pool until ctx is
// cancelled. Each partition is pinned to one worker so its messages are
// handled in offset order, and a message is committed only after h returns
// nil. A failing message is retried in place, so a later offset of the same
// partition is never committed past it.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer func() {
		if err := c.r.Close(); err != nil {
			c.log.Error().Err(err).Msg("close kafka reader")
		}
	}()

	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 2)
		wg.Add(1)
		go func(id int, in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				c.process(ctx, h, id, m)
			}
		}(i, jobs[i])
	}
	defer wg.Wait()
	defer func() {
		for _, ch := range jobs {
			close(ch)
		}
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs[workerFor(m.Partition, c.workers)] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func workerFor(partition, workers int) int {
	if partition < 0 {
		partition = -partition
	}
	return partition % workers
}

// process handles m until it succeeds and then commits it. If ctx ends first
// the offset stays uncommitted and the message is redelivered to whichever
// member next owns the partition.
func (c *Consumer) process(ctx context.Context, h Handler, worker int, m kafka.Message) {
	if ctx.Err() != nil {
		return
	}
	log := c.log.With().Int("worker", worker).Int("partition", m.Partition).Int64("offset", m.Offset).Logger()
	hctx := log.WithContext(ctx)

	attempt := 0
	op := func() error {
		attempt++
		return h(hctx, m)
	}
	onRetry := func(err error, wait time.Duration) {
		log.Error().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("handle message")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(c.newBackOff(), ctx), onRetry); err != nil {
		log.Warn().Err(err).Int("attempt", attempt).Msg("message left uncommitted")
		return
	}
	if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("commit offset")
	}
}
