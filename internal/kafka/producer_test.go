package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
	err    error
	block  chan struct{}
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestProducerFlushesOnClose(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 8, zerolog.Nop())
	p.Start(context.Background())

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, p.Publish([]byte(k), []byte("v"), EventHeaders("OrderStatusChanged", 1)...))
	}
	p.Close()
	p.WaitClosed()

	msgs := w.written()
	require.Len(t, msgs, 3)
	assert.Equal(t, "a", string(msgs[0].Key))
	assert.Equal(t, "OrderStatusChanged", HeaderValue(msgs[0], HeaderEventType))
	assert.Equal(t, "1", HeaderValue(msgs[0], HeaderEventVersion))
	assert.True(t, w.closed)

	require.ErrorIs(t, p.Publish([]byte("late"), nil), ErrProducerClosed)
	p.Close()
}

func TestProducerPublishNeverBlocks(t *testing.T) {
	w := &fakeWriter{block: make(chan struct{})}
	p := newProducer(w, 1, zerolog.Nop())
	p.Start(context.Background())

	// The loop takes the first message and blocks inside the writer; the
	// second fills the buffer.
	require.NoError(t, p.Publish([]byte("1"), nil))
	require.Eventually(t, func() bool { return len(p.inbox) == 0 }, time1s, tick)
	require.NoError(t, p.Publish([]byte("2"), nil))
	require.ErrorIs(t, p.Publish([]byte("3"), nil), ErrBufferFull)

	close(w.block)
	p.Close()
	p.WaitClosed()
	assert.Len(t, w.written(), 2)
}

func TestProducerDrainsOnCancel(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unavailable")}
	p := newProducer(w, 4, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, p.Publish([]byte("1"), nil))
	require.NoError(t, p.Publish([]byte("2"), nil))
	cancel()
	p.Start(ctx)
	p.WaitClosed()

	assert.True(t, w.closed)
	assert.NotEmpty(t, w.written())
}
