package orders

import (
	"context"
	"sync"
)

const defaultNotifyBuffer = 256

type pendingNotification struct {
	ctx context.Context
	ev  StatusChangedEvent
}

// notifyQueue hands committed status changes to a single delivery goroutine
// in commit order. Enqueueing never blocks.
type notifyQueue struct {
	mu     sync.RWMutex
	closed bool
	ch     chan pendingNotification
	done   chan struct{}
}

func newNotifyQueue(size int) *notifyQueue {
	if size <= 0 {
		size = defaultNotifyBuffer
	}
	return &notifyQueue{
		ch:   make(chan pendingNotification, size),
		done: make(chan struct{}),
	}
}

// offer queues n without blocking. closed is set once close has been called.
func (q *notifyQueue) offer(n pendingNotification) (queued bool, closed bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false, true
	}
	select {
	case q.ch <- n:
		return true, false
	default:
		return false, false
	}
}

func (q *notifyQueue) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	<-q.done
}

// notify runs after commit. It must never fail or block the operation that
// triggered it, so the change is queued and delivered in the background.
func (e *Engine) notify(ctx context.Context, o Order, previous Status) {
	if e.queue == nil {
		return
	}
	n := pendingNotification{
		ctx: context.WithoutCancel(ctx),
		ev:  newStatusChangedEvent(o, previous, e.now().UTC()),
	}
	queued, closed := e.queue.offer(n)
	if queued {
		return
	}
	e.metrics.NotificationDropped()
	reason := "queue full"
	if closed {
		reason = "engine closed"
	}
	e.logger(ctx).Error().Str("order_id", o.ID).Str("status", string(o.Status)).Str("reason", reason).
		Msg("status notification dropped")
}

func (e *Engine) deliverNotifications() {
	defer close(e.queue.done)
	for n := range e.queue.ch {
		e.deliver(n)
	}
}

func (e *Engine) deliver(n pendingNotification) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.NotificationDropped()
			e.logger(n.ctx).Error().Interface("panic", r).Str("order_id", n.ev.OrderID).Msg("status notifier panicked")
		}
	}()
	if err := e.notifier.NotifyStatusChanged(n.ctx, n.ev); err != nil {
		e.metrics.NotificationDropped()
		e.logger(n.ctx).Error().Err(err).Str("order_id", n.ev.OrderID).Str("status", string(n.ev.Status)).
			Msg("status notification failed")
	}
}

// Close stops accepting notifications and waits until every queued one has
// been handed to the Notifier. Operations keep working after Close; their
// status changes are dropped and counted.
func (e *Engine) Close() {
	if e.queue == nil {
		return
	}
	e.queue.close()
}
