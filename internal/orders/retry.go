package orders

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const defaultMaxAttempts = 3

// DefaultBackOff is the wait policy between attempts of a conflicted operation.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	return b
}

// inTx runs fn in a fresh transaction, re-running the whole operation from
// its first read when the store reports a conflict. Any other error stops
// immediately. fn must not carry state between attempts.
func (e *Engine) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		if attempt > 1 {
			e.metrics.TxRetry(op)
			e.logger(ctx).Debug().Str("op", op).Int("attempt", attempt).Msg("retrying after transaction conflict")
		}
		err := e.store.InTx(ctx, fn)
		if err == nil || errors.Is(err, ErrTransactionConflict) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(e.newBackOff(), uint64(e.maxAttempts-1)), ctx)
	return backoff.Retry(operation, policy)
}
