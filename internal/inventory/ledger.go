package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fusionaura/storefront-orders/internal/metrics"
)

const (
	opReserve = "reserve"
	opRelease = "release"
	opConsume = "consume"
)

// Locker is the part of an open transaction the ledger works against.
// LockStock must hold a row lock (SELECT ... FOR UPDATE) until the
// transaction ends so the read-check-write below is serialized per product.
type Locker interface {
	LockStock(ctx context.Context, productID string) (Stock, error)
	SaveStock(ctx context.Context, s Stock) error
}

// Ledger applies reservation adjustments to inventory rows inside the
// caller's transaction. It never commits or rolls back on its own.
type Ledger struct {
	metrics *metrics.Metrics
	clock   func() time.Time
}

func NewLedger(m *metrics.Metrics) *Ledger {
	return &Ledger{metrics: m, clock: time.Now}
}

// Reserve moves qty units from sellable quantity into reserved.
func (l *Ledger) Reserve(ctx context.Context, tx Locker, productID string, qty int) (Stock, error) {
	return l.adjust(ctx, tx, opReserve, productID, qty, func(s *Stock) error {
		if s.Quantity < qty {
			return &StockError{ProductID: productID, Requested: qty, Available: s.Quantity}
		}
		s.Quantity -= qty
		s.Reserved += qty
		return nil
	})
}

// Release returns qty reserved units to sellable quantity.
func (l *Ledger) Release(ctx context.Context, tx Locker, productID string, qty int) (Stock, error) {
	return l.adjust(ctx, tx, opRelease, productID, qty, func(s *Stock) error {
		if s.Reserved < qty {
			return fmt.Errorf("%w: product %s release %d, reserved %d", ErrReleaseExceedsReserved, productID, qty, s.Reserved)
		}
		s.Quantity += qty
		s.Reserved -= qty
		return nil
	})
}

// Consume drops qty reserved units permanently; quantity is left untouched.
func (l *Ledger) Consume(ctx context.Context, tx Locker, productID string, qty int) (Stock, error) {
	return l.adjust(ctx, tx, opConsume, productID, qty, func(s *Stock) error {
		if s.Reserved < qty {
			return fmt.Errorf("%w: product %s consume %d, reserved %d", ErrReleaseExceedsReserved, productID, qty, s.Reserved)
		}
		s.Reserved -= qty
		return nil
	})
}

func (l *Ledger) adjust(ctx context.Context, tx Locker, op, productID string, qty int, apply func(*Stock) error) (Stock, error) {
	if qty <= 0 {
		l.metrics.LedgerOp(op, "invalid")
		return Stock{}, fmt.Errorf("%w: %s %d of product %s", ErrInvalidQuantity, op, qty, productID)
	}

	stock, err := tx.LockStock(ctx, productID)
	if err != nil {
		l.metrics.LedgerOp(op, "error")
		return Stock{}, err
	}

	if err := apply(&stock); err != nil {
		l.metrics.LedgerOp(op, resultOf(err))
		return Stock{}, err
	}
	if err := stock.Validate(); err != nil {
		l.metrics.LedgerOp(op, "rejected")
		return Stock{}, err
	}

	stock.UpdatedAt = l.clock().UTC()
	if err := tx.SaveStock(ctx, stock); err != nil {
		l.metrics.LedgerOp(op, "error")
		return Stock{}, err
	}
	l.metrics.LedgerOp(op, "ok")
	return stock, nil
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient"
	case errors.Is(err, ErrReleaseExceedsReserved):
		return "contract_violation"
	default:
		return "rejected"
	}
}
