package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusionaura/storefront-orders/internal/inventory"
	"github.com/fusionaura/storefront-orders/internal/orders"
)

func TestMapErrorConflictCodes(t *testing.T) {
	for _, code := range []string{codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable} {
		err := mapError(&pgconn.PgError{Code: code, Message: "contention"}, "commit", nil)
		require.ErrorIs(t, err, orders.ErrTransactionConflict, code)
		assert.Contains(t, err.Error(), "commit")
	}
}

func TestMapErrorConstraints(t *testing.T) {
	err := mapError(&pgconn.PgError{Code: codeCheckViolation, ConstraintName: "inventory_reserved_nonnegative"}, "save stock", nil)
	require.ErrorIs(t, err, inventory.ErrNegativeStock)

	err = mapError(&pgconn.PgError{Code: codeCheckViolation, ConstraintName: "orders_total_balanced"}, "update totals", nil)
	require.ErrorIs(t, err, orders.ErrInvalidAmount)

	err = mapError(&pgconn.PgError{Code: codeForeignKeyViolation, ConstraintName: "inventory_product_id_fkey"}, "set stock", inventory.ErrStockNotFound)
	require.ErrorIs(t, err, inventory.ErrStockNotFound)
}

func TestMapErrorNoRows(t *testing.T) {
	require.ErrorIs(t, mapError(pgx.ErrNoRows, "lock order", orders.ErrNotFound), orders.ErrNotFound)
	require.ErrorIs(t, mapError(pgx.ErrNoRows, "count", nil), pgx.ErrNoRows)
	require.NoError(t, mapError(nil, "noop", orders.ErrNotFound))
}

func TestMapErrorKeepsUnknownErrors(t *testing.T) {
	err := mapError(context.DeadlineExceeded, "query", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, orders.ErrTransactionConflict))
}
