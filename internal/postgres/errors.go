package postgres

import (
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/fusionaura/storefront-orders/internal/inventory"
	"github.com/fusionaura/storefront-orders/internal/orders"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeCheckViolation       = "23514"
	codeForeignKeyViolation  = "23503"
)

// mapError translates driver errors into domain sentinels. notFound, when set,
// replaces pgx.ErrNoRows.
func mapError(err error, op string, notFound error) error {
	if err == nil {
		return nil
	}
	if notFound != nil && errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrap(notFound, op)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return errors.Wrap(err, op)
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return errors.Wrapf(orders.ErrTransactionConflict, "%s: %s (%s)", op, pgErr.Message, pgErr.Code)
	case codeCheckViolation:
		if strings.HasPrefix(pgErr.ConstraintName, "inventory_") {
			return errors.Wrapf(inventory.ErrNegativeStock, "%s: %s", op, pgErr.ConstraintName)
		}
		if strings.HasPrefix(pgErr.ConstraintName, "orders_") {
			return errors.Wrapf(orders.ErrInvalidAmount, "%s: %s", op, pgErr.ConstraintName)
		}
	case codeForeignKeyViolation:
		if notFound != nil {
			return errors.Wrapf(notFound, "%s: %s", op, pgErr.ConstraintName)
		}
	}
	return errors.Wrap(err, op)
}
