package orders

import (
	"errors"
	"fmt"

	"github.com/fusionaura/storefront-orders/internal/inventory"
)

var (
	// ErrInsufficientStock is returned when a requested quantity exceeds availability.
	ErrInsufficientStock = inventory.ErrInsufficientStock
	// ErrInvalidTransition indicates the target status is not a legal edge from the current one.
	ErrInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderNotEditable indicates items cannot be changed in the current status.
	ErrOrderNotEditable = errors.New("order: not editable")
	// ErrOrderNotArchivable indicates the order is not in a terminal status.
	ErrOrderNotArchivable = errors.New("order: not archivable")
	// ErrNotFound indicates the order could not be located.
	ErrNotFound = errors.New("order: not found")
	// ErrProductNotFound indicates a referenced product is missing, inactive or deleted.
	ErrProductNotFound = errors.New("order: product not found")
	// ErrTransactionConflict is transient persistence contention; the only retried error.
	ErrTransactionConflict = errors.New("order: transaction conflict")
	// ErrInvalidInput signals the caller provided invalid data.
	ErrInvalidInput = errors.New("order: invalid input")
	// ErrInvalidAmount rejects negative money values.
	ErrInvalidAmount = errors.New("order: invalid amount")
)

// TransitionError names the rejected edge. It unwraps to ErrInvalidTransition.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order: cannot move from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// IsBusinessError reports whether err is a caller-recoverable rule violation
// rather than a system failure.
func IsBusinessError(err error) bool {
	for _, target := range []error{
		ErrInsufficientStock,
		ErrInvalidTransition,
		ErrOrderNotEditable,
		ErrOrderNotArchivable,
		ErrNotFound,
		ErrProductNotFound,
		ErrInvalidInput,
		ErrInvalidAmount,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// StockError reports the product that blocked a reservation or availability check.
type StockError = inventory.StockError
