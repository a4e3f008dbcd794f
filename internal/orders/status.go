package orders

import "fmt"

type Status string

const (
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"
	StatusPending         Status = "PENDING"
	StatusAccepted        Status = "ACCEPTED"
	StatusDeclined        Status = "DECLINED"
	StatusPendingDelivery Status = "PENDING_DELIVERY"
	StatusOutForDelivery  Status = "OUT_FOR_DELIVERY"
	StatusCompleted       Status = "COMPLETED"
	StatusCancelled       Status = "CANCELLED"
)

var allStatuses = []Status{
	StatusAwaitingPayment,
	StatusPending,
	StatusAccepted,
	StatusDeclined,
	StatusPendingDelivery,
	StatusOutForDelivery,
	StatusCompleted,
	StatusCancelled,
}

// TerminalStatuses lists the statuses no order leaves once reached.
var TerminalStatuses = []Status{StatusDeclined, StatusCompleted, StatusCancelled}

func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusDeclined, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// HoldsReservation reports whether an order in this status has its items
// counted in inventory.reserved.
func (s Status) HoldsReservation() bool {
	switch s {
	case StatusAccepted, StatusPendingDelivery, StatusOutForDelivery:
		return true
	}
	return false
}

// Editable reports whether an admin may replace the item set. Orders awaiting
// payment are excluded because the gateway charge amount is already fixed.
func (s Status) Editable() bool {
	return !s.IsTerminal() && s != StatusAwaitingPayment
}
