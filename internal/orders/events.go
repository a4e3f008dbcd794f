package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderStatusChanged = "OrderStatusChanged"
	EventPaymentOutcome     = "PaymentOutcome"
)

// Envelope wraps every message published on the order topics.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// StatusChangedEvent is emitted after a committed status change, including
// order creation (PreviousStatus empty).
type StatusChangedEvent struct {
	OrderID        string          `json:"order_id"`
	OrderNumber    string          `json:"order_number"`
	UserID         *string         `json:"user_id,omitempty"`
	PreviousStatus Status          `json:"previous_status,omitempty"`
	Status         Status          `json:"status"`
	PaymentMethod  string          `json:"payment_method"`
	Total          decimal.Decimal `json:"total"`
	CustomerName   string          `json:"customer_name"`
	CustomerEmail  string          `json:"customer_email,omitempty"`
	CustomerPhone  string          `json:"customer_phone,omitempty"`
	Items          []ItemQty       `json:"items"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// PaymentOutcome is the already-verified result delivered by the payment webhook handler.
type PaymentOutcome string

const (
	PaymentSucceeded PaymentOutcome = "SUCCESS"
	PaymentFailed    PaymentOutcome = "FAILURE"
)

type PaymentOutcomePayload struct {
	OrderID   string         `json:"order_id"`
	Outcome   PaymentOutcome `json:"outcome"`
	Reference string         `json:"reference,omitempty"`
}

func newStatusChangedEvent(o Order, previous Status, at time.Time) StatusChangedEvent {
	items := make([]ItemQty, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
	}
	return StatusChangedEvent{
		OrderID:        o.ID,
		OrderNumber:    o.Number,
		UserID:         o.UserID,
		PreviousStatus: previous,
		Status:         o.Status,
		PaymentMethod:  o.PaymentMethod,
		Total:          o.Total,
		CustomerName:   o.Address.Name,
		CustomerEmail:  o.Address.Email,
		CustomerPhone:  o.Address.Phone,
		Items:          items,
		OccurredAt:     at,
	}
}
