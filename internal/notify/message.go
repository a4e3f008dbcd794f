package notify

import (
	"fmt"

	"github.com/fusionaura/storefront-orders/internal/orders"
)

type template struct {
	title string
	body  string
}

var statusTemplates = map[orders.Status]template{
	orders.StatusPending: {
		title: "Payment Confirmed",
		body:  "Your payment has been received and your order is now being processed. We will notify you once it has been accepted.",
	},
	orders.StatusAccepted: {
		title: "Order Accepted",
		body:  "Your order has been accepted and is being prepared for delivery.",
	},
	orders.StatusDeclined: {
		title: "Order Declined",
		body:  "Unfortunately your order could not be processed. Any payment made will be refunded.",
	},
	orders.StatusPendingDelivery: {
		title: "Ready for Delivery",
		body:  "Your order is packed and ready for delivery. We will let you know when it is dispatched.",
	},
	orders.StatusOutForDelivery: {
		title: "Out for Delivery",
		body:  "Your order is on its way. Please make sure someone is available to receive it.",
	},
	orders.StatusCompleted: {
		title: "Order Delivered",
		body:  "Your order has been delivered. Thank you for shopping with us.",
	},
	orders.StatusCancelled: {
		title: "Order Cancelled",
		body:  "Your order has been cancelled. Any payment made will be refunded.",
	},
}

var orderReceived = template{
	title: "Order Received",
	body:  "We have received your order and will confirm it shortly.",
}

// Message is one customer notification.
type Message struct {
	OrderID     string
	OrderNumber string
	Email       string
	Phone       string
	Subject     string
	Body        string
}

// BuildMessage renders the customer notification for ev. ok is false when the
// event warrants no message: orders created awaiting payment, or customers
// without any contact details.
func BuildMessage(ev orders.StatusChangedEvent) (Message, bool) {
	if ev.CustomerEmail == "" && ev.CustomerPhone == "" {
		return Message{}, false
	}

	var tpl template
	switch {
	case ev.PreviousStatus == "" && ev.Status == orders.StatusAwaitingPayment:
		return Message{}, false
	case ev.PreviousStatus == "":
		tpl = orderReceived
	default:
		var ok bool
		if tpl, ok = statusTemplates[ev.Status]; !ok {
			tpl = template{title: "Order Status Updated", body: fmt.Sprintf("Your order status has been updated to %s.", ev.Status)}
		}
	}

	return Message{
		OrderID:     ev.OrderID,
		OrderNumber: ev.OrderNumber,
		Email:       ev.CustomerEmail,
		Phone:       ev.CustomerPhone,
		Subject:     fmt.Sprintf("%s - Order #%s", tpl.title, ev.OrderNumber),
		Body:        fmt.Sprintf("Hi %s,\n\n%s\n\nOrder total: %s", ev.CustomerName, tpl.body, ev.Total.StringFixed(2)),
	}, true
}
