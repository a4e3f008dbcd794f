package orders

const (
	TopicOrderStatusChanged = "order.status.changed"
	TopicPaymentOutcome     = "payment.outcome"
)

// PartitionKey keys every event of one order to the same partition so they stay ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
