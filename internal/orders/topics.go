package orders

const (
	TopicOrderCreated   = "order.created"
	TopicPaymentCreated = "payment.created"
	TopicPaymentStatus  = "payment.status"
	TopicOrderPaid      = "order.paid"
	TopicOrderFinalized = "order.finalized"
	TopicStockShortage  = "stock.shortage"
)

// Partition key = order_id, so all events of one order keep their order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
