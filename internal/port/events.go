package port

// Topics and event types for domain events staged through the outbox.
// The streaming adapter owns partitioning and retention for these topics.
const (
	TopicSalesCompleted     = "pharmacy.sales.completed"
	TopicInventoryAdjusted  = "pharmacy.inventory.adjusted"
	TopicFulfillmentRequest = "pharmacy.fulfillment.requests"
	TopicDeadLetter         = "dead.letter"

	EventTypeSaleCompleted     = "sale.completed"
	EventTypeInventoryAdjusted = "inventory.adjusted"
)
