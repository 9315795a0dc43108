package orders

import "strconv"

const (
	TopicIntentCreated = "storefront.order.intent.created"
	TopicProofAttached = "storefront.order.proof.attached"
	TopicQueueEnrolled = "storefront.order.queue.enrolled"
	TopicOrderDecided  = "storefront.order.decided"
	TopicBuyerUpdated  = "storefront.order.buyer.updated"
)

// Partition key = store id, so every event of one store's queue keeps its order.
func PartitionKey(storeID int64) []byte { return []byte(strconv.FormatInt(storeID, 10)) }
