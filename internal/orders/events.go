package orders

import (
	"encoding/json"
	"time"
)

const (
	EventIntentCreated = "OrderIntentCreated"
	EventProofAttached = "PaymentProofAttached"
	EventQueueEnrolled = "OrderQueueEnrolled"
	EventOrderDecided  = "OrderDecided"
	EventBuyerUpdated  = "OrderBuyerUpdated"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // public token
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

type IntentCreatedPayload struct {
	OrderID    int64  `json:"order_id"`
	StoreID    int64  `json:"store_id"`
	ProductID  int64  `json:"product_id"`
	VariantID  *int64 `json:"variant_id,omitempty"`
	Quantity   int    `json:"quantity"`
	TotalCents int64  `json:"total_cents"`
	Currency   string `json:"currency"`
}

type ProofAttachedPayload struct {
	OrderID      int64  `json:"order_id"`
	StoreID      int64  `json:"store_id"`
	ProofMediaID string `json:"proof_media_id"`
}

type QueueEnrolledPayload struct {
	OrderID     int64     `json:"order_id"`
	StoreID     int64     `json:"store_id"`
	BuyerName   string    `json:"buyer_name"`
	TotalCents  int64     `json:"total_cents"`
	Currency    string    `json:"currency"`
	RequestedAt time.Time `json:"requested_at"`
	Position    *int      `json:"position"`
}

type OrderDecidedPayload struct {
	OrderID       int64         `json:"order_id"`
	StoreID       int64         `json:"store_id"`
	PublicToken   string        `json:"public_token"`
	Decision      Decision      `json:"decision"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	BuyerName     string        `json:"buyer_name"`
	BuyerPhone    string        `json:"buyer_phone"`
	DecidedAt     time.Time     `json:"decided_at"`
}

type BuyerUpdatedPayload struct {
	OrderID int64 `json:"order_id"`
	StoreID int64 `json:"store_id"`
}
