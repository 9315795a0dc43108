package orders

import "time"

// Buyer is captured on the order at intent time and never joined against
// a user record afterwards.
type Buyer struct {
	Name  string  `json:"name"`
	Phone string  `json:"phone"`
	Email *string `json:"email,omitempty"`
}

type Order struct {
	ID                int64         `json:"id"`
	PublicToken       string        `json:"public_token"`
	StoreID           int64         `json:"store_id"`
	Buyer             Buyer         `json:"buyer"`
	Status            Status        `json:"status"`
	PaymentStatus     PaymentStatus `json:"payment_status"`
	PaymentMethod     PaymentMethod `json:"payment_method"`
	SubTotalCents     int64         `json:"sub_total_cents"`
	ShippingCostCents int64         `json:"shipping_cost_cents"`
	TotalCents        int64         `json:"total_cents"`
	Currency          string        `json:"currency"`
	Requested         bool          `json:"requested"`
	RequestedAt       *time.Time    `json:"requested_at,omitempty"`
	DecidedAt         *time.Time    `json:"decided_at,omitempty"`
	ProofMediaID      *string       `json:"proof_media_id,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	Items             []OrderItem   `json:"items,omitempty"`
}

type OrderItem struct {
	ID             int64          `json:"id"`
	OrderID        int64          `json:"order_id"`
	ProductID      int64          `json:"product_id"`
	VariantID      *int64         `json:"variant_id,omitempty"`
	Name           string         `json:"name"`
	Options        map[string]any `json:"options,omitempty"`
	UnitPriceCents int64          `json:"unit_price_cents"`
	Quantity       int            `json:"quantity"`
	TotalCents     int64          `json:"total_cents"`
}

// OrderView is an order annotated with its live queue rank.
type OrderView struct {
	Order
	Position        *int   `json:"position"`
	PositionMessage string `json:"position_message,omitempty"`
}

type IntentInput struct {
	StoreID   int64
	ProductID int64
	VariantID *int64
	Quantity  int
	Buyer     *Buyer
}

type IntentResult struct {
	OrderID     int64  `json:"order_id"`
	PublicToken string `json:"public_token"`
}

type ProofResult struct {
	OrderID       int64         `json:"order_id"`
	PaymentStatus PaymentStatus `json:"payment_status"`
}

type EnrollResult struct {
	OrderID         int64  `json:"order_id"`
	Position        *int   `json:"position"`
	PositionMessage string `json:"position_message,omitempty"`
}

type DecisionResult struct {
	OrderID       int64         `json:"order_id"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
}

// Catalog snapshots, as read from the storefront's product tables.

type CatalogProduct struct {
	ID         int64
	StoreID    int64
	Name       string
	PriceCents *int64
}

type CatalogVariant struct {
	ID         int64
	ProductID  int64
	Name       string
	Options    map[string]any
	PriceCents *int64
}
