package orders

import (
	"context"
	"time"
)

// Repository is the order store. Every mutation touches a single row
// except CreateOrder, which writes the order and its items atomically.
// Lookups return ErrNotFound when no row matches.
type Repository interface {
	CreateOrder(ctx context.Context, o *Order) error
	FindByToken(ctx context.Context, token string) (*Order, error)
	FindByID(ctx context.Context, id int64) (*Order, error)
	AttachProof(ctx context.Context, token, mediaRef string) (*Order, error)
	// MarkRequested sets requested, requested_at and payment status in one write.
	MarkRequested(ctx context.Context, token string, at time.Time) (*Order, error)
	ApplyDecision(ctx context.Context, id int64, res Resolution, at time.Time) (*Order, error)
	// UpdateBuyer only matches orders whose status is in mutable.
	UpdateBuyer(ctx context.Context, token string, b Buyer, mutable []Status) (*Order, error)
	// CountQueuedBefore counts requested orders of the store with a status in
	// statuses that sort strictly before (at, id) by (requested_at, id).
	CountQueuedBefore(ctx context.Context, storeID int64, at time.Time, id int64, statuses []Status) (int, error)
	// ListRequested returns requested orders of the store with a status in
	// statuses, oldest request first.
	ListRequested(ctx context.Context, storeID int64, statuses []Status) ([]Order, error)
	Summarize(ctx context.Context, storeID int64, since, until time.Time, statuses []Status) (Summary, error)
}

// Catalog is the read-only product lookup. Both methods return ErrNotFound
// for unknown ids.
type Catalog interface {
	Product(ctx context.Context, id int64) (*CatalogProduct, error)
	Variant(ctx context.Context, id int64) (*CatalogVariant, error)
}

type StoreDirectory interface {
	StoreExists(ctx context.Context, storeID int64) (bool, error)
}

// EventPublisher ships an envelope to a topic. Publishing never fails the
// operation that produced the event.
type EventPublisher interface {
	Publish(topic string, key []byte, env Envelope)
}

// MetricsCache hands out a generation with every lookup. SetMetrics must
// drop the write when Invalidate ran after that generation was read, so a
// rollup computed before a decision never outlives it.
type MetricsCache interface {
	GetMetrics(ctx context.Context, storeID int64, r Range) (m *Metrics, gen int64, ok bool)
	SetMetrics(ctx context.Context, storeID int64, r Range, gen int64, m *Metrics)
	Invalidate(ctx context.Context, storeID int64)
}
