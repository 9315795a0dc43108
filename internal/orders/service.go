package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultCurrency = "USD"

// MaxQuantity is the largest line quantity the order_items column holds.
const MaxQuantity = math.MaxInt32

// Service runs the order intake and review queue: intents, payment proofs,
// queue enrollment, positions, seller decisions and the sales rollup.
type Service struct {
	Repo    Repository
	Catalog Catalog
	Stores  StoreDirectory

	// Optional collaborators.
	Events       EventPublisher
	MetricsCache MetricsCache
	Log          *zap.Logger

	ServiceName string
	Currency    string

	// Test hooks; default to the wall clock and random UUIDs.
	Now      func() time.Time
	NewToken func() string
}

// CreateIntent snapshots the selected product into a new pending order with
// a single line item.
func (s *Service) CreateIntent(ctx context.Context, in IntentInput) (*IntentResult, error) {
	if in.StoreID <= 0 || in.ProductID <= 0 {
		return nil, fmt.Errorf("%w: store and product are required", ErrInvalidInput)
	}
	if in.VariantID != nil && *in.VariantID <= 0 {
		return nil, fmt.Errorf("%w: invalid variant id %d", ErrInvalidInput, *in.VariantID)
	}
	qty := in.Quantity
	if qty < 1 {
		qty = 1
	}
	if qty > MaxQuantity {
		return nil, fmt.Errorf("%w: quantity %d exceeds %d", ErrInvalidInput, qty, MaxQuantity)
	}

	ok, err := s.Stores.StoreExists(ctx, in.StoreID)
	if err != nil {
		return nil, fmt.Errorf("lookup store: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: store %d", ErrNotFound, in.StoreID)
	}

	p, err := s.Catalog.Product(ctx, in.ProductID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: product %d", ErrNotFound, in.ProductID)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup product: %w", err)
	}
	if p.StoreID != in.StoreID {
		return nil, fmt.Errorf("%w: product %d does not belong to store %d", ErrInvalidInput, p.ID, in.StoreID)
	}

	item := OrderItem{ProductID: p.ID, Name: p.Name, Quantity: qty}
	price := p.PriceCents
	if in.VariantID != nil {
		v, err := s.Catalog.Variant(ctx, *in.VariantID)
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: variant %d does not exist", ErrInvalidInput, *in.VariantID)
		}
		if err != nil {
			return nil, fmt.Errorf("lookup variant: %w", err)
		}
		if v.ProductID != p.ID {
			return nil, fmt.Errorf("%w: variant %d does not belong to product %d", ErrInvalidInput, v.ID, p.ID)
		}
		item.VariantID = &v.ID
		item.Options = v.Options
		if v.Name != "" {
			item.Name = p.Name + " (" + v.Name + ")"
		}
		price = v.PriceCents
	}
	if price == nil || *price < 0 {
		return nil, fmt.Errorf("%w: product %d has no price", ErrInvalidInput, p.ID)
	}
	if *price > math.MaxInt64/int64(qty) {
		return nil, fmt.Errorf("%w: total of %d x %d cents overflows", ErrInvalidInput, qty, *price)
	}
	item.UnitPriceCents = *price
	item.TotalCents = *price * int64(qty)

	o := &Order{
		PublicToken:       s.token(),
		StoreID:           in.StoreID,
		Status:            StatusPending,
		PaymentStatus:     PaymentPending,
		PaymentMethod:     PaymentTransfer,
		SubTotalCents:     item.TotalCents,
		ShippingCostCents: 0,
		Currency:          s.currency(),
		CreatedAt:         s.now(),
		Items:             []OrderItem{item},
	}
	o.TotalCents = o.SubTotalCents + o.ShippingCostCents
	if in.Buyer != nil {
		o.Buyer = normalizeBuyer(*in.Buyer)
	}

	if err := s.Repo.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.logger().Info("order intent created",
		zap.Int64("order_id", o.ID), zap.Int64("store_id", o.StoreID), zap.Int64("total_cents", o.TotalCents))
	s.publish(ctx, TopicIntentCreated, EventIntentCreated, o, IntentCreatedPayload{
		OrderID:    o.ID,
		StoreID:    o.StoreID,
		ProductID:  item.ProductID,
		VariantID:  item.VariantID,
		Quantity:   qty,
		TotalCents: o.TotalCents,
		Currency:   o.Currency,
	})
	return &IntentResult{OrderID: o.ID, PublicToken: o.PublicToken}, nil
}

// AttachProof records the uploaded payment proof and moves payment into
// verification. Order status and queue fields are left alone.
func (s *Service) AttachProof(ctx context.Context, token, mediaRef string) (*ProofResult, error) {
	token = strings.TrimSpace(token)
	mediaRef = strings.TrimSpace(mediaRef)
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	if mediaRef == "" {
		return nil, fmt.Errorf("%w: media reference is required", ErrInvalidInput)
	}

	o, err := s.Repo.AttachProof(ctx, token, mediaRef)
	if err != nil {
		return nil, fmt.Errorf("attach proof: %w", err)
	}

	s.publish(ctx, TopicProofAttached, EventProofAttached, o, ProofAttachedPayload{
		OrderID: o.ID, StoreID: o.StoreID, ProofMediaID: mediaRef,
	})
	return &ProofResult{OrderID: o.ID, PaymentStatus: o.PaymentStatus}, nil
}

// Enroll puts the order at the back of its store's review queue and
// returns its rank after the write. Enrolling again moves it to the back.
func (s *Service) Enroll(ctx context.Context, token string) (*EnrollResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", ErrInvalidInput)
	}

	o, err := s.Repo.MarkRequested(ctx, token, s.now())
	if err != nil {
		return nil, fmt.Errorf("enroll: %w", err)
	}
	pos, err := s.Position(ctx, o)
	if err != nil {
		return nil, err
	}

	s.logger().Info("order enrolled in review queue",
		zap.Int64("order_id", o.ID), zap.Int64("store_id", o.StoreID), zap.Intp("position", pos))
	s.publish(ctx, TopicQueueEnrolled, EventQueueEnrolled, o, QueueEnrolledPayload{
		OrderID:     o.ID,
		StoreID:     o.StoreID,
		BuyerName:   o.Buyer.Name,
		TotalCents:  o.TotalCents,
		Currency:    o.Currency,
		RequestedAt: *o.RequestedAt,
		Position:    pos,
	})
	return &EnrollResult{OrderID: o.ID, Position: pos, PositionMessage: PositionMessage(pos)}, nil
}

// Position is the 1-based rank of o among its store's live queue, or nil
// when o holds no slot. Ties on requested_at fall back to id order.
func (s *Service) Position(ctx context.Context, o *Order) (*int, error) {
	if !InLiveQueue(o) {
		return nil, nil
	}
	n, err := s.Repo.CountQueuedBefore(ctx, o.StoreID, *o.RequestedAt, o.ID, LiveStatuses())
	if err != nil {
		return nil, fmt.Errorf("queue position: %w", err)
	}
	pos := n + 1
	return &pos, nil
}

func (s *Service) GetPublicOrder(ctx context.Context, token string) (*OrderView, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	o, err := s.Repo.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	return s.view(ctx, o)
}

// ListQueue lists the store's requested orders whose status is in statuses
// (the live set when empty), oldest request first. Positions are always
// ranked against the live set, so a narrower filter can show gaps.
func (s *Service) ListQueue(ctx context.Context, storeID int64, statuses []Status) ([]OrderView, error) {
	if storeID <= 0 {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if len(statuses) == 0 {
		statuses = LiveStatuses()
	}

	list, err := s.Repo.ListRequested(ctx, storeID, statuses)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	out := make([]OrderView, 0, len(list))
	for i := range list {
		v, err := s.view(ctx, &list[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// Decide applies a seller decision regardless of the order's current state.
func (s *Service) Decide(ctx context.Context, orderID int64, d Decision) (*DecisionResult, error) {
	if orderID <= 0 {
		return nil, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(string(d)) == "" {
		return nil, fmt.Errorf("%w: decision is required", ErrInvalidInput)
	}

	res := ResolveDecision(d)
	o, err := s.Repo.ApplyDecision(ctx, orderID, res, s.now())
	if err != nil {
		return nil, fmt.Errorf("decide order %d: %w", orderID, err)
	}
	if s.MetricsCache != nil {
		s.MetricsCache.Invalidate(ctx, o.StoreID)
	}

	s.logger().Info("order decided",
		zap.Int64("order_id", o.ID), zap.String("decision", string(d)),
		zap.String("status", string(o.Status)), zap.String("payment_status", string(o.PaymentStatus)))
	s.publish(ctx, TopicOrderDecided, EventOrderDecided, o, OrderDecidedPayload{
		OrderID:       o.ID,
		StoreID:       o.StoreID,
		PublicToken:   o.PublicToken,
		Decision:      d,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		BuyerName:     o.Buyer.Name,
		BuyerPhone:    o.Buyer.Phone,
		DecidedAt:     *o.DecidedAt,
	})
	return &DecisionResult{OrderID: o.ID, Status: o.Status, PaymentStatus: o.PaymentStatus}, nil
}

// UpdateBuyer replaces the buyer snapshot while the order is unresolved.
func (s *Service) UpdateBuyer(ctx context.Context, token string, b Buyer) (*OrderView, error) {
	token = strings.TrimSpace(token)
	b = normalizeBuyer(b)
	if token == "" || b.Name == "" || b.Phone == "" {
		return nil, fmt.Errorf("%w: token, buyer name and phone are required", ErrInvalidInput)
	}

	cur, err := s.Repo.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	if cur.Status.Resolved() {
		return nil, fmt.Errorf("%w: order %d is already %s", ErrConflict, cur.ID, cur.Status)
	}

	o, err := s.Repo.UpdateBuyer(ctx, token, b, LiveStatuses())
	if errors.Is(err, ErrNotFound) {
		// decided between the read and the write
		return nil, fmt.Errorf("%w: order %d was resolved", ErrConflict, cur.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("update buyer: %w", err)
	}
	o.Items = cur.Items

	s.publish(ctx, TopicBuyerUpdated, EventBuyerUpdated, o, BuyerUpdatedPayload{OrderID: o.ID, StoreID: o.StoreID})
	return s.view(ctx, o)
}

// Metrics sums confirmed-or-later orders created within the range ending now.
func (s *Service) Metrics(ctx context.Context, storeID int64, r Range) (*Metrics, error) {
	if storeID <= 0 {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if r == "" {
		r = RangeMonth
	}
	var gen int64
	if s.MetricsCache != nil {
		var m *Metrics
		var ok bool
		if m, gen, ok = s.MetricsCache.GetMetrics(ctx, storeID, r); ok {
			return m, nil
		}
	}

	until := s.now()
	since := r.Since(until)
	sum, err := s.Repo.Summarize(ctx, storeID, since, until, RevenueStatuses())
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	m := &Metrics{
		StoreID:      storeID,
		Range:        r,
		Since:        since,
		Until:        until,
		RevenueCents: sum.RevenueCents,
		OrderCount:   sum.OrderCount,
		TopProduct:   sum.TopProduct,
	}
	if s.MetricsCache != nil {
		s.MetricsCache.SetMetrics(ctx, storeID, r, gen, m)
	}
	return m, nil
}

func (s *Service) view(ctx context.Context, o *Order) (*OrderView, error) {
	pos, err := s.Position(ctx, o)
	if err != nil {
		return nil, err
	}
	return &OrderView{Order: *o, Position: pos, PositionMessage: PositionMessage(pos)}, nil
}

func (s *Service) publish(ctx context.Context, topic, eventType string, o *Order, payload any) {
	if s.Events == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger().Error("encode event payload", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	s.Events.Publish(topic, PartitionKey(o.StoreID), Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    s.now(),
		Producer:      s.ServiceName,
		TraceID:       TraceID(ctx),
		CorrelationID: o.PublicToken,
		Payload:       raw,
	})
}

// now is truncated to the storage precision so ranks computed from an
// in-memory timestamp agree with the stored one.
func (s *Service) now() time.Time {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return now().UTC().Truncate(time.Microsecond)
}

func (s *Service) token() string {
	if s.NewToken != nil {
		return s.NewToken()
	}
	return uuid.NewString()
}

func (s *Service) currency() string {
	if s.Currency == "" {
		return DefaultCurrency
	}
	return s.Currency
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func normalizeBuyer(b Buyer) Buyer {
	b.Name = strings.TrimSpace(b.Name)
	b.Phone = strings.TrimSpace(b.Phone)
	if b.Email != nil {
		e := strings.TrimSpace(*b.Email)
		if e == "" {
			b.Email = nil
		} else {
			b.Email = &e
		}
	}
	return b
}

type traceKey struct{}

// WithTraceID tags ctx with the request id carried into published events.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
