// Package orderstest provides in-memory implementations of the orders
// storage and catalog ports for tests.
package orderstest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-queue/internal/orders"
)

// Store keeps stores, catalog rows and orders in memory. It follows the
// same ordering and matching rules as the Postgres repository.
type Store struct {
	mu       sync.Mutex
	stores   map[int64]string
	products map[int64]orders.CatalogProduct
	variants map[int64]orders.CatalogVariant
	orders   map[int64]*orders.Order
	nextID   int64
	// FailCreate makes the next CreateOrder fail without writing.
	FailCreate error
}

var (
	_ orders.Repository     = (*Store)(nil)
	_ orders.Catalog        = (*Store)(nil)
	_ orders.StoreDirectory = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		stores:   map[int64]string{},
		products: map[int64]orders.CatalogProduct{},
		variants: map[int64]orders.CatalogVariant{},
		orders:   map[int64]*orders.Order{},
	}
}

func (s *Store) AddStore(id int64, whatsapp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores[id] = whatsapp
}

func (s *Store) AddProduct(p orders.CatalogProduct) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) AddVariant(v orders.CatalogVariant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[v.ID] = v
}

// Put stores o as-is, assigning an id when it has none.
func (s *Store) Put(o orders.Order) *orders.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == 0 {
		s.nextID++
		o.ID = s.nextID
	} else if o.ID > s.nextID {
		s.nextID = o.ID
	}
	s.orders[o.ID] = &o
	return clone(&o)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *Store) StoreExists(_ context.Context, storeID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.stores[storeID]
	return ok, nil
}

func (s *Store) StoreContact(_ context.Context, storeID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	phone, ok := s.stores[storeID]
	if !ok {
		return "", orders.ErrNotFound
	}
	return phone, nil
}

func (s *Store) Product(_ context.Context, id int64) (*orders.CatalogProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return &p, nil
}

func (s *Store) Variant(_ context.Context, id int64) (*orders.CatalogVariant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return &v, nil
}

func (s *Store) CreateOrder(_ context.Context, o *orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailCreate; err != nil {
		s.FailCreate = nil
		return err
	}
	if len(o.Items) == 0 {
		return fmt.Errorf("%w: order without items", orders.ErrInvalidInput)
	}
	s.nextID++
	o.ID = s.nextID
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	for i := range o.Items {
		o.Items[i].ID = int64(i + 1)
		o.Items[i].OrderID = o.ID
	}
	s.orders[o.ID] = clone(o)
	return nil
}

func (s *Store) FindByToken(_ context.Context, token string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.byToken(token)
	if o == nil {
		return nil, orders.ErrNotFound
	}
	return clone(o), nil
}

func (s *Store) FindByID(_ context.Context, id int64) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return clone(o), nil
}

func (s *Store) AttachProof(_ context.Context, token, mediaRef string) (*orders.Order, error) {
	return s.updateByToken(token, nil, func(o *orders.Order) {
		o.ProofMediaID = &mediaRef
		o.PaymentStatus = orders.PaymentVerifying
	})
}

func (s *Store) MarkRequested(_ context.Context, token string, at time.Time) (*orders.Order, error) {
	return s.updateByToken(token, nil, func(o *orders.Order) {
		o.Requested = true
		o.RequestedAt = &at
		o.PaymentStatus = orders.PaymentVerifying
	})
}

func (s *Store) ApplyDecision(_ context.Context, id int64, res orders.Resolution, at time.Time) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	o.Status = res.Status
	o.PaymentStatus = res.PaymentStatus
	if res.PaymentMethod != "" {
		o.PaymentMethod = res.PaymentMethod
	}
	o.DecidedAt = &at
	return withoutItems(o), nil
}

func (s *Store) UpdateBuyer(_ context.Context, token string, b orders.Buyer, mutable []orders.Status) (*orders.Order, error) {
	return s.updateByToken(token, mutable, func(o *orders.Order) {
		o.Buyer = b
	})
}

func (s *Store) CountQueuedBefore(_ context.Context, storeID int64, at time.Time, id int64, statuses []orders.Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.orders {
		if o.StoreID != storeID || !o.Requested || o.RequestedAt == nil || !in(o.Status, statuses) {
			continue
		}
		if o.RequestedAt.Before(at) || (o.RequestedAt.Equal(at) && o.ID < id) {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListRequested(_ context.Context, storeID int64, statuses []orders.Status) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Order
	for _, o := range s.orders {
		if o.StoreID == storeID && o.Requested && o.RequestedAt != nil && in(o.Status, statuses) {
			out = append(out, *clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.RequestedAt.Equal(*b.RequestedAt) {
			return a.RequestedAt.Before(*b.RequestedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *Store) Summarize(_ context.Context, storeID int64, since, until time.Time, statuses []orders.Status) (orders.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum orders.Summary
	byProduct := map[int64]int64{}
	for _, o := range s.orders {
		if o.StoreID != storeID || !in(o.Status, statuses) || o.CreatedAt.Before(since) || o.CreatedAt.After(until) {
			continue
		}
		sum.RevenueCents += o.TotalCents
		sum.OrderCount++
		for _, it := range o.Items {
			byProduct[it.ProductID] += it.TotalCents
		}
	}
	for pid, rev := range byProduct {
		top := sum.TopProduct
		if top == nil || rev > top.RevenueCents || (rev == top.RevenueCents && pid < top.ProductID) {
			sum.TopProduct = &orders.TopProduct{ProductID: pid, RevenueCents: rev}
		}
	}
	return sum, nil
}

// SetCreatedAt backdates an order, for metrics windows.
func (s *Store) SetCreatedAt(id int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		o.CreatedAt = at
	}
}

func (s *Store) updateByToken(token string, mutable []orders.Status, fn func(*orders.Order)) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.byToken(token)
	if o == nil || (mutable != nil && !in(o.Status, mutable)) {
		return nil, orders.ErrNotFound
	}
	fn(o)
	return withoutItems(o), nil
}

func (s *Store) byToken(token string) *orders.Order {
	for _, o := range s.orders {
		if o.PublicToken == token {
			return o
		}
	}
	return nil
}

func in(st orders.Status, set []orders.Status) bool {
	for _, x := range set {
		if x == st {
			return true
		}
	}
	return false
}

func clone(o *orders.Order) *orders.Order {
	c := *o
	c.Items = append([]orders.OrderItem(nil), o.Items...)
	if o.RequestedAt != nil {
		t := *o.RequestedAt
		c.RequestedAt = &t
	}
	if o.DecidedAt != nil {
		t := *o.DecidedAt
		c.DecidedAt = &t
	}
	return &c
}

func withoutItems(o *orders.Order) *orders.Order {
	c := clone(o)
	c.Items = nil
	return c
}

// Events records published envelopes.
type Events struct {
	mu   sync.Mutex
	Sent []Sent
}

type Sent struct {
	Topic    string
	Key      []byte
	Envelope orders.Envelope
}

func (e *Events) Publish(topic string, key []byte, env orders.Envelope) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Sent = append(e.Sent, Sent{Topic: topic, Key: key, Envelope: env})
}

// Types returns the event types published so far, in order.
func (e *Events) Types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.Sent))
	for i, s := range e.Sent {
		out[i] = s.Envelope.EventType
	}
	return out
}
