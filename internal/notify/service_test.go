package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-storefront-queue/internal/orders"
)

type contacts map[int64]string

func (c contacts) StoreContact(_ context.Context, id int64) (string, error) {
	phone, ok := c[id]
	if !ok {
		return "", orders.ErrNotFound
	}
	return phone, nil
}

type outbox struct {
	sent []Notification
	err  error
}

func (o *outbox) Send(_ context.Context, n Notification) error {
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, n)
	return nil
}

type memDedup map[string]bool

func (d memDedup) Claim(_ context.Context, id string) (bool, error) {
	if d[id] {
		return false, nil
	}
	d[id] = true
	return true, nil
}

func (d memDedup) Release(_ context.Context, id string) error {
	delete(d, id)
	return nil
}

func message(t *testing.T, id, eventType string, payload any) kafkago.Message {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	value, err := json.Marshal(orders.Envelope{EventID: id, EventType: eventType, EventVersion: 1, Payload: raw})
	require.NoError(t, err)
	return kafkago.Message{Value: value}
}

func TestHandleQueueEnrolled(t *testing.T) {
	out := &outbox{}
	svc := &Service{Contacts: contacts{1: "+54 9 11 5555-0000"}, Sender: out, Dedup: memDedup{}}
	pos := 3
	m := message(t, "evt-1", orders.EventQueueEnrolled, orders.QueueEnrolledPayload{
		OrderID: 42, StoreID: 1, BuyerName: "Ana", TotalCents: 123450, Currency: "USD", Position: &pos,
	})

	require.NoError(t, svc.HandleOrderEvent(context.Background(), m))
	require.NoError(t, svc.HandleOrderEvent(context.Background(), m), "redelivery")

	require.Len(t, out.sent, 1)
	n := out.sent[0]
	assert.Equal(t, int64(42), n.OrderID)
	assert.Equal(t, "New order #42 from Ana is waiting for review. Total: 1234.50 USD. Queue position: 3.", n.Text)
	assert.Contains(t, n.Link, "https://wa.me/5491155550000?text=New+order+%2342")
}

func TestHandleOrderDecided(t *testing.T) {
	tests := []struct {
		status orders.Status
		want   string
	}{
		{orders.StatusConfirmed, "Your order #7 was confirmed. Thank you for your purchase!"},
		{orders.StatusCancelled, "Your order #7 was rejected. Please contact the store for details."},
		{orders.StatusPending, "Your order #7 is back under review. We'll let you know soon."},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			out := &outbox{}
			svc := &Service{Contacts: contacts{}, Sender: out}
			m := message(t, "evt-"+string(tt.status), orders.EventOrderDecided, orders.OrderDecidedPayload{
				OrderID: 7, StoreID: 1, Status: tt.status, BuyerPhone: "11 4444 3333",
			})
			require.NoError(t, svc.HandleOrderEvent(context.Background(), m))
			require.Len(t, out.sent, 1)
			assert.Equal(t, tt.want, out.sent[0].Text)
			assert.Equal(t, "11 4444 3333", out.sent[0].To)
		})
	}
}

func TestHandleSkips(t *testing.T) {
	out := &outbox{}
	svc := &Service{Contacts: contacts{1: ""}, Sender: out}
	ctx := context.Background()

	assert.NoError(t, svc.HandleOrderEvent(ctx, kafkago.Message{Value: []byte("garbage")}))
	assert.NoError(t, svc.HandleOrderEvent(ctx, message(t, "a", orders.EventIntentCreated, orders.IntentCreatedPayload{OrderID: 1})))
	assert.NoError(t, svc.HandleOrderEvent(ctx, message(t, "b", orders.EventQueueEnrolled, orders.QueueEnrolledPayload{OrderID: 1, StoreID: 1})))
	assert.NoError(t, svc.HandleOrderEvent(ctx, message(t, "c", orders.EventOrderDecided, orders.OrderDecidedPayload{OrderID: 1})))
	assert.Empty(t, out.sent)
}

func TestHandleFailureReleasesDedup(t *testing.T) {
	boom := errors.New("gateway down")
	out := &outbox{err: boom}
	dedup := memDedup{}
	svc := &Service{Contacts: contacts{1: "555"}, Sender: out, Dedup: dedup}
	m := message(t, "evt-9", orders.EventQueueEnrolled, orders.QueueEnrolledPayload{OrderID: 9, StoreID: 1})

	err := svc.HandleOrderEvent(context.Background(), m)
	assert.ErrorIs(t, err, boom)
	assert.False(t, dedup["evt-9"])

	out.err = nil
	require.NoError(t, svc.HandleOrderEvent(context.Background(), m))
	assert.Len(t, out.sent, 1)

	unknownStore := message(t, "evt-10", orders.EventQueueEnrolled, orders.QueueEnrolledPayload{OrderID: 10, StoreID: 99})
	assert.NoError(t, svc.HandleOrderEvent(context.Background(), unknownStore))
	assert.Len(t, out.sent, 1)
}

func TestWhatsAppLink(t *testing.T) {
	assert.Equal(t, "https://wa.me/5491100000000?text=hola+%26+chau", WhatsAppLink("+54 9 (11) 0000-0000", "hola & chau"))
	assert.Equal(t, "https://wa.me/123", WhatsAppLink("123", ""))
	assert.Equal(t, "", WhatsAppLink("n/a", "hi"))
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "0.05 USD", FormatCents(5, "USD"))
	assert.Equal(t, "20.00", FormatCents(2000, ""))
}
