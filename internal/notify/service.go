// Package notify turns order queue events into WhatsApp messages for the
// seller (new request in the queue) and the buyer (decision taken).
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-storefront-queue/internal/kafka"
	"github.com/ariefcatur/go-storefront-queue/internal/orders"
)

// Topics the notifier subscribes to.
var Topics = []string{orders.TopicQueueEnrolled, orders.TopicOrderDecided}

type ContactBook interface {
	// StoreContact returns the store's WhatsApp number, possibly empty.
	StoreContact(ctx context.Context, storeID int64) (string, error)
}

type Deduper interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

type Notification struct {
	EventID string
	OrderID int64
	To      string
	Text    string
	Link    string
}

type Sender interface {
	Send(ctx context.Context, n Notification) error
}

type Service struct {
	Contacts ContactBook
	Sender   Sender
	Dedup    Deduper // optional
	Log      *zap.Logger
}

// HandleOrderEvent is installed as the consumer handler. Errors are
// transient and make the consumer retry; undecodable messages and unknown
// stores are logged and skipped so they do not block the partition.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		s.logger().Warn("skip undecodable message", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventQueueEnrolled && env.EventType != orders.EventOrderDecided {
		return nil
	}

	if s.Dedup != nil {
		fresh, err := s.Dedup.Claim(ctx, env.EventID)
		if err != nil {
			return fmt.Errorf("dedup claim: %w", err)
		}
		if !fresh {
			return nil
		}
	}

	if err := s.dispatch(ctx, env); err != nil {
		if s.Dedup != nil {
			_ = s.Dedup.Release(ctx, env.EventID)
		}
		return err
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, env orders.Envelope) error {
	log := s.logger().With(zap.String("event_id", env.EventID), zap.String("event_type", env.EventType), zap.String("trace_id", env.TraceID))

	switch env.EventType {
	case orders.EventQueueEnrolled:
		p, err := kafkax.UnwrapPayload[orders.QueueEnrolledPayload](env.Payload)
		if err != nil {
			log.Warn("skip bad payload", zap.Error(err))
			return nil
		}
		phone, err := s.Contacts.StoreContact(ctx, p.StoreID)
		if errors.Is(err, orders.ErrNotFound) {
			log.Warn("skip event for unknown store", zap.Int64("store_id", p.StoreID))
			return nil
		}
		if err != nil {
			return fmt.Errorf("store contact %d: %w", p.StoreID, err)
		}
		if phone == "" {
			log.Info("store has no whatsapp number", zap.Int64("store_id", p.StoreID))
			return nil
		}
		return s.send(ctx, env.EventID, p.OrderID, phone, SellerText(p))

	case orders.EventOrderDecided:
		p, err := kafkax.UnwrapPayload[orders.OrderDecidedPayload](env.Payload)
		if err != nil {
			log.Warn("skip bad payload", zap.Error(err))
			return nil
		}
		if p.BuyerPhone == "" {
			log.Info("order has no buyer phone", zap.Int64("order_id", p.OrderID))
			return nil
		}
		return s.send(ctx, env.EventID, p.OrderID, p.BuyerPhone, BuyerText(p))
	}
	return nil
}

func (s *Service) send(ctx context.Context, eventID string, orderID int64, phone, text string) error {
	n := Notification{EventID: eventID, OrderID: orderID, To: phone, Text: text, Link: WhatsAppLink(phone, text)}
	if err := s.Sender.Send(ctx, n); err != nil {
		return fmt.Errorf("send notification for order %d: %w", orderID, err)
	}
	return nil
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func SellerText(p orders.QueueEnrolledPayload) string {
	buyer := p.BuyerName
	if buyer == "" {
		buyer = "a buyer"
	}
	text := fmt.Sprintf("New order #%d from %s is waiting for review. Total: %s.", p.OrderID, buyer, FormatCents(p.TotalCents, p.Currency))
	if p.Position != nil {
		text += fmt.Sprintf(" Queue position: %d.", *p.Position)
	}
	return text
}

func BuyerText(p orders.OrderDecidedPayload) string {
	switch p.Status {
	case orders.StatusConfirmed:
		return fmt.Sprintf("Your order #%d was confirmed. Thank you for your purchase!", p.OrderID)
	case orders.StatusCancelled:
		return fmt.Sprintf("Your order #%d was rejected. Please contact the store for details.", p.OrderID)
	default:
		return fmt.Sprintf("Your order #%d is back under review. We'll let you know soon.", p.OrderID)
	}
}

// FormatCents renders an amount in minor units, e.g. 123450 USD -> "1234.50 USD".
func FormatCents(cents int64, currency string) string {
	amount := decimal.New(cents, -2).StringFixed(2)
	if currency == "" {
		return amount
	}
	return amount + " " + currency
}

// WhatsAppLink builds a wa.me click-to-chat link. Phone formatting is
// stripped down to digits; an empty result yields "".
func WhatsAppLink(phone, text string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return ""
	}
	link := "https://wa.me/" + digits.String()
	if text != "" {
		link += "?text=" + url.QueryEscape(text)
	}
	return link
}

// LogSender writes notifications to the log instead of delivering them.
type LogSender struct{ Log *zap.Logger }

func (l LogSender) Send(_ context.Context, n Notification) error {
	l.Log.Info("whatsapp notification",
		zap.String("event_id", n.EventID), zap.Int64("order_id", n.OrderID),
		zap.String("to", n.To), zap.String("link", n.Link))
	return nil
}
