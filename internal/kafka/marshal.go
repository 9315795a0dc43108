package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-storefront-queue/internal/orders"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func DecodeEnvelope(m kafka.Message) (orders.Envelope, error) {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// UnwrapPayload decodes the payload of an envelope into T.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}

// MessageWriter is the part of Producer that OrderEvents needs.
type MessageWriter interface {
	Publish(topic string, key, value []byte, headers ...kafka.Header)
}

// OrderEvents publishes order envelopes as JSON with type/version headers.
type OrderEvents struct {
	Writer MessageWriter
}

var _ orders.EventPublisher = (*OrderEvents)(nil)

func (e *OrderEvents) Publish(topic string, key []byte, env orders.Envelope) {
	e.Writer.Publish(topic, key, MustMarshal(env),
		kafka.Header{Key: HeaderEventType, Value: []byte(env.EventType)},
		kafka.Header{Key: HeaderEventVersion, Value: []byte(fmt.Sprint(env.EventVersion))},
	)
}
