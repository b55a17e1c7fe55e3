// Package mqs wraps gocloud.dev/pubsub with the broker-agnostic surface
// daybreak's scheduler and worker components consume: a durable Queue with
// publisher confirms on the publish side and ack/nack semantics on the
// consume side. RabbitMQ (quorum queues, direct exchange, DLX) is the only
// backend this service stands up; the interface is kept broker-shaped
// rather than RabbitMQ-shaped so a future backend is a new file, not a
// rewrite of callers.
package mqs

import (
	"context"

	"gocloud.dev/pubsub"
)

// Message is the wire envelope handed to a consumer. Body carries the JSON
// payload (see models.DeliveryTask); Metadata carries broker headers,
// notably x-retry-count.
type Message struct {
	acker    Acker
	Body     []byte
	Metadata map[string]string
}

// Acker settles a received message with the broker.
type Acker interface {
	Ack()
	Nack()
}

// NewMessage builds a Message around an Acker. Subscriptions use it to wrap
// broker deliveries; tests use it with a recording Acker.
func NewMessage(body []byte, metadata map[string]string, acker Acker) *Message {
	return &Message{acker: acker, Body: body, Metadata: metadata}
}

func wrapMessage(m *pubsub.Message) *Message {
	return NewMessage(m.Body, m.Metadata, pubsubAcker{m})
}

type pubsubAcker struct {
	msg *pubsub.Message
}

func (a pubsubAcker) Ack()  { a.msg.Ack() }
func (a pubsubAcker) Nack() { a.msg.Nack() }

// Ack acknowledges successful processing; the broker will not redeliver.
func (m *Message) Ack() {
	if m.acker != nil {
		m.acker.Ack()
	}
}

// Nack signals failed processing. On a nackable subscription (RabbitMQ
// quorum queues are) this requeues the message for redelivery, incrementing
// the broker's own delivery count toward x-delivery-limit; callers that
// want a terminal reject to the DLQ should publish to the DLQ directly
// instead of relying on Nack exhausting delivery-limit (see
// internal/delivery, which rejects explicitly on permanent failures).
func (m *Message) Nack() {
	if m.acker != nil {
		m.acker.Nack()
	}
}

// Header returns a broker header, or "" if absent.
func (m *Message) Header(key string) string {
	return m.Metadata[key]
}

// IncomingMessage is implemented by anything publishable onto a Queue.
type IncomingMessage interface {
	ToMessage() (*Message, error)
}

// rawMessage publishes an already-built envelope verbatim. Used by
// internal/delivery to forward a malformed message's original body onto
// the DLQ queue when the worker terminal-rejects it directly, rather than
// relying on Nack to exhaust the quorum queue's x-delivery-limit (see
// internal/mqinfra's DLX wiring).
type rawMessage struct {
	msg *Message
}

func NewRawMessage(body []byte, metadata map[string]string) IncomingMessage {
	return &rawMessage{msg: &Message{Body: body, Metadata: metadata}}
}

func (r *rawMessage) ToMessage() (*Message, error) { return r.msg, nil }

// Queue is a durable, publisher-confirmed message broker connection scoped
// to one exchange/queue pair.
type Queue interface {
	// Init dials the broker and prepares the connection for publishing
	// (infrastructure is declared separately, by internal/mqinfra), and
	// returns a cleanup func to release the connection.
	Init(ctx context.Context) (func(), error)
	// Publish durably publishes msg, blocking until the broker confirms
	// receipt (or the context deadline expires). An unconfirmed publish is
	// reported as an error, never as a silent success.
	Publish(ctx context.Context, routingKey string, msg IncomingMessage) error
	// Subscribe opens a consumer subscription against the configured queue.
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription receives messages from a Queue's bound queue.
type Subscription interface {
	Receive(ctx context.Context) (*Message, error)
	Shutdown(ctx context.Context) error
}

type wrappedSubscription struct {
	sub *pubsub.Subscription
}

func WrapSubscription(sub *pubsub.Subscription) Subscription {
	return &wrappedSubscription{sub: sub}
}

func (s *wrappedSubscription) Receive(ctx context.Context) (*Message, error) {
	msg, err := s.sub.Receive(ctx)
	if err != nil {
		return nil, err
	}
	return wrapMessage(msg), nil
}

func (s *wrappedSubscription) Shutdown(ctx context.Context) error {
	return s.sub.Shutdown(ctx)
}

// QueueConfig selects and configures exactly one broker backend. Only
// RabbitMQ is implemented, so it is the only field; a future backend would
// add its own field here (see internal/mqinfra.DeclareMQ).
type QueueConfig struct {
	RabbitMQ *RabbitMQConfig
}

// Policy carries broker-infrastructure knobs that depend on runtime
// configuration rather than the fixed exchange/queue topology: the
// DLQ-routing delivery limit (MAX_RETRIES-derived) most notably.
type Policy struct {
	RetryLimit int32
}
