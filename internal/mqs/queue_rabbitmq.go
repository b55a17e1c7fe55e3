package mqs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"gocloud.dev/pubsub/rabbitpubsub"
)

// RabbitMQConfig describes the single exchange/queue pair this service
// publishes deliveries through. Exchange is a direct exchange (see
// internal/mqinfra.DeclareRabbitMQ for the declare-side topology); Queue is
// the quorum queue bound to it under every routing key in RoutingKeys.
type RabbitMQConfig struct {
	ServerURL   string
	Exchange    string
	Queue       string
	RoutingKeys []string
}

const (
	DefaultExchange = "birthday.messages"
	DefaultQueue    = "birthday.messages.queue"
)

// DefaultRoutingKeys returns the two event-type routing keys.
func DefaultRoutingKeys() []string {
	return []string{"birthday", "anniversary"}
}

// DLXName derives the dead-letter exchange bound to an exchange.
func DLXName(exchange string) string {
	return exchange + ".dlx"
}

// DLQName derives the dead-letter queue for a queue:
// "birthday.messages.queue" dead-letters into "birthday.messages.dlq".
func DLQName(queue string) string {
	return strings.TrimSuffix(queue, ".queue") + ".dlq"
}

// RabbitMQQueue publishes with broker confirms over a dedicated confirm
// channel (amqp091's native confirm mode, so an unconfirmed publish
// surfaces as an error) and consumes via gocloud's rabbitpubsub driver.
type RabbitMQQueue struct {
	config      *RabbitMQConfig
	conn        *amqp091.Connection
	publishChan *amqp091.Channel
	confirms    chan amqp091.Confirmation

	// publishMu serializes publish+confirm pairs: confirmations arrive in
	// publish order on the channel, so interleaved publishers would read
	// each other's confirms.
	publishMu sync.Mutex
}

var _ Queue = &RabbitMQQueue{}

func NewRabbitMQQueue(config *RabbitMQConfig) *RabbitMQQueue {
	return &RabbitMQQueue{config: config}
}

func (q *RabbitMQQueue) Init(ctx context.Context) (func(), error) {
	conn, err := amqp091.Dial(q.config.ServerURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	q.conn = conn
	q.publishChan = ch
	q.confirms = ch.NotifyPublish(make(chan amqp091.Confirmation, 1))

	return func() {
		q.publishChan.Close()
		q.conn.Close()
	}, nil
}

// Publish blocks until the broker confirms the publish. routingKey
// selects which event type the message is routed under (the direct
// exchange's "birthday"/"anniversary" keys).
func (q *RabbitMQQueue) Publish(ctx context.Context, routingKey string, incomingMessage IncomingMessage) error {
	msg, err := incomingMessage.ToMessage()
	if err != nil {
		return err
	}

	q.publishMu.Lock()
	defer q.publishMu.Unlock()

	headers := amqp091.Table{}
	for k, v := range msg.Metadata {
		headers[k] = v
	}

	if err := q.publishChan.PublishWithContext(ctx,
		q.config.Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Body:         msg.Body,
			Headers:      headers,
		},
	); err != nil {
		return err
	}

	select {
	case confirm := <-q.confirms:
		if !confirm.Ack {
			return errors.New("mqs: publish not confirmed by broker")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *RabbitMQQueue) Subscribe(ctx context.Context) (Subscription, error) {
	sub := rabbitpubsub.OpenSubscription(q.conn, q.config.Queue, nil)
	return WrapSubscription(sub), nil
}
