// Package events carries the fire-and-forget collaborators: analytics events
// published to an AMQP topic exchange, and transient user notifications.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const exchangeName = "trace.events"

// AMQPChannel is the channel surface the publisher needs. Satisfied by
// *amqp.Channel.
type AMQPChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher publishes analytics events as JSON to a topic exchange. The
// routing key is the event name lowercased with spaces collapsed to dots
// ("Trace Accepted" -> "trace.accepted").
type AMQPPublisher struct {
	ch  AMQPChannel
	log logrus.FieldLogger
}

func NewAMQPPublisher(ch AMQPChannel, log logrus.FieldLogger) (*AMQPPublisher, error) {
	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	return &AMQPPublisher{ch: ch, log: log}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, name string, props map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"event":      name,
		"properties": props,
		"emitted_at": time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, exchangeName, routingKey(name), false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

func routingKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", ".")
}

// NopPublisher drops events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, map[string]any) error { return nil }

// LogNotifier writes transient user-facing messages to the log. A real
// deployment would push these to the client over a socket.
type LogNotifier struct {
	Log logrus.FieldLogger
}

func (n LogNotifier) Notify(_ context.Context, message, txHash string) {
	entry := n.Log.WithField("notification", true)
	if txHash != "" {
		entry = entry.WithField("tx_hash", txHash)
	}
	entry.Info(message)
}
