// Package queue fans canonical lifecycle events out to RabbitMQ for
// external consumers (ERP sync, reporting). Delivery is best-effort: a
// failed publish is logged and dropped, never retried, and never blocks
// the originating operation.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/7D-Solutions/gaugecore/bus"
	"github.com/7D-Solutions/gaugecore/common"
	"github.com/7D-Solutions/gaugecore/config"
)

// EventPublisher publishes lifecycle events to an external broker.
type EventPublisher interface {
	PublishEvent(event bus.Event) error
	Close() error
}

// RabbitMQService publishes events to a durable RabbitMQ queue.
type RabbitMQService struct {
	connection AMQPConnection
	channel    AMQPChannel
	config     config.AMQPConfig
}

// NewRabbitMQService connects to RabbitMQ, opens a channel and declares
// the configured durable queue.
func NewRabbitMQService(cfg config.AMQPConfig) (*RabbitMQService, error) {
	return NewRabbitMQServiceWithDialer(cfg, &RealAMQPDialer{})
}

// NewRabbitMQServiceWithDialer creates the service with an injected dialer
// for tests.
func NewRabbitMQServiceWithDialer(cfg config.AMQPConfig, dialer AMQPDialer) (*RabbitMQService, error) {
	conn, err := dialer.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		cfg.Queue, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &RabbitMQService{
		connection: conn,
		channel:    ch,
		config:     cfg,
	}, nil
}

// PublishEvent serializes the event and publishes it with the topic as
// routing key.
func (r *RabbitMQService) PublishEvent(event bus.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = r.channel.Publish(
		r.config.Exchange,   // exchange ("" means default)
		string(event.Topic), // routing key
		false,               // mandatory
		false,               // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close closes the channel and connection.
func (r *RabbitMQService) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.connection != nil {
		r.connection.Close()
	}
	return nil
}

// Forward subscribes the publisher to every bus topic. Failed publishes
// are logged and dropped. Returns the subscription id.
func Forward(b *bus.Bus, pub EventPublisher) int {
	return b.SubscribeAll(func(event bus.Event) {
		if err := pub.PublishEvent(event); err != nil {
			common.Logger.WithFields(logrus.Fields{
				"topic": event.Topic,
			}).WithError(err).Warn("external event publish failed")
		}
	})
}
