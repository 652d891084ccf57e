package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"shop-reward-system/models"

	"github.com/streadway/amqp"
)

const (
	DefaultExchange    = "shop.rewards.events"
	routingKeyPrefix   = "shop.rewards."
	defaultContentType = "application/json"
)

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type RabbitMqConfig struct {
	URL      string
	Exchange string
}

// RabbitmqPublisher announces committed claims on a durable topic exchange.
type RabbitmqPublisher struct {
	mu         sync.Mutex
	connection *amqp.Connection
	channel    Channel
	exchange   string
}

func NewRabbitmqPublisher(config RabbitMqConfig) (*RabbitmqPublisher, error) {
	connection, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	channel, err := connection.Channel()
	if err != nil {
		connection.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p, err := NewRabbitmqPublisherWithChannel(channel, config.Exchange)
	if err != nil {
		connection.Close()
		return nil, err
	}
	p.connection = connection
	return p, nil
}

func NewRabbitmqPublisherWithChannel(channel Channel, exchange string) (*RabbitmqPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &RabbitmqPublisher{channel: channel, exchange: exchange}, nil
}

// RoutingKey is shop.rewards.<result>, e.g. shop.rewards.partial.
func RoutingKey(event models.ClaimEvent) string {
	return routingKeyPrefix + event.Result
}

func (r *RabbitmqPublisher) PublishClaim(_ context.Context, event models.ClaimEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	err = r.channel.Publish(
		r.exchange,
		RoutingKey(event),
		false,
		false,
		amqp.Publishing{
			ContentType:     defaultContentType,
			ContentEncoding: "utf-8",
			DeliveryMode:    amqp.Persistent,
			MessageId:       event.AttemptID,
			AppId:           event.ServerID,
			Timestamp:       time.Now(),
			Body:            body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (r *RabbitmqPublisher) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.channel != nil {
		r.channel.Close()
	}
	if r.connection != nil {
		r.connection.Close()
	}
}
