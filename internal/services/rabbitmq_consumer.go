package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// CollectTrigger starts collection runs on request
type CollectTrigger interface {
	TriggerCollect(ctx context.Context, kinds ...models.Kind) error
}

// RabbitMQConsumer turns collect.requested messages into collection runs
type RabbitMQConsumer struct {
	conn         *amqp.Connection
	channel      *amqp.Channel
	trigger      CollectTrigger
	exchangeName string
	queueName    string
}

func NewRabbitMQConsumer(url, exchangeName, queueName string, trigger CollectTrigger) (*RabbitMQConsumer, error) {
	conn, channel, err := dialExchange(url, exchangeName)
	if err != nil {
		return nil, err
	}

	consumer := &RabbitMQConsumer{
		conn:         conn,
		channel:      channel,
		trigger:      trigger,
		exchangeName: exchangeName,
		queueName:    queueName,
	}

	return consumer, nil
}

// Start declares the trigger queue and consumes it until ctx is done or the channel closes
func (c *RabbitMQConsumer) Start(ctx context.Context) error {
	q, err := c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = c.channel.QueueBind(
		q.Name,
		RoutingKeyCollectRequested,
		c.exchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue to %s: %w", RoutingKeyCollectRequested, err)
	}

	// runs are long; hold one request at a time
	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := c.channel.Consume(
		q.Name, // queue
		"",     // consumer tag
		false,  // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	go c.consumeLoop(ctx, msgs)

	log.Info().Str("queue", q.Name).Msg("Collect trigger consumer started")
	return nil
}

func (c *RabbitMQConsumer) consumeLoop(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				log.Warn().Msg("Collect trigger delivery channel closed")
				return
			}
			c.handleDelivery(ctx, d)
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	log.Info().Str("routing_key", d.RoutingKey).Msg("Received collect request")

	var event models.CollectRequestedEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal collect request")
		d.Nack(false, false)
		return
	}

	kinds := models.Kinds
	if event.Kind != "" {
		kind, err := models.ParseKind(string(event.Kind))
		if err != nil {
			log.Warn().Err(err).Str("requested_by", event.RequestedBy).Msg("Ignoring collect request")
			d.Ack(false)
			return
		}
		kinds = []models.Kind{kind}
	}

	// a failed run is logged by the collector; redelivering would only repeat it
	if err := c.trigger.TriggerCollect(ctx, kinds...); err != nil {
		log.Error().Err(err).Str("requested_by", event.RequestedBy).Msg("Requested collection failed")
	}
	d.Ack(false)
}

func (c *RabbitMQConsumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
