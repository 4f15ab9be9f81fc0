package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/medflow/medflow-stock/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageHandler is a function that handles a message
type MessageHandler func(ctx context.Context, event *Event) error

// ErrPermanent marks a handler failure that retrying cannot fix. Wrap it to
// send the message straight to the dead letter queue.
var ErrPermanent = errors.New("permanent failure")

// Consumer dispatches events from one queue to handlers keyed by event type
type Consumer struct {
	rmq       *RabbitMQ
	queueName string
	handlers  map[string]MessageHandler
	logger    *logger.Logger
}

// NewConsumer declares queueName, dead-lettered to dlq.<serviceName>, and
// returns a consumer for it
func NewConsumer(rmq *RabbitMQ, serviceName, queueName string, log *logger.Logger) (*Consumer, error) {
	if err := rmq.DeclareServiceQueue(serviceName, queueName); err != nil {
		return nil, err
	}

	return &Consumer{
		rmq:       rmq,
		queueName: queueName,
		handlers:  make(map[string]MessageHandler),
		logger:    log.WithComponent("consumer"),
	}, nil
}

// Subscribe binds the queue to an exchange with a routing key pattern
func (c *Consumer) Subscribe(exchange, routingKeyPattern string) error {
	if err := c.rmq.BindQueue(c.queueName, exchange, routingKeyPattern); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", c.queueName, err)
	}

	c.logger.Info().
		Str("queue", c.queueName).
		Str("exchange", exchange).
		Str("routing_key", routingKeyPattern).
		Msg("subscribed to exchange")

	return nil
}

// RegisterHandler registers a handler for a specific event type
func (c *Consumer) RegisterHandler(eventType string, handler MessageHandler) {
	c.handlers[eventType] = handler
}

// Start begins consuming. Deliveries are handled one at a time until ctx is
// cancelled; after a broker reconnect consumption resumes on the new channel.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.consume()
	if err != nil {
		return err
	}

	c.logger.Info().Str("queue", c.queueName).Msg("consumer started")

	go func() {
		for {
			c.drain(ctx, msgs)
			if ctx.Err() != nil {
				c.logger.Info().Str("queue", c.queueName).Msg("consumer stopped")
				return
			}

			c.logger.Warn().Str("queue", c.queueName).Msg("delivery channel closed, waiting for reconnect")
			select {
			case <-ctx.Done():
				return
			case <-c.rmq.Reconnected():
			}

			msgs, err = c.consume()
			if err != nil {
				c.logger.Error().Err(err).Str("queue", c.queueName).Msg("failed to resume consuming")
				return
			}
			c.logger.Info().Str("queue", c.queueName).Msg("consumer resumed")
		}
	}()

	return nil
}

func (c *Consumer) consume() (<-chan amqp.Delivery, error) {
	msgs, err := c.rmq.ConsumeChannel().Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming %s: %w", c.queueName, err)
	}
	return msgs, nil
}

// drain handles deliveries until msgs closes or ctx is done
func (c *Consumer) drain(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			c.handleMessage(ctx, msg)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	var event Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.logger.Error().Err(err).Str("queue", c.queueName).Msg("failed to unmarshal event")
		_ = msg.Reject(false)
		return
	}

	ctx = WithCorrelationID(ctx, event.CorrelationID)
	log := c.logger.WithCorrelationID(event.CorrelationID)

	handler, ok := c.handlers[event.Type]
	if !ok {
		log.Debug().Str("event_type", event.Type).Msg("no handler registered for event type")
		_ = msg.Ack(false)
		return
	}

	log.Debug().
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Msg("processing event")

	err := handler(ctx, &event)
	if err == nil {
		_ = msg.Ack(false)
		return
	}

	log.Error().
		Err(err).
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Bool("redelivered", msg.Redelivered).
		Msg("failed to process event")

	// One requeue for transient failures, then the dead letter queue.
	if errors.Is(err, ErrPermanent) || msg.Redelivered {
		log.Warn().Str("event_id", event.ID).Msg("sending event to dead letter queue")
		_ = msg.Reject(false)
		return
	}
	_ = msg.Nack(false, true)
}
