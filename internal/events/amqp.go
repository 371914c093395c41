package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/avalanche-app/rockclient/internal/metrics"
)

// amqpChannel is the subset of *amqp.Channel the bridge uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPBridge forwards bus events to a topic exchange, routed by event type.
type AMQPBridge struct {
	ch       amqpChannel
	exchange string
	service  string
	logger   *zap.Logger

	conn    *amqp.Connection
	channel *amqp.Channel
}

// DialAMQP connects, opens a channel and declares the durable topic exchange.
func DialAMQP(url, exchange, service string, logger *zap.Logger) (*AMQPBridge, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	b := NewAMQPBridge(channel, exchange, service, logger)
	b.conn = conn
	b.channel = channel
	return b, nil
}

func NewAMQPBridge(ch amqpChannel, exchange, service string, logger *zap.Logger) *AMQPBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPBridge{ch: ch, exchange: exchange, service: service, logger: logger}
}

func (b *AMQPBridge) Attach(bus *Bus) {
	bus.SubscribeAll(func(ev Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.Forward(ctx, ev)
	})
}

func (b *AMQPBridge) Forward(ctx context.Context, ev Event) error {
	env, err := NewEnvelope(b.service, ev)
	if err != nil {
		metrics.IncEventPublished("amqp", ev.EventType(), "marshal_failed")
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		metrics.IncEventPublished("amqp", ev.EventType(), "marshal_failed")
		return fmt.Errorf("marshal envelope: %w", err)
	}

	err = b.ch.PublishWithContext(ctx,
		b.exchange,
		ev.EventType(), // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType: "application/json",
			MessageId:   env.ID.String(),
			Timestamp:   env.Timestamp,
			AppId:       b.service,
			Type:        ev.EventType(),
			Body:        body,
		},
	)
	if err != nil {
		b.logger.Warn("events.amqp.publish_failed",
			zap.String("exchange", b.exchange),
			zap.String("event_type", ev.EventType()),
			zap.Error(err))
		metrics.IncEventPublished("amqp", ev.EventType(), "error")
		return fmt.Errorf("amqp publish %s: %w", ev.EventType(), err)
	}

	metrics.IncEventPublished("amqp", ev.EventType(), "ok")
	return nil
}

// Close releases the connection opened by DialAMQP.
func (b *AMQPBridge) Close() error {
	if b.channel != nil {
		_ = b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
