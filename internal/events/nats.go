package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/avalanche-app/rockclient/internal/metrics"
)

// msgPublisher is satisfied by *nats.Conn.
type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSBridge forwards bus events to "<prefix>.<event type>".
type NATSBridge struct {
	nc      msgPublisher
	prefix  string
	service string
	logger  *zap.Logger
}

// DialNATS connects with reconnects enabled.
func DialNATS(url, service string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(service),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return nc, nil
}

func NewNATSBridge(nc msgPublisher, prefix, service string, logger *zap.Logger) *NATSBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSBridge{nc: nc, prefix: prefix, service: service, logger: logger}
}

// Attach subscribes the bridge to every event on bus.
func (b *NATSBridge) Attach(bus *Bus) {
	bus.SubscribeAll(func(ev Event) {
		_ = b.Forward(ev)
	})
}

// Forward publishes one event.
func (b *NATSBridge) Forward(ev Event) error {
	env, err := NewEnvelope(b.service, ev)
	if err != nil {
		metrics.IncEventPublished("nats", ev.EventType(), "marshal_failed")
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		metrics.IncEventPublished("nats", ev.EventType(), "marshal_failed")
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := b.prefix + "." + ev.EventType()
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":   []string{ev.EventType()},
			"event_id":     []string{env.ID.String()},
			"service":      []string{b.service},
			"content_type": []string{"application/json"},
		},
	}
	if err := b.nc.PublishMsg(msg); err != nil {
		b.logger.Warn("events.nats.publish_failed",
			zap.String("subject", subject),
			zap.Error(err))
		metrics.IncEventPublished("nats", ev.EventType(), "error")
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}

	b.logger.Debug("events.nats.published", zap.String("subject", subject))
	metrics.IncEventPublished("nats", ev.EventType(), "ok")
	return nil
}
