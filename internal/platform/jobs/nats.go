package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSPublisher publishes to a core NATS subject. Attributes travel as message headers.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

func NewNATSPublisher(conn *nats.Conn, subject string) (*NATSPublisher, error) {
	if conn == nil || subject == "" {
		return nil, errors.New("nats publisher: connection and subject are required")
	}
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

// Publish sends msg and flushes so the server has it before returning. The returned id is the
// message id attribute since core NATS assigns none.
func (p *NATSPublisher) Publish(ctx context.Context, msg Message) (string, error) {
	out := nats.NewMsg(p.subject)
	out.Data = msg.Data
	for key, value := range msg.Attributes {
		out.Header.Set(key, value)
	}
	if err := p.conn.PublishMsg(out); err != nil {
		return "", fmt.Errorf("publish to %s: %w", p.subject, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return "", fmt.Errorf("flush %s: %w", p.subject, err)
	}
	return msg.ID, nil
}

// NATSSubscriber consumes a subject as part of a queue group so replicas share the load. Core NATS
// has no redelivery, so transient failures are only logged.
type NATSSubscriber struct {
	conn    *nats.Conn
	subject string
	queue   string
	logger  *zap.Logger
}

func NewNATSSubscriber(conn *nats.Conn, subject, queue string, logger *zap.Logger) *NATSSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSubscriber{conn: conn, subject: subject, queue: queue, logger: logger}
}

func (s *NATSSubscriber) Receive(ctx context.Context, handler Handler) error {
	sub, err := s.conn.QueueSubscribe(s.subject, s.queue, func(m *nats.Msg) {
		msg := Message{Data: m.Data, Attributes: make(map[string]string, len(m.Header))}
		for key := range m.Header {
			msg.Attributes[key] = m.Header.Get(key)
		}
		msg.ID = msg.Attributes[AttrMessageID]
		settle(s.logger, s.subject, msg, handler(context.WithoutCancel(ctx), msg), func() {}, func() {})
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.subject, err)
	}
	<-ctx.Done()
	if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("drain %s: %w", s.subject, err)
	}
	return nil
}
