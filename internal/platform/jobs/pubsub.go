package jobs

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// PubSubPublisher publishes messages to a Pub/Sub topic.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubPublisher constructs a Pub/Sub backed publisher.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub publisher: topic is required")
	}
	return &PubSubPublisher{topic: topic}, nil
}

// Publish sends msg and waits for the server-assigned id.
func (p *PubSubPublisher) Publish(ctx context.Context, msg Message) (string, error) {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       msg.Data,
		Attributes: msg.Attributes,
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", p.topic.ID(), err)
	}
	return id, nil
}

// PubSubSubscriber pulls from a subscription with streaming pull.
type PubSubSubscriber struct {
	sub    *pubsub.Subscription
	logger *zap.Logger
}

func NewPubSubSubscriber(sub *pubsub.Subscription, logger *zap.Logger) *PubSubSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubSubscriber{sub: sub, logger: logger}
}

// Receive blocks until ctx is cancelled. Permanent handler failures are acked so the message does
// not loop; transient ones are nacked for redelivery.
func (s *PubSubSubscriber) Receive(ctx context.Context, handler Handler) error {
	err := s.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		msg := Message{ID: m.ID, Data: m.Data, Attributes: m.Attributes}
		if id := m.Attributes[AttrMessageID]; id != "" {
			msg.ID = id
		}
		settle(s.logger, s.sub.ID(), msg, handler(ctx, msg), m.Ack, m.Nack)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive from %s: %w", s.sub.ID(), err)
	}
	return nil
}

func settle(logger *zap.Logger, source string, msg Message, err error, ack, nack func()) {
	switch {
	case err == nil:
		ack()
	case IsPermanent(err):
		logger.Error("jobs: dropping message after permanent failure",
			zap.String("source", source), zap.String("messageId", msg.ID), zap.Error(err))
		ack()
	default:
		logger.Warn("jobs: message will be redelivered",
			zap.String("source", source), zap.String("messageId", msg.ID), zap.Error(err))
		nack()
	}
}
